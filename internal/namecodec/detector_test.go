// SPDX-License-Identifier: MPL-2.0

package namecodec

import (
	"errors"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func gbk(t *testing.T, names ...string) []string {
	t.Helper()
	out := make([]string, len(names))
	for i, n := range names {
		enc, err := simplifiedchinese.GBK.NewEncoder().String(n)
		if err != nil {
			t.Fatalf("GBK encode %q error = %v", n, err)
		}
		out[i] = enc
	}
	return out
}

func newDetector(t *testing.T, opts Options) *Detector {
	t.Helper()
	d, err := New(opts, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func TestDetectASCIIStaysOnFastPath(t *testing.T) {
	t.Parallel()

	d := newDetector(t, Options{})
	raw := []string{"meta.json", "Custom/Hair/Bob/bun.vam", "Custom/Hair/Bob/bun.jpg", "Saves/scene/a.json"}

	got := d.Detect("/lib/Bob.Hair.1.var", 100, 5, raw)
	if got.Regime != RegimeSystem {
		t.Errorf("Detect() regime = %v, want system", got.Regime)
	}
	if passes := d.DecodePasses(); passes != 1 {
		t.Errorf("DecodePasses() = %d, want 1", passes)
	}
}

func TestDetectLegacyDoubleByte(t *testing.T) {
	t.Parallel()

	want := []string{"Custom/Clothing/测试/上衣.vam", "Custom/Clothing/测试/上衣.jpg", "Saves/scene/场景一.json"}
	raw := gbk(t, want...)

	d := newDetector(t, Options{})
	got := d.Detect("/lib/Bob.Cloth.1.var", 100, 5, raw)
	if got.Regime != RegimeLegacy {
		t.Fatalf("Detect() regime = %v (score %.2f), want legacy", got.Regime, got.Score)
	}
	for i, r := range raw {
		if dec := got.Decode(r); dec != want[i] {
			t.Errorf("Decode(%q) = %q, want %q", r, dec, want[i])
		}
	}
	if passes := d.DecodePasses(); passes != 3 {
		t.Errorf("DecodePasses() = %d, want 3", passes)
	}
}

func TestDetectAutoLegacy(t *testing.T) {
	t.Parallel()

	want := []string{"Custom/Clothing/测试/上衣.vam", "Custom/Clothing/测试/裙子.vam", "Saves/scene/场景一.json"}
	raw := gbk(t, want...)

	d := newDetector(t, Options{LegacyCodepage: AutoCodepage})
	got := d.Detect("/lib/Bob.Cloth.1.var", 100, 5, raw)
	if got.Regime == RegimeUTF8 {
		t.Fatalf("Detect() picked utf-8 for double-byte names (score %.2f)", got.Score)
	}
	if got.Regime == RegimeLegacy && got.Codepage == "gb18030" {
		if dec := got.Decode(raw[0]); dec != want[0] {
			t.Errorf("Decode() = %q, want %q", dec, want[0])
		}
	}
}

func TestDetectUnflaggedUTF8PrefersUTF8(t *testing.T) {
	t.Parallel()

	raw := []string{"Custom/Atom/Crème/日本.vaj", "Custom/Atom/Crème/日本.jpg"}

	d := newDetector(t, Options{})
	got := d.Detect("/lib/Bob.Atom.1.var", 100, 5, raw)
	if got.Regime != RegimeUTF8 {
		t.Fatalf("Detect() regime = %v (score %.2f), want utf-8", got.Regime, got.Score)
	}
	if dec := got.Decode(raw[0]); dec != raw[0] {
		t.Errorf("Decode() = %q, want %q", dec, raw[0])
	}
}

func TestDetectSingleByteSystemNames(t *testing.T) {
	t.Parallel()

	name, err := charmap.Windows1252.NewEncoder().String("Custom/Images/Café.jpg")
	if err != nil {
		t.Fatalf("encode error = %v", err)
	}

	d := newDetector(t, Options{})
	got := d.Detect("/lib/Bob.Img.1.var", 1, 1, []string{name})
	if got.Regime != RegimeSystem {
		t.Fatalf("Detect() regime = %v, want system", got.Regime)
	}
	if dec := got.Decode(name); dec != "Custom/Images/Café.jpg" {
		t.Errorf("Decode() = %q", dec)
	}
}

func TestDetectAccentedWesternNames(t *testing.T) {
	t.Parallel()

	want := []string{
		"Custom/Clothing/Crème brûlée.vam",
		"Custom/Clothing/Façade élégante.vam",
		"Saves/scene/Noël à Zürich.json",
	}
	raw := make([]string, len(want))
	for i, n := range want {
		enc, err := charmap.Windows1252.NewEncoder().String(n)
		if err != nil {
			t.Fatalf("encode %q error = %v", n, err)
		}
		raw[i] = enc
	}

	d := newDetector(t, Options{})
	got := d.Detect("/lib/Al.Dessert.1.var", 1, 1, raw)
	if got.Regime != RegimeSystem {
		t.Fatalf("Detect() regime = %v codepage %s (score %.2f), want system", got.Regime, got.Codepage, got.Score)
	}
	for i, r := range raw {
		if dec := got.Decode(r); dec != want[i] {
			t.Errorf("Decode(%q) = %q, want %q", r, dec, want[i])
		}
	}
	if passes := d.DecodePasses(); passes != 1 {
		t.Errorf("DecodePasses() = %d, want 1 on the fast path", passes)
	}
}

func TestDetectCachesByFingerprint(t *testing.T) {
	t.Parallel()

	d := newDetector(t, Options{})
	raw := gbk(t, "模型/头发.vam")

	d.Detect("/lib/a.b.1.var", 10, 20, raw)
	first := d.DecodePasses()
	d.Detect("/lib/a.b.1.var", 10, 20, raw)
	if d.DecodePasses() != first {
		t.Errorf("cached Detect() performed %d extra passes", d.DecodePasses()-first)
	}
	d.Detect("/lib/a.b.1.var", 11, 20, raw)
	if d.DecodePasses() == first {
		t.Error("Detect() reused a choice after the archive size changed")
	}
}

func TestDetectSampleSizeCap(t *testing.T) {
	t.Parallel()

	raw := make([]string, 0, 100)
	for range 5 {
		raw = append(raw, "plain.vam")
	}
	raw = append(raw, gbk(t, "头发一.vam", "头发二.vam")...)

	d := newDetector(t, Options{SampleSize: 5})
	if got := d.Detect("/lib/x.y.1.var", 1, 1, raw); got.Regime != RegimeSystem {
		t.Errorf("Detect() regime = %v, want system from the capped sample", got.Regime)
	}
}

func TestNewUnknownCodepage(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{LegacyCodepage: "klingon-8"}, nil); !errors.Is(err, ErrUnknownCodepage) {
		t.Errorf("New() error = %v, want ErrUnknownCodepage", err)
	}
}

func TestPenalty(t *testing.T) {
	t.Parallel()

	// max < 0 means unbounded.
	tests := []struct {
		name string
		in   string
		min  float64
		max  float64
	}{
		{name: "ascii", in: "Custom/Hair/bun.vam", max: 0},
		{name: "cjk", in: "模型/头发.vam", max: 0},
		{name: "single accent", in: "Café.jpg", max: 0},
		{name: "scattered accents", in: "Crème brûlée.vam", max: 0},
		{name: "adjacent accents", in: "ÖÐÎÄ.vam", min: 15, max: 15},
		{name: "lone cjk between letters", in: "Cr鑝e.vam", min: 15, max: 15},
		{name: "cjk run", in: "Ali的衣服.vam", max: 0},
		{name: "invalid byte", in: "bad\xffname", min: 20, max: 20},
		{name: "control", in: "a\x01b", min: 10, max: 10},
		{name: "question marks", in: "???.vam", min: 21.4, max: 21.5},
		{name: "mojibake", in: "CrÃ¨me", min: 20, max: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Penalty(tt.in)
			if got < tt.min || (tt.max >= 0 && got > tt.max) {
				t.Errorf("Penalty(%q) = %.3f, want in [%.3f, %.3f]", tt.in, got, tt.min, tt.max)
			}
		})
	}
}
