// SPDX-License-Identifier: MPL-2.0

package namecodec

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"
)

const (
	// AutoCodepage selects the legacy codepage per archive from the sampled
	// bytes. As the system codepage it means DefaultSystemCodepage.
	AutoCodepage = "auto"

	DefaultSystemCodepage    = "windows-1252"
	DefaultLegacyCodepage    = "gbk"
	DefaultSampleSize        = 60
	DefaultFastPathThreshold = 1.0

	// tieEpsilon is the score distance under which UTF-8 wins a tie.
	tieEpsilon = 0.0001
)

const (
	// RegimeSystem decodes with the configured single-byte system codepage.
	RegimeSystem Regime = iota
	// RegimeUTF8 treats names as UTF-8.
	RegimeUTF8
	// RegimeLegacy decodes with a double-byte legacy codepage.
	RegimeLegacy
)

// ErrUnknownCodepage is returned when a configured codepage has no decoder.
var ErrUnknownCodepage = errors.New("unknown codepage")

type (
	// Regime is one of the encodings a name sample is scored under.
	Regime int

	// Options configures a Detector. Zero fields take the defaults.
	Options struct {
		SystemCodepage    string
		LegacyCodepage    string
		SampleSize        int
		FastPathThreshold float64
	}

	// Choice is the encoding selected for one archive.
	Choice struct {
		Regime Regime
		// Codepage is the canonical name of the selected encoding.
		Codepage string
		// Score is the average penalty of the sample under the chosen regime.
		Score float64
		enc   encoding.Encoding
	}

	// Detector picks and caches the entry-name encoding of archives.
	Detector struct {
		opts   Options
		system encoding.Encoding
		legacy encoding.Encoding // nil when LegacyCodepage is "auto"
		logger *log.Logger

		mu    sync.Mutex
		cache map[uint64]cachedChoice

		passes atomic.Int64
	}

	cachedChoice struct {
		path     string
		size     int64
		modTicks int64
		choice   Choice
	}
)

// String returns a human-readable name for the regime.
func (r Regime) String() string {
	switch r {
	case RegimeSystem:
		return "system"
	case RegimeUTF8:
		return "utf-8"
	case RegimeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// UTF8 is the choice used for names flagged as UTF-8 in the archive.
var UTF8 = Choice{Regime: RegimeUTF8, Codepage: "utf-8"}

// New creates a Detector.
func New(opts Options, logger *log.Logger) (*Detector, error) {
	if opts.SystemCodepage == "" || strings.EqualFold(opts.SystemCodepage, AutoCodepage) {
		opts.SystemCodepage = DefaultSystemCodepage
	}
	if opts.LegacyCodepage == "" {
		opts.LegacyCodepage = DefaultLegacyCodepage
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.FastPathThreshold <= 0 {
		opts.FastPathThreshold = DefaultFastPathThreshold
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	system, err := lookup(opts.SystemCodepage)
	if err != nil {
		return nil, err
	}
	d := &Detector{
		opts:   opts,
		system: system,
		logger: logger,
		cache:  make(map[uint64]cachedChoice),
	}
	if !strings.EqualFold(opts.LegacyCodepage, AutoCodepage) {
		if d.legacy, err = lookup(opts.LegacyCodepage); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func lookup(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownCodepage, name)
	}
	return enc, nil
}

// DecodePasses returns how many sample decodes were performed. A decode of
// the sample under one regime counts as one pass.
func (d *Detector) DecodePasses() int64 { return d.passes.Load() }

// Detect returns the encoding for the raw (undecoded) entry names of the
// archive at path. Results are cached per path while (size, modTicks) is
// unchanged. Only the first SampleSize names are scored.
func (d *Detector) Detect(path string, size, modTicks int64, raw []string) Choice {
	key := xxhash.Sum64String(path)

	d.mu.Lock()
	if c, ok := d.cache[key]; ok && c.path == path && c.size == size && c.modTicks == modTicks {
		d.mu.Unlock()
		return c.choice
	}
	d.mu.Unlock()

	choice := d.detect(raw)
	if choice.Regime != RegimeSystem {
		d.logger.Debug("entry name encoding detected", "path", path, "codepage", choice.Codepage, "score", choice.Score)
	}

	d.mu.Lock()
	d.cache[key] = cachedChoice{path: path, size: size, modTicks: modTicks, choice: choice}
	d.mu.Unlock()
	return choice
}

// Forget drops the cached choice for path.
func (d *Detector) Forget(path string) {
	d.mu.Lock()
	delete(d.cache, xxhash.Sum64String(path))
	d.mu.Unlock()
}

// Len returns the number of cached choices.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

func (d *Detector) detect(raw []string) Choice {
	sample := raw
	if len(sample) > d.opts.SampleSize {
		sample = sample[:d.opts.SampleSize]
	}

	system := Choice{Regime: RegimeSystem, Codepage: d.opts.SystemCodepage, enc: d.system}
	if len(sample) == 0 {
		return system
	}
	system.Score = d.score(system, sample)
	if system.Score < d.opts.FastPathThreshold {
		return system
	}

	utf := UTF8
	utf.Score = d.score(utf, sample)

	legacy := d.legacyChoice(sample)
	legacy.Score = d.score(legacy, sample)

	best := utf
	for _, c := range []Choice{system, legacy} {
		if c.Score < best.Score-tieEpsilon {
			best = c
		}
	}
	return best
}

// legacyChoice returns the configured legacy codepage, or asks chardet to
// pick one from the concatenated sample in auto mode.
func (d *Detector) legacyChoice(sample []string) Choice {
	if d.legacy != nil {
		return Choice{Regime: RegimeLegacy, Codepage: d.opts.LegacyCodepage, enc: d.legacy}
	}

	name := DefaultLegacyCodepage
	result, err := chardet.NewTextDetector().DetectBest([]byte(strings.Join(sample, "\n")))
	if err == nil && result != nil {
		if mapped, ok := legacyCharsets[strings.ToLower(result.Charset)]; ok {
			name = mapped
		}
	}
	enc, err := lookup(name)
	if err != nil {
		enc, name = d.system, d.opts.SystemCodepage
	}
	return Choice{Regime: RegimeLegacy, Codepage: name, enc: enc}
}

// legacyCharsets maps chardet results to the double-byte decoders tried in
// auto mode.
var legacyCharsets = map[string]string{
	"gb-18030":  "gb18030",
	"gb18030":   "gb18030",
	"shift_jis": "shift_jis",
	"euc-jp":    "euc-jp",
	"euc-kr":    "euc-kr",
	"big5":      "big5",
}

func (d *Detector) score(c Choice, sample []string) float64 {
	d.passes.Add(1)
	var total float64
	for _, name := range sample {
		total += Penalty(c.decodeRaw(name))
	}
	return total / float64(len(sample))
}

// decodeRaw converts raw to UTF-8 without repairing invalid sequences, so
// Penalty can count them.
func (c Choice) decodeRaw(raw string) string {
	if c.enc == nil {
		return raw
	}
	out, err := c.enc.NewDecoder().String(raw)
	if err != nil {
		return strings.ToValidUTF8(raw, "\uFFFD")
	}
	return out
}

// Decode converts a raw entry name to NFC-normalized UTF-8.
func (c Choice) Decode(raw string) string {
	return norm.NFC.String(strings.ToValidUTF8(c.decodeRaw(raw), "\uFFFD"))
}
