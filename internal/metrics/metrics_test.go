// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsIndependentRegistries(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.Scan(ScanOpened)
	a.Scan(ScanOpened)
	b.Scan(ScanCacheHit)

	if got := testutil.ToFloat64(a.Scans.WithLabelValues(ScanOpened)); got != 2 {
		t.Errorf("a opened scans = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.Scans.WithLabelValues(ScanOpened)); got != 0 {
		t.Errorf("b opened scans = %v, want 0", got)
	}
}

func TestNilCollectorsAreNoOps(t *testing.T) {
	t.Parallel()

	var c *Collectors
	c.Scan(ScanInvalid)
	c.ArchiveOpened()
	c.RefreshDone(time.Second, 1, 0)
	c.Move("install", "moved")
	c.CacheFlush(nil)
	if s, err := c.Snapshot(); s != nil || err != nil {
		t.Errorf("Snapshot() = %v, %v; want nil, nil", s, err)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	c := New()
	c.RefreshDone(250*time.Millisecond, 42, 3)
	c.CacheFlush(errors.New("disk full"))
	c.ArchiveOpened()

	samples, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	values := make(map[string]float64)
	for _, s := range samples {
		key := s.Name
		if r, ok := s.Labels["result"]; ok {
			key += "{" + r + "}"
		}
		values[key] = s.Value
	}

	want := map[string]float64{
		"varkeep_packages":                       42,
		"varkeep_invalid_packages":               3,
		"varkeep_refreshes_total":                1,
		"varkeep_refresh_duration_seconds_count": 1,
		"varkeep_archive_opens_total":            1,
		"varkeep_cache_flushes_total{error}":     1,
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %v, want %v", k, values[k], v)
		}
	}
}
