// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the Prometheus collectors of one engine instance.
// Every engine owns its own registry, so independent engines in one process
// (tests, tools) never collide on metric names. All methods are nil-safe.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "varkeep"

// Scan outcomes.
const (
	ScanCacheHit = "cache_hit"
	ScanOpened   = "opened"
	ScanInvalid  = "invalid"
)

// Move results.
const (
	MoveMoved    = "moved"
	MoveNoop     = "noop"
	MoveConflict = "conflict"
	MoveError    = "error"
)

// Collectors groups the engine metrics.
type Collectors struct {
	Registry *prometheus.Registry

	Scans           *prometheus.CounterVec
	ArchiveOpens    prometheus.Counter
	Refreshes       prometheus.Counter
	RefreshDuration prometheus.Histogram
	Packages        prometheus.Gauge
	InvalidPackages prometheus.Gauge
	Moves           *prometheus.CounterVec
	CacheFlushes    *prometheus.CounterVec
}

// Sample is one flattened metric value.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// New registers a fresh set of collectors on a private registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collectors{
		Registry: reg,

		Scans: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Package scans by outcome",
			},
			[]string{"outcome"},
		),
		ArchiveOpens: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_opens_total",
				Help:      "Archives whose central directory was read",
			},
		),
		Refreshes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Completed refresh cycles",
			},
		),
		RefreshDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Refresh cycle duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		Packages: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages",
				Help:      "Registered packages",
			},
		),
		InvalidPackages: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invalid_packages",
				Help:      "Registered packages marked invalid",
			},
		),
		Moves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moves_total",
				Help:      "Install and uninstall attempts by direction and result",
			},
			[]string{"direction", "result"},
		),
		CacheFlushes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_flushes_total",
				Help:      "Cache flush attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Scan counts one scan with the given outcome.
func (c *Collectors) Scan(outcome string) {
	if c == nil {
		return
	}
	c.Scans.WithLabelValues(outcome).Inc()
}

// ArchiveOpened counts one central-directory read.
func (c *Collectors) ArchiveOpened() {
	if c == nil {
		return
	}
	c.ArchiveOpens.Inc()
}

// RefreshDone records a finished refresh cycle.
func (c *Collectors) RefreshDone(d time.Duration, packages, invalid int) {
	if c == nil {
		return
	}
	c.Refreshes.Inc()
	c.RefreshDuration.Observe(d.Seconds())
	c.Packages.Set(float64(packages))
	c.InvalidPackages.Set(float64(invalid))
}

// Move records an install or uninstall attempt.
func (c *Collectors) Move(direction, result string) {
	if c == nil {
		return
	}
	c.Moves.WithLabelValues(direction, result).Inc()
}

// CacheFlush records a cache flush attempt.
func (c *Collectors) CacheFlush(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.CacheFlushes.WithLabelValues(result).Inc()
}

// Snapshot returns every counter and gauge value sorted by name. Histograms
// are reported by their sample count and sum.
func (c *Collectors) Snapshot() ([]Sample, error) {
	if c == nil {
		return nil, nil
	}
	families, err := c.Registry.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, Sample{Name: mf.GetName(), Labels: labels, Value: m.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				out = append(out, Sample{Name: mf.GetName(), Labels: labels, Value: m.GetGauge().GetValue()})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out = append(out,
					Sample{Name: mf.GetName() + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
					Sample{Name: mf.GetName() + "_sum", Labels: labels, Value: h.GetSampleSum()},
				)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
