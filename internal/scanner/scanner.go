// SPDX-License-Identifier: MPL-2.0

package scanner

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/varkeep/varkeep/internal/cachefile"
	"github.com/varkeep/varkeep/internal/metrics"
	"github.com/varkeep/varkeep/internal/namecodec"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

// DefaultManifestLimit caps how much of a manifest entry is read.
const DefaultManifestLimit = 4 << 20

type (
	// Tagged is a classified entry with its normalized tags.
	Tagged struct {
		Name string
		Tags []string
	}

	// Result is the outcome of scanning one archive. Entry lists are
	// parallel: Names[i], Sizes[i], and ModTimes[i] describe one entry.
	Result struct {
		Names []string
		Sizes []int64
		// ModTimes are entry modification times in cachefile ticks.
		ModTimes     []int64
		Dependencies []string
		Clothing     []Tagged
		Hair         []Tagged

		ArchiveSize    int64
		ArchiveModTime int64
		Invalid        bool
		// FromCache is set when the result was adopted from the cache
		// without opening the archive.
		FromCache bool
	}

	// Options configures a Scanner. Cache and Detector may be nil.
	Options struct {
		Cache         *cachefile.Cache
		Detector      *namecodec.Detector
		Metrics       *metrics.Collectors
		Logger        *log.Logger
		ManifestLimit int64
	}

	// Scanner inspects package archives. It is safe for concurrent use;
	// callers must not scan the same package from two goroutines at once.
	Scanner struct {
		cache    *cachefile.Cache
		detector *namecodec.Detector
		metrics  *metrics.Collectors
		logger   *log.Logger
		limit    int64

		opens atomic.Int64

		mu            sync.Mutex
		invalidLogged map[varpkg.UID]bool
		unknownTags   map[string]bool
	}
)

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.ManifestLimit <= 0 {
		opts.ManifestLimit = DefaultManifestLimit
	}
	return &Scanner{
		cache:         opts.Cache,
		detector:      opts.Detector,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		limit:         opts.ManifestLimit,
		invalidLogged: make(map[varpkg.UID]bool),
		unknownTags:   make(map[string]bool),
	}
}

// ArchiveOpens returns how many times an archive central directory was read.
func (s *Scanner) ArchiveOpens() int64 { return s.opens.Load() }

// UnknownTags returns the sorted set of tags seen outside the vocabulary.
func (s *Scanner) UnknownTags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.unknownTags))
	for tag := range s.unknownTags {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// Forget drops the name encoding remembered for the archive at path.
func (s *Scanner) Forget(path string) {
	if s.detector != nil {
		s.detector.Forget(path)
	}
}

// Open opens the archive at path for entry reads.
func (s *Scanner) Open(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	s.opens.Add(1)
	s.metrics.ArchiveOpened()
	return openArchive(path, info.Size(), cachefile.Ticks(info.ModTime()), s.detector)
}

// Scan returns the scan result of the archive at path, served from the
// cache while the archive's size and modification time are unchanged.
// A corrupt archive yields a Result with Invalid set and a nil error;
// an error means the archive could not be stat'ed.
func (s *Scanner) Scan(uid varpkg.UID, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat archive %s: %w", path, err)
	}
	size, modTicks := info.Size(), cachefile.Ticks(info.ModTime())

	if s.cache != nil {
		if rec, ok := s.cache.Get(uid, size, modTicks); ok {
			s.metrics.Scan(metrics.ScanCacheHit)
			res := fromRecord(rec)
			res.FromCache = true
			return res, nil
		}
	}

	s.opens.Add(1)
	s.metrics.ArchiveOpened()
	res, err := s.inspect(path, size, modTicks)
	if err != nil {
		s.markInvalid(uid, path, err)
		res = Result{ArchiveSize: size, ArchiveModTime: modTicks, Invalid: true}
		s.metrics.Scan(metrics.ScanInvalid)
	} else {
		s.metrics.Scan(metrics.ScanOpened)
	}

	if s.cache != nil {
		s.cache.Put(uid, toRecord(res))
	}
	return res, nil
}

func (s *Scanner) markInvalid(uid varpkg.UID, path string, err error) {
	s.mu.Lock()
	first := !s.invalidLogged[uid]
	s.invalidLogged[uid] = true
	s.mu.Unlock()

	if first {
		s.logger.Warn("archive is corrupt, marking package invalid", "uid", uid, "path", path, "error", err)
	}
}

func (s *Scanner) inspect(path string, size, modTicks int64) (Result, error) {
	a, err := openArchive(path, size, modTicks, s.detector)
	if err != nil {
		return Result{}, err
	}
	defer a.Close()

	c := classify(a.names)
	res := Result{ArchiveSize: size, ArchiveModTime: modTicks}
	for _, i := range c.keep {
		f := a.files[i]
		res.Names = append(res.Names, a.names[i])
		res.Sizes = append(res.Sizes, int64(f.UncompressedSize64))
		res.ModTimes = append(res.ModTimes, cachefile.Ticks(f.Modified))
	}

	if c.manifest >= 0 {
		data, err := a.ReadFile(a.names[c.manifest], s.limit)
		if err != nil {
			return Result{}, err
		}
		deps, ok := parseDependencies(data)
		if !ok {
			s.logger.Warn("manifest is not valid JSON, ignoring dependencies", "path", path)
		}
		res.Dependencies = deps
	}

	if res.Clothing, err = s.readTagged(a, c.clothing); err != nil {
		return Result{}, err
	}
	if res.Hair, err = s.readTagged(a, c.hair); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Scanner) readTagged(a *Archive, idx []int) ([]Tagged, error) {
	if len(idx) == 0 {
		return nil, nil
	}
	out := make([]Tagged, 0, len(idx))
	for _, i := range idx {
		data, err := a.ReadFile(a.names[i], s.limit)
		if err != nil {
			return nil, err
		}
		tags := parseTags(data)
		s.recordUnknown(tags)
		out = append(out, Tagged{Name: a.names[i], Tags: tags})
	}
	return out, nil
}

func (s *Scanner) recordUnknown(tags []string) {
	for _, tag := range tags {
		if IsKnownTag(tag) {
			continue
		}
		s.mu.Lock()
		first := !s.unknownTags[tag]
		s.unknownTags[tag] = true
		s.mu.Unlock()
		if first {
			s.logger.Debug("unknown tag", "tag", tag)
		}
	}
}

const tagSeparator = ","

func toRecord(r Result) cachefile.Record {
	rec := cachefile.Record{
		EntryNames:     r.Names,
		EntryModTimes:  r.ModTimes,
		EntrySizes:     r.Sizes,
		Dependencies:   r.Dependencies,
		ArchiveSize:    r.ArchiveSize,
		ArchiveModTime: r.ArchiveModTime,
		Invalid:        r.Invalid,
	}
	rec.ClothingNames, rec.ClothingTags = flattenTagged(r.Clothing)
	rec.HairNames, rec.HairTags = flattenTagged(r.Hair)
	return rec
}

func fromRecord(rec cachefile.Record) Result {
	return Result{
		Names:          rec.EntryNames,
		Sizes:          rec.EntrySizes,
		ModTimes:       rec.EntryModTimes,
		Dependencies:   rec.Dependencies,
		Clothing:       expandTagged(rec.ClothingNames, rec.ClothingTags),
		Hair:           expandTagged(rec.HairNames, rec.HairTags),
		ArchiveSize:    rec.ArchiveSize,
		ArchiveModTime: rec.ArchiveModTime,
		Invalid:        rec.Invalid,
	}
}

func flattenTagged(items []Tagged) (names, tags []string) {
	if len(items) == 0 {
		return nil, nil
	}
	names = make([]string, len(items))
	tags = make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
		tags[i] = strings.Join(it.Tags, tagSeparator)
	}
	return names, tags
}

func expandTagged(names, tags []string) []Tagged {
	if len(names) == 0 {
		return nil
	}
	out := make([]Tagged, len(names))
	for i, n := range names {
		out[i] = Tagged{Name: n}
		if i < len(tags) && tags[i] != "" {
			out[i].Tags = strings.Split(tags[i], tagSeparator)
		}
	}
	return out
}
