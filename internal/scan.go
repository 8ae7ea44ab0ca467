package internal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/engine"
	"PlagiCheck/internal/kb"
	"PlagiCheck/internal/models"
	"PlagiCheck/internal/wfp"
)

// ErrNoMatch wraps the reasons an entry ends up as no_match.
var ErrNoMatch = errors.New("no match")

// Matcher is the part of the engine the scan pipeline needs.
type Matcher interface {
	LookupFile(ctx context.Context, md5hex string) (*models.FileRecord, error)
	Scan(ctx context.Context, in *engine.Input) *models.ScanResult
}

// ProcessEntry resolves one WFP entry: a full-file match by MD5 first,
// then the best snippet candidate.
func ProcessEntry(ctx context.Context, m Matcher, entry *models.WFPData, opts *ScanOptions) (*models.MatchResult, error) {
	rec, err := m.LookupFile(ctx, entry.MD5Hex)
	switch {
	case err == nil:
		return &models.MatchResult{
			MatchType:     models.ResultFullFile,
			Instances:     rec.Instances,
			ReferenceURL:  rec.URL,
			ReferenceFile: rec.File,
		}, nil
	case !errors.Is(err, kb.ErrNotFound):
		return nil, fmt.Errorf("file lookup: %w", err)
	}

	if len(entry.Hashes) == 0 {
		return nil, fmt.Errorf("%w: no snippet hashes", ErrNoMatch)
	}

	res := m.Scan(ctx, engine.InputFromWFP(entry))
	if res.ErrorMsg != "" {
		return nil, fmt.Errorf("error scanning snippets: %s", res.ErrorMsg)
	}
	if res.MatchCount == 0 || len(res.Matches) == 0 {
		return nil, fmt.Errorf("%w: no matches found", ErrNoMatch)
	}

	var best *models.MatchInfo
	for i := range res.Matches {
		if best == nil || res.Matches[i].Hits > best.Hits {
			best = &res.Matches[i]
		}
	}
	if best.Hits < opts.MinHits {
		return nil, fmt.Errorf("%w: insufficient hits: %d (minimum required: %d)", ErrNoMatch, best.Hits, opts.MinHits)
	}

	valid := FilterValidRanges(best.Ranges)
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no valid ranges found (all ranges span single line)", ErrNoMatch)
	}

	rec, err = m.LookupFile(ctx, best.FileMD5Hex)
	if err != nil {
		return nil, fmt.Errorf("file record for best match %s: %w", best.FileMD5Hex, err)
	}

	merged := MergeRanges(valid, opts.RangeTolerance)
	target, oss := FormatRanges(merged)
	return &models.MatchResult{
		MatchType:     models.ResultSnippet,
		TargetLines:   target,
		SourceLines:   oss,
		Instances:     rec.Instances,
		ReferenceURL:  rec.URL,
		ReferenceFile: rec.File,
		Hits:          best.Hits,
		Ranges:        merged,
	}, nil
}

// EntryResult is reported to a sink once per scanned entry.
type EntryResult struct {
	Entry *models.WFPData
	Match *models.MatchResult
	Err   error
	Took  time.Duration
}

// Results maps a scanned file path to its matches.
type Results map[string][]*models.MatchResult

// NewResultSink returns a closure filling results and the counters.
// A second entry with an already used path is keyed "<path> [<md5>]".
func NewResultSink(results Results, stats *AppStats) func(EntryResult) {
	var mu sync.Mutex
	return func(r EntryResult) {
		match := r.Match
		fields := logrus.Fields{"file": r.Entry.FilePath, "md5": r.Entry.MD5Hex}
		if r.Err != nil {
			match = models.NoMatch()
			if errors.Is(r.Err, ErrNoMatch) {
				logrus.WithFields(fields).Debug(r.Err)
			} else {
				stats.failed()
				logrus.WithFields(fields).WithError(r.Err).Error("scan error")
			}
		} else {
			logrus.WithFields(fields).WithField("match", match.MatchType).Debug("Match found")
		}
		stats.scanned(match.MatchType, r.Took)

		mu.Lock()
		defer mu.Unlock()
		key := r.Entry.FilePath
		if _, exists := results[key]; exists {
			key = fmt.Sprintf("%s [%s]", r.Entry.FilePath, r.Entry.MD5Hex)
		}
		results[key] = []*models.MatchResult{match}
	}
}

// Scanner runs ProcessEntry over many entries with a worker pool.
type Scanner struct {
	matcher  Matcher
	opts     *ScanOptions
	stats    *AppStats
	progress Progress
}

func NewScanner(m Matcher, opts *ScanOptions, stats *AppStats) *Scanner {
	return &Scanner{matcher: m, opts: opts, stats: stats}
}

func (s *Scanner) OnProgress(p Progress) *Scanner {
	s.progress = p
	return s
}

// ScanEntries reports exactly one result per entry to sink unless ctx is
// cancelled first.
func (s *Scanner) ScanEntries(ctx context.Context, entries []*models.WFPData, sink func(EntryResult)) error {
	var (
		wg        sync.WaitGroup
		processed atomic.Int64
		total     = int64(len(entries))
	)
	pool, err := ants.NewPoolWithFunc(s.opts.Threads, func(i interface{}) {
		defer wg.Done()
		entry := i.(*models.WFPData)
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		match, err := ProcessEntry(ctx, s.matcher, entry, s.opts)
		sink(EntryResult{Entry: entry, Match: match, Err: err, Took: time.Since(start)})
		if s.progress != nil {
			s.progress(processed.Add(1), total)
		}
	})
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	defer pool.Release()

	logrus.WithFields(logrus.Fields{"files": total, "threads": s.opts.Threads}).Debug("scan started")
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Invoke(e); err != nil {
			wg.Done()
			logrus.WithError(err).Error("submit task")
			sink(EntryResult{Entry: e, Err: err})
		}
	}
	wg.Wait()
	return ctx.Err()
}

// ScanPath scans a .wfp file, or fingerprints a file or directory first.
func (s *Scanner) ScanPath(ctx context.Context, path string, sink func(EntryResult)) error {
	var (
		entries []*models.WFPData
		err     error
	)
	if strings.EqualFold(filepath.Ext(path), ".wfp") {
		entries, err = wfp.ReadFile(path)
	} else {
		entries, err = NewFingerprinter(&s.opts.WalkOptions, s.stats).Collect(ctx, path)
	}
	if err != nil {
		return err
	}
	return s.ScanEntries(ctx, entries, sink)
}
