// Package engine matches winnowing fingerprints against the knowledge base.
//
// An Engine is opened once per run and shared by all workers. Scan never
// fails outright: problems are reported in ScanResult.ErrorMsg so a batch can
// carry on with the next file.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/kb"
	"PlagiCheck/internal/models"
)

const (
	DefaultMaxMatches  = 5
	DefaultMaxPostings = 1000
	DefaultRangeGap    = 5
	DefaultCacheSize   = 4096
)

// Config for Open. Zero values take the defaults.
type Config struct {
	KBDir string
	KB    *kb.KB // used instead of KBDir when set; not closed by the engine

	MaxMatches  int // candidates kept per scan
	MaxPostings int // hashes with more occurrences are ignored
	RangeGap    int // max source-line gap inside one range
	CacheSize   int
	Debug       bool
}

// Input is a single scan request.
type Input struct {
	MD5        [16]byte
	FilePath   string
	Hashes     []uint32
	Lines      []uint32
	TotalLines int
}

// InputFromWFP builds a scan request from a decoded WFP entry.
func InputFromWFP(d *models.WFPData) *Input {
	return &Input{
		MD5:        d.MD5,
		FilePath:   d.FilePath,
		Hashes:     d.Hashes,
		Lines:      d.Lines,
		TotalLines: d.TotalLines(),
	}
}

type postingList struct {
	postings []kb.Posting
	noisy    bool
}

// Engine is safe for concurrent use.
type Engine struct {
	kb       *kb.KB
	ownsKB   bool
	cfg      Config
	postings *lru.Cache[uint32, postingList]
	files    *lru.Cache[[16]byte, models.FileRecord]
	missing  *lru.Cache[[16]byte, struct{}] // only when the KB is ours and read-only
	log      *logrus.Entry
}

// Open prepares an engine over the knowledge base.
func Open(cfg Config) (*Engine, error) {
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = DefaultMaxMatches
	}
	if cfg.MaxPostings <= 0 {
		cfg.MaxPostings = DefaultMaxPostings
	}
	if cfg.RangeGap <= 0 {
		cfg.RangeGap = DefaultRangeGap
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	e := &Engine{cfg: cfg, kb: cfg.KB, log: logrus.WithField("component", "engine")}
	if e.kb == nil {
		if cfg.KBDir == "" {
			return nil, errors.New("engine: knowledge base dir is required")
		}
		k, err := kb.Open(kb.Options{Dir: cfg.KBDir, ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.kb, e.ownsKB = k, true
	}

	var err error
	if e.postings, err = lru.New[uint32, postingList](cfg.CacheSize); err != nil {
		return nil, err
	}
	if e.files, err = lru.New[[16]byte, models.FileRecord](cfg.CacheSize); err != nil {
		return nil, err
	}
	if e.ownsKB {
		if e.missing, err = lru.New[[16]byte, struct{}](cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Close releases the knowledge base if the engine opened it.
func (e *Engine) Close() error {
	if e.ownsKB {
		return e.kb.Close()
	}
	return nil
}

// LookupFile returns the KB record of a file by hex MD5.
func (e *Engine) LookupFile(ctx context.Context, md5hex string) (*models.FileRecord, error) {
	raw, err := hex.DecodeString(md5hex)
	if err != nil || len(raw) != 16 {
		return nil, fmt.Errorf("engine: invalid md5 %q", md5hex)
	}
	var sum [16]byte
	copy(sum[:], raw)
	return e.lookupFile(ctx, sum)
}

func (e *Engine) lookupFile(ctx context.Context, sum [16]byte) (*models.FileRecord, error) {
	if rec, ok := e.files.Get(sum); ok {
		return &rec, nil
	}
	if e.missing != nil && e.missing.Contains(sum) {
		return nil, kb.ErrNotFound
	}
	rec, err := e.kb.GetFile(ctx, sum)
	if err != nil {
		if e.missing != nil && errors.Is(err, kb.ErrNotFound) {
			e.missing.Add(sum, struct{}{})
		}
		return nil, err
	}
	e.files.Add(sum, *rec)
	return rec, nil
}

func (e *Engine) lookupPostings(ctx context.Context, hash uint32) (postingList, error) {
	if pl, ok := e.postings.Get(hash); ok {
		return pl, nil
	}
	ps, truncated, err := e.kb.Postings(ctx, hash, e.cfg.MaxPostings)
	if err != nil {
		return postingList{}, err
	}
	pl := postingList{postings: ps, noisy: truncated}
	if truncated {
		pl.postings = nil
	}
	e.postings.Add(hash, pl)
	return pl, nil
}

type pair struct {
	src uint32
	oss uint32
}

type candidate struct {
	md5   [16]byte
	hits  int
	pairs []pair
}

// Scan matches one input against the knowledge base.
func (e *Engine) Scan(ctx context.Context, in *Input) *models.ScanResult {
	start := time.Now()
	res := &models.ScanResult{MatchType: models.MatchNone}
	log := e.log.WithField("file", in.FilePath)

	if len(in.Hashes) != len(in.Lines) {
		res.ErrorMsg = fmt.Sprintf("invalid input: %d hashes but %d lines", len(in.Hashes), len(in.Lines))
		return res
	}

	if _, err := e.lookupFile(ctx, in.MD5); err == nil {
		res.MatchType = models.MatchFile
		res.Matches = []models.MatchInfo{{
			FileMD5Hex: hex.EncodeToString(in.MD5[:]),
			Hits:       len(in.Hashes),
			Ranges:     []models.Range{{From: 1, To: max(in.TotalLines, 1), Oss: 1}},
		}}
		res.MatchCount = 1
		return res
	} else if !errors.Is(err, kb.ErrNotFound) {
		res.ErrorMsg = fmt.Sprintf("file lookup failed: %v", err)
		return res
	}

	if len(in.Hashes) == 0 {
		res.ErrorMsg = "no hashes in input"
		return res
	}

	byFile := make(map[[16]byte]*candidate)
	seen := make(map[uint32]struct{}, len(in.Hashes))
	noisy := 0
	for i, h := range in.Hashes {
		seen[h] = struct{}{}

		pl, err := e.lookupPostings(ctx, h)
		if err != nil {
			res.ErrorMsg = fmt.Sprintf("snippet lookup failed: %v", err)
			return res
		}
		if pl.noisy {
			noisy++
			continue
		}
		counted := make(map[[16]byte]bool, len(pl.postings))
		for _, p := range pl.postings {
			c := byFile[p.MD5]
			if c == nil {
				c = &candidate{md5: p.MD5}
				byFile[p.MD5] = c
			}
			if !counted[p.MD5] {
				c.hits++
				counted[p.MD5] = true
			}
			c.pairs = append(c.pairs, pair{src: in.Lines[i], oss: p.Line})
		}
	}

	cands := make([]*candidate, 0, len(byFile))
	for _, c := range byFile {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].hits != cands[j].hits {
			return cands[i].hits > cands[j].hits
		}
		return string(cands[i].md5[:]) < string(cands[j].md5[:])
	})
	if len(cands) > e.cfg.MaxMatches {
		cands = cands[:e.cfg.MaxMatches]
	}

	for _, c := range cands {
		res.Matches = append(res.Matches, models.MatchInfo{
			FileMD5Hex: hex.EncodeToString(c.md5[:]),
			Hits:       c.hits,
			Ranges:     buildRanges(c.pairs, e.cfg.RangeGap),
		})
	}
	res.MatchCount = len(res.Matches)
	if res.MatchCount > 0 {
		res.MatchType = models.MatchSnippet
	}

	if e.cfg.Debug {
		log.WithFields(logrus.Fields{
			"hashes":     len(in.Hashes),
			"distinct":   len(seen),
			"noisy":      noisy,
			"candidates": len(byFile),
			"elapsed":    time.Since(start),
		}).Debug("snippet scan")
	}
	return res
}

// buildRanges groups (source, oss) line pairs into blocks. A block grows while
// the next source line stays within gap of its end and some oss line for it
// does not move backwards; the lowest such oss line is taken.
func buildRanges(pairs []pair, gap int) []models.Range {
	if len(pairs) == 0 {
		return nil
	}
	sorted := make([]pair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].src != sorted[j].src {
			return sorted[i].src < sorted[j].src
		}
		return sorted[i].oss < sorted[j].oss
	})

	var (
		out     []models.Range
		cur     models.Range
		lastOss uint32
		open    bool
	)
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].src == sorted[i].src {
			j++
		}
		group := sorted[i:j]
		src := int(group[0].src)
		i = j

		if open && src-cur.To <= gap {
			extended := false
			for _, p := range group {
				if p.oss >= lastOss {
					cur.To = src
					lastOss = p.oss
					extended = true
					break
				}
			}
			if extended {
				continue
			}
		}
		if open {
			out = append(out, cur)
		}
		cur = models.Range{From: src, To: src, Oss: int(group[0].oss)}
		lastOss = group[0].oss
		open = true
	}
	return append(out, cur)
}
