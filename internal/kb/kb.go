// Package kb stores the open-source knowledge base: known files keyed by MD5
// and the snippet postings that point from a winnowing hash back to file lines.
//
// Layout:
//
//	f/<md5>                  -> JSON FileRecord
//	s/<hash><md5><line>      -> empty
//	m/<name>                 -> metadata
package kb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/models"
)

var (
	ErrNotFound = errors.New("kb: not found")
	ErrReadOnly = errors.New("kb: opened read-only")
)

var (
	prefixFile    = []byte("f/")
	prefixSnippet = []byte("s/")
	prefixMeta    = []byte("m/")
)

const (
	postingKeyLen = 2 + 4 + 16 + 4
	fileKeyLen    = 2 + 16
)

// Options configures Open.
type Options struct {
	Dir      string
	Name     string // stored on first open
	InMemory bool
	ReadOnly bool
}

// KB is a Badger-backed knowledge base. Safe for concurrent use.
type KB struct {
	db       *badger.DB
	readOnly bool
	log      *logrus.Entry
}

// Posting is one occurrence of a snippet hash in a known file.
type Posting struct {
	MD5  [16]byte
	Line uint32
}

// Stats summarizes the store.
type Stats struct {
	Name     string
	Created  time.Time
	Files    int
	Postings int
	LSMSize  int64
	VLogSize int64
}

func Open(opts Options) (*KB, error) {
	if opts.Dir == "" && !opts.InMemory {
		return nil, errors.New("kb: dir is required")
	}
	log := logrus.WithField("component", "kb")

	bopts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{log}).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kb: open %s: %w", opts.Dir, err)
	}
	k := &KB{db: db, readOnly: opts.ReadOnly, log: log}

	if !opts.ReadOnly {
		if err := k.initMeta(opts.Name); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.WithFields(logrus.Fields{"dir": opts.Dir, "read_only": opts.ReadOnly}).Debug("knowledge base opened")
	return k, nil
}

func (k *KB) initMeta(name string) error {
	return k.db.Update(func(txn *badger.Txn) error {
		created := metaKey("created")
		if _, err := txn.Get(created); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(created, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return err
		}
		return txn.Set(metaKey("name"), []byte(name))
	})
}

func (k *KB) Close() error {
	if err := k.db.Close(); err != nil {
		return fmt.Errorf("kb: close: %w", err)
	}
	return nil
}

func metaKey(name string) []byte {
	return append(append([]byte{}, prefixMeta...), name...)
}

func fileKey(md5 [16]byte) []byte {
	key := make([]byte, 0, fileKeyLen)
	key = append(key, prefixFile...)
	return append(key, md5[:]...)
}

func hashPrefix(hash uint32) []byte {
	key := make([]byte, 6, postingKeyLen)
	copy(key, prefixSnippet)
	binary.BigEndian.PutUint32(key[2:], hash)
	return key
}

func postingKey(hash uint32, md5 [16]byte, line uint32) []byte {
	key := hashPrefix(hash)
	key = append(key, md5[:]...)
	return binary.BigEndian.AppendUint32(key, line)
}

// PutFile stores rec under md5. A file seen before only gets its
// instance counter bumped; the first location is kept.
func (k *KB) PutFile(ctx context.Context, md5 [16]byte, rec models.FileRecord) error {
	if k.readOnly {
		return ErrReadOnly
	}
	return k.db.Update(func(txn *badger.Txn) error {
		key := fileKey(md5)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var prev models.FileRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err != nil {
				return fmt.Errorf("decode file record: %w", err)
			}
			prev.Instances++
			rec = prev
		case errors.Is(err, badger.ErrKeyNotFound):
			if rec.Instances < 1 {
				rec.Instances = 1
			}
		default:
			return err
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, b)
	})
}

// GetFile returns the record for md5 or ErrNotFound.
func (k *KB) GetFile(ctx context.Context, md5 [16]byte) (*models.FileRecord, error) {
	var rec models.FileRecord
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(md5))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AddSnippets writes one posting per (hash, line) pair of a file.
func (k *KB) AddSnippets(ctx context.Context, md5 [16]byte, hashes, lines []uint32) error {
	if k.readOnly {
		return ErrReadOnly
	}
	if len(hashes) != len(lines) {
		return fmt.Errorf("kb: %d hashes but %d lines", len(hashes), len(lines))
	}
	wb := k.db.NewWriteBatch()
	defer wb.Cancel()
	for i, h := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Set(postingKey(h, md5, lines[i]), nil); err != nil {
			return fmt.Errorf("kb: write posting: %w", err)
		}
	}
	return wb.Flush()
}

// Postings returns the occurrences of hash, at most limit of them (limit <= 0: all).
// The second return reports whether the list was cut short.
func (k *KB) Postings(ctx context.Context, hash uint32, limit int) ([]Posting, bool, error) {
	var (
		out       []Posting
		truncated bool
	)
	err := k.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = hashPrefix(hash)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				truncated = true
				return nil
			}
			key := it.Item().Key()
			if len(key) != postingKeyLen {
				continue
			}
			var p Posting
			copy(p.MD5[:], key[6:22])
			p.Line = binary.BigEndian.Uint32(key[22:])
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, truncated, nil
}

// ImportEntry adds a fingerprinted file to the knowledge base.
func (k *KB) ImportEntry(ctx context.Context, entry *models.WFPData, url string) error {
	if err := k.PutFile(ctx, entry.MD5, models.FileRecord{File: entry.FilePath, URL: url}); err != nil {
		return fmt.Errorf("kb: put %s: %w", entry.FilePath, err)
	}
	if len(entry.Hashes) == 0 {
		return nil
	}
	if err := k.AddSnippets(ctx, entry.MD5, entry.Hashes, entry.Lines); err != nil {
		return fmt.Errorf("kb: snippets %s: %w", entry.FilePath, err)
	}
	return nil
}

// Stats walks the key space and reports counts and sizes.
func (k *KB) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := k.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get(metaKey("name")); err == nil {
			v, _ := item.ValueCopy(nil)
			st.Name = string(v)
		}
		if item, err := txn.Get(metaKey("created")); err == nil {
			v, _ := item.ValueCopy(nil)
			st.Created, _ = time.Parse(time.RFC3339, string(v))
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			switch {
			case hasPrefix(key, prefixFile):
				st.Files++
			case hasPrefix(key, prefixSnippet):
				st.Postings++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.LSMSize, st.VLogSize = k.db.Size()
	return st, nil
}

func hasPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

// badgerLogger routes Badger output through logrus. Badger is chatty at
// info level, so info is demoted to debug.
type badgerLogger struct{ e *logrus.Entry }

func (l badgerLogger) Errorf(f string, a ...interface{})   { l.e.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...interface{}) { l.e.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...interface{})    { l.e.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...interface{})   { l.e.Debugf(f, a...) }
