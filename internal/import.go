package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/kb"
	"PlagiCheck/internal/models"
	"PlagiCheck/internal/wfp"
)

// Importer loads fingerprints into a knowledge base.
type Importer struct {
	kb       *kb.KB
	opts     *WalkOptions
	stats    *AppStats
	progress Progress
}

func NewImporter(k *kb.KB, opts *WalkOptions, stats *AppStats) *Importer {
	return &Importer{kb: k, opts: opts, stats: stats}
}

func (im *Importer) OnProgress(p Progress) *Importer {
	im.progress = p
	return im
}

// Import adds path (a .wfp file, a source file or a directory) under the
// component url. Paths are stored relative to the imported directory.
// Entries that fail are collected; the rest are still imported.
func (im *Importer) Import(ctx context.Context, path, url string) (int, error) {
	var (
		merr     *multierror.Error
		imported int
	)
	put := func(d *models.WFPData) error {
		if err := im.kb.ImportEntry(ctx, d, url); err != nil {
			im.stats.failed()
			merr = multierror.Append(merr, err)
			if im.opts.FailFast {
				return err
			}
			return nil
		}
		imported++
		logrus.WithFields(logrus.Fields{"file": d.FilePath, "md5": d.MD5Hex}).Debug("imported")
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("error accessing %s: %w", path, err)
	}

	switch {
	case info.IsDir():
		fp := NewFingerprinter(im.opts, im.stats).OnProgress(im.progress)
		err = fp.Run(ctx, []string{path}, func(d *models.WFPData) error {
			d.FilePath = relPath(path, d.FilePath)
			return put(d)
		})
	case strings.EqualFold(filepath.Ext(path), ".wfp"):
		var entries []*models.WFPData
		if entries, err = wfp.ReadFile(path); err == nil {
			for i, d := range entries {
				if err = ctx.Err(); err != nil {
					break
				}
				if err = put(d); err != nil {
					break
				}
				if im.progress != nil {
					im.progress(int64(i+1), int64(len(entries)))
				}
			}
		}
	default:
		var d *models.WFPData
		if d, err = FingerprintFile(ctx, path); err == nil {
			im.stats.fingerprinted()
			d.FilePath = filepath.Base(path)
			err = put(d)
		}
	}
	if err != nil && (merr == nil || !containsErr(merr, err)) {
		merr = multierror.Append(merr, err)
	}
	return imported, merr.ErrorOrNil()
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func containsErr(merr *multierror.Error, err error) bool {
	for _, e := range merr.Errors {
		if e == err {
			return true
		}
	}
	return false
}
