package internal

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/sirupsen/logrus"
)

const maxArchiveFiles = 10000 // zip-bomb protection

var errArchiveLimit = errors.New("archive file limit reached")

// IsArchive by extension. O(1) map lookup
var archiveExt = map[string]struct{}{
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {},
	".rar": {}, ".br": {}, ".lz4": {}, ".lz": {}, ".mz": {},
	".sz": {}, ".s2": {}, ".zz": {}, ".zst": {}, ".7z": {},
}

// Task describes a unit of work: a regular file or one archive member.
type Task struct {
	index     int
	path      string
	innerPath string
	isArchive bool
	class     fileClass
}

// Name is the path reported in WFP output.
func (t Task) Name() string {
	if t.isArchive {
		return t.path + "/" + t.innerPath
	}
	return t.path
}

// WalkWithDepth uses WalkDir and cuts branches by depth.
func WalkWithDepth(ctx context.Context, root string, maxDepth int, fn func(path string, d os.DirEntry, err error) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fn(path, d, err)
		}
		if maxDepth > 0 {
			rel, _ := filepath.Rel(root, path)
			if rel != "." && depthCount(rel) > maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		return fn(path, d, nil)
	})
}

// WalkArchive feeds archive members as tasks. Members go through the same
// filters as regular files.
func WalkArchive(ctx context.Context, path string, opts *WalkOptions, send func(Task)) error {
	fsys, err := archives.FileSystem(ctx, path, nil)
	if err != nil {
		return err
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}

	count := 0
	err = iofs.WalkDir(fsys, ".", func(inner string, d iofs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if inner != "." && strings.HasPrefix(d.Name(), ".") {
				return iofs.SkipDir
			}
			return nil
		}
		if count >= maxArchiveFiles {
			logrus.Warnf("Archive %s truncated: too many files (>= %d)", path, maxArchiveFiles)
			return errArchiveLimit
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		class := opts.classify(inner, info.Size())
		if class == classSkip {
			return nil
		}
		send(Task{path: path, innerPath: inner, isArchive: true, class: class})
		count++
		return nil
	})
	if errors.Is(err, errArchiveLimit) {
		return nil
	}
	return err
}

func depthCount(rel string) int {
	if rel == "" {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}

func IsArchive(path string) bool {
	_, ok := archiveExt[strings.ToLower(filepath.Ext(path))]
	return ok
}
