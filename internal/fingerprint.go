package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/models"
	"PlagiCheck/internal/wfp"
)

var (
	ErrWalkFailFast   = errors.New("fail-fast: walk error") // sentinel error
	ErrNoFiles        = errors.New("no valid files found in directory")
	ErrNoFingerprints = errors.New("failed to generate any fingerprints")
)

// Progress is called after each unit of work. total may still grow while
// the walk is running.
type Progress func(done, total int64)

// Fingerprinter turns files and directory trees into WFP entries.
type Fingerprinter struct {
	opts     *WalkOptions
	stats    *AppStats
	progress Progress
}

func NewFingerprinter(opts *WalkOptions, stats *AppStats) *Fingerprinter {
	return &Fingerprinter{opts: opts, stats: stats}
}

func (f *Fingerprinter) OnProgress(p Progress) *Fingerprinter {
	f.progress = p
	return f
}

// FingerprintFile handles a single file given explicitly by the user.
func FingerprintFile(ctx context.Context, path string) (*models.WFPData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if !wfp.ValidPath(path) {
		return nil, fmt.Errorf("file name %q contains a line break", path)
	}
	if info.Size() <= MinFileSize {
		return nil, fmt.Errorf("file too small (must be > %d bytes)", MinFileSize)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := filteredExt[ext]; ok {
		return nil, fmt.Errorf("file extension %s is in skip list", ext)
	}
	class := classSnippet
	if _, ok := md5OnlyExt[ext]; ok {
		class = classMD5Only
	}
	return fingerprintTask(ctx, Task{path: path, class: class})
}

// Collect fingerprints path, a file or a directory, into memory.
func (f *Fingerprinter) Collect(ctx context.Context, path string) ([]*models.WFPData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}
	if !info.IsDir() {
		d, err := FingerprintFile(ctx, path)
		if err != nil {
			f.stats.failed()
			return nil, err
		}
		f.stats.fingerprinted()
		return []*models.WFPData{d}, nil
	}

	var out []*models.WFPData
	err = f.Run(ctx, []string{path}, func(d *models.WFPData) error {
		out = append(out, d)
		return nil
	})
	return out, err
}

// WriteWFP fingerprints path and streams the WFP text to w.
func (f *Fingerprinter) WriteWFP(ctx context.Context, path string, w io.Writer) (int, error) {
	enc := wfp.NewEncoder(w)
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("error accessing %s: %w", path, err)
	}
	if !info.IsDir() {
		d, err := FingerprintFile(ctx, path)
		if err != nil {
			f.stats.failed()
			return 0, err
		}
		f.stats.fingerprinted()
		return 1, enc.Encode(d)
	}

	n := 0
	err = f.Run(ctx, []string{path}, func(d *models.WFPData) error {
		n++
		return enc.Encode(d)
	})
	return n, err
}

// Run walks roots and calls emit for every fingerprinted file, in the order
// the files were discovered. Files are fingerprinted concurrently.
func (f *Fingerprinter) Run(parent context.Context, roots []string, emit func(*models.WFPData) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		found     atomic.Int64
		processed atomic.Int64

		mu       sync.Mutex
		ready    = make(map[int]*models.WFPData)
		next     int
		emitted  int
		emitErr  error
		failErr  error
		failOnce sync.Once
	)

	// deliver parks a finished task and flushes everything that is now in order.
	// A nil entry marks a task that produced nothing.
	deliver := func(idx int, d *models.WFPData) {
		mu.Lock()
		defer mu.Unlock()
		ready[idx] = d
		for {
			d, ok := ready[next]
			if !ok {
				return
			}
			delete(ready, next)
			next++
			if d == nil || emitErr != nil {
				continue
			}
			if err := emit(d); err != nil {
				emitErr = err
				cancel()
				continue
			}
			emitted++
		}
	}

	taskCh := make(chan Task, 2048)
	var wg sync.WaitGroup

	pool, err := ants.NewPoolWithFunc(f.opts.Threads, func(i interface{}) {
		defer wg.Done()
		t := i.(Task)
		if ctx.Err() != nil {
			deliver(t.index, nil)
			return
		}
		d, err := fingerprintTask(ctx, t)
		processed.Add(1)
		if err != nil {
			f.stats.failed()
			logrus.WithFields(logrus.Fields{"file": t.Name(), "err": err}).Error("fingerprint failed")
			if f.opts.FailFast {
				failOnce.Do(func() {
					failErr = fmt.Errorf("%w: %s: %v", ErrWalkFailFast, t.Name(), err)
					cancel()
				})
			}
		} else {
			f.stats.fingerprinted()
		}
		deliver(t.index, d)
		if f.progress != nil {
			f.progress(processed.Load(), found.Load())
		}
	})
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	defer pool.Release()

	send := func(t Task) {
		t.index = int(found.Add(1)) - 1
		f.stats.FilesFound.Add(1)
		select {
		case taskCh <- t:
		case <-ctx.Done():
		}
	}

	// walker
	walkErr := make(chan error, 1)
	go func() {
		defer close(taskCh)
		for _, root := range roots {
			if ctx.Err() != nil {
				return
			}
			err := WalkWithDepth(ctx, root, f.opts.Depth, func(path string, d os.DirEntry, err error) error {
				return f.visit(ctx, root, path, d, err, send)
			})
			if err != nil {
				walkErr <- err
				return
			}
		}
	}()

	// periodic stats
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case t, ok := <-taskCh:
			if !ok {
				break loop
			}
			wg.Add(1)
			if err := pool.Invoke(t); err != nil {
				wg.Done()
				deliver(t.index, nil)
				logrus.WithError(err).Error("submit task")
			}
		case <-ticker.C:
			logrus.Debugf("Stats: found=%d processed=%d errors=%d",
				found.Load(), processed.Load(), f.stats.Errors.Load())
		case <-ctx.Done():
			break loop
		}
	}
	for t := range taskCh {
		deliver(t.index, nil)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	switch {
	case failErr != nil:
		return failErr
	case emitErr != nil:
		return emitErr
	}
	select {
	case err := <-walkErr:
		if errors.Is(err, ErrWalkFailFast) {
			return ErrWalkFailFast
		}
		if parent.Err() == nil {
			return fmt.Errorf("walk: %w", err)
		}
	default:
	}
	if err := parent.Err(); err != nil {
		return err
	}
	if found.Load() == 0 {
		return ErrNoFiles
	}
	if emitted == 0 {
		return ErrNoFingerprints
	}
	return nil
}

// visit filters one walk entry and turns it into tasks.
func (f *Fingerprinter) visit(ctx context.Context, root, path string, d os.DirEntry, err error, send func(Task)) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		f.stats.failed()
		logrus.WithFields(logrus.Fields{"file": path, "err": err}).Error("walk error")
		if f.opts.FailFast {
			return ErrWalkFailFast
		}
		return nil
	}
	if d.IsDir() {
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return nil
	}
	if !d.Type().IsRegular() {
		return nil
	}

	if !wfp.ValidPath(path) {
		logrus.WithField("file", fmt.Sprintf("%q", path)).Warn("Skip: line break in file name")
		return nil
	}

	if f.opts.Archives && IsArchive(path) && !strings.HasPrefix(d.Name(), ".") {
		if err := WalkArchive(ctx, path, f.opts, send); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.stats.failed()
			logrus.WithFields(logrus.Fields{"archive": path, "err": err}).Error("open archive")
			if f.opts.FailFast {
				return ErrWalkFailFast
			}
		}
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return nil
	}
	if class := f.opts.classify(path, info.Size()); class != classSkip {
		send(Task{path: path, class: class})
	}
	return nil
}
