package internal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"

	"PlagiCheck/internal/kb"
	"PlagiCheck/internal/wfp"
)

func TestImporter_WFPAndSingleFile(t *testing.T) {
	ctx := context.Background()
	k, _ := newTestEngine(t)
	im := NewImporter(k, prepared(t, WalkOptions{}), &AppStats{})

	a := wfp.Fingerprint("pkg/a.c", joinLines(genSource(40, 60)))
	b := wfp.Fingerprint("pkg/b.c", joinLines(genSource(41, 60)))
	in := filepath.Join(t.TempDir(), "component.wfp")
	mustWrite(t, in, encodeWFP(t, a, b))

	n, err := im.Import(ctx, in, "https://example.org/pkg")
	if err != nil || n != 2 {
		t.Fatalf("wfp import: n=%d err=%v", n, err)
	}
	rec, err := k.GetFile(ctx, b.MD5)
	if err != nil || rec.File != "pkg/b.c" {
		t.Fatalf("record: %+v %v", rec, err)
	}

	single := filepath.Join(t.TempDir(), "deep", "single.c")
	data := joinLines(genSource(42, 60))
	mustWrite(t, single, data)
	if n, err := im.Import(ctx, single, "https://example.org/single"); err != nil || n != 1 {
		t.Fatalf("file import: n=%d err=%v", n, err)
	}
	rec, err = k.GetFile(ctx, wfp.Fingerprint("", data).MD5)
	if err != nil || rec.File != "single.c" || rec.URL != "https://example.org/single" {
		t.Fatalf("single record: %+v %v", rec, err)
	}

	if _, err := im.Import(ctx, filepath.Join(t.TempDir(), "missing"), "u"); err == nil {
		t.Fatal("missing path must fail")
	}
}

func TestImporter_CollectsErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	k, err := kb.Open(kb.Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Close(); err != nil {
		t.Fatal(err)
	}
	ro, err := kb.Open(kb.Options{Dir: dir, ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()

	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "a.c"), joinLines(genSource(43, 30)))
	mustWrite(t, filepath.Join(src, "b.c"), joinLines(genSource(44, 30)))

	var stats AppStats
	n, err := NewImporter(ro, prepared(t, WalkOptions{}), &stats).Import(ctx, src, "u")
	if n != 0 {
		t.Fatalf("imported %d into a read-only kb", n)
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("expected 2 aggregated errors, got %v", err)
	}
	if !errors.Is(err, kb.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly in chain: %v", err)
	}
	if stats.Errors.Load() != 2 {
		t.Fatalf("errors = %d", stats.Errors.Load())
	}
}
