package kb

import (
	"context"
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PlagiCheck/internal/models"
)

func openMem(t *testing.T) *KB {
	t.Helper()
	k, err := Open(Options{InMemory: true, Name: "test-kb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestPutGetFile(t *testing.T) {
	ctx := context.Background()
	k := openMem(t)
	sum := md5.Sum([]byte("hello"))

	_, err := k.GetFile(ctx, sum)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, k.PutFile(ctx, sum, models.FileRecord{File: "src/a.c", URL: "https://example.org/a"}))
	rec, err := k.GetFile(ctx, sum)
	require.NoError(t, err)
	assert.Equal(t, "src/a.c", rec.File)
	assert.Equal(t, "https://example.org/a", rec.URL)
	assert.Equal(t, 1, rec.Instances)

	// second import of the same content keeps the first location
	require.NoError(t, k.PutFile(ctx, sum, models.FileRecord{File: "vendor/a.c", URL: "https://example.org/b"}))
	rec, err = k.GetFile(ctx, sum)
	require.NoError(t, err)
	assert.Equal(t, "src/a.c", rec.File)
	assert.Equal(t, 2, rec.Instances)
}

func TestPostings(t *testing.T) {
	ctx := context.Background()
	k := openMem(t)
	a := md5.Sum([]byte("a"))
	b := md5.Sum([]byte("b"))

	require.NoError(t, k.AddSnippets(ctx, a, []uint32{10, 20, 10}, []uint32{1, 2, 9}))
	require.NoError(t, k.AddSnippets(ctx, b, []uint32{10}, []uint32{4}))

	ps, truncated, err := k.Postings(ctx, 10, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, ps, 3)
	for _, p := range ps {
		assert.Contains(t, [][16]byte{a, b}, p.MD5)
	}

	ps, truncated, err = k.Postings(ctx, 10, 2)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, ps, 2)

	ps, _, err = k.Postings(ctx, 20, 0)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, a, ps[0].MD5)
	assert.Equal(t, uint32(2), ps[0].Line)

	ps, _, err = k.Postings(ctx, 30, 0)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestAddSnippets_LengthMismatch(t *testing.T) {
	k := openMem(t)
	err := k.AddSnippets(context.Background(), md5.Sum(nil), []uint32{1, 2}, []uint32{1})
	require.Error(t, err)
}

func TestImportEntryAndStats(t *testing.T) {
	ctx := context.Background()
	k := openMem(t)
	e := &models.WFPData{
		MD5:      md5.Sum([]byte("x")),
		FilePath: "lib/x.go",
		Hashes:   []uint32{1, 2, 3},
		Lines:    []uint32{4, 5, 6},
	}
	require.NoError(t, k.ImportEntry(ctx, e, "https://example.org/x"))
	require.NoError(t, k.ImportEntry(ctx, &models.WFPData{MD5: md5.Sum([]byte("y")), FilePath: "y.png"}, "https://example.org/x"))

	st, err := k.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-kb", st.Name)
	assert.False(t, st.Created.IsZero())
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 3, st.Postings)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	k, err := Open(Options{Dir: dir, Name: "disk"})
	require.NoError(t, err)
	require.NoError(t, k.PutFile(context.Background(), md5.Sum([]byte("z")), models.FileRecord{File: "z"}))
	require.NoError(t, k.Close())

	ro, err := Open(Options{Dir: dir, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	rec, err := ro.GetFile(context.Background(), md5.Sum([]byte("z")))
	require.NoError(t, err)
	assert.Equal(t, "z", rec.File)
	assert.ErrorIs(t, ro.PutFile(context.Background(), md5.Sum(nil), models.FileRecord{}), ErrReadOnly)
}
