package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

var words = []string{
	"buffer", "index", "parse", "token", "stream", "value", "result", "error",
	"config", "handler", "context", "return", "struct", "client", "server", "request",
	"packet", "offset", "length", "cursor", "window", "filter", "digest", "encode",
	"decode", "socket", "thread", "mutex", "signal", "vector", "matrix", "record",
}

func source(seed uint32, n int) []string {
	x := seed*2654435761 + 1
	next := func() uint32 {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		return x
	}
	lines := make([]string, n)
	for i := range lines {
		var sb strings.Builder
		for w := 0; w < 7; w++ {
			sb.WriteString(words[next()%uint32(len(words))])
			sb.WriteString("_")
		}
		sb.WriteString("= ")
		sb.WriteString(strings.Repeat("x", int(next()%3)))
		lines[i] = sb.String() + ";"
	}
	return lines
}

func text(lines []string) []byte { return []byte(strings.Join(lines, "\n") + "\n") }

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// run executes the app with captured output; exit errors are returned, not fatal.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"plagicheck", "--no-progress"}, args...))
	t.Logf("stderr:\n%s", stderr.String())
	return stdout.String(), err
}

type fixture struct {
	kb      string
	target  string
	copyMD5 string
	mixMD5  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ref := source(1, 200)
	refDir := t.TempDir()
	write(t, filepath.Join(refDir, "lib.c"), text(ref))
	write(t, filepath.Join(refDir, "util", "other.c"), text(source(2, 120)))

	var mixed []string
	mixed = append(mixed, source(3, 30)...)
	mixed = append(mixed, ref[40:140]...)
	mixed = append(mixed, source(4, 40)...)

	f := fixture{kb: filepath.Join(t.TempDir(), "kb"), target: t.TempDir()}
	write(t, filepath.Join(f.target, "copy.c"), text(ref))
	write(t, filepath.Join(f.target, "mixed.c"), text(mixed))
	write(t, filepath.Join(f.target, "own.c"), text(source(5, 100)))
	f.copyMD5 = md5hex(text(ref))
	f.mixMD5 = md5hex(text(mixed))

	_, err := run(t, "--kb", f.kb, "kb", "import", "--url", "https://example.org/ref", refDir)
	require.NoError(t, err)
	return f
}

func TestApp_KBCommands(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--kb", f.kb, "kb", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Name: plagicheck")
	assert.Contains(t, out, "Files: 2")

	out, err = run(t, "--kb", f.kb, "kb", "lookup", f.copyMD5)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "lib.c", rec["file"])
	assert.Equal(t, "https://example.org/ref", rec["url"])
	assert.EqualValues(t, 1, rec["instances"])

	_, err = run(t, "--kb", f.kb, "kb", "lookup", f.mixMD5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in knowledge base")

	_, err = run(t, "kb", "stats")
	require.Error(t, err)
}

func TestApp_Scan(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--kb", f.kb, "-T", "2", f.target)
	require.NoError(t, err)
	var results map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)

	full := results[filepath.Join(f.target, "copy.c")]
	require.Len(t, full, 1)
	assert.Equal(t, "full_file", full[0]["match_type"])
	assert.Equal(t, "lib.c", full[0]["reference_file"])

	snip := results[filepath.Join(f.target, "mixed.c")]
	require.Len(t, snip, 1)
	assert.Equal(t, "code_snippet", snip[0]["match_type"])
	assert.NotEmpty(t, snip[0]["target_lines"])
	assert.NotEmpty(t, snip[0]["ref_file_lines"])

	own := results[filepath.Join(f.target, "own.c")]
	require.Len(t, own, 1)
	assert.Equal(t, "no_match", own[0]["match_type"])

	// an unreachable min-hits turns the snippet into no_match
	outFile := filepath.Join(t.TempDir(), "strict.json")
	_, err = run(t, "--kb", f.kb, "--min-hits", "100000", "-o", outFile, f.target)
	require.NoError(t, err)
	b, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &results))
	assert.Equal(t, "no_match", results[filepath.Join(f.target, "mixed.c")][0]["match_type"])
	assert.Equal(t, "full_file", results[filepath.Join(f.target, "copy.c")][0]["match_type"])

	_, err = run(t, "--kb", f.kb, filepath.Join(f.target, "missing"))
	require.Error(t, err)
	_, err = run(t, f.target)
	require.Error(t, err)
}

func TestApp_TimeoutWritesPartialResults(t *testing.T) {
	f := newFixture(t)
	outFile := filepath.Join(t.TempDir(), "partial.json")

	_, err := run(t, "--kb", f.kb, "--timeout", "1ns", "-o", outFile, f.target)
	require.NoError(t, err)
	b, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(b))
}

func TestApp_FingerprintAndInspect(t *testing.T) {
	f := newFixture(t)
	wfpFile := filepath.Join(t.TempDir(), "target.wfp")

	out, err := run(t, "--fp", "-o", wfpFile, f.target)
	require.NoError(t, err)
	assert.Empty(t, out)
	b, err := os.ReadFile(wfpFile)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(b), "file="))
	assert.Contains(t, string(b), "file="+f.copyMD5+",")
	assert.Contains(t, string(b), "file="+f.mixMD5+",")

	// without -o the WFP goes to stdout
	out, err = run(t, "--fp", filepath.Join(f.target, "own.c"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "file="), out)

	out, err = run(t, "--kb", f.kb, "inspect", "--md5", f.mixMD5, wfpFile)
	require.NoError(t, err)
	assert.Contains(t, out, "File: "+filepath.Join(f.target, "mixed.c"))
	assert.Contains(t, out, "MD5: "+f.mixMD5)
	assert.Contains(t, out, "Match Type: SNIPPET")
	assert.Contains(t, out, "=== Matching Files (")

	out, err = run(t, "--kb", f.kb, "inspect", "--md5", f.copyMD5, wfpFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Match Type: FILE")

	_, err = run(t, "--kb", f.kb, "inspect", "--md5", strings.Repeat("0", 32), wfpFile)
	require.Error(t, err)
}

func TestSetup_Precedence(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "plagicheck.yaml")
	write(t, cfgFile, []byte(`
kb:
  dir: /from/file
scan:
  min_hits: 7
  threads: 2
profiles:
  qa:
    scan:
      min_hits: 9
`))

	load := func(args ...string) *session {
		t.Helper()
		var got *session
		app := &cli.App{
			Name:           "plagicheck",
			Flags:          append(globalFlags(), scanFlags()...),
			ExitErrHandler: func(*cli.Context, error) {},
			Action: func(c *cli.Context) error {
				s, err := setup(c)
				got = s
				return err
			},
		}
		require.NoError(t, app.Run(append([]string{"plagicheck", "--config", cfgFile}, args...)))
		return got
	}

	s := load()
	assert.Equal(t, 7, s.cfg.Scan.MinHits)
	assert.Equal(t, 2, s.cfg.Scan.Threads)
	assert.Equal(t, "/from/file", s.cfg.KB.Dir)

	s = load("--env", "qa")
	assert.Equal(t, 9, s.cfg.Scan.MinHits)

	t.Setenv("PLAGICHECK_SCAN_MIN_HITS", "10")
	t.Setenv("PLAGICHECK_SCAN_THREADS", "5")
	s = load("--env", "qa")
	assert.Equal(t, 10, s.cfg.Scan.MinHits)
	assert.Equal(t, 5, s.cfg.Scan.Threads)

	s = load("--env", "qa", "--min-hits", "11", "-T", "6", "--kb", "/from/flag")
	assert.Equal(t, 11, s.cfg.Scan.MinHits)
	assert.Equal(t, 6, s.cfg.Scan.Threads)
	assert.Equal(t, "/from/flag", s.cfg.KB.Dir)

	s = load("-d")
	assert.True(t, s.debug)
	assert.False(t, s.bars)

	app := &cli.App{
		Flags:          globalFlags(),
		ExitErrHandler: func(*cli.Context, error) {},
		Action: func(c *cli.Context) error {
			_, err := setup(c)
			return err
		},
	}
	assert.Error(t, app.Run([]string{"plagicheck", "--env", "staging"}))
}
