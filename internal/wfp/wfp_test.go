package wfp

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PlagiCheck/internal/models"
)

func sampleSource(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "func handler%d(w http.ResponseWriter, r *http.Request) { total := %d * factor; log.Printf(\"value %%d\", total) }\n", i, (i*7919)%1000)
	}
	return sb.String()
}

func mustEncode(t *testing.T, entries ...*models.WFPData) string {
	t.Helper()
	text, err := EncodeToString(entries...)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return text
}

func TestNormalize(t *testing.T) {
	cases := map[byte]byte{
		'a': 'a', 'z': 'z', '0': '0', '9': '9',
		'A': 'a', 'Z': 'z',
		' ': 0, '\n': 0, '{': 0, '_': 0, '[': 0, '/': 0, 0xff: 0,
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFingerprint_ShortInputHasNoHashes(t *testing.T) {
	data := []byte("int main() { return 0; }\n")
	d := Fingerprint("main.c", data)
	if len(d.Hashes) != 0 {
		t.Fatalf("expected no hashes, got %d", len(d.Hashes))
	}
	sum := md5.Sum(data)
	if d.MD5Hex != hex.EncodeToString(sum[:]) || d.MD5 != sum {
		t.Fatal("md5 mismatch")
	}
	if d.Size != len(data) {
		t.Fatalf("size = %d, want %d", d.Size, len(data))
	}
}

func TestFingerprint_LinesAreOrdered(t *testing.T) {
	src := sampleSource(200)
	d := Fingerprint("x.go", []byte(src))
	if len(d.Hashes) == 0 {
		t.Fatal("expected hashes")
	}
	if len(d.Hashes) != len(d.Lines) {
		t.Fatalf("hashes/lines mismatch: %d vs %d", len(d.Hashes), len(d.Lines))
	}
	total := uint32(strings.Count(src, "\n") + 1)
	for i, l := range d.Lines {
		if l < 1 || l > total {
			t.Fatalf("line %d out of range", l)
		}
		if i > 0 && l < d.Lines[i-1] {
			t.Fatalf("lines not ascending at %d", i)
		}
	}
	if d.TotalLines() != int(d.Lines[len(d.Lines)-1]) {
		t.Fatalf("TotalLines = %d", d.TotalLines())
	}
}

func TestFingerprint_IgnoresCaseAndPunctuation(t *testing.T) {
	src := sampleSource(120)
	noisy := strings.NewReplacer("(", " ( ", ";", " ;; ", "\"", "'").Replace(strings.ToUpper(src))

	a := Fingerprint("a", []byte(src))
	b := Fingerprint("b", []byte(noisy))
	if len(a.Hashes) != len(b.Hashes) {
		t.Fatalf("hash count differs: %d vs %d", len(a.Hashes), len(b.Hashes))
	}
	for i := range a.Hashes {
		if a.Hashes[i] != b.Hashes[i] || a.Lines[i] != b.Lines[i] {
			t.Fatalf("fingerprint differs at %d", i)
		}
	}
	if a.MD5Hex == b.MD5Hex {
		t.Fatal("md5 must still tell the files apart")
	}
}

func TestEncodeDecode(t *testing.T) {
	d := Fingerprint("dir/file.go", []byte(sampleSource(150)))
	text := mustEncode(t, d)

	if !strings.HasPrefix(text, fmt.Sprintf("file=%s,%d,dir/file.go\n", d.MD5Hex, d.Size)) {
		t.Fatalf("unexpected header: %q", strings.SplitN(text, "\n", 2)[0])
	}

	got, err := DecodeAll(strings.NewReader(text))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].MD5 != d.MD5 || got[0].FilePath != d.FilePath || got[0].Size != d.Size {
		t.Fatal("header fields lost")
	}
	if len(got[0].Hashes) != len(d.Hashes) {
		t.Fatalf("hashes lost: %d vs %d", len(got[0].Hashes), len(d.Hashes))
	}
}

func TestEncode_SplitsLongLines(t *testing.T) {
	d := MD5Only("big.c", []byte("x"))
	for i := 0; i < 300; i++ {
		d.Hashes = append(d.Hashes, uint32(i*2654435761))
		d.Lines = append(d.Lines, 7)
	}
	text := mustEncode(t, d)
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected split hash lines, got %d lines", len(lines))
	}
	for _, l := range lines {
		if len(l)+1 > MaxLineLen {
			t.Fatalf("line too long: %d", len(l))
		}
		if strings.HasSuffix(l, ",") {
			t.Fatalf("dangling separator: %q", l[len(l)-10:])
		}
	}
	got, err := DecodeAll(strings.NewReader(text))
	if err != nil || len(got) != 1 {
		t.Fatalf("decode: %v", err)
	}
	if len(got[0].Hashes) != 300 {
		t.Fatalf("expected 300 hashes, got %d", len(got[0].Hashes))
	}
}

func TestEncode_TruncatesLongPath(t *testing.T) {
	d := MD5Only(strings.Repeat("p", 2000), []byte("x"))
	text := mustEncode(t, d)
	if len(text) > MaxLineLen {
		t.Fatalf("file line is %d bytes", len(text))
	}
}

func TestDecoder_SkipsMalformedHeader(t *testing.T) {
	text := strings.Join([]string{
		"file=0123456789abcdef0123456789abcdef,10,ok.c",
		"3=0000000a,0000000b",
		"file=nothex,10,bad.c",
		"4=0000000c",
		"file=fedcba9876543210fedcba9876543210,20,second.c",
		"x=00000001",
		"5=zzzz,0000000d",
		"",
	}, "\n")
	got, err := DecodeAll(strings.NewReader(text))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if len(got[0].Hashes) != 2 || got[0].Lines[0] != 3 {
		t.Fatalf("first entry: %+v", got[0])
	}
	if len(got[1].Hashes) != 1 || got[1].Hashes[0] != 0xd || got[1].Lines[0] != 5 {
		t.Fatalf("second entry: %+v", got[1])
	}
}

func TestFindEntry(t *testing.T) {
	a := Fingerprint("a.go", []byte(sampleSource(80)))
	b := Fingerprint("b.go", []byte(sampleSource(90)))
	path := filepath.Join(t.TempDir(), "in.wfp")
	if err := os.WriteFile(path, []byte(mustEncode(t, a, b)), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := FindEntry(path, b.MD5Hex)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if e.FilePath != "b.go" || len(e.Hashes) != len(b.Hashes) {
		t.Fatalf("wrong entry %s", e.FilePath)
	}

	e, err = FindEntry(path, "")
	if err != nil || e.FilePath != "a.go" {
		t.Fatalf("expected first entry, got %v %v", e, err)
	}

	_, err = FindEntry(path, strings.Repeat("0", 32))
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "none.wfp")); err == nil {
		t.Fatal("expected error")
	}
}

// testdata/ring.wfp is the reference output for testdata/ring.c. Any change to
// the gram hash, the rehash byte order, tie-breaking or line attribution shows up here.
func TestFingerprint_Golden(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "ring.c"))
	if err != nil {
		t.Fatal(err)
	}
	want, err := os.ReadFile(filepath.Join("testdata", "ring.wfp"))
	if err != nil {
		t.Fatal(err)
	}
	if got := mustEncode(t, Fingerprint("ring.c", src)); got != string(want) {
		t.Fatalf("fingerprint drifted:\n got: %q\nwant: %q", got, want)
	}
}

func TestRehash(t *testing.T) {
	if got := crc32Sum([]byte("123456789")); got != 0xe3069283 {
		t.Fatalf("crc32c check value = %08x", got)
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 0x01020304)
	if rehash(0x01020304) != crc32Sum(b[:]) {
		t.Fatal("rehash must hash the little-endian bytes")
	}
}

func TestEncode_RejectsInvalidEntries(t *testing.T) {
	_, err := EncodeToString(&models.WFPData{FilePath: "x.c", Hashes: []uint32{1, 2}, Lines: []uint32{1}})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("length mismatch: got %v", err)
	}

	d := Fingerprint("dir/a\n7=deadbeef", []byte(sampleSource(40)))
	if _, err := EncodeToString(d); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("line break in path: got %v", err)
	}

	var sb strings.Builder
	enc := NewEncoder(&sb)
	if err := enc.Encode(&models.WFPData{Hashes: []uint32{1}}); err == nil {
		t.Fatal("expected error")
	}
	if sb.Len() != 0 {
		t.Fatalf("invalid entry must not be written, got %q", sb.String())
	}
}
