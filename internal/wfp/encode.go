package wfp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"PlagiCheck/internal/models"
)

// MaxLineLen bounds every WFP line, newline included.
const MaxLineLen = 1024

// Encoder writes WFP entries to a stream.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// ErrInvalidEntry is returned for entries that cannot be written as WFP text.
var ErrInvalidEntry = errors.New("wfp: invalid entry")

// ValidPath reports whether path can be stored on a file= line.
func ValidPath(path string) bool {
	return !strings.ContainsAny(path, "\n\r")
}

// Encode writes one entry and flushes it.
func (e *Encoder) Encode(d *models.WFPData) error {
	if len(d.Hashes) != len(d.Lines) {
		return fmt.Errorf("%w: %s: %d hashes but %d lines", ErrInvalidEntry, d.FilePath, len(d.Hashes), len(d.Lines))
	}
	if !ValidPath(d.FilePath) {
		return fmt.Errorf("%w: line break in path %q", ErrInvalidEntry, d.FilePath)
	}
	if _, err := e.w.WriteString(fileLine(d)); err != nil {
		return err
	}

	byLine := make(map[uint32][]uint32)
	for i, h := range d.Hashes {
		byLine[d.Lines[i]] = append(byLine[d.Lines[i]], h)
	}
	keys := make([]uint32, 0, len(byLine))
	for k := range byLine {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var sb strings.Builder
	for _, k := range keys {
		prefix := strconv.FormatUint(uint64(k), 10) + "="
		sb.Reset()
		sb.WriteString(prefix)
		n := 0
		for _, h := range byLine[k] {
			hs := fmt.Sprintf("%08x", h)
			// +2 leaves room for the separator and the newline
			if n > 0 && sb.Len()+len(hs)+2 > MaxLineLen {
				sb.WriteByte('\n')
				if _, err := e.w.WriteString(sb.String()); err != nil {
					return err
				}
				sb.Reset()
				sb.WriteString(prefix)
				n = 0
			}
			if n > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(hs)
			n++
		}
		sb.WriteByte('\n')
		if _, err := e.w.WriteString(sb.String()); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

func fileLine(d *models.WFPData) string {
	path := d.FilePath
	line := fmt.Sprintf("file=%s,%d,%s\n", d.MD5Hex, d.Size, path)
	if len(line) > MaxLineLen {
		keep := MaxLineLen - (len(line) - len(path))
		if keep > 0 && keep < len(path) {
			path = path[:keep]
		}
		line = fmt.Sprintf("file=%s,%d,%s\n", d.MD5Hex, d.Size, path)
	}
	return line
}

// EncodeToString renders entries as WFP text.
func EncodeToString(entries ...*models.WFPData) (string, error) {
	var sb strings.Builder
	enc := NewEncoder(&sb)
	for _, d := range entries {
		if err := enc.Encode(d); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
