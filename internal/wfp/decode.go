package wfp

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"PlagiCheck/internal/models"
)

var ErrEntryNotFound = errors.New("wfp: entry not found")

var fileHeader = regexp.MustCompile(`^file=([a-f0-9]{32}),([0-9]+),(.+)$`)

// Decoder reads WFP entries one at a time.
type Decoder struct {
	sc      *bufio.Scanner
	pending *models.WFPData
	err     error
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &Decoder{sc: sc}
}

// Next returns the next entry, or io.EOF when the stream is exhausted.
// Malformed file= headers are skipped together with their hash lines.
func (d *Decoder) Next() (*models.WFPData, error) {
	if d.err != nil {
		return nil, d.err
	}
	cur := d.pending
	d.pending = nil
	skipping := false

	for d.sc.Scan() {
		line := strings.TrimSpace(d.sc.Text())
		if strings.HasPrefix(line, "file=") {
			entry := parseHeader(line)
			if entry == nil {
				skipping = true
				continue
			}
			if cur != nil {
				d.pending = entry
				return cur, nil
			}
			cur, skipping = entry, false
			continue
		}
		if cur == nil || skipping {
			continue
		}
		parseHashLine(line, cur)
	}
	if err := d.sc.Err(); err != nil {
		d.err = fmt.Errorf("read wfp: %w", err)
		return nil, d.err
	}
	d.err = io.EOF
	if cur != nil {
		return cur, nil
	}
	return nil, io.EOF
}

func parseHeader(line string) *models.WFPData {
	m := fileHeader.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	sum, err := hex.DecodeString(m[1])
	if err != nil {
		return nil
	}
	size, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	entry := &models.WFPData{MD5Hex: m[1], Size: size, FilePath: m[3]}
	copy(entry.MD5[:], sum)
	return entry
}

func parseHashLine(line string, into *models.WFPData) {
	num, list, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return
	}
	for _, hs := range strings.Split(list, ",") {
		h, err := strconv.ParseUint(hs, 16, 32)
		if err != nil {
			continue
		}
		into.Hashes = append(into.Hashes, uint32(h))
		into.Lines = append(into.Lines, uint32(n))
	}
}

// DecodeAll reads every entry from r.
func DecodeAll(r io.Reader) ([]*models.WFPData, error) {
	dec := NewDecoder(r)
	var out []*models.WFPData
	for {
		e, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// ReadFile decodes a whole WFP file.
func ReadFile(path string) ([]*models.WFPData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wfp file: %w", err)
	}
	defer f.Close()
	return DecodeAll(f)
}

// FindEntry returns the entry with the given MD5, or the first entry when md5hex is empty.
func FindEntry(path, md5hex string) (*models.WFPData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wfp file: %w", err)
	}
	defer f.Close()

	dec := NewDecoder(f)
	for {
		e, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if md5hex == "" || e.MD5Hex == md5hex {
			return e, nil
		}
	}
	if md5hex == "" {
		return nil, fmt.Errorf("%w: file is empty", ErrEntryNotFound)
	}
	return nil, fmt.Errorf("%w: md5 %s", ErrEntryNotFound, md5hex)
}
