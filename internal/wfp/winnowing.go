// Package wfp implements winnowing fingerprints and the WFP text format.
package wfp

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"

	"PlagiCheck/internal/models"
)

const (
	Gram   = 30 // normalized bytes per gram
	Window = 64 // gram hashes per winnowing window
)

var crc32c = crc32.MakeTable(crc32.Castagnoli)

// normalize keeps digits and letters, lowercased. Everything else maps to 0.
func normalize(b byte) byte {
	switch {
	case b >= '0' && b <= '9', b >= 'a' && b <= 'z':
		return b
	case b >= 'A' && b <= 'Z':
		return b + 32
	}
	return 0
}

// minHash returns the smallest hash in the window, rightmost on ties.
func minHash(hashes []uint32) uint32 {
	m := hashes[0]
	for _, h := range hashes[1:] {
		if h <= m {
			m = h
		}
	}
	return m
}

func rehash(h uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], h)
	return crc32Sum(b[:])
}

func crc32Sum(b []byte) uint32 { return crc32.Checksum(b, crc32c) }

// Fingerprint computes the winnowing fingerprint of data.
// Hashes come out grouped by line in ascending line order.
func Fingerprint(path string, data []byte) *models.WFPData {
	sum := md5.Sum(data)
	out := &models.WFPData{
		MD5:      sum,
		MD5Hex:   hex.EncodeToString(sum[:]),
		Size:     len(data),
		FilePath: path,
	}

	var (
		gram   = make([]byte, 0, Gram)
		window = make([]uint32, 0, Window)
		last   uint32
		line   uint32 = 1
	)
	for _, c := range data {
		if c == '\n' {
			line++
		}
		n := normalize(c)
		if n == 0 {
			continue
		}
		gram = append(gram, n)
		if len(gram) < Gram {
			continue
		}
		window = append(window, crc32Sum(gram))
		if len(window) >= Window {
			if m := minHash(window); m != last {
				last = m
				out.Hashes = append(out.Hashes, rehash(m))
				out.Lines = append(out.Lines, line)
			}
			copy(window, window[1:])
			window = window[:Window-1]
		}
		copy(gram, gram[1:])
		gram = gram[:Gram-1]
	}
	return out
}

// MD5Only returns an entry carrying only the file identity.
func MD5Only(path string, data []byte) *models.WFPData {
	sum := md5.Sum(data)
	return &models.WFPData{
		MD5:      sum,
		MD5Hex:   hex.EncodeToString(sum[:]),
		Size:     len(data),
		FilePath: path,
	}
}
