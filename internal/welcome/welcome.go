// Package welcome builds the read-only lookup blob every worker receives when
// it registers. The blob is a Bloom filter over the digests of a wordlist; the
// scheduling core treats it as opaque bytes.
package welcome

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/dreamware/hashcrack/internal/digest"
)

// Build returns a filter sized for capacity entries at false-positive rate
// fpRate, holding the digest of every item.
func Build(capacity uint, fpRate float64, items []string) *bloom.BloomFilter {
	f := bloom.NewWithEstimates(capacity, fpRate)
	for _, it := range items {
		f.AddString(digest.Hex(it))
	}
	return f
}

// ReadWordlist returns the non-empty lines of path. An empty path yields no
// words.
func ReadWordlist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wordlist: %w", err)
	}
	defer f.Close()
	return readLines(f)
}

func readLines(r io.Reader) ([]string, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if w := strings.TrimSpace(sc.Text()); w != "" {
			words = append(words, w)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	return words, nil
}

// Encode serializes f into the blob handed to the bulk transfer.
func Encode(f *bloom.BloomFilter) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode welcome filter: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(blob []byte) (*bloom.BloomFilter, error) {
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("decode welcome filter: %w", err)
	}
	return f, nil
}

// MayContain reports whether the digest of s might be in f.
func MayContain(f *bloom.BloomFilter, s string) bool {
	return f.TestString(digest.Hex(s))
}

// SizeMB is the in-memory size of the filter's bit set in megabytes.
func SizeMB(f *bloom.BloomFilter) float64 {
	return float64(f.Cap()) / 8 / (1 << 20)
}
