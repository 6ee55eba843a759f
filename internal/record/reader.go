package record

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultBatchSize is the number of lines returned by one NextBatch call.
const DefaultBatchSize = 100

// Reader is the paged input source. Every NextBatch returns the next lines of
// the file; an empty batch marks the end of input and every later call
// returns an empty batch again.
type Reader struct {
	closer    io.Closer
	csv       *csv.Reader
	batchSize int
	mu        sync.Mutex
	header    bool
	eof       bool
}

// ReaderOptions configure how the CSV source is split.
type ReaderOptions struct {
	Separator rune
	BatchSize int
	// SkipHeader drops the first line.
	SkipHeader bool
}

// Open opens the CSV file at path.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	r := NewReader(f, opts)
	r.closer = f
	return r, nil
}

// NewReader reads records from src.
func NewReader(src io.Reader, opts ReaderOptions) *Reader {
	c := csv.NewReader(src)
	c.Comma = ';'
	if opts.Separator != 0 {
		c.Comma = opts.Separator
	}
	// Hint counts vary per line.
	c.FieldsPerRecord = -1
	c.LazyQuotes = true

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Reader{csv: c, batchSize: size, header: opts.SkipHeader}
}

// NextBatch returns up to the configured batch size of raw lines. A line that
// the CSV layer cannot split is returned as a single field so that the
// consumer can drop it through Parse like any other malformed record.
func (r *Reader) NextBatch(ctx context.Context) ([][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make([][]string, 0, r.batchSize)
	for !r.eof && len(batch) < r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.eof = true
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			batch = append(batch, []string{parseErr.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		if r.header {
			r.header = false
			continue
		}
		batch = append(batch, line)
	}
	return batch, nil
}

// Close releases the underlying file, if the Reader opened one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
