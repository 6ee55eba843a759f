// Package bulk moves payloads too large for a single message. A payload is
// compressed, cut into numbered fragments that share a transfer id, and
// reassembled on the receiving side once every fragment has arrived.
package bulk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/dreamware/hashcrack/internal/cluster"
)

// DefaultChunkSize is the fragment size used when none is configured.
const DefaultChunkSize = 64 << 10

// ErrBadFragment is returned for fragments that do not fit their transfer.
var ErrBadFragment = errors.New("bad fragment")

// SendFunc delivers one fragment to dest.
type SendFunc func(dest string, f cluster.Fragment) error

// Sender fragments payloads and hands every fragment to send, in order.
type Sender struct {
	send      SendFunc
	enc       *zstd.Encoder
	chunkSize int
}

// NewSender returns a Sender cutting compressed payloads into chunkSize
// pieces.
func NewSender(send SendFunc, chunkSize int) (*Sender, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Sender{send: send, enc: enc, chunkSize: chunkSize}, nil
}

// Send transfers payload to dest.
func (s *Sender) Send(payload []byte, dest string) error {
	for _, f := range s.Fragments(payload) {
		if err := s.send(dest, f); err != nil {
			return fmt.Errorf("send fragment %d/%d to %s: %w", f.Index+1, f.Total, dest, err)
		}
	}
	return nil
}

// Fragments compresses payload and splits it. There is always at least one
// fragment, even for an empty payload.
func (s *Sender) Fragments(payload []byte) []cluster.Fragment {
	data := s.enc.EncodeAll(payload, nil)
	id := uuid.NewString()

	total := (len(data) + s.chunkSize - 1) / s.chunkSize
	if total == 0 {
		total = 1
	}
	out := make([]cluster.Fragment, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*s.chunkSize, len(data))
		out = append(out, cluster.Fragment{
			TransferID: id,
			Index:      i,
			Total:      total,
			Data:       data[i*s.chunkSize : end],
		})
	}
	return out
}

// Assembler collects fragments per transfer. Fragments may arrive in any
// order; duplicates overwrite.
type Assembler struct {
	dec       *zstd.Decoder
	transfers map[string]*transfer
	mu        sync.Mutex
}

type transfer struct {
	parts    [][]byte
	received int
}

// NewAssembler returns an empty Assembler.
func NewAssembler() (*Assembler, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Assembler{dec: dec, transfers: make(map[string]*transfer)}, nil
}

// Add stores f. When it completes its transfer, the decompressed payload is
// returned with done set and the transfer is forgotten.
func (a *Assembler) Add(f cluster.Fragment) (payload []byte, done bool, err error) {
	if f.TransferID == "" || f.Total <= 0 || f.Index < 0 || f.Index >= f.Total {
		return nil, false, fmt.Errorf("%w: transfer %q index %d of %d", ErrBadFragment, f.TransferID, f.Index, f.Total)
	}

	a.mu.Lock()
	t, ok := a.transfers[f.TransferID]
	if !ok {
		t = &transfer{parts: make([][]byte, f.Total)}
		a.transfers[f.TransferID] = t
	}
	if len(t.parts) != f.Total {
		a.mu.Unlock()
		return nil, false, fmt.Errorf("%w: transfer %s changed size from %d to %d", ErrBadFragment, f.TransferID, len(t.parts), f.Total)
	}
	if t.parts[f.Index] == nil {
		t.received++
	}
	t.parts[f.Index] = append([]byte{}, f.Data...)
	if t.received < f.Total {
		a.mu.Unlock()
		return nil, false, nil
	}
	delete(a.transfers, f.TransferID)
	a.mu.Unlock()

	var data []byte
	for _, p := range t.parts {
		data = append(data, p...)
	}
	payload, err = a.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress transfer %s: %w", f.TransferID, err)
	}
	return payload, true, nil
}

// Pending returns the number of incomplete transfers.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transfers)
}
