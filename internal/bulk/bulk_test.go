package bulk

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hashcrack/internal/cluster"
)

func randomPayload(n int) []byte {
	r := rand.New(rand.NewSource(1))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestSendAndAssemble(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		minFrags  int
	}{
		{name: "empty payload", size: 0, chunkSize: 1024, minFrags: 1},
		{name: "single fragment", size: 100, chunkSize: 1024, minFrags: 1},
		{name: "many fragments", size: 50_000, chunkSize: 1024, minFrags: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := randomPayload(tt.size)
			var sent []cluster.Fragment
			s, err := NewSender(func(dest string, f cluster.Fragment) error {
				assert.Equal(t, "worker-1", dest)
				sent = append(sent, f)
				return nil
			}, tt.chunkSize)
			require.NoError(t, err)
			require.NoError(t, s.Send(payload, "worker-1"))
			assert.GreaterOrEqual(t, len(sent), tt.minFrags)

			a, err := NewAssembler()
			require.NoError(t, err)

			// Deliver in reverse to show order does not matter.
			var got []byte
			for i := len(sent) - 1; i >= 0; i-- {
				out, done, err := a.Add(sent[i])
				require.NoError(t, err)
				if i > 0 {
					assert.False(t, done)
					continue
				}
				require.True(t, done)
				got = out
			}
			assert.True(t, bytes.Equal(payload, got))
			assert.Zero(t, a.Pending())
		})
	}
}

func TestAssemblerDuplicateFragment(t *testing.T) {
	s, err := NewSender(func(string, cluster.Fragment) error { return nil }, 1024)
	require.NoError(t, err)
	frags := s.Fragments(randomPayload(5000))
	require.Greater(t, len(frags), 1)

	a, err := NewAssembler()
	require.NoError(t, err)
	_, done, err := a.Add(frags[0])
	require.NoError(t, err)
	assert.False(t, done)
	_, done, err = a.Add(frags[0])
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, a.Pending())
}

func TestAssemblerRejectsBadFragments(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	tests := []cluster.Fragment{
		{TransferID: "", Index: 0, Total: 1},
		{TransferID: "t", Index: 1, Total: 1},
		{TransferID: "t", Index: -1, Total: 1},
		{TransferID: "t", Index: 0, Total: 0},
	}
	for _, f := range tests {
		_, _, err := a.Add(f)
		assert.ErrorIs(t, err, ErrBadFragment)
	}

	_, _, err = a.Add(cluster.Fragment{TransferID: "x", Index: 0, Total: 3})
	require.NoError(t, err)
	_, _, err = a.Add(cluster.Fragment{TransferID: "x", Index: 0, Total: 2})
	assert.ErrorIs(t, err, ErrBadFragment)
}

func TestAssemblerCorruptPayload(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)
	_, done, err := a.Add(cluster.Fragment{TransferID: "x", Index: 0, Total: 1, Data: []byte("not zstd")})
	assert.Error(t, err)
	assert.False(t, done)
}

func TestSendStopsOnError(t *testing.T) {
	calls := 0
	s, err := NewSender(func(string, cluster.Fragment) error {
		calls++
		return errors.New("connection closed")
	}, 1024)
	require.NoError(t, err)

	err = s.Send(randomPayload(10_000), "worker-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker-1")
	assert.Equal(t, 1, calls)
}
