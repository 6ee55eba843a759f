package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/hashcrack/internal/record"
)

type memorySink struct {
	summaries []record.Summary
	flushed   int
}

func (s *memorySink) Submit(sum record.Summary) { s.summaries = append(s.summaries, sum) }

func (s *memorySink) Flush() error {
	s.flushed++
	return nil
}

func newTestAggregator(t *testing.T) (*Aggregator, *Scheduler, *memorySink) {
	t.Helper()
	s, _, _ := newTestScheduler(1, "w1")
	sink := &memorySink{}
	return NewAggregator(s, sink, zaptest.NewLogger(t).Sugar()), s, sink
}

// settleHints runs the hint phase of rec through the scheduler the way the
// Master does before the aggregator sees the result.
func settleHints(t *testing.T, s *Scheduler, rec record.UserRecord) {
	t.Helper()
	s.EnqueueHintTask(rec)
	pa, ok := s.AssignNext()
	require.True(t, ok)
	require.True(t, s.OnResult(pa.WorkerID, pa.Task.Key()))
}

// TestAggregatorRecordLifecycle follows one record from tracking to the sink.
func TestAggregatorRecordLifecycle(t *testing.T) {
	a, s, sink := newTestAggregator(t)
	rec := userRecord(1, "ABC", 2, "CC", "AB")
	rec.Name = "Alice"

	require.True(t, a.Track(rec))
	assert.False(t, a.Track(rec), "already in flight")
	assert.Equal(t, 1, a.InFlight())

	settleHints(t, s, rec)
	assert.True(t, a.OnHintResult(1, []string{"AB"}))

	rr, ok := a.Get(1)
	require.True(t, ok)
	assert.Equal(t, "C", rr.ReducedAlphabet)
	assert.True(t, rr.HintsDone)

	queued := s.Queued()
	require.Len(t, queued, 1)
	assert.Equal(t, passwordKey(1), queued[0].Key())
	assert.Equal(t, "C", queued[0].Alphabet)

	pa, ok := s.AssignNext()
	require.True(t, ok)
	s.OnResult(pa.WorkerID, pa.Task.Key())
	assert.True(t, a.OnPasswordResult(1, "CC", true))

	assert.Zero(t, a.InFlight())
	assert.False(t, s.HintResolved(1), "scheduler forgot the record")
	assert.Equal(t, []record.Summary{{
		ID:              1,
		Name:            "Alice",
		Hints:           []string{"AB"},
		ReducedAlphabet: "C",
		Password:        "CC",
		Found:           true,
	}}, sink.summaries)
}

// TestAggregatorPasswordNotFound verifies that an exhausted search still
// resolves the record.
func TestAggregatorPasswordNotFound(t *testing.T) {
	a, s, sink := newTestAggregator(t)
	rec := userRecord(4, "AB", 2, "ZZ")
	a.Track(rec)
	settleHints(t, s, rec)
	a.OnHintResult(4, nil)

	assert.True(t, a.OnPasswordResult(4, "ignored", false))
	require.Len(t, sink.summaries, 1)
	assert.False(t, sink.summaries[0].Found)
	assert.Empty(t, sink.summaries[0].Password)
	assert.Equal(t, "AB", sink.summaries[0].ReducedAlphabet)
}

// TestAggregatorIgnoresStrayResults verifies that duplicates and results for
// unknown records change nothing.
func TestAggregatorIgnoresStrayResults(t *testing.T) {
	a, s, sink := newTestAggregator(t)

	assert.False(t, a.OnHintResult(9, []string{"AB"}), "unknown record")
	assert.False(t, a.OnPasswordResult(9, "AA", true), "unknown record")

	rec := userRecord(1, "ABC", 2, "CC", "AB")
	a.Track(rec)
	assert.False(t, a.OnPasswordResult(1, "CC", true), "hints not decoded yet")

	settleHints(t, s, rec)
	require.True(t, a.OnHintResult(1, []string{"AB"}))
	assert.False(t, a.OnHintResult(1, []string{"BA"}), "duplicate hint result")
	rr, _ := a.Get(1)
	assert.Equal(t, []string{"AB"}, rr.Hints)
	assert.Equal(t, 1, s.QueueLen(), "password task queued once")

	pa, _ := s.AssignNext()
	s.OnResult(pa.WorkerID, pa.Task.Key())
	require.True(t, a.OnPasswordResult(1, "CC", true))
	assert.False(t, a.OnPasswordResult(1, "CC", true), "already resolved")
	assert.Len(t, sink.summaries, 1)
}

// TestAggregatorIsGloballyDone checks every condition of global completion.
func TestAggregatorIsGloballyDone(t *testing.T) {
	a, s, _ := newTestAggregator(t)
	assert.False(t, a.IsGloballyDone(), "input not exhausted")

	a.MarkInputExhausted()
	assert.True(t, a.InputExhausted())
	assert.True(t, a.IsGloballyDone(), "nothing was read")

	rec := userRecord(1, "AB", 1, "A")
	a.Track(rec)
	assert.False(t, a.IsGloballyDone(), "record in flight")

	s.EnqueueHintTask(rec)
	assert.False(t, a.IsGloballyDone(), "task queued")

	pa, _ := s.AssignNext()
	assert.False(t, a.IsGloballyDone(), "task pending")

	s.OnResult(pa.WorkerID, pa.Task.Key())
	a.OnHintResult(1, nil)
	pa, _ = s.AssignNext()
	s.OnResult(pa.WorkerID, pa.Task.Key())
	assert.False(t, a.IsGloballyDone(), "settled but not resolved")

	a.OnPasswordResult(1, "A", true)
	assert.True(t, a.IsGloballyDone())
}
