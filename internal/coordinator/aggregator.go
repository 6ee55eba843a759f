package coordinator

import (
	"go.uber.org/zap"

	"github.com/dreamware/hashcrack/internal/record"
	"github.com/dreamware/hashcrack/internal/search"
)

// Sink receives the summary of every resolved record.
type Sink interface {
	Submit(s record.Summary)
}

// ResultRecord accumulates the partial results of one in-flight record.
type ResultRecord struct {
	ReducedAlphabet string            `json:"reduced_alphabet,omitempty"`
	Hints           []string          `json:"hints,omitempty"`
	Record          record.UserRecord `json:"record"`
	HintsDone       bool              `json:"hints_done"`
}

// Aggregator merges task results into per-record state, feeds the password
// phase to the scheduler once hints are known and hands finished records to
// the sink. It also decides global completion.
//
// Not safe for concurrent use; owned by the Master's message loop.
type Aggregator struct {
	scheduler      *Scheduler
	sink           Sink
	log            *zap.SugaredLogger
	inFlight       map[int]*ResultRecord
	inputExhausted bool
}

// NewAggregator returns an Aggregator enqueuing password tasks on scheduler
// and submitting summaries to sink.
func NewAggregator(scheduler *Scheduler, sink Sink, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		scheduler: scheduler,
		sink:      sink,
		log:       log,
		inFlight:  make(map[int]*ResultRecord),
	}
}

// Track puts rec in flight. A record id that is already in flight is refused.
func (a *Aggregator) Track(rec record.UserRecord) bool {
	if _, ok := a.inFlight[rec.ID]; ok {
		return false
	}
	a.inFlight[rec.ID] = &ResultRecord{Record: rec}
	return true
}

// OnHintResult stores the decoded hints of recordID, derives the reduced
// alphabet and queues the password task. Results for unknown records and
// repeated hint results are ignored; the return value tells which happened.
//
// The scheduler must already have settled the hint task, see
// Scheduler.OnResult.
func (a *Aggregator) OnHintResult(recordID int, hints []string) bool {
	rr, ok := a.inFlight[recordID]
	if !ok || rr.HintsDone {
		a.log.Debugw("ignoring hint result", "record", recordID, "known", ok)
		return false
	}
	rr.Hints = hints
	rr.ReducedAlphabet = search.ReduceAlphabet(rr.Record.Alphabet, hints)
	rr.HintsDone = true

	a.log.Debugw("hints decoded",
		"record", recordID,
		"decoded", len(hints),
		"hashed", len(rr.Record.HintHashes),
		"reduced_alphabet", rr.ReducedAlphabet)
	a.scheduler.EnqueuePasswordTask(rr.Record, rr.ReducedAlphabet)
	return true
}

// OnPasswordResult resolves recordID: its summary goes to the sink and the
// record leaves the in-flight set. found is false when the search space was
// exhausted. Results for records that are not waiting for a password are
// ignored.
func (a *Aggregator) OnPasswordResult(recordID int, password string, found bool) bool {
	rr, ok := a.inFlight[recordID]
	if !ok || !rr.HintsDone {
		a.log.Debugw("ignoring password result", "record", recordID, "known", ok)
		return false
	}

	s := record.Summary{
		ID:              rr.Record.ID,
		Name:            rr.Record.Name,
		Hints:           rr.Hints,
		ReducedAlphabet: rr.ReducedAlphabet,
		Found:           found,
	}
	if found {
		s.Password = password
	}
	a.sink.Submit(s)
	delete(a.inFlight, recordID)
	a.scheduler.Forget(recordID)
	return true
}

// MarkInputExhausted records that the source has no more records.
func (a *Aggregator) MarkInputExhausted() {
	a.inputExhausted = true
}

// InputExhausted reports whether MarkInputExhausted was called.
func (a *Aggregator) InputExhausted() bool {
	return a.inputExhausted
}

// InFlight is the number of unresolved records.
func (a *Aggregator) InFlight() int {
	return len(a.inFlight)
}

// Get returns a copy of the state of an in-flight record.
func (a *Aggregator) Get(recordID int) (ResultRecord, bool) {
	rr, ok := a.inFlight[recordID]
	if !ok {
		return ResultRecord{}, false
	}
	return *rr, true
}

// IsGloballyDone holds once the input is exhausted, nothing is queued or
// assigned and no record is in flight.
func (a *Aggregator) IsGloballyDone() bool {
	return a.inputExhausted && a.scheduler.Idle() && len(a.inFlight) == 0
}
