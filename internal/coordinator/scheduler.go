package coordinator

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/exp/slices"

	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/record"
)

// PendingAssignment binds a task to the worker executing it.
type PendingAssignment struct {
	AssignedAt time.Time    `json:"assigned_at"`
	WorkerID   string       `json:"worker_id"`
	Task       cluster.Task `json:"task"`
	seq        int
}

// Scheduler owns the task queue and the outstanding assignments.
//
// Every task is at any time either queued or bound to exactly one worker
// through a PendingAssignment. Tasks are handed out in FIFO order to the
// least loaded active worker; ties go to the worker that registered first.
// A worker is loaded with at most capacity tasks.
//
// Assignment is at-least-once. A task whose worker is marked gone goes back
// to the front of the queue even if the worker already finished it, since
// every search is pure and running it twice only costs time.
//
// Like Registry, a Scheduler is owned by the Master's message loop and is not
// safe for concurrent use.
type Scheduler struct {
	registry *Registry
	clock    clockwork.Clock
	pending  map[cluster.TaskKey]*PendingAssignment
	load     map[string]int
	// settled holds tasks a worker is still executing although another
	// worker already delivered their result. They keep counting towards the
	// worker's load until it reports or is marked gone.
	settled map[string]map[cluster.TaskKey]bool
	// resolved holds records whose hint phase has a terminal outcome.
	resolved map[int]bool
	queue    []cluster.Task
	capacity int
	nextSeq  int
}

// NewScheduler returns a scheduler drawing workers from registry.
// capacity below one is treated as one.
func NewScheduler(registry *Registry, capacity int, clock clockwork.Clock) *Scheduler {
	if capacity < 1 {
		capacity = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		registry: registry,
		clock:    clock,
		pending:  make(map[cluster.TaskKey]*PendingAssignment),
		load:     make(map[string]int),
		settled:  make(map[string]map[cluster.TaskKey]bool),
		resolved: make(map[int]bool),
		capacity: capacity,
	}
}

// EnqueueHintTask queues the hint phase of rec. It does nothing if that phase
// is already queued, assigned or resolved.
func (s *Scheduler) EnqueueHintTask(rec record.UserRecord) bool {
	key := cluster.TaskKey{Kind: cluster.HintTask, RecordID: rec.ID}
	if s.resolved[rec.ID] || s.known(key) {
		return false
	}
	s.queue = append(s.queue, cluster.Task{
		Kind:       cluster.HintTask,
		RecordID:   rec.ID,
		Alphabet:   rec.Alphabet,
		Length:     rec.HintPrefixLength(),
		HintHashes: rec.HintHashes,
	})
	return true
}

// EnqueuePasswordTask queues the password phase of rec over the reduced
// alphabet. The hint phase of rec must have been resolved through OnResult;
// calling it earlier is a bug and panics. A password task that already exists
// is left alone.
func (s *Scheduler) EnqueuePasswordTask(rec record.UserRecord, reduced string) bool {
	if !s.resolved[rec.ID] {
		panic(fmt.Sprintf("password task for record %d before its hint phase resolved", rec.ID))
	}
	key := cluster.TaskKey{Kind: cluster.PasswordTask, RecordID: rec.ID}
	if s.known(key) {
		return false
	}
	s.queue = append(s.queue, cluster.Task{
		Kind:         cluster.PasswordTask,
		RecordID:     rec.ID,
		Alphabet:     reduced,
		Length:       rec.PasswordLength,
		PasswordHash: rec.PasswordHash,
	})
	return true
}

func (s *Scheduler) known(key cluster.TaskKey) bool {
	if _, ok := s.pending[key]; ok {
		return true
	}
	return s.queuedAt(key) >= 0
}

func (s *Scheduler) queuedAt(key cluster.TaskKey) int {
	return slices.IndexFunc(s.queue, func(t cluster.Task) bool { return t.Key() == key })
}

// AssignNext pops the head of the queue and binds it to the least loaded
// active worker with spare capacity. It returns false, leaving the queue
// untouched, when the queue is empty or no worker can take the task.
func (s *Scheduler) AssignNext() (PendingAssignment, bool) {
	if len(s.queue) == 0 {
		return PendingAssignment{}, false
	}
	worker, ok := s.pickWorker()
	if !ok {
		return PendingAssignment{}, false
	}

	task := s.queue[0]
	s.queue = s.queue[1:]
	pa := &PendingAssignment{
		Task:       task,
		WorkerID:   worker,
		AssignedAt: s.clock.Now(),
		seq:        s.nextSeq,
	}
	s.nextSeq++
	s.pending[task.Key()] = pa
	s.load[worker]++
	return *pa, true
}

func (s *Scheduler) pickWorker() (string, bool) {
	best, bestLoad := "", s.capacity
	// Active is in registration order, so the first minimum wins ties.
	for _, id := range s.registry.Active() {
		if l := s.load[id]; l < bestLoad {
			best, bestLoad = id, l
		}
	}
	return best, best != ""
}

// OnResult settles the task identified by key, reported by worker. The
// pending assignment is removed whichever worker delivered the result, and a
// queued copy left by an earlier reassignment is dropped. A hint result marks
// the record's hint phase resolved.
//
// When worker is not the one the task is bound to, the bound worker is still
// searching: its load is kept until it reports the task itself or is marked
// gone.
//
// It reports whether the task was still outstanding; false means the result
// is a duplicate or arrived late and only has to be accepted.
func (s *Scheduler) OnResult(worker string, key cluster.TaskKey) bool {
	if keys := s.settled[worker]; keys[key] {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.settled, worker)
		}
		s.release(worker)
	}

	outstanding := false
	if pa, ok := s.pending[key]; ok {
		delete(s.pending, key)
		if pa.WorkerID == worker {
			s.release(pa.WorkerID)
		} else {
			if s.settled[pa.WorkerID] == nil {
				s.settled[pa.WorkerID] = make(map[cluster.TaskKey]bool)
			}
			s.settled[pa.WorkerID][key] = true
		}
		outstanding = true
	}
	if i := s.queuedAt(key); i >= 0 {
		s.queue = slices.Delete(s.queue, i, i+1)
		outstanding = true
	}
	if key.Kind == cluster.HintTask && outstanding {
		s.resolved[key.RecordID] = true
	}
	return outstanding
}

func (s *Scheduler) release(worker string) {
	if s.load[worker] <= 1 {
		delete(s.load, worker)
		return
	}
	s.load[worker]--
}

// OnWorkerGone detaches every task bound to id and pushes it back to the
// front of the queue, oldest assignment first. The requeued tasks are
// returned; the caller drives AssignNext to hand them out again.
func (s *Scheduler) OnWorkerGone(id string) []cluster.Task {
	var detached []*PendingAssignment
	for key, pa := range s.pending {
		if pa.WorkerID == id {
			detached = append(detached, pa)
			delete(s.pending, key)
		}
	}
	delete(s.load, id)
	delete(s.settled, id)
	if len(detached) == 0 {
		return nil
	}

	slices.SortFunc(detached, func(a, b *PendingAssignment) int { return a.seq - b.seq })
	tasks := make([]cluster.Task, len(detached))
	for i, pa := range detached {
		tasks[i] = pa.Task
	}
	s.queue = append(slices.Clone(tasks), s.queue...)
	return tasks
}

// Forget drops what the scheduler remembers about a finished record.
func (s *Scheduler) Forget(recordID int) {
	delete(s.resolved, recordID)
}

// HintResolved reports whether the hint phase of recordID has finished.
func (s *Scheduler) HintResolved(recordID int) bool {
	return s.resolved[recordID]
}

// Idle reports whether no task is queued or assigned.
func (s *Scheduler) Idle() bool {
	return len(s.queue) == 0 && len(s.pending) == 0
}

// QueueLen is the number of queued tasks.
func (s *Scheduler) QueueLen() int { return len(s.queue) }

// PendingLen is the number of assigned tasks.
func (s *Scheduler) PendingLen() int { return len(s.pending) }

// Load returns the number of tasks worker is executing.
func (s *Scheduler) Load(worker string) int { return s.load[worker] }

// Pending returns the outstanding assignments, oldest first.
func (s *Scheduler) Pending() []PendingAssignment {
	out := make([]PendingAssignment, 0, len(s.pending))
	for _, pa := range s.pending {
		out = append(out, *pa)
	}
	slices.SortFunc(out, func(a, b PendingAssignment) int { return a.seq - b.seq })
	return out
}

// Queued returns a copy of the queue, head first.
func (s *Scheduler) Queued() []cluster.Task {
	return slices.Clone(s.queue)
}
