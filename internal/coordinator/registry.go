package coordinator

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/exp/slices"

	"github.com/dreamware/hashcrack/internal/cluster"
)

// WorkerStatus is the liveness state of a registered worker.
type WorkerStatus string

const (
	WorkerActive WorkerStatus = "active"
	WorkerGone   WorkerStatus = "gone"
)

// WorkerHandle is the registry's view of one worker.
//
// A handle is created on the first registration of an identity and moves to
// WorkerGone once the worker is confirmed down. It never moves back: a
// restarted worker has to join under a new identity.
type WorkerHandle struct {
	RegisteredAt time.Time      `json:"registered_at"`
	Status       WorkerStatus   `json:"status"`
	Member       cluster.Member `json:"member"`
	seq          int
}

// Registry maps worker identities to their liveness.
//
// The registry is not safe for concurrent use. It is owned by the Master's
// message loop, which serializes every call.
type Registry struct {
	clock   clockwork.Clock
	workers map[string]*WorkerHandle
	nextSeq int
}

// NewRegistry returns an empty registry stamping registrations with clock.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{clock: clock, workers: make(map[string]*WorkerHandle)}
}

// Register adds m as an active worker and reports whether it was accepted.
// Registering an identity that is already known is a no-op and returns
// false, whether the worker is still active or already gone.
func (r *Registry) Register(m cluster.Member) bool {
	if _, ok := r.workers[m.ID]; ok {
		return false
	}
	r.workers[m.ID] = &WorkerHandle{
		Member:       m,
		Status:       WorkerActive,
		RegisteredAt: r.clock.Now(),
		seq:          r.nextSeq,
	}
	r.nextSeq++
	return true
}

// MarkGone moves id to WorkerGone. It reports whether the worker was active;
// unknown and already gone identities return false.
func (r *Registry) MarkGone(id string) bool {
	w, ok := r.workers[id]
	if !ok || w.Status == WorkerGone {
		return false
	}
	w.Status = WorkerGone
	return true
}

// IsActive reports whether id is registered and not gone.
func (r *Registry) IsActive(id string) bool {
	w, ok := r.workers[id]
	return ok && w.Status == WorkerActive
}

// IsGone reports whether id was registered and has since gone.
func (r *Registry) IsGone(id string) bool {
	w, ok := r.workers[id]
	return ok && w.Status == WorkerGone
}

// Active returns the active worker ids in registration order.
func (r *Registry) Active() []string {
	var handles []*WorkerHandle
	for _, w := range r.workers {
		if w.Status == WorkerActive {
			handles = append(handles, w)
		}
	}
	slices.SortFunc(handles, func(a, b *WorkerHandle) int { return a.seq - b.seq })

	ids := make([]string, len(handles))
	for i, w := range handles {
		ids[i] = w.Member.ID
	}
	return ids
}

// ActiveMembers returns the members behind Active, in the same order.
func (r *Registry) ActiveMembers() []cluster.Member {
	ids := r.Active()
	out := make([]cluster.Member, len(ids))
	for i, id := range ids {
		out[i] = r.workers[id].Member
	}
	return out
}

// Snapshot copies every handle, active and gone, in registration order.
func (r *Registry) Snapshot() []WorkerHandle {
	out := make([]WorkerHandle, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b WorkerHandle) int { return a.seq - b.seq })
	return out
}
