// Package membership tells a process which peers are up. A Watcher polls the
// member list of a seed node and turns changes into Up and Down events;
// callers never see the polling itself.
package membership

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/hashcrack/internal/cluster"
)

// EventType is the kind of membership change.
type EventType int

const (
	Up EventType = iota + 1
	Down
)

func (t EventType) String() string {
	switch t {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "unknown"
}

// Event reports that Member became reachable or unreachable.
type Event struct {
	Member cluster.Member
	Type   EventType
}

// Options tune a Watcher.
type Options struct {
	Clock clockwork.Clock
	// Interval between two polls of the seed.
	Interval time.Duration
	// MaxFailures is the number of consecutive failed polls after which every
	// known member is reported down.
	MaxFailures int
}

// Watcher polls a seed node's /members endpoint.
type Watcher struct {
	clock    clockwork.Clock
	log      *zap.SugaredLogger
	known    map[string]cluster.Member
	events   chan Event
	seed     string
	interval time.Duration
	maxFails int
	failures int
}

// NewWatcher returns a Watcher for the node at seed, an http base address.
func NewWatcher(seed string, opts Options, log *zap.SugaredLogger) *Watcher {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	return &Watcher{
		clock:    opts.Clock,
		log:      log,
		known:    make(map[string]cluster.Member),
		events:   make(chan Event, 64),
		seed:     strings.TrimSuffix(seed, "/"),
		interval: opts.Interval,
		maxFails: opts.MaxFailures,
	}
}

// Events returns the event stream. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.poll(ctx); err != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// poll fetches the member list once and emits the differences. It only fails
// when ctx is done.
func (w *Watcher) poll(ctx context.Context) error {
	var resp cluster.MembersResponse
	if err := cluster.GetJSON(ctx, w.seed+"/members", &resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.failures++
		w.log.Debugw("member list poll failed", "seed", w.seed, "failures", w.failures, "error", err)
		if w.failures < w.maxFails {
			return nil
		}
		for id, m := range w.known {
			delete(w.known, id)
			if err := w.emit(ctx, Event{Type: Down, Member: m}); err != nil {
				return err
			}
		}
		return nil
	}
	w.failures = 0

	seen := make(map[string]bool, len(resp.Members))
	for _, m := range resp.Members {
		seen[m.ID] = true
		if _, ok := w.known[m.ID]; ok {
			continue
		}
		w.known[m.ID] = m
		if err := w.emit(ctx, Event{Type: Up, Member: m}); err != nil {
			return err
		}
	}
	for id, m := range w.known {
		if seen[id] {
			continue
		}
		delete(w.known, id)
		if err := w.emit(ctx, Event{Type: Down, Member: m}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) emit(ctx context.Context, e Event) error {
	w.log.Debugw("membership change", "member", e.Member.ID, "event", e.Type)
	select {
	case w.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
