// Package worker runs the worker side of a cracking run. A Worker waits for
// the coordinator to show up in the membership stream, registers with it and
// then executes the tasks it is sent, one at a time, until told to stop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/hashcrack/internal/bulk"
	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/membership"
	"github.com/dreamware/hashcrack/internal/search"
	"github.com/dreamware/hashcrack/internal/transport"
	"github.com/dreamware/hashcrack/internal/welcome"
)

var (
	// ErrCoordinatorLost is returned by Run when the coordinator went away
	// before sending a shutdown.
	ErrCoordinatorLost = errors.New("coordinator lost")
	// ErrNoCoordinator is returned when the membership stream ended before a
	// coordinator appeared.
	ErrNoCoordinator = errors.New("no coordinator discovered")
)

// Conn is the worker's connection to the coordinator.
type Conn interface {
	Send(env cluster.Envelope) error
	Receive() <-chan cluster.Envelope
	Err() error
	Close() error
}

// DialFunc opens a Conn to the coordinator at addr.
type DialFunc func(ctx context.Context, addr string) (Conn, error)

// Options configure a Worker. Zero values are usable.
type Options struct {
	Dial DialFunc
	// Backoff paces connection attempts. It is created once per Run.
	Backoff func() backoff.BackOff
}

// Info describes the worker for its /info endpoint.
type Info struct {
	ID             string  `json:"id"`
	Coordinator    string  `json:"coordinator,omitempty"`
	WelcomeMB      float64 `json:"welcome_mb"`
	WelcomeHashes  uint    `json:"welcome_hashes"`
	TasksCompleted int64   `json:"tasks_completed"`
	Registered     bool    `json:"registered"`
}

// Worker executes search tasks for one coordinator.
type Worker struct {
	self        cluster.Member
	dial        DialFunc
	newBackoff  func() backoff.BackOff
	log         *zap.SugaredLogger
	filter      *bloom.BloomFilter
	coordinator string
	completed   atomic.Int64
	mu          sync.RWMutex
}

// New returns a Worker announcing itself as self.
func New(self cluster.Member, log *zap.SugaredLogger, opts Options) *Worker {
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, addr string) (Conn, error) {
			return transport.Dial(ctx, addr)
		}
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		}
	}
	return &Worker{self: self, dial: opts.Dial, newBackoff: opts.Backoff, log: log}
}

// Run waits for a coordinator on events, registers once and serves it. It
// returns nil after a shutdown message, ErrCoordinatorLost when the
// coordinator disappears first, and ctx.Err() on cancellation.
//
// Only the first coordinator seen is served; others are logged and ignored.
func (w *Worker) Run(ctx context.Context, events <-chan membership.Event) error {
	coord, err := w.awaitCoordinator(ctx, events)
	if err != nil {
		return err
	}

	conn, err := w.connect(ctx, coord)
	if err != nil {
		return err
	}
	defer conn.Close()
	registeredAt := time.Now()

	assembler, err := bulk.NewAssembler()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == membership.Down && ev.Member.ID == coord.ID {
				w.log.Warnw("coordinator down", "coordinator", coord.ID)
				return ErrCoordinatorLost
			}
			if ev.Type == membership.Up && ev.Member.HasRole(cluster.RoleCoordinator) && ev.Member.ID != coord.ID {
				w.log.Warnw("ignoring additional coordinator", "coordinator", ev.Member.ID)
			}

		case env, ok := <-conn.Receive():
			if !ok {
				if err := conn.Err(); err != nil {
					return fmt.Errorf("%w: %v", ErrCoordinatorLost, err)
				}
				return ErrCoordinatorLost
			}
			done, err := w.handle(conn, assembler, env, registeredAt)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (w *Worker) awaitCoordinator(ctx context.Context, events <-chan membership.Event) (cluster.Member, error) {
	for {
		select {
		case <-ctx.Done():
			return cluster.Member{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return cluster.Member{}, ErrNoCoordinator
			}
			if ev.Type == membership.Up && ev.Member.HasRole(cluster.RoleCoordinator) {
				w.log.Infow("coordinator discovered", "coordinator", ev.Member.ID, "addr", ev.Member.Addr)
				return ev.Member, nil
			}
		}
	}
}

// connect dials coord and sends the registration. Both steps are retried
// together, so a registration is only ever sent on a fresh connection.
func (w *Worker) connect(ctx context.Context, coord cluster.Member) (Conn, error) {
	reg, err := cluster.NewEnvelope(cluster.MsgRegister, cluster.Register{Member: w.self})
	if err != nil {
		return nil, err
	}

	var conn Conn
	op := func() error {
		c, err := w.dial(ctx, coord.Addr)
		if err != nil {
			return err
		}
		if err := c.Send(reg); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		w.log.Warnw("registration failed, retrying", "coordinator", coord.ID, "in", next, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(w.newBackoff(), ctx), notify); err != nil {
		return nil, fmt.Errorf("register with %s: %w", coord.ID, err)
	}

	w.mu.Lock()
	w.coordinator = coord.ID
	w.mu.Unlock()
	w.log.Infow("registered", "coordinator", coord.ID)
	return conn, nil
}

// handle processes one coordinator message and reports whether the worker
// should stop.
func (w *Worker) handle(conn Conn, assembler *bulk.Assembler, env cluster.Envelope, registeredAt time.Time) (bool, error) {
	switch env.Type {
	case cluster.MsgWelcome:
		var f cluster.Fragment
		if err := env.Decode(&f); err != nil {
			w.log.Warnw("bad welcome fragment", "error", err)
			return false, nil
		}
		blob, complete, err := assembler.Add(f)
		if err != nil {
			w.log.Warnw("welcome transfer failed", "error", err)
			return false, nil
		}
		if !complete {
			return false, nil
		}
		filter, err := welcome.Decode(blob)
		if err != nil {
			w.log.Warnw("welcome transfer failed", "error", err)
			return false, nil
		}
		w.mu.Lock()
		w.filter = filter
		w.mu.Unlock()
		w.log.Infow("welcome data received",
			"size_mb", welcome.SizeMB(filter),
			"transmission_time", time.Since(registeredAt).String())

	case cluster.MsgAssignTask:
		var task cluster.Task
		if err := env.Decode(&task); err != nil {
			w.log.Warnw("bad task", "error", err)
			return false, nil
		}
		start := time.Now()
		res, err := Execute(task)
		if err != nil {
			w.log.Warnw("cannot execute task", "task", task.Key(), "error", err)
			return false, nil
		}
		w.completed.Add(1)
		w.log.Debugw("task done", "task", task.Key(), "took", time.Since(start).String())
		if err := conn.Send(res); err != nil {
			return false, fmt.Errorf("%w: %v", ErrCoordinatorLost, err)
		}

	case cluster.MsgShutdown:
		w.log.Infow("shutdown received", "tasks_completed", w.completed.Load())
		return true, nil

	default:
		w.log.Warnw("unexpected message", "type", env.Type)
	}
	return false, nil
}

// Execute runs the search a task asks for and wraps the outcome in the
// matching result message. It is pure: the same task always yields the same
// result.
func Execute(task cluster.Task) (cluster.Envelope, error) {
	switch task.Kind {
	case cluster.HintTask:
		hints := search.DecodeHints(task.Alphabet, task.Length, task.HintHashes)
		return cluster.NewEnvelope(cluster.MsgHintResult, cluster.HintResult{
			RecordID: task.RecordID,
			Hints:    hints,
		})
	case cluster.PasswordTask:
		password, found := search.CrackPassword(task.Alphabet, task.Length, task.PasswordHash)
		return cluster.NewEnvelope(cluster.MsgPasswordResult, cluster.PasswordResult{
			RecordID: task.RecordID,
			Password: password,
			Found:    found,
		})
	}
	return cluster.Envelope{}, fmt.Errorf("unknown task kind %q", task.Kind)
}

// MayContain looks word up in the welcome filter. It is false until the
// filter arrived.
func (w *Worker) MayContain(word string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.filter != nil && welcome.MayContain(w.filter, word)
}

// Info returns the worker's current state.
func (w *Worker) Info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info := Info{
		ID:             w.self.ID,
		Coordinator:    w.coordinator,
		Registered:     w.coordinator != "",
		TasksCompleted: w.completed.Load(),
	}
	if w.filter != nil {
		info.WelcomeMB = welcome.SizeMB(w.filter)
		info.WelcomeHashes = w.filter.K()
	}
	return info
}
