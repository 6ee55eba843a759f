package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/record"
)

// Source yields raw input records in batches. An empty batch marks the end of
// the input.
type Source interface {
	NextBatch(ctx context.Context) ([][]string, error)
}

// ResultSink is a Sink that renders everything it received when flushed.
type ResultSink interface {
	Sink
	Flush() error
}

// Outbox delivers envelopes to connected workers.
type Outbox interface {
	Send(workerID string, env cluster.Envelope) error
	Disconnect(workerID string)
}

// BulkTransfer delivers a large payload to a worker as one blob.
type BulkTransfer interface {
	Send(payload []byte, dest string) error
}

// Options configure a Master. Zero values are usable.
type Options struct {
	Clock   clockwork.Clock
	Metrics *Metrics
	// Welcome is sent to every worker right after it registers.
	Welcome []byte
	// Capacity is the number of tasks a worker holds at once.
	Capacity int
}

// Status is a point-in-time view of the master, safe to read from any
// goroutine.
type Status struct {
	Workers        []WorkerHandle   `json:"workers"`
	ActiveMembers  []cluster.Member `json:"-"`
	Elapsed        string           `json:"elapsed"`
	Queued         int              `json:"queued"`
	Pending        int              `json:"pending"`
	InFlight       int              `json:"in_flight"`
	Read           int              `json:"read"`
	Dropped        int              `json:"dropped"`
	Resolved       int              `json:"resolved"`
	InputExhausted bool             `json:"input_exhausted"`
	Done           bool             `json:"done"`
}

type (
	registerMsg   struct{ member cluster.Member }
	memberDownMsg struct{ id string }
	resultMsg     struct {
		workerID string
		env      cluster.Envelope
	}
	batchMsg struct {
		err  error
		rows [][]string
	}
)

// Master is the coordinator's single consumer. Registrations, membership
// losses, task results and input batches are all posted to one inbox and
// handled one at a time by Run, so the Registry, Scheduler and Aggregator
// never see concurrent calls.
//
// Lifecycle:
//
//	m := NewMaster(source, sink, hub, sender, log, opts)
//	go m.Run(ctx)
//	<-m.Done() // every record resolved, workers told to shut down
type Master struct {
	source     Source
	sink       ResultSink
	outbox     Outbox
	bulk       BulkTransfer
	registry   *Registry
	scheduler  *Scheduler
	aggregator *Aggregator
	metrics    *Metrics
	clock      clockwork.Clock
	log        *zap.SugaredLogger
	status     atomic.Pointer[Status]
	inbox      chan any
	done       chan struct{}
	stopped    chan struct{}
	started    time.Time
	welcome    []byte
	read       int
	dropped    int
	resolved   int
}

// NewMaster wires a Master. bulk may be nil when no welcome blob is sent.
func NewMaster(source Source, sink ResultSink, outbox Outbox, bulk BulkTransfer, log *zap.SugaredLogger, opts Options) *Master {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	registry := NewRegistry(opts.Clock)
	scheduler := NewScheduler(registry, opts.Capacity, opts.Clock)
	m := &Master{
		source:     source,
		sink:       sink,
		outbox:     outbox,
		bulk:       bulk,
		registry:   registry,
		scheduler:  scheduler,
		aggregator: NewAggregator(scheduler, sink, log.Named("aggregator")),
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		log:        log,
		inbox:      make(chan any, 1024),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		welcome:    opts.Welcome,
	}
	m.status.Store(&Status{})
	return m
}

// Register announces a worker. It is safe to call from any goroutine.
func (m *Master) Register(member cluster.Member) {
	m.post(registerMsg{member: member})
}

// MemberDown reports that a worker is gone for good.
func (m *Master) MemberDown(id string) {
	m.post(memberDownMsg{id: id})
}

// Deliver hands over a message received from a worker.
func (m *Master) Deliver(workerID string, env cluster.Envelope) {
	m.post(resultMsg{workerID: workerID, env: env})
}

// HintResult posts a hint result as if workerID had sent it.
func (m *Master) HintResult(workerID string, res cluster.HintResult) error {
	env, err := cluster.NewEnvelope(cluster.MsgHintResult, res)
	if err != nil {
		return err
	}
	m.Deliver(workerID, env)
	return nil
}

// PasswordResult posts a password result as if workerID had sent it.
func (m *Master) PasswordResult(workerID string, res cluster.PasswordResult) error {
	env, err := cluster.NewEnvelope(cluster.MsgPasswordResult, res)
	if err != nil {
		return err
	}
	m.Deliver(workerID, env)
	return nil
}

// post drops the message once Run has returned.
func (m *Master) post(msg any) {
	select {
	case m.inbox <- msg:
	case <-m.stopped:
	}
}

// Done is closed when every record is resolved.
func (m *Master) Done() <-chan struct{} {
	return m.done
}

// Status returns the latest snapshot.
func (m *Master) Status() Status {
	return *m.status.Load()
}

// Run processes messages until global completion or until ctx is done. It
// returns nil after completion, ctx.Err() on cancellation, and an error if
// the input cannot be read or the results cannot be flushed.
func (m *Master) Run(ctx context.Context) error {
	defer close(m.stopped)

	m.started = m.clock.Now()
	m.log.Infow("master started", "capacity", m.scheduler.capacity, "welcome_bytes", len(m.welcome))
	go m.readBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.inbox:
			if err := m.handle(ctx, msg); err != nil {
				return err
			}
		}
		m.publish()
		if m.aggregator.IsGloballyDone() {
			return m.finish()
		}
	}
}

func (m *Master) readBatch(ctx context.Context) {
	rows, err := m.source.NextBatch(ctx)
	m.post(batchMsg{rows: rows, err: err})
}

func (m *Master) handle(ctx context.Context, msg any) error {
	switch msg := msg.(type) {
	case batchMsg:
		return m.handleBatch(ctx, msg)
	case registerMsg:
		m.handleRegister(msg.member)
	case memberDownMsg:
		if m.workerGone(msg.id, "member down") {
			m.dispatch()
		}
	case resultMsg:
		m.handleResult(msg.workerID, msg.env)
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}
	return nil
}

func (m *Master) handleBatch(ctx context.Context, msg batchMsg) error {
	if msg.err != nil {
		return fmt.Errorf("read input: %w", msg.err)
	}
	if len(msg.rows) == 0 {
		m.log.Infow("input exhausted", "read", m.read, "dropped", m.dropped)
		m.aggregator.MarkInputExhausted()
		return nil
	}
	go m.readBatch(ctx)

	for _, row := range msg.rows {
		rec, err := record.Parse(row)
		if err != nil {
			m.dropped++
			m.metrics.RecordsDropped.Inc()
			m.log.Warnw("dropping record", "error", err)
			continue
		}
		if !m.aggregator.Track(rec) {
			m.dropped++
			m.metrics.RecordsDropped.Inc()
			m.log.Warnw("dropping record with duplicate id", "record", rec.ID)
			continue
		}
		m.read++
		m.metrics.RecordsRead.Inc()
		m.scheduler.EnqueueHintTask(rec)
	}
	m.dispatch()
	return nil
}

func (m *Master) handleRegister(member cluster.Member) {
	if m.registry.IsGone(member.ID) {
		m.log.Warnw("rejecting registration of a gone worker", "worker", member.ID)
		m.outbox.Disconnect(member.ID)
		return
	}
	if !m.registry.Register(member) {
		m.log.Debugw("duplicate registration", "worker", member.ID)
		return
	}
	m.log.Infow("registered worker", "worker", member.ID, "addr", member.Addr)

	if m.bulk != nil && m.welcome != nil {
		if err := m.bulk.Send(m.welcome, member.ID); err != nil {
			m.log.Warnw("welcome transfer failed", "worker", member.ID, "error", err)
			m.workerGone(member.ID, "welcome transfer failed")
		}
	}
	m.dispatch()
}

// workerGone marks id gone and requeues its tasks. It reports whether id was
// active.
func (m *Master) workerGone(id, reason string) bool {
	if !m.registry.MarkGone(id) {
		return false
	}
	tasks := m.scheduler.OnWorkerGone(id)
	m.metrics.TasksRequeued.Add(float64(len(tasks)))
	m.log.Infow("worker marked gone", "worker", id, "reason", reason, "requeued", len(tasks))
	m.outbox.Disconnect(id)
	return true
}

// dispatch hands out queued tasks until the queue is empty or no worker has
// spare capacity.
func (m *Master) dispatch() {
	for {
		pa, ok := m.scheduler.AssignNext()
		if !ok {
			return
		}
		env, err := cluster.NewEnvelope(cluster.MsgAssignTask, pa.Task)
		if err == nil {
			err = m.outbox.Send(pa.WorkerID, env)
		}
		if err != nil {
			m.log.Warnw("task delivery failed", "worker", pa.WorkerID, "task", pa.Task.Key(), "error", err)
			m.workerGone(pa.WorkerID, "task delivery failed")
			continue
		}
		m.metrics.TasksAssigned.WithLabelValues(string(pa.Task.Kind)).Inc()
		m.log.Debugw("assigned task", "worker", pa.WorkerID, "task", pa.Task.Key())
	}
}

func (m *Master) handleResult(workerID string, env cluster.Envelope) {
	switch env.Type {
	case cluster.MsgHintResult:
		var res cluster.HintResult
		if err := env.Decode(&res); err != nil {
			m.log.Warnw("bad result", "worker", workerID, "error", err)
			return
		}
		key := cluster.TaskKey{Kind: cluster.HintTask, RecordID: res.RecordID}
		if m.settle(workerID, key) {
			m.aggregator.OnHintResult(res.RecordID, res.Hints)
		}
	case cluster.MsgPasswordResult:
		var res cluster.PasswordResult
		if err := env.Decode(&res); err != nil {
			m.log.Warnw("bad result", "worker", workerID, "error", err)
			return
		}
		key := cluster.TaskKey{Kind: cluster.PasswordTask, RecordID: res.RecordID}
		if m.settle(workerID, key) && m.aggregator.OnPasswordResult(res.RecordID, res.Password, res.Found) {
			m.resolved++
			m.metrics.RecordsResolved.WithLabelValues(strconv.FormatBool(res.Found)).Inc()
			m.log.Debugw("record resolved", "record", res.RecordID, "found", res.Found)
		}
	default:
		m.log.Warnw("unexpected message from worker", "worker", workerID, "type", env.Type)
		return
	}
	m.dispatch()
}

// settle clears the task behind a result and reports whether it was still
// outstanding.
func (m *Master) settle(workerID string, key cluster.TaskKey) bool {
	if !m.scheduler.OnResult(workerID, key) {
		m.metrics.Results.WithLabelValues(string(key.Kind), "duplicate").Inc()
		m.log.Debugw("ignoring late result", "worker", workerID, "task", key)
		return false
	}
	m.metrics.Results.WithLabelValues(string(key.Kind), "fresh").Inc()
	return true
}

func (m *Master) finish() error {
	for _, id := range m.registry.Active() {
		env, _ := cluster.NewEnvelope(cluster.MsgShutdown, nil)
		if err := m.outbox.Send(id, env); err != nil {
			m.log.Debugw("shutdown not delivered", "worker", id, "error", err)
		}
	}
	elapsed := m.clock.Since(m.started)
	m.log.Infow("all records resolved",
		"resolved", m.resolved,
		"dropped", m.dropped,
		"elapsed", elapsed.String())

	err := m.sink.Flush()

	s := m.Status()
	s.Done = true
	m.status.Store(&s)
	close(m.done)

	if err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

func (m *Master) publish() {
	s := &Status{
		Workers:        m.registry.Snapshot(),
		ActiveMembers:  m.registry.ActiveMembers(),
		Elapsed:        m.clock.Since(m.started).String(),
		Queued:         m.scheduler.QueueLen(),
		Pending:        m.scheduler.PendingLen(),
		InFlight:       m.aggregator.InFlight(),
		Read:           m.read,
		Dropped:        m.dropped,
		Resolved:       m.resolved,
		InputExhausted: m.aggregator.InputExhausted(),
	}
	m.status.Store(s)

	m.metrics.WorkersActive.Set(float64(len(s.ActiveMembers)))
	m.metrics.QueueLength.Set(float64(s.Queued))
	m.metrics.PendingTasks.Set(float64(s.Pending))
	m.metrics.InFlightRecords.Set(float64(s.InFlight))
}
