// Package coordinator implements the control plane of hashcrack: it reads
// password records, splits each one into a hint phase and a password phase,
// hands those tasks to workers, survives workers disappearing mid-task and
// detects when every record is resolved.
//
// # Overview
//
// The coordinator owns all shared state of a cracking run. Workers are
// stateless executors; they receive one task at a time, run a pure search and
// report the outcome. Everything that has to stay consistent lives here.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                 COORDINATOR                  │
//	├──────────────────────────────────────────────┤
//	│  transport.Hub ──┐        HealthMonitor ──┐  │
//	│                  ▼                        ▼  │
//	│          ┌──────────────── inbox ─────────┐  │
//	│          │            Master              │  │
//	│          │  ┌──────────┐  ┌────────────┐  │  │
//	│          │  │ Registry │◄─│ Scheduler  │  │  │
//	│          │  └──────────┘  └─────▲──────┘  │  │
//	│          │               ┌──────┴─────┐   │  │
//	│          │   Source ───► │ Aggregator │──►│ Sink
//	│          │               └────────────┘   │  │
//	│          └────────────────────────────────┘  │
//	└──────────────────────────────────────────────┘
//
// # Core Components
//
// Registry: worker identity to liveness (active or gone). An identity that
// went away is never reactivated.
//
// Scheduler: the FIFO task queue and the pending assignments.
//   - EnqueueHintTask / EnqueuePasswordTask create tasks, at most one per
//     record and phase
//   - AssignNext binds the queue head to the least loaded active worker
//   - OnResult settles a task, OnWorkerGone requeues a lost worker's tasks at
//     the front of the queue
//
// Aggregator: per-record results. A decoded hint set yields the reduced
// alphabet and the password task; a password result resolves the record and
// sends its summary to the sink.
//
// Master: the single consumer loop that serializes every event touching the
// three components above. It also reads the input, sends the welcome blob to
// new workers and broadcasts shutdown at the end.
//
// HealthMonitor: polls the /health endpoint of active workers and reports
// the ones that stop answering.
//
// # Concurrency
//
// Registry, Scheduler and Aggregator are plain structs without locks. They
// are only ever called from Master.Run, one message at a time, which is what
// keeps their invariants intact:
//   - every task is either queued or pending, never both
//   - a password task exists only after the record's hint phase ended
//   - completion holds iff the input is exhausted, the queue is empty, no
//     task is pending and no record is in flight
//
// Other goroutines talk to the Master through Register, MemberDown and
// Deliver, which post to its inbox, and read its state through Status, an
// atomically swapped snapshot.
//
// # Failure Handling
//
// Worker loss is detected twice: when its websocket closes and when its
// health checks keep failing. Either way the Master marks it gone and its
// pending tasks go back to the head of the queue. Delivery is therefore
// at-least-once; a late result from a gone worker is accepted and the copy
// still queued is dropped.
//
// A record whose password space is exhausted is resolved with no password.
// Malformed input lines are logged and skipped.
//
// # Metrics
//
// Metrics exposes counters and gauges under the hashcrack namespace:
// tasks assigned and requeued, results by freshness, records read, dropped
// and resolved, active workers, queue length, pending tasks, in-flight
// records.
package coordinator
