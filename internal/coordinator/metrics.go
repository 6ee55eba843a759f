package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the coordinator's Prometheus collectors.
type Metrics struct {
	TasksAssigned   *prometheus.CounterVec
	TasksRequeued   prometheus.Counter
	Results         *prometheus.CounterVec
	RecordsRead     prometheus.Counter
	RecordsDropped  prometheus.Counter
	RecordsResolved *prometheus.CounterVec
	WorkersActive   prometheus.Gauge
	QueueLength     prometheus.Gauge
	PendingTasks    prometheus.Gauge
	InFlightRecords prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hashcrack",
			Name:      "tasks_assigned_total",
			Help:      "Tasks handed to workers, by kind.",
		}, []string{"kind"}),
		TasksRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashcrack",
			Name:      "tasks_requeued_total",
			Help:      "Tasks put back on the queue after their worker went away.",
		}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hashcrack",
			Name:      "results_total",
			Help:      "Task results received, by kind and whether they were still outstanding.",
		}, []string{"kind", "outcome"}),
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashcrack",
			Name:      "records_read_total",
			Help:      "Records accepted from the input.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashcrack",
			Name:      "records_dropped_total",
			Help:      "Malformed input records that were skipped.",
		}),
		RecordsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hashcrack",
			Name:      "records_resolved_total",
			Help:      "Records resolved, by whether a password was found.",
		}, []string{"found"}),
		WorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hashcrack",
			Name:      "workers_active",
			Help:      "Registered workers that are not gone.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hashcrack",
			Name:      "queue_length",
			Help:      "Tasks waiting for a worker.",
		}),
		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hashcrack",
			Name:      "pending_tasks",
			Help:      "Tasks assigned and not yet answered.",
		}),
		InFlightRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hashcrack",
			Name:      "in_flight_records",
			Help:      "Records read but not resolved.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TasksAssigned, m.TasksRequeued, m.Results,
			m.RecordsRead, m.RecordsDropped, m.RecordsResolved,
			m.WorkersActive, m.QueueLength, m.PendingTasks, m.InFlightRecords,
		)
	}
	return m
}
