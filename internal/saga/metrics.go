package saga

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wizardbeardstudio/open-transfer-go/internal/events"
	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

// Metrics instruments the orchestrator. All observe methods are nil-safe
// so wiring metrics stays optional in tests and tools.
type Metrics struct {
	initiatedTotal       *prometheus.CounterVec
	terminalTotal        *prometheus.CounterVec
	stepSeconds          *prometheus.HistogramVec
	stepResultsTotal     *prometheus.CounterVec
	compensationsTotal   *prometheus.CounterVec
	idempotencyHitsTotal *prometheus.CounterVec
	publishFailuresTotal *prometheus.CounterVec
	referenceCollisions  prometheus.Counter
	saveConflictsTotal   prometheus.Counter
	sweepsTotal          *prometheus.CounterVec
	sweepResumedTotal    prometheus.Counter
	sweepLastRunUnix     prometheus.Gauge
	transfersByStatus    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		initiatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "initiated_total",
				Help:      "Total transfers created, partitioned by transfer type.",
			},
			[]string{"type"},
		),
		terminalTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "terminal_total",
				Help:      "Total transfers reaching a terminal state, partitioned by status.",
			},
			[]string{"status"},
		),
		stepSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "step_duration_seconds",
				Help:      "Forward step execution time, partitioned by step.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		stepResultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "step_results_total",
				Help:      "Forward step outcomes, partitioned by step and result.",
			},
			[]string{"step", "result"},
		),
		compensationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "compensations_total",
				Help:      "Compensation passes, partitioned by result.",
			},
			[]string{"result"},
		),
		idempotencyHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "idempotency",
				Name:      "hits_total",
				Help:      "Duplicate submissions answered without a new aggregate, partitioned by tier.",
			},
			[]string{"tier"},
		),
		publishFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "events",
				Name:      "publish_failures_total",
				Help:      "Event publications that failed after the state was persisted, partitioned by kind.",
			},
			[]string{"kind"},
		),
		referenceCollisions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "reference_collisions_total",
				Help:      "Reference regenerations forced by a uniqueness collision.",
			},
		),
		saveConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "save_conflicts_total",
				Help:      "Checkpoint saves lost to optimistic concurrency.",
			},
		),
		sweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "recovery",
				Name:      "sweeps_total",
				Help:      "Recovery sweep runs, partitioned by result.",
			},
			[]string{"result"},
		),
		sweepResumedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "open_transfer",
				Subsystem: "recovery",
				Name:      "resumed_total",
				Help:      "Stuck transfers driven to a terminal state by recovery sweeps.",
			},
		),
		sweepLastRunUnix: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "open_transfer",
				Subsystem: "recovery",
				Name:      "sweep_last_run_unix",
				Help:      "Unix time of the most recent recovery sweep.",
			},
		),
		transfersByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "open_transfer",
				Subsystem: "saga",
				Name:      "transfers_by_status",
				Help:      "Current count of stored transfers, partitioned by status.",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) ObserveInitiated(typ transfer.Type) {
	if m == nil {
		return
	}
	m.initiatedTotal.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) ObserveTerminal(st transfer.Status) {
	if m == nil {
		return
	}
	m.terminalTotal.WithLabelValues(string(st)).Inc()
}

func (m *Metrics) ObserveStep(step string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.stepSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.stepResultsTotal.WithLabelValues(step, result).Inc()
}

func (m *Metrics) ObserveCompensation(complete bool) {
	if m == nil {
		return
	}
	result := "compensated"
	if !complete {
		result = "failed"
	}
	m.compensationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveIdempotencyHit(tier string) {
	if m == nil {
		return
	}
	m.idempotencyHitsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObservePublishFailure(kind events.Kind) {
	if m == nil {
		return
	}
	m.publishFailuresTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveReferenceCollision() {
	if m == nil {
		return
	}
	m.referenceCollisions.Inc()
}

func (m *Metrics) ObserveSaveConflict() {
	if m == nil {
		return
	}
	m.saveConflictsTotal.Inc()
}

func (m *Metrics) ObserveRecoverySweep(resumed int, err error) {
	if m == nil {
		return
	}
	m.sweepLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	if err != nil {
		m.sweepsTotal.WithLabelValues("error").Inc()
		return
	}
	m.sweepsTotal.WithLabelValues("success").Inc()
	if resumed > 0 {
		m.sweepResumedTotal.Add(float64(resumed))
	}
}

// RefreshTransferStatusCounts repopulates the per-status gauge from the
// database. Statuses with no rows are reset to zero so stale values do not
// linger after transfers drain.
func (m *Metrics) RefreshTransferStatusCounts(ctx context.Context, db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	const q = `SELECT status, COUNT(*) FROM transfers GROUP BY status`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return
		}
		counts[status] = n
	}
	if rows.Err() != nil {
		return
	}

	statuses := append(transfer.NonTerminalStatuses(),
		transfer.StatusCompleted, transfer.StatusFailed, transfer.StatusCompensated)
	for _, st := range statuses {
		m.transfersByStatus.WithLabelValues(string(st)).Set(float64(counts[string(st)]))
	}
}
