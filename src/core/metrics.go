package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sealtrace/sealtrace/src/ledger"
)

var (
	// Ledger operation metrics
	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealtrace_ledger_operations_total",
		Help: "Total number of ledger operations by outcome",
	}, []string{"op", "result"})

	ledgerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealtrace_ledger_events_total",
		Help: "Total number of ledger events emitted",
	}, []string{"kind"})

	// Gauge metrics
	batchesByStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sealtrace_batches",
		Help: "Current number of batches by status",
	}, []string{"status"})

	participantsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sealtrace_participants",
		Help: "Current number of registered participants",
	})

	streamSubscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sealtrace_stream_subscribers",
		Help: "Current number of websocket event subscribers",
	})

	// Snapshot metrics
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealtrace_snapshots_total",
		Help: "Total number of snapshot attempts",
	}, []string{"status"})

	snapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sealtrace_snapshot_duration_seconds",
		Help:    "Duration of snapshot writes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// Webhook delivery metrics
	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealtrace_webhook_deliveries_total",
		Help: "Total number of webhook deliveries by outcome",
	}, []string{"status"})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealtrace_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sealtrace_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordOperation records the outcome of a ledger operation, labelled with
// the error kind on failure.
func RecordOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = ledger.KindOf(err)
	}
	ledgerOperationsTotal.WithLabelValues(op, result).Inc()
}

// metricsSink counts emitted events and keeps the state gauges current. It
// remembers the last status of every batch so a transition moves one unit
// between gauge labels.
type metricsSink struct {
	mu       sync.Mutex
	statuses map[uint64]ledger.Status
}

func newMetricsSink() *metricsSink {
	return &metricsSink{statuses: make(map[uint64]ledger.Status)}
}

func (m *metricsSink) Publish(ev ledger.Event) {
	ledgerEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case ledger.EventParticipantRegistered:
		participantsGauge.Inc()
	case ledger.EventProductBatchCreated, ledger.EventCheckpointAdded, ledger.EventQualityVerified:
		if ev.Status != nil {
			m.moveBatch(ev.BatchID, *ev.Status)
		}
	}
}

func (m *metricsSink) moveBatch(batchID uint64, to ledger.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from, ok := m.statuses[batchID]; ok {
		if from == to {
			return
		}
		batchesByStatusGauge.WithLabelValues(from.String()).Dec()
	}
	m.statuses[batchID] = to
	batchesByStatusGauge.WithLabelValues(to.String()).Inc()
}

// Sync resets the gauges from engine state. It runs once the engine is
// built; later changes arrive through Publish.
func (m *metricsSink) Sync(e *ledger.Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = make(map[uint64]ledger.Status)
	counts := make(map[ledger.Status]int)
	for _, b := range e.ListBatches("") {
		m.statuses[b.BatchID] = b.Status
		counts[b.Status]++
	}
	for _, s := range []ledger.Status{
		ledger.StatusCreated,
		ledger.StatusInTransit,
		ledger.StatusDelivered,
		ledger.StatusVerified,
		ledger.StatusRecalled,
	} {
		batchesByStatusGauge.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
	participantsGauge.Set(float64(e.ParticipantCount()))
}
