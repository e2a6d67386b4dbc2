package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// relayCollectors bundles the process-wide prometheus collectors. They are
// registered once; every Metrics instance records into the same set.
type relayCollectors struct {
	offers     *prometheus.CounterVec
	claims     *prometheus.CounterVec
	execution  *prometheus.HistogramVec
	active     prometheus.Gauge
	heartbeats *prometheus.CounterVec
	polls      prometheus.Counter
	spent      *prometheus.CounterVec
	errors     *prometheus.CounterVec
	paused     prometheus.Gauge
}

var (
	collectorsOnce sync.Once
	collectors     *relayCollectors
)

func sharedCollectors() *relayCollectors {
	collectorsOnce.Do(func() {
		collectors = &relayCollectors{
			offers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "offers_total",
				Help:      "Count of offers observed segmented by terminal result.",
			}, []string{"result"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "claims_total",
				Help:      "Count of claim attempts segmented by outcome.",
			}, []string{"outcome"}),
			execution: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "execution_duration_seconds",
				Help:      "Latency distribution for completed offer executions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "active_offers",
				Help:      "Number of offers currently claimed and not yet resolved.",
			}),
			heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "heartbeats_total",
				Help:      "Count of heartbeat deliveries segmented by outcome.",
			}, []string{"outcome"}),
			polls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "poll_failures_total",
				Help:      "Count of offer poll cycles that failed and were rescheduled.",
			}),
			spent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "spent_lamports_total",
				Help:      "Lamports spent by this node segmented by asset.",
			}, []string{"asset"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "errors_total",
				Help:      "Count of execution failures segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "shh",
				Subsystem: "relay",
				Name:      "pause_engaged",
				Help:      "Indicates whether offer admission is paused (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			collectors.offers,
			collectors.claims,
			collectors.execution,
			collectors.active,
			collectors.heartbeats,
			collectors.polls,
			collectors.spent,
			collectors.errors,
			collectors.paused,
		)
	})
	return collectors
}

// Metrics tracks offer-lifecycle activity for one node process. The snapshot
// counters back the JSON metrics endpoint; the prometheus collectors mirror
// the same events for scrape-based monitoring. A nil *Metrics is a no-op on
// every record method so callers never need to guard.
type Metrics struct {
	startedAt time.Time
	prom      *relayCollectors

	mu                sync.Mutex
	offersReceived    uint64
	offersAccepted    uint64
	offersDropped     uint64
	claimsLost        uint64
	offersCompleted   uint64
	offersFailed      uint64
	heartbeatsSent    uint64
	heartbeatFailures uint64
	pollFailures      uint64
	spentLamports     uint64
	activeOffers      int
	execCount         uint64
	execTotal         time.Duration
	execMax           time.Duration
}

// New builds a metrics instance anchored at the current time.
func New() *Metrics {
	return &Metrics{
		startedAt: time.Now(),
		prom:      sharedCollectors(),
	}
}

// Snapshot is the JSON encoding of the node's counters.
type Snapshot struct {
	UptimeSeconds      float64 `json:"uptimeSeconds"`
	OffersReceived     uint64  `json:"offersReceived"`
	OffersAccepted     uint64  `json:"offersAccepted"`
	OffersDropped      uint64  `json:"offersDropped"`
	ClaimsLost         uint64  `json:"claimsLost"`
	OffersCompleted    uint64  `json:"offersCompleted"`
	OffersFailed       uint64  `json:"offersFailed"`
	HeartbeatsSent     uint64  `json:"heartbeatsSent"`
	HeartbeatFailures  uint64  `json:"heartbeatFailures"`
	PollFailures       uint64  `json:"pollFailures"`
	TotalSpentLamports uint64  `json:"totalSpentLamports"`
	ActiveOffers       int     `json:"activeOffers"`
	AvgExecutionMs     float64 `json:"avgExecutionMs"`
	MaxExecutionMs     float64 `json:"maxExecutionMs"`
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		UptimeSeconds:      time.Since(m.startedAt).Seconds(),
		OffersReceived:     m.offersReceived,
		OffersAccepted:     m.offersAccepted,
		OffersDropped:      m.offersDropped,
		ClaimsLost:         m.claimsLost,
		OffersCompleted:    m.offersCompleted,
		OffersFailed:       m.offersFailed,
		HeartbeatsSent:     m.heartbeatsSent,
		HeartbeatFailures:  m.heartbeatFailures,
		PollFailures:       m.pollFailures,
		TotalSpentLamports: m.spentLamports,
		ActiveOffers:       m.activeOffers,
	}
	if m.execCount > 0 {
		snap.AvgExecutionMs = float64(m.execTotal.Milliseconds()) / float64(m.execCount)
		snap.MaxExecutionMs = float64(m.execMax.Milliseconds())
	}
	return snap
}

// RecordOfferReceived counts an offer observed on the subscription.
func (m *Metrics) RecordOfferReceived() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.offersReceived++
	m.mu.Unlock()
	m.prom.offers.WithLabelValues("received").Inc()
}

// RecordOfferDropped counts an offer rejected before or during claiming.
// Reasons should be stable strings such as "capacity" or "expired".
func (m *Metrics) RecordOfferDropped(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.offersDropped++
	m.mu.Unlock()
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.prom.offers.WithLabelValues("dropped_" + reason).Inc()
}

// RecordOfferAccepted counts an offer entering the active set after a won
// claim.
func (m *Metrics) RecordOfferAccepted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.offersAccepted++
	m.mu.Unlock()
	m.prom.claims.WithLabelValues("won").Inc()
}

// RecordClaimLost counts a claim race lost to another node.
func (m *Metrics) RecordClaimLost() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.claimsLost++
	m.mu.Unlock()
	m.prom.claims.WithLabelValues("lost").Inc()
}

// RecordCompletion counts a successful execution with its wall-clock
// duration and lamports spent.
func (m *Metrics) RecordCompletion(asset string, elapsed time.Duration, spentLamports uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.offersCompleted++
	m.spentLamports += spentLamports
	m.execCount++
	m.execTotal += elapsed
	if elapsed > m.execMax {
		m.execMax = elapsed
	}
	m.mu.Unlock()
	label := labelAsset(asset)
	m.prom.offers.WithLabelValues("completed").Inc()
	m.prom.execution.WithLabelValues(label).Observe(elapsed.Seconds())
	if spentLamports > 0 {
		m.prom.spent.WithLabelValues(label).Add(float64(spentLamports))
	}
}

// RecordFailure counts a failed execution or resolution. Reasons should be
// stable strings so dashboards and alerts remain consistent.
func (m *Metrics) RecordFailure(asset, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.offersFailed++
	m.mu.Unlock()
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.prom.offers.WithLabelValues("failed").Inc()
	m.prom.errors.WithLabelValues(labelAsset(asset), reason).Inc()
}

// RecordHeartbeat counts one heartbeat delivery attempt.
func (m *Metrics) RecordHeartbeat(err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if err != nil {
		m.heartbeatFailures++
	} else {
		m.heartbeatsSent++
	}
	m.mu.Unlock()
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.prom.heartbeats.WithLabelValues(outcome).Inc()
}

// RecordPollFailure counts a failed offer poll cycle.
func (m *Metrics) RecordPollFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.pollFailures++
	m.mu.Unlock()
	m.prom.polls.Inc()
}

// SetActiveOffers updates the active-offer gauge.
func (m *Metrics) SetActiveOffers(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.activeOffers = n
	m.mu.Unlock()
	m.prom.active.Set(float64(n))
}

// SetPaused toggles the admission pause gauge.
func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.prom.paused.Set(1)
		return
	}
	m.prom.paused.Set(0)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}
