// Package metrics exposes Prometheus collectors for sync activity.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics without guarding every call.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rollcall"

// Metrics holds the process collectors.
type Metrics struct {
	syncs          *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	events         *prometheus.CounterVec
	pendingReviews *prometheus.GaugeVec
	activeMembers  *prometheus.GaugeVec
	notifications  *prometheus.CounterVec
	detailFetches  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Sync attempts by alliance and result.",
		}, []string{"alliance", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of successful syncs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"alliance"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Service events detected, by kind.",
		}, []string{"alliance", "kind"}),
		pendingReviews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_reviews",
			Help:      "Pending rename reviews raised by the last sync.",
		}, []string{"alliance"}),
		activeMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_members",
			Help:      "Members present in the last scrape.",
		}, []string{"alliance"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notification batches by result.",
		}, []string{"result"}),
		detailFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_fetches_total",
			Help:      "Member detail fetches by result.",
		}, []string{"alliance", "result"}),
	}
	reg.MustRegister(
		m.syncs,
		m.syncDuration,
		m.events,
		m.pendingReviews,
		m.activeMembers,
		m.notifications,
		m.detailFetches,
	)
	return m
}

// SyncResult records one sync outcome: "ok", "skipped", "error" or
// "fetch_failed".
func (m *Metrics) SyncResult(alliance, result string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(alliance, result).Inc()
}

// SyncCompleted records a successful sync's duration and roster figures.
func (m *Metrics) SyncCompleted(alliance string, took time.Duration, active, pending int) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(alliance).Observe(took.Seconds())
	m.activeMembers.WithLabelValues(alliance).Set(float64(active))
	m.pendingReviews.WithLabelValues(alliance).Set(float64(pending))
}

// EventsDetected adds n events of kind.
func (m *Metrics) EventsDetected(alliance, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.events.WithLabelValues(alliance, kind).Add(float64(n))
}

// Notification records a delivery outcome: "sent", "failed" or "dropped".
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// DetailFetch records a detail fetch outcome: "ok", "empty" or "error".
func (m *Metrics) DetailFetch(alliance, result string) {
	if m == nil {
		return
	}
	m.detailFetches.WithLabelValues(alliance, result).Inc()
}
