// Package metrics owns the pipeline counters. A Collector is created by the
// app and injected into each stage; there are no package-level series.
package metrics

import (
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studynotify/internal/domain"
)

const namespace = "studynotify"

// Length buckets for composed messages, in runes.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

func LengthBucket(text string) string {
	n := utf8.RuneCountInString(text)
	switch {
	case n < 50:
		return LengthShort
	case n < 150:
		return LengthMedium
	default:
		return LengthLong
	}
}

// NotificationStats mirrors the decision counters since the last Reset.
type NotificationStats struct {
	Total    int64            `json:"total"`
	Sent     int64            `json:"sent"`
	Blocked  int64            `json:"blocked"`
	ByType   map[string]int64 `json:"byType"`
	ByReason map[string]int64 `json:"byReason"`
}

// MessageStats mirrors the composer counters since the last Reset.
type MessageStats struct {
	Total    int64            `json:"total"`
	ByType   map[string]int64 `json:"byType"`
	ByLength map[string]int64 `json:"byLength"`
}

type DeliveryStats struct {
	Queued     int64 `json:"queued"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Advisories int64 `json:"advisories"`
	Pauses     int64 `json:"pauses"`
}

type Snapshot struct {
	Notifications NotificationStats `json:"notificationStats"`
	Messages      MessageStats      `json:"messageStats"`
	Deliveries    DeliveryStats     `json:"deliveryStats"`
	Since         time.Time         `json:"since"`
}

type Collector struct {
	mu    sync.Mutex
	notif NotificationStats
	msgs  MessageStats
	deliv DeliveryStats
	since time.Time

	gatherer prometheus.Gatherer

	decisions  *prometheus.CounterVec
	composed   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	queueLen   prometheus.Gauge
	netDur     *prometheus.HistogramVec
	netTotal   *prometheus.CounterVec
}

// New builds a collector and registers its series with reg. A nil reg uses a
// private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		since: time.Now(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decision engine verdicts by outcome and kind.",
		}, []string{"outcome", "kind"}),
		composed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_composed_total",
			Help:      "Composed messages by kind and length bucket.",
		}, []string{"kind", "length"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery scheduler events.",
		}, []string{"event"}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_length",
			Help:      "Messages waiting across all destinations.",
		}),
		netDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "network_request_duration_seconds",
			Help:    "Outbound request latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"component", "operation", "target", "status"}),
		netTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "network_request_total",
			Help: "Outbound requests.",
		}, []string{"component", "operation", "target", "status"}),
	}
	c.resetLocked()
	reg.MustRegister(c.decisions, c.composed, c.deliveries, c.queueLen, c.netDur, c.netTotal)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// RecordDecision counts one decision engine verdict.
func (c *Collector) RecordDecision(v domain.Verdict) {
	if c == nil {
		return
	}
	outcome := "blocked"
	if v.ShouldNotify {
		outcome = "sent"
	}
	c.decisions.WithLabelValues(outcome, v.Kind.String()).Inc()

	c.mu.Lock()
	c.notif.Total++
	if v.ShouldNotify {
		c.notif.Sent++
		c.notif.ByType[v.Kind.String()]++
	} else {
		c.notif.Blocked++
	}
	if v.Reason != "" {
		c.notif.ByReason[v.Reason]++
	}
	c.mu.Unlock()
}

// RecordMessage counts one composed message.
func (c *Collector) RecordMessage(kind domain.Kind, text string) {
	if c == nil {
		return
	}
	bucket := LengthBucket(text)
	c.composed.WithLabelValues(kind.String(), bucket).Inc()

	c.mu.Lock()
	c.msgs.Total++
	c.msgs.ByType[kind.String()]++
	c.msgs.ByLength[bucket]++
	c.mu.Unlock()
}

// Delivery events accepted by RecordDelivery.
const (
	EventQueued   = "queued"
	EventSent     = "sent"
	EventFailed   = "failed"
	EventAdvisory = "advisory"
	EventPause    = "pause"
)

func (c *Collector) RecordDelivery(event string) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(event).Inc()

	c.mu.Lock()
	switch event {
	case EventQueued:
		c.deliv.Queued++
	case EventSent:
		c.deliv.Sent++
	case EventFailed:
		c.deliv.Failed++
	case EventAdvisory:
		c.deliv.Advisories++
	case EventPause:
		c.deliv.Pauses++
	}
	c.mu.Unlock()
}

func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLen.Set(float64(n))
}

// ObserveNetworkRequest records latency and status of an outbound request.
func (c *Collector) ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if c == nil {
		return
	}
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.netDur.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	c.netTotal.WithLabelValues(component, operation, target, status).Inc()
}

// Snapshot returns a deep copy of the counters since the last Reset.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return emptySnapshot()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Notifications: NotificationStats{
			Total:    c.notif.Total,
			Sent:     c.notif.Sent,
			Blocked:  c.notif.Blocked,
			ByType:   cloneCounts(c.notif.ByType),
			ByReason: cloneCounts(c.notif.ByReason),
		},
		Messages: MessageStats{
			Total:    c.msgs.Total,
			ByType:   cloneCounts(c.msgs.ByType),
			ByLength: cloneCounts(c.msgs.ByLength),
		},
		Deliveries: c.deliv,
		Since:      c.since,
	}
}

// Reset clears the snapshot. Prometheus series stay monotonic.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Collector) resetLocked() {
	empty := emptySnapshot()
	c.notif = empty.Notifications
	c.msgs = empty.Messages
	c.deliv = empty.Deliveries
	c.since = empty.Since
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Notifications: NotificationStats{ByType: map[string]int64{}, ByReason: map[string]int64{}},
		Messages: MessageStats{
			ByType:   map[string]int64{},
			ByLength: map[string]int64{LengthShort: 0, LengthMedium: 0, LengthLong: 0},
		},
		Since: time.Now(),
	}
}

// Handler serves the registry the collector was registered with, or the
// default gatherer when that registry cannot be gathered.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
