// Package metrics exposes the messaging layer's diagnostic counters to
// Prometheus. Dropped packets are never surfaced to applications, so these
// counters are the only place they can be observed.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "msglayer"

// Drop reasons.
const (
	DropMalformed      = "malformed"
	DropAuthentication = "authentication"
	DropUnknownSession = "unknown_session"
	DropDuplicate      = "duplicate"
	DropStale          = "stale"
	DropUnexpected     = "unexpected"
	DropIngressFull    = "ingress_full"
	DropOversized      = "oversized"
	DropOther          = "other"
)

// Metrics holds the counters of one node.
type Metrics struct {
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	retransmits      prometheus.Counter
	standaloneAcks   prometheus.Counter
	dropped          *prometheus.CounterVec
	exchangesOpened  prometheus.Counter
	exchangesClosed  *prometheus.CounterVec
	sessionsEvicted  *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Messages handed to the transport, excluding retransmissions.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages that authenticated and carried a new counter.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mrp",
			Name:      "retransmits_total",
			Help:      "Reliable messages sent again after their deadline passed.",
		}),
		standaloneAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mrp",
			Name:      "standalone_acks_total",
			Help:      "Acknowledgements sent without a payload.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Inbound messages dropped before reaching a handler.",
		}, []string{"reason"}),
		exchangesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchanges",
			Name:      "opened_total",
			Help:      "Exchanges allocated from the pool.",
		}),
		exchangesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchanges",
			Name:      "closed_total",
			Help:      "Exchanges returned to the pool.",
		}, []string{"reason"}),
		sessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "evicted_total",
			Help:      "Sessions removed from the session table.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector, for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesSent, m.messagesReceived, m.retransmits, m.standaloneAcks,
		m.dropped, m.exchangesOpened, m.exchangesClosed, m.sessionsEvicted,
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) MessageReceived() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) Retransmit() {
	if m != nil {
		m.retransmits.Inc()
	}
}

func (m *Metrics) StandaloneAck() {
	if m != nil {
		m.standaloneAcks.Inc()
	}
}

// Dropped counts an inbound message dropped for reason.
func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ExchangeOpened() {
	if m != nil {
		m.exchangesOpened.Inc()
	}
}

// ExchangeClosed counts a closed exchange; reason is "ok" for a normal close.
func (m *Metrics) ExchangeClosed(reason string) {
	if m != nil {
		m.exchangesClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionEvicted(reason string) {
	if m != nil {
		m.sessionsEvicted.WithLabelValues(reason).Inc()
	}
}
