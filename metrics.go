package coap

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EndpointCollector exposes per-Endpoint transaction counters as a
// prometheus.Collector (SPEC_FULL section 6, domain-stack wiring).
type EndpointCollector struct {
	mu sync.Mutex
	ep *Endpoint
	ns string

	sent          *prometheus.CounterVec
	retransmitted prometheus.Counter
	received      *prometheus.CounterVec
	expired       prometheus.Counter
	decodeErrors  prometheus.Counter

	pendingDesc        *prometheus.Desc
	unacknowledgedDesc *prometheus.Desc
}

// NewEndpointCollector builds a collector with metric names prefixed by
// ns (e.g. "coap"). Attach it to an Endpoint via WithCollector.
func NewEndpointCollector(ns string) *EndpointCollector {
	return &EndpointCollector{
		ns: ns,
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_sent_total",
			Help:      "CoAP messages transmitted for the first time, by transaction type.",
		}, []string{"type"}),
		retransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_retransmitted_total",
			Help:      "Confirmable messages retransmitted after their response timeout elapsed.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "CoAP messages received, by transaction type.",
		}, []string{"type"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transmissions_expired_total",
			Help:      "Transmission records evicted once MaxTxHistory has passed since their last event, with or without a response.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "decode_errors_total",
			Help:      "Inbound packets that failed to decode as a CoAP message.",
		}),
		pendingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "pending_transmissions"),
			"Transmission records currently awaiting a response or retransmission.",
			nil, nil,
		),
		unacknowledgedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "unacknowledged_transmissions"),
			"Pending transmission records whose retransmissions are exhausted with no response.",
			nil, nil,
		),
	}
}

// attach records the Endpoint this collector observes. It is called by
// WithCollector; callers never need to invoke it directly.
func (c *EndpointCollector) attach(ep *Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ep = ep
}

// Describe implements prometheus.Collector.
func (c *EndpointCollector) Describe(descs chan<- *prometheus.Desc) {
	c.sent.Describe(descs)
	descs <- c.retransmitted.Desc()
	c.received.Describe(descs)
	descs <- c.expired.Desc()
	descs <- c.decodeErrors.Desc()
	descs <- c.pendingDesc
	descs <- c.unacknowledgedDesc
}

// Collect implements prometheus.Collector. The pending/unacknowledged
// gauges are computed live from the attached Endpoint's state rather than
// cached, matching TCPInfoCollector's Collect-time computation.
func (c *EndpointCollector) Collect(metrics chan<- prometheus.Metric) {
	c.sent.Collect(metrics)
	metrics <- c.retransmitted
	c.received.Collect(metrics)
	metrics <- c.expired
	metrics <- c.decodeErrors

	c.mu.Lock()
	ep := c.ep
	c.mu.Unlock()
	var pending, unacknowledged int
	if ep != nil {
		pending, unacknowledged = ep.pendingStats()
	}
	metrics <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(pending))
	metrics <- prometheus.MustNewConstMetric(c.unacknowledgedDesc, prometheus.GaugeValue, float64(unacknowledged))
}

func (c *EndpointCollector) observeSent(t CType)     { c.sent.WithLabelValues(t.String()).Inc() }
func (c *EndpointCollector) observeRetransmit()      { c.retransmitted.Inc() }
func (c *EndpointCollector) observeReceived(t CType) { c.received.WithLabelValues(t.String()).Inc() }
func (c *EndpointCollector) observeExpired()         { c.expired.Inc() }
func (c *EndpointCollector) observeDecodeError()     { c.decodeErrors.Inc() }
