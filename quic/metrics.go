package quic

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the Prometheus collectors shared by every endpoint in the
// process under a given namespace. They register with the default
// registerer so a binary embedding this package gets them on its usual
// /metrics handler for free.
type metrics struct {
	connsActive    prometheus.Gauge
	connsAccepted  prometheus.Counter
	connsClosed    prometheus.Counter
	packetsSent    prometheus.Counter
	packetsRecv    prometheus.Counter
	packetsDropped prometheus.Counter
	bytesSent      prometheus.Counter
	bytesRecv      prometheus.Counter

	// Per-connection recovery/congestion snapshots, refreshed from the
	// most recently driven connection on every drive() call. They report
	// one connection's state rather than an aggregate, which is good
	// enough for spotting a stalled or congested endpoint.
	congestionWindow  prometheus.Gauge
	bytesInFlight     prometheus.Gauge
	smoothedRTT       prometheus.Gauge
	handshakeDuration prometheus.Histogram
}

var (
	metricsMu   sync.Mutex
	metricsByNS = map[string]*metrics{}
)

// newMetrics returns the metrics instance for namespace, creating and
// registering it on first use. A client and a server sharing a process
// (and so a namespace) share one set of collectors.
func newMetrics(namespace string) *metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m, ok := metricsByNS[namespace]; ok {
		return m
	}
	m := &metrics{
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Number of QUIC connections currently tracked by this endpoint.",
		}),
		connsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Total QUIC connections accepted or dialed.",
		}),
		connsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Total QUIC connections that have fully closed.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_sent_total",
			Help: "Total QUIC packets written to the socket.",
		}),
		packetsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_received_total",
			Help: "Total datagrams read from the socket.",
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total",
			Help: "Total datagrams that could not be routed to any connection.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Total bytes written to the socket.",
		}),
		bytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Total bytes read from the socket.",
		}),
		congestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "congestion_window_bytes",
			Help: "Congestion window of the most recently driven connection.",
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bytes_in_flight",
			Help: "Bytes in flight for the most recently driven connection.",
		}),
		smoothedRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "smoothed_rtt_seconds",
			Help: "Smoothed RTT of the most recently driven connection.",
		}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handshake_duration_seconds",
			Help:    "Time from connection creation to handshake confirmation.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	prometheus.MustRegister(
		m.connsActive, m.connsAccepted, m.connsClosed,
		m.packetsSent, m.packetsRecv, m.packetsDropped,
		m.bytesSent, m.bytesRecv,
		m.congestionWindow, m.bytesInFlight, m.smoothedRTT, m.handshakeDuration,
	)
	metricsByNS[namespace] = m
	return m
}
