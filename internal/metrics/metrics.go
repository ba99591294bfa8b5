// Package metrics wires the server facade's connection and traffic counters
// onto a Prometheus registry owned by the caller (cmd/cutenet-server).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cutenet"

// Metrics groups every gauge/counter the server facade updates once per
// update() tick. Nothing here touches the wall clock or blocks; callers
// update values inline as part of their own cooperative update loop.
type Metrics struct {
	ConnectedClients prometheus.Gauge
	PacketsSent      prometheus.Counter
	PacketsReceived  prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	FragmentResends  prometheus.Counter

	RTTSeconds  *prometheus.GaugeVec
	PacketLoss  *prometheus.GaugeVec
	SendBPS     *prometheus.GaugeVec
	RecvBPS     *prometheus.GaugeVec
}

// New creates and registers the metric set on reg. Registration failures
// (duplicate registration of the same collector) are treated as programmer
// error and panic, matching the pack's convention of registering metrics
// once at process startup.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of clients currently in the CONNECTED state.",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total reliability-layer datagrams sent across all connections (handshake and keep-alive packets are not counted).",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total payload datagrams received and accepted by the reliability layer across all connections.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped before payload dispatch, labeled by reason.",
		}, []string{"reason"}),
		FragmentResends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragment_resends_total",
			Help:      "Reliable fragments retransmitted after the resend interval elapsed unacked.",
		}),
		RTTSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rtt_seconds",
			Help:      "Smoothed round-trip time per connection slot.",
		}, []string{"slot"}),
		PacketLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packet_loss_ratio",
			Help:      "Smoothed packet loss ratio per connection slot.",
		}, []string{"slot"}),
		SendBPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_bytes_per_second",
			Help:      "Outbound bandwidth estimate per connection slot.",
		}, []string{"slot"}),
		RecvBPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbound_bytes_per_second",
			Help:      "Inbound bandwidth estimate per connection slot.",
		}, []string{"slot"}),
	}

	reg.MustRegister(
		m.ConnectedClients,
		m.PacketsSent,
		m.PacketsReceived,
		m.PacketsDropped,
		m.FragmentResends,
		m.RTTSeconds,
		m.PacketLoss,
		m.SendBPS,
		m.RecvBPS,
	)
	return m
}

// DropSlot clears the per-connection gauges for a connection that has gone
// away, so its series are not left behind. slot is the label value the
// gauges were set with; the server facade uses the connection's
// correlation id.
func (m *Metrics) DropSlot(slot string) {
	m.RTTSeconds.DeleteLabelValues(slot)
	m.PacketLoss.DeleteLabelValues(slot)
	m.SendBPS.DeleteLabelValues(slot)
	m.RecvBPS.DeleteLabelValues(slot)
}
