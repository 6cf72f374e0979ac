// Package metrics exposes prometheus instrumentation for the transports.
// Transports take a *Metrics as an optional constructor parameter; process
// owners register it where their scrape endpoint lives.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/transport"
)

// Metrics holds the transport counter families.
type Metrics struct {
	messagesSent      *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	datagramsSent     *prometheus.CounterVec
	datagramsReceived *prometheus.CounterVec
	connects          *prometheus.CounterVec
	disconnects       *prometheus.CounterVec
	frameErrors       *prometheus.CounterVec
}

// New creates the counter families on reg. A nil reg yields working but
// unscraped counters, so library code never branches on "metrics enabled".
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_messages_sent_total",
			Help: "Channel messages handed to a transport for transmission.",
		}, []string{"transport", "channel"}),
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_messages_received_total",
			Help: "Channel messages decoded from a transport.",
		}, []string{"transport", "channel"}),
		datagramsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_datagrams_sent_total",
			Help: "Raw datagrams handed to a transport for transmission.",
		}, []string{"transport"}),
		datagramsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_datagrams_received_total",
			Help: "Raw datagrams received from a transport.",
		}, []string{"transport"}),
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_connects_total",
			Help: "Completed connection setups.",
		}, []string{"transport"}),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_disconnects_total",
			Help: "Connection teardowns by reason.",
		}, []string{"transport", "reason"}),
		frameErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fosnet_frame_errors_total",
			Help: "Frames rejected as oversized or malformed.",
		}, []string{"transport"}),
	}
}

// Nop returns metrics backed by a private registry. Default for transports
// constructed without an explicit Metrics.
func Nop() *Metrics { return New(nil) }

func (m *Metrics) MessageSent(transportName string, ch channel.ID) {
	m.messagesSent.WithLabelValues(transportName, strconv.Itoa(int(ch))).Inc()
}

func (m *Metrics) MessageReceived(transportName string, ch channel.ID) {
	m.messagesReceived.WithLabelValues(transportName, strconv.Itoa(int(ch))).Inc()
}

func (m *Metrics) DatagramSent(transportName string) {
	m.datagramsSent.WithLabelValues(transportName).Inc()
}

func (m *Metrics) DatagramReceived(transportName string) {
	m.datagramsReceived.WithLabelValues(transportName).Inc()
}

func (m *Metrics) Connect(transportName string) {
	m.connects.WithLabelValues(transportName).Inc()
}

func (m *Metrics) Disconnect(transportName string, reason transport.DisconnectReason) {
	m.disconnects.WithLabelValues(transportName, reason.String()).Inc()
}

func (m *Metrics) FrameError(transportName string) {
	m.frameErrors.WithLabelValues(transportName).Inc()
}
