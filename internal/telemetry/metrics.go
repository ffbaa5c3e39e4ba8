// Package telemetry unifies the Prometheus metrics the teacher split
// across smtp-server/smtp/server.go and imap-server/imap/server.go into
// one registry shared by SMTP, IMAP, and POP3, since all three protocols
// expose the same shape of ambient observability (connections, commands,
// auth attempts, message throughput).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge/histogram the protocol servers
// publish. Register it once against a prometheus.Registerer at startup.
type Metrics struct {
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionsActive  *prometheus.GaugeVec
	CommandsProcessed  *prometheus.CounterVec
	AuthAttempts       *prometheus.CounterVec
	SessionDuration    *prometheus.HistogramVec
	MessagesReceived   *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	MessageSize        prometheus.Histogram
	DeliveryDuration   prometheus.Histogram
}

// New constructs the metric vectors. Call Register to attach them.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailcore", Name: "connections_total", Help: "Total connections accepted, by protocol.",
		}, []string{"protocol"}),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mailcore", Name: "connections_active", Help: "Currently open connections, by protocol.",
		}, []string{"protocol"}),
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailcore", Name: "commands_processed_total", Help: "Commands processed, by protocol and command.",
		}, []string{"protocol", "command"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailcore", Name: "auth_attempts_total", Help: "Authentication attempts, by protocol and result.",
		}, []string{"protocol", "result"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailcore", Name: "session_duration_seconds", Help: "Session lifetime, by protocol.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"protocol"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailcore", Name: "messages_received_total", Help: "Messages accepted for local delivery.",
		}, []string{"domain"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailcore", Name: "messages_rejected_total", Help: "Messages rejected, by reason.",
		}, []string{"reason"}),
		MessageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailcore", Name: "message_size_bytes", Help: "Size of delivered messages.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailcore", Name: "delivery_duration_seconds", Help: "Time to complete local delivery.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register attaches all metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ConnectionsTotal, m.ConnectionsActive, m.CommandsProcessed, m.AuthAttempts,
		m.SessionDuration, m.MessagesReceived, m.MessagesRejected, m.MessageSize, m.DeliveryDuration,
	)
}
