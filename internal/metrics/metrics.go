// Package metrics provides Prometheus metrics for cryptcat.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cryptcat"
)

// Metrics contains all Prometheus metrics for one cryptcat process.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec

	// Handshake metrics
	HandshakeLatency prometheus.Histogram
	HandshakeSuccess prometheus.Counter
	HandshakeErrors  *prometheus.CounterVec

	// Record-layer metrics
	RecordsEncrypted prometheus.Counter
	RecordsDecrypted prometheus.Counter
	RecordErrors     *prometheus.CounterVec
	ReplayRejections prometheus.Counter

	// Data transfer metrics
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
	MessagesSent  *prometheus.CounterVec
	MessagesRecv  *prometheus.CounterVec

	// File transfer metrics
	FileTransfersStarted  prometheus.Counter
	FileTransfersComplete prometheus.Counter
	FileTransfersFailed   *prometheus.CounterVec
	FileChunksSent        prometheus.Counter
	FileChunksReceived    prometheus.Counter
	FileBytesTransferred  prometheus.Counter

	// Keepalive metrics
	KeepalivesSent prometheus.Counter
	KeepalivesRecv prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered
// against a caller-supplied registry, so tests can use their own.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently established sessions",
		}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total sessions established by role",
		}, []string{"role"}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total session teardowns by reason",
		}, []string{"reason"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of handshake completion latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		HandshakeSuccess: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_success_total",
			Help:      "Total handshakes that reached Ready",
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake failures by kind",
		}, []string{"kind"}),

		RecordsEncrypted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_encrypted_total",
			Help:      "Total records encrypted and sent",
		}),
		RecordsDecrypted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decrypted_total",
			Help:      "Total records decrypted and accepted",
		}),
		RecordErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Total record decrypt/verify failures by kind",
		}, []string{"kind"}),
		ReplayRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_rejections_total",
			Help:      "Total records rejected for non-increasing sequence numbers",
		}),

		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total plaintext bytes sent across all messages",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total plaintext bytes received across all messages",
		}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total messages sent by type",
		}, []string{"type"}),
		MessagesRecv: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total messages received by type",
		}, []string{"type"}),

		FileTransfersStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_transfers_started_total",
			Help:      "Total file transfers started",
		}),
		FileTransfersComplete: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_transfers_complete_total",
			Help:      "Total file transfers verified and completed",
		}),
		FileTransfersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_transfers_failed_total",
			Help:      "Total file transfers that failed by reason",
		}, []string{"reason"}),
		FileChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_chunks_sent_total",
			Help:      "Total file chunks sent",
		}),
		FileChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_chunks_received_total",
			Help:      "Total file chunks received",
		}),
		FileBytesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_bytes_transferred_total",
			Help:      "Total file payload bytes transferred",
		}),

		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total keepalive messages sent",
		}),
		KeepalivesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_received_total",
			Help:      "Total keepalive messages received",
		}),
	}
}

// RecordConnect records a new session reaching Ready.
func (m *Metrics) RecordConnect(role string) {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.WithLabelValues(role).Inc()
}

// RecordDisconnect records a session teardown.
func (m *Metrics) RecordDisconnect(reason string) {
	m.ConnectionsActive.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

// RecordHandshakeSuccess records a completed handshake and its latency.
func (m *Metrics) RecordHandshakeSuccess(latencySeconds float64) {
	m.HandshakeLatency.Observe(latencySeconds)
	m.HandshakeSuccess.Inc()
}

// RecordHandshakeError records a handshake failure by error kind.
func (m *Metrics) RecordHandshakeError(kind string) {
	m.HandshakeErrors.WithLabelValues(kind).Inc()
}

// RecordEncrypt records one record encrypted and sent.
func (m *Metrics) RecordEncrypt(plaintextBytes int) {
	m.RecordsEncrypted.Inc()
	m.BytesSent.Add(float64(plaintextBytes))
}

// RecordDecrypt records one record decrypted and accepted.
func (m *Metrics) RecordDecrypt(plaintextBytes int) {
	m.RecordsDecrypted.Inc()
	m.BytesReceived.Add(float64(plaintextBytes))
}

// RecordRecordError records a record decrypt/verify failure by kind, and
// also counts ReplayRejections when kind is "replay". The session layer's
// own call site reports only "auth_failed" or "malformed", since the
// Crypto Engine reports a replay and a bad MAC alike as AuthFailed.
func (m *Metrics) RecordRecordError(kind string) {
	m.RecordErrors.WithLabelValues(kind).Inc()
	if kind == "replay" {
		m.ReplayRejections.Inc()
	}
}

// RecordMessageSent records one message frame sent by type.
func (m *Metrics) RecordMessageSent(msgType string) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordMessageReceived records one message frame received by type.
func (m *Metrics) RecordMessageReceived(msgType string) {
	m.MessagesRecv.WithLabelValues(msgType).Inc()
}

// RecordFileTransferStart records a file transfer beginning.
func (m *Metrics) RecordFileTransferStart() {
	m.FileTransfersStarted.Inc()
}

// RecordFileTransferComplete records a verified, completed file transfer.
func (m *Metrics) RecordFileTransferComplete() {
	m.FileTransfersComplete.Inc()
}

// RecordFileTransferFailed records a failed file transfer by reason.
func (m *Metrics) RecordFileTransferFailed(reason string) {
	m.FileTransfersFailed.WithLabelValues(reason).Inc()
}

// RecordFileChunkSent records one outbound file chunk.
func (m *Metrics) RecordFileChunkSent(bytes int) {
	m.FileChunksSent.Inc()
	m.FileBytesTransferred.Add(float64(bytes))
}

// RecordFileChunkReceived records one inbound file chunk.
func (m *Metrics) RecordFileChunkReceived(bytes int) {
	m.FileChunksReceived.Inc()
	m.FileBytesTransferred.Add(float64(bytes))
}

// RecordKeepaliveSent records a keepalive sent.
func (m *Metrics) RecordKeepaliveSent() {
	m.KeepalivesSent.Inc()
}

// RecordKeepaliveReceived records a keepalive received.
func (m *Metrics) RecordKeepaliveReceived() {
	m.KeepalivesRecv.Inc()
}
