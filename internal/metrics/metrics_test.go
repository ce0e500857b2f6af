package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.ConnectionsActive == nil {
		t.Error("ConnectionsActive metric is nil")
	}
	if m.RecordsEncrypted == nil {
		t.Error("RecordsEncrypted metric is nil")
	}
	if m.BytesSent == nil {
		t.Error("BytesSent metric is nil")
	}
}

func TestRecordConnectDisconnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordConnect("client")
	m.RecordConnect("server")
	m.RecordConnect("client")

	active := testutil.ToFloat64(m.ConnectionsActive)
	if active != 3 {
		t.Errorf("ConnectionsActive = %v, want 3", active)
	}

	clientTotal := testutil.ToFloat64(m.ConnectionsTotal.WithLabelValues("client"))
	if clientTotal != 2 {
		t.Errorf("ConnectionsTotal[client] = %v, want 2", clientTotal)
	}

	m.RecordDisconnect("peer_closed")

	active = testutil.ToFloat64(m.ConnectionsActive)
	if active != 2 {
		t.Errorf("ConnectionsActive after disconnect = %v, want 2", active)
	}
	disconnects := testutil.ToFloat64(m.Disconnects.WithLabelValues("peer_closed"))
	if disconnects != 1 {
		t.Errorf("Disconnects[peer_closed] = %v, want 1", disconnects)
	}
}

func TestRecordHandshake(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordHandshakeSuccess(0.05)
	m.RecordHandshakeSuccess(0.02)
	m.RecordHandshakeError("AuthFailed")
	m.RecordHandshakeError("Timeout")
	m.RecordHandshakeError("AuthFailed")

	success := testutil.ToFloat64(m.HandshakeSuccess)
	if success != 2 {
		t.Errorf("HandshakeSuccess = %v, want 2", success)
	}

	authFailed := testutil.ToFloat64(m.HandshakeErrors.WithLabelValues("AuthFailed"))
	if authFailed != 2 {
		t.Errorf("HandshakeErrors[AuthFailed] = %v, want 2", authFailed)
	}
	timeout := testutil.ToFloat64(m.HandshakeErrors.WithLabelValues("Timeout"))
	if timeout != 1 {
		t.Errorf("HandshakeErrors[Timeout] = %v, want 1", timeout)
	}
}

func TestRecordEncryptDecrypt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordEncrypt(100)
	m.RecordEncrypt(50)
	m.RecordDecrypt(200)

	encrypted := testutil.ToFloat64(m.RecordsEncrypted)
	if encrypted != 2 {
		t.Errorf("RecordsEncrypted = %v, want 2", encrypted)
	}
	sent := testutil.ToFloat64(m.BytesSent)
	if sent != 150 {
		t.Errorf("BytesSent = %v, want 150", sent)
	}
	decrypted := testutil.ToFloat64(m.RecordsDecrypted)
	if decrypted != 1 {
		t.Errorf("RecordsDecrypted = %v, want 1", decrypted)
	}
	recv := testutil.ToFloat64(m.BytesReceived)
	if recv != 200 {
		t.Errorf("BytesReceived = %v, want 200", recv)
	}
}

func TestRecordRecordErrorTracksReplaySeparately(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRecordError("replay")
	m.RecordRecordError("replay")
	m.RecordRecordError("tamper")

	replayKind := testutil.ToFloat64(m.RecordErrors.WithLabelValues("replay"))
	if replayKind != 2 {
		t.Errorf("RecordErrors[replay] = %v, want 2", replayKind)
	}
	replayCounter := testutil.ToFloat64(m.ReplayRejections)
	if replayCounter != 2 {
		t.Errorf("ReplayRejections = %v, want 2", replayCounter)
	}
	tamperKind := testutil.ToFloat64(m.RecordErrors.WithLabelValues("tamper"))
	if tamperKind != 1 {
		t.Errorf("RecordErrors[tamper] = %v, want 1", tamperKind)
	}
}

func TestRecordMessages(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordMessageSent("Data")
	m.RecordMessageSent("Data")
	m.RecordMessageSent("Keepalive")
	m.RecordMessageReceived("Data")

	dataSent := testutil.ToFloat64(m.MessagesSent.WithLabelValues("Data"))
	if dataSent != 2 {
		t.Errorf("MessagesSent[Data] = %v, want 2", dataSent)
	}
	keepaliveSent := testutil.ToFloat64(m.MessagesSent.WithLabelValues("Keepalive"))
	if keepaliveSent != 1 {
		t.Errorf("MessagesSent[Keepalive] = %v, want 1", keepaliveSent)
	}
}

func TestRecordFileTransfer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordFileTransferStart()
	m.RecordFileTransferStart()
	m.RecordFileTransferComplete()
	m.RecordFileTransferFailed("VerifyFailed")
	m.RecordFileChunkSent(16384)
	m.RecordFileChunkReceived(16384)

	started := testutil.ToFloat64(m.FileTransfersStarted)
	if started != 2 {
		t.Errorf("FileTransfersStarted = %v, want 2", started)
	}
	complete := testutil.ToFloat64(m.FileTransfersComplete)
	if complete != 1 {
		t.Errorf("FileTransfersComplete = %v, want 1", complete)
	}
	failed := testutil.ToFloat64(m.FileTransfersFailed.WithLabelValues("VerifyFailed"))
	if failed != 1 {
		t.Errorf("FileTransfersFailed[VerifyFailed] = %v, want 1", failed)
	}
	bytesTransferred := testutil.ToFloat64(m.FileBytesTransferred)
	if bytesTransferred != 32768 {
		t.Errorf("FileBytesTransferred = %v, want 32768", bytesTransferred)
	}
}

func TestRecordKeepalive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordKeepaliveSent()
	m.RecordKeepaliveSent()
	m.RecordKeepaliveReceived()

	sent := testutil.ToFloat64(m.KeepalivesSent)
	if sent != 2 {
		t.Errorf("KeepalivesSent = %v, want 2", sent)
	}
	recv := testutil.ToFloat64(m.KeepalivesRecv)
	if recv != 1 {
		t.Errorf("KeepalivesRecv = %v, want 1", recv)
	}
}

func TestDefaultMetrics(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return same instance")
	}
	if m1 == nil {
		t.Error("Default() returned nil")
	}
}
