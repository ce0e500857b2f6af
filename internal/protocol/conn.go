package protocol

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/cryptoengine"
	"github.com/cryptcat-go/cryptcat/internal/logging"
	"github.com/cryptcat-go/cryptcat/internal/metrics"
	"github.com/cryptcat-go/cryptcat/internal/transport"
)

// Conn is one authenticated (or authenticating) session-protocol
// connection: a transport.Conn plus the directional crypto sessions that
// become live once the handshake completes, plus the connection's State.
type Conn struct {
	mu sync.Mutex

	tc    transport.Conn
	send  *cryptoengine.Session
	recv  *cryptoengine.Session
	state State

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewConn wraps a connected transport.Conn. The returned Conn starts in
// StateConnecting and carries no crypto session until a handshake binds
// one via bindSessions. A nil metrics defaults to the process-wide
// Default() instance.
func NewConn(tc transport.Conn, logger *slog.Logger, m *metrics.Metrics) *Conn {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Conn{tc: tc, state: StateConnecting, logger: logger, metrics: m}
}

// State reports the connection's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("connection state transition",
		logging.KeyConnState, s.String(),
		"from", prev.String())
}

func (c *Conn) bindSessions(send, recv *cryptoengine.Session) {
	c.mu.Lock()
	c.send = send
	c.recv = recv
	c.mu.Unlock()
}

// LocalAddr and RemoteAddr delegate to the underlying transport.Conn.
func (c *Conn) LocalAddr() net.Addr  { return c.tc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.tc.RemoteAddr() }

// SendMessage frames and writes a message. Data, FileStart, FileChunk,
// and FileEnd payloads are passed through the send-direction Session
// first; handshake, Keepalive, Disconnect, and Error payloads travel
// cleartext.
func (c *Conn) SendMessage(t uint8, payload []byte) error {
	out := payload
	if IsEncryptedType(t) {
		c.mu.Lock()
		send := c.send
		c.mu.Unlock()
		if send == nil {
			return cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "no send session established")
		}
		record, err := send.Encrypt(payload)
		if err != nil {
			return err
		}
		c.metrics.RecordEncrypt(len(payload))
		out = record
	}
	if err := WriteFrame(c.tc, &Frame{Type: t, Payload: out}); err != nil {
		return err
	}
	c.metrics.RecordMessageSent(TypeName(t))
	return nil
}

// ReceiveMessage reads and decodes the next message. Unknown tags are
// Malformed; encrypted types are run through the receive-direction
// Session before being handed back.
func (c *Conn) ReceiveMessage() (uint8, []byte, error) {
	f, err := ReadFrame(c.tc)
	if err != nil {
		return 0, nil, err
	}
	if !isKnownType(f.Type) {
		return 0, nil, cryptcaterr.Wrap(cryptcaterr.Malformed, fmt.Sprintf("unknown message type 0x%02x", f.Type))
	}

	payload := f.Payload
	if IsEncryptedType(f.Type) {
		c.mu.Lock()
		recv := c.recv
		c.mu.Unlock()
		if recv == nil {
			return 0, nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "no receive session established")
		}
		payload, err = recv.Decrypt(payload)
		if err != nil {
			c.metrics.RecordRecordError(recordErrorKind(err))
			return 0, nil, err
		}
		c.metrics.RecordDecrypt(len(payload))
	}
	c.metrics.RecordMessageReceived(TypeName(f.Type))
	return f.Type, payload, nil
}

// recordErrorKind maps a record decrypt/verify failure onto the label used
// by RecordRecordError. Decrypt collapses replay and MAC-mismatch failures
// alike into AuthFailed (the engine never distinguishes these to callers),
// so both surface under the same "auth_failed" label; only Malformed
// (too-short record) is distinguished.
func recordErrorKind(err error) string {
	if cryptcaterr.Is(err, cryptcaterr.Malformed) {
		return "malformed"
	}
	return "auth_failed"
}

// SendDataMessage is a convenience wrapper around SendMessage for Data.
func (c *Conn) SendDataMessage(data []byte) error {
	return c.SendMessage(TypeData, data)
}

// SendFileStart emits the FileStart preamble: "<name>|<size>|<sha256hex>".
func (c *Conn) SendFileStart(name string, size uint64, sha256Hex string) error {
	payload := fmt.Sprintf("%s|%d|%s", name, size, sha256Hex)
	if len(payload) > MaxFileStartPayload {
		return cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "FileStart payload exceeds maximum size")
	}
	return c.SendMessage(TypeFileStart, []byte(payload))
}

// SendFileChunk emits one FileChunk: a 4-byte big-endian chunk number
// followed by the chunk bytes, so the chunk counter rides inside the MAC.
func (c *Conn) SendFileChunk(chunkNo uint32, data []byte) error {
	buf := make([]byte, ChunkHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf[:ChunkHeaderSize], chunkNo)
	copy(buf[ChunkHeaderSize:], data)
	return c.SendMessage(TypeFileChunk, buf)
}

// SendFileEnd emits the FileEnd trailer: the raw 32-byte SHA-256 digest.
func (c *Conn) SendFileEnd(sha256 [32]byte) error {
	return c.SendMessage(TypeFileEnd, sha256[:])
}

// SendKeepalive emits an empty-payload liveness probe.
func (c *Conn) SendKeepalive() error {
	return c.SendMessage(TypeKeepalive, nil)
}

// SendDisconnect is a best-effort announcement; the caller still closes
// the transport afterward regardless of whether this send succeeds.
func (c *Conn) SendDisconnect(reason string) error {
	return c.SendMessage(TypeDisconnect, []byte(reason))
}

// Close destroys both crypto sessions and closes the underlying
// transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.state = StateClosing
	send, recv := c.send, c.recv
	c.mu.Unlock()

	if send != nil {
		send.Destroy()
	}
	if recv != nil {
		recv.Destroy()
	}
	c.metrics.RecordDisconnect("closed")
	return c.tc.Close()
}

func isKnownType(t uint8) bool {
	switch t {
	case TypeHandshakeInit, TypeHandshakeResponse, TypeHandshakeComplete,
		TypeData, TypeFileStart, TypeFileChunk, TypeFileEnd,
		TypeKeepalive, TypeDisconnect, TypeError:
		return true
	default:
		return false
	}
}
