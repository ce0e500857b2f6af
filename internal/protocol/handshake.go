package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/cryptoengine"
	"github.com/cryptcat-go/cryptcat/internal/metrics"
	"github.com/cryptcat-go/cryptcat/internal/transport"
)

// handshakeBudget is the wall-clock window the 4-step handshake must
// complete within, checked after each blocking step.
const handshakeBudget = 30 * time.Second

// HandshakeInit is the client's first message: protocol version, the
// salt the server must use to derive the same key material, the
// client's nonce, and the IV the client will encrypt with.
type HandshakeInit struct {
	Version uint16
	Salt    [cryptoengine.SaltSize]byte
	Nonce   [NonceSize]byte
	IV      [cryptoengine.IVSize]byte
}

func (h *HandshakeInit) Encode() []byte {
	buf := make([]byte, 2+cryptoengine.SaltSize+NonceSize+cryptoengine.IVSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	off := 2
	off += copy(buf[off:], h.Salt[:])
	off += copy(buf[off:], h.Nonce[:])
	copy(buf[off:], h.IV[:])
	return buf
}

func decodeHandshakeInit(payload []byte) (*HandshakeInit, error) {
	want := 2 + cryptoengine.SaltSize + NonceSize + cryptoengine.IVSize
	if len(payload) != want {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "bad HandshakeInit length")
	}
	h := &HandshakeInit{Version: binary.BigEndian.Uint16(payload[0:2])}
	off := 2
	off += copy(h.Salt[:], payload[off:off+cryptoengine.SaltSize])
	off += copy(h.Nonce[:], payload[off:off+NonceSize])
	copy(h.IV[:], payload[off:off+cryptoengine.IVSize])
	return h, nil
}

// HandshakeResponse is the server's reply: its own nonce, its own IV
// (which the client will use for its receive-direction Session), and the
// HMAC proof over the client's nonce.
type HandshakeResponse struct {
	Version uint16
	Nonce   [NonceSize]byte
	IV      [cryptoengine.IVSize]byte
	Confirm [ConfirmSize]byte
}

func (h *HandshakeResponse) Encode() []byte {
	buf := make([]byte, 2+NonceSize+cryptoengine.IVSize+ConfirmSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	off := 2
	off += copy(buf[off:], h.Nonce[:])
	off += copy(buf[off:], h.IV[:])
	copy(buf[off:], h.Confirm[:])
	return buf
}

func decodeHandshakeResponse(payload []byte) (*HandshakeResponse, error) {
	want := 2 + NonceSize + cryptoengine.IVSize + ConfirmSize
	if len(payload) != want {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "bad HandshakeResponse length")
	}
	h := &HandshakeResponse{Version: binary.BigEndian.Uint16(payload[0:2])}
	off := 2
	off += copy(h.Nonce[:], payload[off:off+NonceSize])
	off += copy(h.IV[:], payload[off:off+cryptoengine.IVSize])
	copy(h.Confirm[:], payload[off:off+ConfirmSize])
	return h, nil
}

// HandshakeComplete is the client's final message: the HMAC proof over
// the server's nonce.
type HandshakeComplete struct {
	Confirm [ConfirmSize]byte
}

func (h *HandshakeComplete) Encode() []byte {
	buf := make([]byte, ConfirmSize)
	copy(buf, h.Confirm[:])
	return buf
}

func decodeHandshakeComplete(payload []byte) (*HandshakeComplete, error) {
	if len(payload) != ConfirmSize {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "bad HandshakeComplete length")
	}
	h := &HandshakeComplete{}
	copy(h.Confirm[:], payload)
	return h, nil
}

// confirmProof computes the HMAC-SHA256 handshake proof over nonce under
// macKey, as specified for the "confirm" step of both handshake replies.
func confirmProof(macKey [cryptoengine.KeySize]byte, nonce []byte) []byte {
	mac := hmac.New(sha256.New, macKey[:])
	mac.Write(nonce)
	return mac.Sum(nil)
}

func checkHandshakeBudget(deadline time.Time) error {
	if time.Now().After(deadline) {
		return cryptcaterr.Wrap(cryptcaterr.Timeout, "handshake exceeded 30s budget")
	}
	return nil
}

// ClientHandshake drives the client side of the 4-step passphrase
// handshake over an already-dialed transport.Conn, returning a Conn
// whose State is Ready once both confirm proofs check out.
func ClientHandshake(tc transport.Conn, passphrase []byte, logger *slog.Logger, m *metrics.Metrics) (*Conn, error) {
	conn := NewConn(tc, logger, m)
	deadline := time.Now().Add(handshakeBudget)

	salt, err := cryptoengine.RandomBytes(cryptoengine.SaltSize)
	if err != nil {
		return nil, err
	}
	nonceC, err := cryptoengine.RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	ivC, err := cryptoengine.RandomBytes(cryptoengine.IVSize)
	if err != nil {
		return nil, err
	}
	encKey, macKey, err := cryptoengine.DeriveKeys(passphrase, salt)
	if err != nil {
		return nil, err
	}

	sendSession, err := cryptoengine.NewSessionFromKeys(encKey, macKey, ivC)
	if err != nil {
		return nil, err
	}

	init := &HandshakeInit{Version: HandshakeVersion}
	copy(init.Salt[:], salt)
	copy(init.Nonce[:], nonceC)
	copy(init.IV[:], ivC)

	conn.setState(StateAuthenticating)
	if err := conn.SendMessage(TypeHandshakeInit, init.Encode()); err != nil {
		return nil, err
	}
	if err := checkHandshakeBudget(deadline); err != nil {
		return nil, err
	}

	t, payload, err := conn.ReceiveMessage()
	if err != nil {
		return nil, err
	}
	if t == TypeError {
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "peer rejected handshake")
	}
	if t != TypeHandshakeResponse {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "expected HandshakeResponse")
	}
	resp, err := decodeHandshakeResponse(payload)
	if err != nil {
		conn.SendMessage(TypeError, []byte(err.Error()))
		return nil, err
	}
	if resp.Version != HandshakeVersion {
		conn.SendMessage(TypeError, []byte("version mismatch"))
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "handshake version mismatch")
	}

	expected := confirmProof(macKey, nonceC)
	if subtle.ConstantTimeCompare(expected, resp.Confirm[:]) != 1 {
		conn.SendMessage(TypeError, []byte("bad confirm proof"))
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "server confirm proof mismatch")
	}
	if err := checkHandshakeBudget(deadline); err != nil {
		return nil, err
	}

	recvSession, err := cryptoengine.NewSessionFromKeys(encKey, macKey, resp.IV[:])
	if err != nil {
		return nil, err
	}

	complete := &HandshakeComplete{}
	copy(complete.Confirm[:], confirmProof(macKey, resp.Nonce[:]))
	if err := conn.SendMessage(TypeHandshakeComplete, complete.Encode()); err != nil {
		return nil, err
	}

	sendSession.SetAuthenticated(true)
	recvSession.SetAuthenticated(true)
	conn.bindSessions(sendSession, recvSession)
	conn.setState(StateReady)
	return conn, nil
}

// ServerHandshake drives the server side of the 4-step passphrase
// handshake over an accepted transport.Conn.
func ServerHandshake(tc transport.Conn, passphrase []byte, logger *slog.Logger, m *metrics.Metrics) (*Conn, error) {
	conn := NewConn(tc, logger, m)
	deadline := time.Now().Add(handshakeBudget)

	conn.setState(StateAuthenticating)
	t, payload, err := conn.ReceiveMessage()
	if err != nil {
		return nil, err
	}
	if t != TypeHandshakeInit {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "expected HandshakeInit")
	}
	init, err := decodeHandshakeInit(payload)
	if err != nil {
		conn.SendMessage(TypeError, []byte(err.Error()))
		return nil, err
	}
	if init.Version != HandshakeVersion {
		conn.SendMessage(TypeError, []byte("version mismatch"))
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "handshake version mismatch")
	}

	encKey, macKey, err := cryptoengine.DeriveKeys(passphrase, init.Salt[:])
	if err != nil {
		return nil, err
	}
	recvSession, err := cryptoengine.NewSessionFromKeys(encKey, macKey, init.IV[:])
	if err != nil {
		return nil, err
	}

	ivS, err := cryptoengine.RandomBytes(cryptoengine.IVSize)
	if err != nil {
		return nil, err
	}
	sendSession, err := cryptoengine.NewSessionFromKeys(encKey, macKey, ivS)
	if err != nil {
		return nil, err
	}
	nonceS, err := cryptoengine.RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}

	if err := checkHandshakeBudget(deadline); err != nil {
		return nil, err
	}

	resp := &HandshakeResponse{Version: HandshakeVersion}
	copy(resp.Nonce[:], nonceS)
	copy(resp.IV[:], ivS)
	copy(resp.Confirm[:], confirmProof(macKey, init.Nonce[:]))

	if err := conn.SendMessage(TypeHandshakeResponse, resp.Encode()); err != nil {
		return nil, err
	}

	t2, payload2, err := conn.ReceiveMessage()
	if err != nil {
		return nil, err
	}
	if t2 == TypeError {
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "peer rejected handshake")
	}
	if t2 != TypeHandshakeComplete {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "expected HandshakeComplete")
	}
	complete, err := decodeHandshakeComplete(payload2)
	if err != nil {
		conn.SendMessage(TypeError, []byte(err.Error()))
		return nil, err
	}

	expected := confirmProof(macKey, nonceS)
	if subtle.ConstantTimeCompare(expected, complete.Confirm[:]) != 1 {
		conn.SendMessage(TypeError, []byte("bad confirm proof"))
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "client confirm proof mismatch")
	}
	if err := checkHandshakeBudget(deadline); err != nil {
		return nil, err
	}

	sendSession.SetAuthenticated(true)
	recvSession.SetAuthenticated(true)
	conn.bindSessions(sendSession, recvSession)
	conn.setState(StateReady)
	return conn, nil
}
