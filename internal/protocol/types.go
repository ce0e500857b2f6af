// Package protocol implements the cryptcat session protocol: the typed
// message layer (handshake, data, file transfer, control) that sits on
// top of a byte-oriented transport.Conn and runs every application
// payload through a cryptoengine.Session.
package protocol

import "github.com/cryptcat-go/cryptcat/internal/cryptoengine"

// Message type tags (single byte on the wire).
const (
	TypeHandshakeInit     uint8 = 0x01
	TypeHandshakeResponse uint8 = 0x02
	TypeHandshakeComplete uint8 = 0x03
	TypeData              uint8 = 0x10
	TypeFileStart         uint8 = 0x20
	TypeFileChunk         uint8 = 0x21
	TypeFileEnd           uint8 = 0x22
	TypeKeepalive         uint8 = 0x30
	TypeDisconnect        uint8 = 0x40
	TypeError             uint8 = 0xFF
)

// HandshakeVersion is the only protocol version this implementation
// speaks. Any HandshakeInit/HandshakeResponse carrying a different version
// is refused with Error.
const HandshakeVersion uint16 = 1

// Frame layout sizes.
const (
	// FrameHeaderSize is the 1-byte tag + 4-byte big-endian length prefix.
	FrameHeaderSize = 5

	// MaxFramePayload is the largest payload a single frame may carry. A
	// Data/File* frame payload is a post-encryption record, not raw
	// plaintext, so this must cover a maximum-size plaintext plus the
	// Crypto Engine's per-record overhead or Frame.Encode would reject the
	// very largest record cryptoengine.Session.Encrypt can produce.
	MaxFramePayload = cryptoengine.MaxPlaintext + cryptoengine.RecordOverhead

	// NonceSize is the size in bytes of each handshake nonce.
	NonceSize = 32

	// ConfirmSize is the size in bytes of the handshake HMAC-SHA256 proof.
	ConfirmSize = 32

	// MaxFileStartPayload bounds the cleartext-before-encryption
	// "<name>|<size>|<sha256>" payload.
	MaxFileStartPayload = 620

	// ChunkHeaderSize is the 4-byte big-endian chunk-number prefix placed
	// inside a FileChunk payload before encryption.
	ChunkHeaderSize = 4
)

// TypeName returns a human-readable name for a message type tag, used in
// logging and error messages.
func TypeName(t uint8) string {
	switch t {
	case TypeHandshakeInit:
		return "HandshakeInit"
	case TypeHandshakeResponse:
		return "HandshakeResponse"
	case TypeHandshakeComplete:
		return "HandshakeComplete"
	case TypeData:
		return "Data"
	case TypeFileStart:
		return "FileStart"
	case TypeFileChunk:
		return "FileChunk"
	case TypeFileEnd:
		return "FileEnd"
	case TypeKeepalive:
		return "Keepalive"
	case TypeDisconnect:
		return "Disconnect"
	case TypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsHandshakeType reports whether t is one of the three handshake message
// types, which travel cleartext rather than through the Crypto Engine.
func IsHandshakeType(t uint8) bool {
	return t == TypeHandshakeInit || t == TypeHandshakeResponse || t == TypeHandshakeComplete
}

// IsEncryptedType reports whether t's payload must be passed through
// Session.Encrypt/Decrypt.
func IsEncryptedType(t uint8) bool {
	switch t {
	case TypeData, TypeFileStart, TypeFileChunk, TypeFileEnd:
		return true
	default:
		return false
	}
}

// State is the connection state, driven by the handshake and by transport
// events. It lives on Conn rather than on transport.Conn, since the
// handshake is a protocol-layer concept.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateAuthenticating:
		return "Authenticating"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}
