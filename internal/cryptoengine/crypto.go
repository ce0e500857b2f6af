// Package cryptoengine implements cryptcat's confidential,
// integrity-protected, replay-resistant record encapsulation. It derives
// session keys from a shared passphrase with PBKDF2-HMAC-SHA256, encrypts
// with Twofish-256 in CFB mode, and authenticates every record with a
// detached HMAC-SHA256 tag. It has no outward dependencies beyond the
// standard library and golang.org/x/crypto.
package cryptoengine

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/twofish"
)

const (
	// KeySize is the size in bytes of both the encryption and MAC keys.
	KeySize = 32

	// SaltSize is the size in bytes of the PBKDF2 salt.
	SaltSize = 32

	// IVSize is the size in bytes of the Twofish-CFB initialization vector.
	IVSize = 16

	// MACSize is the size in bytes of the trailing HMAC-SHA256 tag.
	MACSize = 32

	// SeqSize is the size in bytes of the leading big-endian sequence number.
	SeqSize = 8

	// RecordOverhead is the number of bytes a record adds to its plaintext:
	// the 8-byte sequence number plus the 32-byte trailing MAC.
	RecordOverhead = SeqSize + MACSize

	// MaxPlaintext is the largest plaintext a single record may carry.
	MaxPlaintext = 65536

	// MaxPassphrase is the largest passphrase accepted by NewSession.
	MaxPassphrase = 1024

	// pbkdf2Iterations is the fixed, non-negotiated PBKDF2 iteration count.
	pbkdf2Iterations = 200000

	// keyMaterialSize is the total bytes of PBKDF2 output: enc_key || mac_key.
	keyMaterialSize = KeySize * 2
)

// Session holds one direction's worth of Twofish-CFB keystream state plus
// the shared key material and sequence counters. A full CryptoSession, as
// described in the design, is a pair of Sessions: one bound to the local
// encrypt stream and one bound to the local decrypt stream, each seeded
// with its own independently generated IV (see Pair and the design note on
// per-direction IVs in SPEC_FULL.md §4.1 / §9).
type Session struct {
	mu sync.Mutex

	encKey [KeySize]byte
	macKey [KeySize]byte
	iv     [IVSize]byte

	encStream cipher.Stream
	decStream cipher.Stream

	sendSeq uint64
	recvSeq uint64

	bytesSent     uint64
	bytesReceived uint64
	createdAt     time.Time
	lastActivity  time.Time

	authenticated bool
	destroyed     bool
}

// Pair is the two half-sessions that make up one authenticated connection:
// the session used to encrypt outbound records and the session used to
// decrypt inbound ones. They share the same enc_key/mac_key (both derived
// once from the passphrase) but run independent IVs and sequence counters,
// so nothing is shared between directions except the symmetric key
// material — exactly the "my encrypt = peer's decrypt" requirement from
// the design notes.
type Pair struct {
	Send *Session
	Recv *Session
}

// NewSession derives key material from passphrase and a fresh random salt,
// generates a fresh local IV, and returns an unauthenticated Session. The
// caller must derive both halves of a Pair from the same enc/mac keys
// (see NewSessionFromKeys) and must call SetAuthenticated once the handshake
// completes.
func NewSession(passphrase []byte) (*Session, error) {
	if len(passphrase) == 0 || len(passphrase) > MaxPassphrase {
		return nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "passphrase length out of range")
	}

	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(salt)

	encKey, macKey, err := DeriveKeys(passphrase, salt)
	if err != nil {
		return nil, err
	}

	iv, err := RandomBytes(IVSize)
	if err != nil {
		return nil, err
	}

	return NewSessionFromKeys(encKey, macKey, iv)
}

// NewSessionFromKeys builds a Session around already-derived key material
// and an already-agreed IV. It is used both by NewSession (which generates
// its own fresh IV) and by the handshake, which builds the peer-direction
// half of a Pair from the IV carried in the peer's handshake message.
func NewSessionFromKeys(encKey, macKey [KeySize]byte, iv []byte) (*Session, error) {
	if len(iv) != IVSize {
		return nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "iv must be 16 bytes")
	}

	block, err := twofish.NewCipher(encKey[:])
	if err != nil {
		return nil, cryptcaterr.New(cryptcaterr.Io, err)
	}

	s := &Session{
		encKey: encKey,
		macKey: macKey,
	}
	copy(s.iv[:], iv)

	// CFB is self-synchronizing and symmetric: the same key+IV produces
	// independent encrypt/decrypt keystreams, one per direction of use.
	s.encStream = cipher.NewCFBEncrypter(block, s.iv[:])
	s.decStream = cipher.NewCFBDecrypter(block, s.iv[:])

	now := time.Now()
	s.createdAt = now
	s.lastActivity = now

	return s, nil
}

// DeriveKeys expands passphrase and salt into a 64-byte PBKDF2-HMAC-SHA256
// stream and splits it deterministically into enc_key || mac_key.
func DeriveKeys(passphrase, salt []byte) (encKey, macKey [KeySize]byte, err error) {
	if len(passphrase) == 0 || len(passphrase) > MaxPassphrase {
		return encKey, macKey, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "passphrase length out of range")
	}
	if len(salt) != SaltSize {
		return encKey, macKey, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "salt must be 32 bytes")
	}

	material := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, keyMaterialSize, sha256.New)
	defer ZeroBytes(material)

	copy(encKey[:], material[:KeySize])
	copy(macKey[:], material[KeySize:])
	return encKey, macKey, nil
}

// SetAuthenticated marks the session usable (or not) by Encrypt/Decrypt.
// The Session Protocol handshake state machine drives this flag.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}

// Authenticated reports whether the handshake has completed for this
// session.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// IV returns a copy of this session's locally-generated IV, to be carried
// in the cleartext handshake payload so the peer can build the matching
// decrypt-direction Session.
func (s *Session) IV() [IVSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iv
}

// Encrypt authenticates and encrypts plaintext into a wire record:
// seq (8 bytes, big-endian) || ciphertext (len(plaintext) bytes) ||
// HMAC-SHA256(mac_key, seq||ciphertext) (32 bytes). The record is exactly
// len(plaintext) + RecordOverhead bytes. Sequence numbers start at 1: the
// first record carries 1, and SendCounter equals the sequence of the most
// recent record.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || !s.authenticated {
		return nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "session not authenticated")
	}
	if len(plaintext) == 0 || len(plaintext) > MaxPlaintext {
		return nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "plaintext length out of range")
	}

	seq := s.sendSeq + 1
	record := make([]byte, SeqSize+len(plaintext)+MACSize)
	binary.BigEndian.PutUint64(record[:SeqSize], seq)

	s.encStream.XORKeyStream(record[SeqSize:SeqSize+len(plaintext)], plaintext)

	tag := hmac.New(sha256.New, s.macKey[:])
	tag.Write(record[:SeqSize+len(plaintext)])
	copy(record[SeqSize+len(plaintext):], tag.Sum(nil))

	s.sendSeq = seq
	s.bytesSent += uint64(len(plaintext))
	s.lastActivity = time.Now()

	return record, nil
}

// Decrypt verifies and decrypts a wire record produced by the peer's
// matching Encrypt call. Any MAC mismatch or replayed/out-of-order
// sequence collapses to AuthFailed, matching the original's "never
// distinguish" rule: an external observer cannot tell a bad MAC from a
// replay from malformed ciphertext.
func (s *Session) Decrypt(record []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || !s.authenticated {
		return nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "session not authenticated")
	}
	if len(record) < RecordOverhead {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "record shorter than minimum overhead")
	}

	macStart := len(record) - MACSize
	seq := binary.BigEndian.Uint64(record[:SeqSize])

	// Replay window of one: the peer must present a sequence strictly
	// greater than the last one accepted. Senders start at 1, so a fresh
	// session (RecvCounter 0) accepts the first record and rejects seq 0.
	if seq <= s.recvSeq {
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "replayed or out-of-order sequence")
	}

	expectedTag := hmac.New(sha256.New, s.macKey[:])
	expectedTag.Write(record[:macStart])
	expected := expectedTag.Sum(nil)

	if subtle.ConstantTimeCompare(expected, record[macStart:]) != 1 {
		return nil, cryptcaterr.Wrap(cryptcaterr.AuthFailed, "mac mismatch")
	}

	ciphertext := record[SeqSize:macStart]
	plaintext := make([]byte, len(ciphertext))
	s.decStream.XORKeyStream(plaintext, ciphertext)

	s.recvSeq = seq
	s.bytesReceived += uint64(len(plaintext))
	s.lastActivity = time.Now()

	return plaintext, nil
}

// SendCounter returns the count of records already sent, which is also
// the sequence number carried by the most recent record (0 before any).
func (s *Session) SendCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendSeq
}

// RecvCounter returns the last accepted sequence number (0 before any).
func (s *Session) RecvCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvSeq
}

// Stats reports the session's byte counters and timestamps, feeding the
// File Transfer Engine's get_info rate/elapsed calculations and the
// structured logger.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	CreatedAt     time.Time
	LastActivity  time.Time
}

// Stats returns a snapshot of the session's activity counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BytesSent:     s.bytesSent,
		BytesReceived: s.bytesReceived,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
	}
}

// Destroy overwrites all key material and cipher-context internals before
// the Session becomes eligible for garbage collection. It must be called
// when the owning connection closes.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ZeroKey(&s.encKey)
	ZeroKey(&s.macKey)
	for i := range s.iv {
		s.iv[i] = 0
	}
	s.encStream = nil
	s.decStream = nil
	s.destroyed = true
	s.authenticated = false
}

// ZeroBytes overwrites b with zeros in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey overwrites a fixed-size key array with zeros in place.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}

// RandomBytes returns n bytes from the platform's cryptographic RNG. If
// crypto/rand's reader fails on the first attempt, it falls back once to
// reading directly from /dev/urandom, matching the original's
// platform_random_seed fallback path; if neither source succeeds the call
// fails with Io (the core's closed taxonomy has no narrower category for a
// local entropy-source failure).
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err == nil {
		return buf, nil
	}

	f, ferr := os.Open("/dev/urandom")
	if ferr != nil {
		return nil, cryptcaterr.New(cryptcaterr.Io, ferr)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, cryptcaterr.New(cryptcaterr.Io, err)
	}
	return buf, nil
}
