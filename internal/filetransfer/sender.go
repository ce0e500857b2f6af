// Package filetransfer drives one file end-to-end across a Ready session
// protocol connection: FileStart, a stream of FileChunk messages, and a
// closing FileEnd, with strict in-order acceptance and SHA-256
// verification on the receiving side.
package filetransfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/logging"
	"github.com/cryptcat-go/cryptcat/internal/metrics"
	"github.com/cryptcat-go/cryptcat/internal/protocol"
)

// ChunkSize is the default read size per FileChunk.
const ChunkSize = 16384

// MaxChunkSize is the largest chunk a sender may ever emit.
const MaxChunkSize = 65536

// hashBufferSize is the buffer used while streaming the whole-file
// SHA-256 pass, independent of ChunkSize.
const hashBufferSize = 8192

// SenderState is the sender-side file transfer state machine.
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderPreparing
	SenderSending
	SenderComplete
	SenderError
	SenderCancelled
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "Idle"
	case SenderPreparing:
		return "Preparing"
	case SenderSending:
		return "Sending"
	case SenderComplete:
		return "Complete"
	case SenderError:
		return "Error"
	case SenderCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Sender drives the sending half of one file transfer over a protocol.Conn.
type Sender struct {
	conn    *protocol.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics

	state                SenderState
	bytesSent            uint64
	fileSize             int64
	chunksSent           uint32
	path                 string
	cancelled            bool
	rateLimitBytesPerSec int64
}

// SetRateLimit caps the sender's read throughput to bytesPerSecond. Zero
// or negative leaves the transfer unlimited, which is the default. Must
// be called before Send.
func (s *Sender) SetRateLimit(bytesPerSecond int64) {
	s.rateLimitBytesPerSec = bytesPerSecond
}

// NewSender builds a Sender bound to an already-Ready protocol.Conn. A nil
// metrics defaults to the process-wide Default() instance.
func NewSender(conn *protocol.Conn, logger *slog.Logger, m *metrics.Metrics) *Sender {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Sender{conn: conn, logger: logger, metrics: m, state: SenderIdle}
}

// State reports the sender's current state.
func (s *Sender) State() SenderState { return s.state }

// BytesSent reports how many file bytes have been transmitted so far.
func (s *Sender) BytesSent() uint64 { return s.bytesSent }

// Cancel marks the transfer cancelled; the next Send loop iteration will
// observe it and stop.
func (s *Sender) Cancel() { s.cancelled = true }

// Send drives one complete file transfer: stat, hash, FileStart,
// FileChunk*, FileEnd. path must name a regular, non-empty file.
func (s *Sender) Send(path string) error {
	s.state = SenderPreparing
	s.path = path

	// Open first, then stat the open descriptor: stating the path and
	// opening it as two separate syscalls would leave a window for the
	// path to start naming a different, or no longer regular, file
	// between the two (TOCTOU).
	osFile, err := os.Open(path)
	if err != nil {
		s.state = SenderError
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	defer osFile.Close()

	info, err := osFile.Stat()
	if err != nil {
		s.state = SenderError
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	if !info.Mode().IsRegular() {
		s.state = SenderError
		return cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "not a regular file")
	}
	if info.Size() == 0 {
		s.state = SenderError
		return cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "file is empty")
	}
	s.fileSize = info.Size()

	name, err := validateFileName(info.Name())
	if err != nil {
		s.state = SenderError
		return err
	}

	digest, err := hashFile(osFile)
	if err != nil {
		s.state = SenderError
		return err
	}
	digestHex := hex.EncodeToString(digest[:])

	if _, err := osFile.Seek(0, io.SeekStart); err != nil {
		s.state = SenderError
		return cryptcaterr.New(cryptcaterr.Io, err)
	}

	var f io.Reader = osFile
	if s.rateLimitBytesPerSec > 0 {
		f = NewRateLimitedReader(context.Background(), osFile, s.rateLimitBytesPerSec)
	}

	if err := s.conn.SendFileStart(name, uint64(s.fileSize), digestHex); err != nil {
		s.state = SenderError
		return err
	}

	s.state = SenderSending
	s.logger.Info("file transfer started",
		logging.KeyFileName, name,
		logging.KeyBytesTransferred, s.fileSize)

	buf := make([]byte, ChunkSize)
	var chunkNo uint32
	for {
		if s.cancelled {
			s.state = SenderCancelled
			s.conn.SendDisconnect("transfer cancelled")
			return cryptcaterr.Wrap(cryptcaterr.Cancelled, "transfer cancelled by caller")
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			if err := s.conn.SendFileChunk(chunkNo, buf[:n]); err != nil {
				s.state = SenderError
				return err
			}
			s.metrics.RecordFileChunkSent(n)
			chunkNo++
			s.chunksSent++
			s.bytesSent += uint64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.state = SenderError
			return cryptcaterr.New(cryptcaterr.Io, readErr)
		}
	}

	if err := s.conn.SendFileEnd(digest); err != nil {
		s.state = SenderError
		return err
	}

	s.state = SenderComplete
	s.logger.Info("file transfer complete",
		logging.KeyFileName, name,
		logging.KeyBytesTransferred, s.bytesSent,
		logging.KeyChunkNumber, s.chunksSent,
		"size", FormatSizeDecimal(int64(s.bytesSent)))
	return nil
}

// hashFile computes the SHA-256 of f's remaining contents from its current
// offset, streamed over 8 KiB buffers independent of the transfer chunk
// size. The caller owns f and is responsible for seeking it back to the
// start before reusing it to send.
func hashFile(f *os.File) ([32]byte, error) {
	var digest [32]byte

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return digest, cryptcaterr.New(cryptcaterr.Io, err)
	}

	copy(digest[:], h.Sum(nil))
	return digest, nil
}
