package filetransfer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/logging"
	"github.com/cryptcat-go/cryptcat/internal/metrics"
	"github.com/cryptcat-go/cryptcat/internal/protocol"
)

// partSuffix names the temporary file a transfer writes to before the
// verified atomic rename.
const partSuffix = ".part"

// ReceiverState is the receiver-side file transfer state machine.
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverReceiving
	ReceiverComplete
	ReceiverError
	ReceiverCancelled
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "Idle"
	case ReceiverReceiving:
		return "Receiving"
	case ReceiverComplete:
		return "Complete"
	case ReceiverError:
		return "Error"
	case ReceiverCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Info reports a snapshot of an in-progress or finished transfer, backing
// the get_info operation from the design.
type Info struct {
	State           ReceiverState
	FileName        string
	DeclaredSize    uint64
	BytesWritten    uint64
	ChunksReceived  uint32
	ElapsedSeconds  float64
	BytesPerSecond  float64
	ProgressPercent float64
}

// Receiver drives the receiving half of one file transfer over a
// protocol.Conn: FileStart, a run of strictly-ordered FileChunk messages,
// and a verifying FileEnd.
type Receiver struct {
	conn      *protocol.Conn
	logger    *slog.Logger
	metrics   *metrics.Metrics
	outputDir string

	state          ReceiverState
	name           string
	declaredSize   uint64
	declaredSHA    [32]byte
	bytesWritten   uint64
	chunksReceived uint32
	f              *os.File
	startedAt      time.Time
	cancelled      bool
}

// NewReceiver builds a Receiver bound to an already-Ready protocol.Conn.
// Files are written under outputDir (the current directory if empty). A
// nil metrics defaults to the process-wide Default() instance.
func NewReceiver(conn *protocol.Conn, outputDir string, logger *slog.Logger, m *metrics.Metrics) *Receiver {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	if outputDir == "" {
		outputDir = "."
	}
	return &Receiver{conn: conn, logger: logger, metrics: m, outputDir: outputDir, state: ReceiverIdle}
}

// State reports the receiver's current state.
func (r *Receiver) State() ReceiverState { return r.state }

// Cancel deletes the in-progress .part file, if any, and transitions to
// Cancelled.
func (r *Receiver) Cancel() error {
	r.cancelled = true
	r.state = ReceiverCancelled
	if r.f != nil {
		r.f.Close()
		path := r.partPath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return cryptcaterr.New(cryptcaterr.Io, err)
		}
	}
	return nil
}

func (r *Receiver) partPath() string {
	return r.outputDir + string(os.PathSeparator) + r.name + partSuffix
}

func (r *Receiver) finalPath() string {
	return r.outputDir + string(os.PathSeparator) + r.name
}

// Receive drives one complete transfer by reading messages from the
// bound connection until FileEnd or an error. It returns once the file
// is verified and renamed into place, or on any failure (leaving no
// .part file behind).
func (r *Receiver) Receive() (Info, error) {
	r.startedAt = time.Now()

	t, payload, err := r.conn.ReceiveMessage()
	if err != nil {
		r.state = ReceiverError
		return r.info(), err
	}
	if t != protocol.TypeFileStart {
		r.state = ReceiverError
		return r.info(), cryptcaterr.Wrap(cryptcaterr.Malformed, "expected FileStart")
	}
	if err := r.handleFileStart(payload); err != nil {
		r.state = ReceiverError
		return r.info(), err
	}

	for {
		if r.cancelled {
			r.state = ReceiverCancelled
			return r.info(), cryptcaterr.Wrap(cryptcaterr.Cancelled, "transfer cancelled")
		}

		t, payload, err := r.conn.ReceiveMessage()
		if err != nil {
			r.state = ReceiverError
			r.abortPartFile()
			return r.info(), err
		}

		switch t {
		case protocol.TypeFileChunk:
			if err := r.handleFileChunk(payload); err != nil {
				r.state = ReceiverError
				r.abortPartFile()
				return r.info(), err
			}
		case protocol.TypeFileEnd:
			if err := r.handleFileEnd(payload); err != nil {
				r.state = ReceiverError
				r.abortPartFile()
				return r.info(), err
			}
			r.state = ReceiverComplete
			return r.info(), nil
		case protocol.TypeDisconnect:
			r.state = ReceiverError
			r.abortPartFile()
			return r.info(), cryptcaterr.Wrap(cryptcaterr.TransportClosed, "peer disconnected mid-transfer")
		default:
			r.state = ReceiverError
			r.abortPartFile()
			return r.info(), cryptcaterr.Wrap(cryptcaterr.Malformed, "unexpected message type during transfer")
		}
	}
}

func (r *Receiver) handleFileStart(payload []byte) error {
	name, size, shaHex, err := parseFileStart(payload)
	if err != nil {
		return err
	}

	safeName, err := validateFileName(name)
	if err != nil {
		return err
	}

	shaBytes, err := hex.DecodeString(shaHex)
	if err != nil || len(shaBytes) != 32 {
		return cryptcaterr.Wrap(cryptcaterr.Malformed, "FileStart sha256 must be 64 hex characters")
	}

	r.name = safeName
	r.declaredSize = size
	copy(r.declaredSHA[:], shaBytes)

	f, err := os.Create(r.partPath())
	if err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	r.f = f
	r.state = ReceiverReceiving

	r.logger.Info("file transfer started",
		logging.KeyFileName, r.name,
		logging.KeyBytesTransferred, r.declaredSize)
	return nil
}

// parseFileStart parses "<name>|<decimal_size>|<64_hex_sha256>".
func parseFileStart(payload []byte) (name string, size uint64, shaHex string, err error) {
	parts := strings.SplitN(string(payload), "|", 3)
	if len(parts) != 3 {
		return "", 0, "", cryptcaterr.Wrap(cryptcaterr.Malformed, "FileStart must be name|size|sha256")
	}
	name = parts[0]
	size, convErr := strconv.ParseUint(parts[1], 10, 64)
	if convErr != nil || size == 0 {
		return "", 0, "", cryptcaterr.Wrap(cryptcaterr.Malformed, "FileStart size must be a positive decimal integer")
	}
	shaHex = parts[2]
	if len(shaHex) != 64 {
		return "", 0, "", cryptcaterr.Wrap(cryptcaterr.Malformed, "FileStart sha256 must be 64 hex characters")
	}
	return name, size, shaHex, nil
}

func (r *Receiver) handleFileChunk(payload []byte) error {
	if len(payload) < protocol.ChunkHeaderSize {
		return cryptcaterr.Wrap(cryptcaterr.Malformed, "FileChunk shorter than chunk header")
	}
	chunkNo := binary.BigEndian.Uint32(payload[:protocol.ChunkHeaderSize])
	data := payload[protocol.ChunkHeaderSize:]

	if chunkNo != r.chunksReceived {
		return cryptcaterr.Wrap(cryptcaterr.Malformed, fmt.Sprintf("out-of-order chunk: got %d, want %d", chunkNo, r.chunksReceived))
	}
	if r.bytesWritten+uint64(len(data)) > r.declaredSize {
		return cryptcaterr.Wrap(cryptcaterr.Malformed, "chunk would exceed declared file size")
	}

	if _, err := r.f.Write(data); err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	if r.metrics != nil {
		r.metrics.RecordFileChunkReceived(len(data))
	}

	r.bytesWritten += uint64(len(data))
	r.chunksReceived++
	return nil
}

func (r *Receiver) handleFileEnd(payload []byte) error {
	if len(payload) != 32 {
		return cryptcaterr.Wrap(cryptcaterr.Malformed, "FileEnd payload must be 32 raw bytes")
	}

	if err := r.f.Close(); err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	r.f = nil

	pf, err := os.Open(r.partPath())
	if err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	actual, err := hashFile(pf)
	pf.Close()
	if err != nil {
		return err
	}

	if !shaEqual(actual, r.declaredSHA) {
		os.Remove(r.partPath())
		return cryptcaterr.Wrap(cryptcaterr.VerifyFailed, "written file does not match FileStart sha256")
	}
	var fromEnd [32]byte
	copy(fromEnd[:], payload)
	if !shaEqual(actual, fromEnd) {
		os.Remove(r.partPath())
		return cryptcaterr.Wrap(cryptcaterr.VerifyFailed, "written file does not match FileEnd sha256")
	}

	if err := os.Rename(r.partPath(), r.finalPath()); err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}

	r.logger.Info("file transfer verified",
		logging.KeyFileName, r.name,
		logging.KeyBytesTransferred, r.bytesWritten)
	return nil
}

func (r *Receiver) abortPartFile() {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	if r.name != "" {
		os.Remove(r.partPath())
	}
}

func shaEqual(a, b [32]byte) bool {
	return a == b
}

func (r *Receiver) info() Info {
	elapsed := time.Since(r.startedAt).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(r.bytesWritten) / elapsed
	}
	var progress float64
	if r.declaredSize > 0 {
		progress = float64(r.bytesWritten) / float64(r.declaredSize) * 100
	}
	return Info{
		State:           r.state,
		FileName:        r.name,
		DeclaredSize:    r.declaredSize,
		BytesWritten:    r.bytesWritten,
		ChunksReceived:  r.chunksReceived,
		ElapsedSeconds:  elapsed,
		BytesPerSecond:  rate,
		ProgressPercent: progress,
	}
}
