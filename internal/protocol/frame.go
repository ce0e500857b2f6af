package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
)

// Frame is the outer wire unit: a 1-byte type tag, a 4-byte big-endian
// length, and the payload. For encrypted message types the payload is
// already the Crypto Engine's ciphertext record; for handshake messages
// it is cleartext.
type Frame struct {
	Type    uint8
	Payload []byte
}

// Encode serializes the frame to its wire form.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxFramePayload {
		return nil, cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "frame payload exceeds maximum size")
	}

	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = f.Type
	binary.BigEndian.PutUint32(buf[1:FrameHeaderSize], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// WriteFrame encodes f and writes it in full to w.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return classifyFrameIOErr(err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r: the 5-byte header, then N
// payload bytes. Truncation and a header-length overflow surface as
// Malformed; a clean EOF before any header byte surfaces as
// TransportClosed; errors r already classified (Timeout, TransportClosed)
// pass through; any other read failure surfaces as Io.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, classifyFrameReadErr(err, true)
	}

	length := binary.BigEndian.Uint32(header[1:FrameHeaderSize])
	if length > MaxFramePayload {
		return nil, cryptcaterr.Wrap(cryptcaterr.Malformed, "frame length exceeds maximum payload size")
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, classifyFrameReadErr(err, false)
		}
	}

	return &Frame{Type: header[0], Payload: payload}, nil
}

// classifyFrameReadErr maps io.ReadFull's EOF variants onto the closed
// taxonomy: a clean EOF before any header bytes is a peer close, anything
// else truncated mid-frame is Malformed. Errors the transport layer
// already classified (Timeout, TransportClosed) pass through unchanged.
func classifyFrameReadErr(err error, atHeaderStart bool) error {
	var ce *cryptcaterr.Error
	if errors.As(err, &ce) {
		return ce
	}
	if err == io.EOF && atHeaderStart {
		return cryptcaterr.New(cryptcaterr.TransportClosed, err)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return cryptcaterr.Wrap(cryptcaterr.Malformed, "truncated frame")
	}
	return cryptcaterr.New(cryptcaterr.Io, err)
}

func classifyFrameIOErr(err error) error {
	var ce *cryptcaterr.Error
	if errors.As(err, &ce) {
		return ce
	}
	return cryptcaterr.New(cryptcaterr.Io, err)
}
