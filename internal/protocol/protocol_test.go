package protocol

import (
	"bytes"
	"net"
	"sync"
	"testing"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
)

func TestFrame_EncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{Type: TypeData, Payload: []byte("hello")}
	buf := &bytes.Buffer{}
	if err := WriteFrame(buf, f); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadFrame(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != f.Type || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestFrame_RejectsOversizedPayload(t *testing.T) {
	f := &Frame{Type: TypeData, Payload: make([]byte, MaxFramePayload+1)}
	if _, err := f.Encode(); !cryptcaterr.Is(err, cryptcaterr.InvalidArgument) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestReadFrame_TruncatedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x10, 0x00, 0x00})
	if _, err := ReadFrame(buf); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{0x10, 0x00, 0x00, 0x00, 0x05})
	buf.Write([]byte("ab"))
	if _, err := ReadFrame(buf); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

func TestReadFrame_LengthOverflow(t *testing.T) {
	buf := &bytes.Buffer{}
	header := []byte{0x10, 0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)
	if _, err := ReadFrame(buf); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Fatalf("want Malformed, got %v", err)
	}
}

// handshakePair runs ClientHandshake and ServerHandshake concurrently over
// an in-memory net.Pipe, which structurally satisfies transport.Conn.
func handshakePair(t *testing.T, clientPass, serverPass string) (client, server *Conn, clientErr, serverErr error) {
	t.Helper()
	c1, c2 := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client, clientErr = ClientHandshake(c1, []byte(clientPass), nil, nil)
	}()
	go func() {
		defer wg.Done()
		server, serverErr = ServerHandshake(c2, []byte(serverPass), nil, nil)
	}()
	wg.Wait()
	return client, server, clientErr, serverErr
}

func TestHandshake_Success(t *testing.T) {
	client, server, clientErr, serverErr := handshakePair(t, "shared-secret", "shared-secret")
	if clientErr != nil {
		t.Fatalf("client handshake: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake: %v", serverErr)
	}
	defer client.Close()
	defer server.Close()

	if client.State() != StateReady {
		t.Errorf("client state = %v, want Ready", client.State())
	}
	if server.State() != StateReady {
		t.Errorf("server state = %v, want Ready", server.State())
	}
}

// TestHandshake_S6Rejection: mismatched passphrases must fail on both
// sides with AuthFailed and neither reaches Ready.
func TestHandshake_S6Rejection(t *testing.T) {
	client, server, clientErr, serverErr := handshakePair(t, "a", "b")

	if clientErr == nil || !cryptcaterr.Is(clientErr, cryptcaterr.AuthFailed) {
		t.Errorf("client error = %v, want AuthFailed", clientErr)
	}
	if serverErr == nil || !cryptcaterr.Is(serverErr, cryptcaterr.AuthFailed) {
		t.Errorf("server error = %v, want AuthFailed", serverErr)
	}
	if client != nil && client.State() == StateReady {
		t.Error("client reached Ready despite mismatched passphrase")
	}
	if server != nil && server.State() == StateReady {
		t.Error("server reached Ready despite mismatched passphrase")
	}
}

func TestConn_DataMessageRoundTrip(t *testing.T) {
	client, server, clientErr, serverErr := handshakePair(t, "match", "match")
	if clientErr != nil || serverErr != nil {
		t.Fatalf("handshake failed: client=%v server=%v", clientErr, serverErr)
	}
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var recvType uint8
	var recvPayload []byte
	var recvErr error
	go func() {
		recvType, recvPayload, recvErr = server.ReceiveMessage()
		close(done)
	}()

	if err := client.SendDataMessage([]byte("hello, cryptcat")); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-done

	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}
	if recvType != TypeData {
		t.Fatalf("type = %v, want Data", recvType)
	}
	if string(recvPayload) != "hello, cryptcat" {
		t.Fatalf("payload = %q", recvPayload)
	}
}

func TestConn_FileChunkRoundTrip(t *testing.T) {
	client, server, clientErr, serverErr := handshakePair(t, "match", "match")
	if clientErr != nil || serverErr != nil {
		t.Fatalf("handshake failed: client=%v server=%v", clientErr, serverErr)
	}
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var recvType uint8
	var recvPayload []byte
	go func() {
		recvType, recvPayload, _ = server.ReceiveMessage()
		close(done)
	}()

	chunkData := []byte("some file bytes")
	if err := client.SendFileChunk(7, chunkData); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	<-done

	if recvType != TypeFileChunk {
		t.Fatalf("type = %v, want FileChunk", recvType)
	}
	if len(recvPayload) != ChunkHeaderSize+len(chunkData) {
		t.Fatalf("payload len = %d", len(recvPayload))
	}
}

func TestConn_SendRequiresEstablishedSession(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	conn := NewConn(c1, nil, nil)
	if err := conn.SendDataMessage([]byte("x")); !cryptcaterr.Is(err, cryptcaterr.InvalidArgument) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestIsKnownType(t *testing.T) {
	for _, tt := range []uint8{
		TypeHandshakeInit, TypeHandshakeResponse, TypeHandshakeComplete,
		TypeData, TypeFileStart, TypeFileChunk, TypeFileEnd,
		TypeKeepalive, TypeDisconnect, TypeError,
	} {
		if !isKnownType(tt) {
			t.Errorf("isKnownType(0x%02x) = false, want true", tt)
		}
	}
	if isKnownType(0x99) {
		t.Error("isKnownType(0x99) = true, want false")
	}
}
