package filetransfer

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/protocol"
)

// handshakeConns builds a Ready protocol.Conn pair over an in-memory pipe.
func handshakeConns(t *testing.T) (client, server *protocol.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() {
		defer wg.Done()
		client, clientErr = protocol.ClientHandshake(c1, []byte("shared-secret"), nil, nil)
	}()
	go func() {
		defer wg.Done()
		server, serverErr = protocol.ServerHandshake(c2, []byte("shared-secret"), nil, nil)
	}()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client handshake: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake: %v", serverErr)
	}
	return client, server
}

// S4 End-to-end transfer: a file sent by Sender arrives byte-identical
// and verified at Receiver.
func TestSendReceive_S4EndToEnd(t *testing.T) {
	client, server := handshakeConns(t)
	defer client.Close()
	defer server.Close()

	srcDir := t.TempDir()
	dstDir := t.TempDir()

	content := []byte("the quick brown fox jumps over the lazy dog, repeated many times to span more than one chunk. ")
	for len(content) < ChunkSize*2+500 {
		content = append(content, content...)
	}
	srcPath := filepath.Join(srcDir, "payload.bin")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	sender := NewSender(client, nil, nil)
	receiver := NewReceiver(server, dstDir, nil, nil)

	var recvErr error
	var info Info
	done := make(chan struct{})
	go func() {
		info, recvErr = receiver.Receive()
		close(done)
	}()

	if err := sender.Send(srcPath); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-done

	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}
	if info.State != ReceiverComplete {
		t.Fatalf("receiver state = %v, want Complete", info.State)
	}
	if sender.State() != SenderComplete {
		t.Fatalf("sender state = %v, want Complete", sender.State())
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "payload.bin"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("received content mismatch: got %d bytes, want %d", len(got), len(content))
	}
	if _, err := os.Stat(filepath.Join(dstDir, "payload.bin"+partSuffix)); !os.IsNotExist(err) {
		t.Fatalf(".part file should not remain after successful transfer")
	}
}

// S4 variant: a rate-limited sender still delivers the whole file intact,
// and BytesSent tracks what SetRateLimit throttled.
func TestSendReceive_WithRateLimit(t *testing.T) {
	client, server := handshakeConns(t)
	defer client.Close()
	defer server.Close()

	srcDir := t.TempDir()
	dstDir := t.TempDir()

	content := make([]byte, ChunkSize+200)
	for i := range content {
		content[i] = byte(i % 251)
	}
	srcPath := filepath.Join(srcDir, "payload.bin")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	sender := NewSender(client, nil, nil)
	sender.SetRateLimit(64 * 1024 * 1024) // generous, keeps the test fast
	receiver := NewReceiver(server, dstDir, nil, nil)

	var recvErr error
	done := make(chan struct{})
	go func() {
		_, recvErr = receiver.Receive()
		close(done)
	}()

	if err := sender.Send(srcPath); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-done

	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}
	if sender.BytesSent() != uint64(len(content)) {
		t.Fatalf("BytesSent() = %d, want %d", sender.BytesSent(), len(content))
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "payload.bin"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("received content mismatch")
	}
}

func TestSender_RejectsEmptyFile(t *testing.T) {
	client, server := handshakeConns(t)
	defer client.Close()
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sender := NewSender(client, nil, nil)
	if err := sender.Send(path); !cryptcaterr.Is(err, cryptcaterr.InvalidArgument) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestSender_RejectsDirectory(t *testing.T) {
	client, server := handshakeConns(t)
	defer client.Close()
	defer server.Close()

	sender := NewSender(client, nil, nil)
	if err := sender.Send(t.TempDir()); !cryptcaterr.Is(err, cryptcaterr.InvalidArgument) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestReceiver_RejectsOutOfOrderChunk(t *testing.T) {
	r := &Receiver{declaredSize: 1000, chunksReceived: 2}
	payload := make([]byte, protocol.ChunkHeaderSize+4)
	// chunkNo encoded as 0, but receiver expects 2.
	if err := r.handleFileChunk(payload); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Fatalf("want Malformed for out-of-order chunk, got %v", err)
	}
}

func TestReceiver_RejectsSizeExceeded(t *testing.T) {
	dir := t.TempDir()
	r := &Receiver{outputDir: dir, name: "x", declaredSize: 4, chunksReceived: 0}
	f, err := os.Create(r.partPath())
	if err != nil {
		t.Fatalf("create part file: %v", err)
	}
	r.f = f
	defer f.Close()

	payload := make([]byte, protocol.ChunkHeaderSize+10) // chunk 0, 10 bytes > declared size 4
	if err := r.handleFileChunk(payload); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Fatalf("want Malformed for size exceeded, got %v", err)
	}
}

func TestParseFileStart(t *testing.T) {
	name, size, shaHex, err := parseFileStart([]byte("report.txt|1024|" + sixtyFourHex()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name != "report.txt" || size != 1024 || len(shaHex) != 64 {
		t.Fatalf("parsed = %q %d %q", name, size, shaHex)
	}
}

func TestParseFileStart_RejectsMalformed(t *testing.T) {
	cases := []string{
		"noseparators",
		"name|notanumber|" + sixtyFourHex(),
		"name|0|" + sixtyFourHex(),
		"name|10|tooshort",
	}
	for _, c := range cases {
		if _, _, _, err := parseFileStart([]byte(c)); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
			t.Errorf("parseFileStart(%q): want Malformed, got %v", c, err)
		}
	}
}

func TestValidateFileName(t *testing.T) {
	if _, err := validateFileName("report|2024.txt"); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Error("pipe character: want Malformed")
	}
	if _, err := validateFileName("../../etc/passwd"); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Error("traversal: want Malformed")
	}
	if _, err := validateFileName("a/b.txt"); !cryptcaterr.Is(err, cryptcaterr.Malformed) {
		t.Error("path separator: want Malformed")
	}
	got, err := validateFileName("normal-report_v2.txt")
	if err != nil {
		t.Fatalf("normal name should be accepted: %v", err)
	}
	if got != "normal-report_v2.txt" {
		t.Fatalf("got %q", got)
	}
}

func sixtyFourHex() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
