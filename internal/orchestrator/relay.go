package orchestrator

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/logging"
	"github.com/cryptcat-go/cryptcat/internal/protocol"
	"github.com/cryptcat-go/cryptcat/internal/recovery"
)

// relay pumps bytes between stdin/stdout and the session until either
// side closes, the context is cancelled, or a protocol error occurs. A
// 30s idle ticker sends a keepalive when neither direction has carried
// traffic, standing in for the single-threaded reactor's readiness
// primitive described for this relay loop.
func (r *Runtime) relay(ctx context.Context, conn *protocol.Conn) error {
	return r.relayStreams(ctx, conn, os.Stdin, os.Stdout)
}

// relayStreams is the testable core of relay: in and out stand in for
// stdin/stdout so tests can drive the loop without a real terminal.
func (r *Runtime) relayStreams(ctx context.Context, conn *protocol.Conn, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	activity := make(chan struct{}, 1)
	noteActivity := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		defer recovery.RecoverWithCallback(r.logger, "relay-stdin-to-socket", func(any) { err = cryptcaterr.Wrap(cryptcaterr.Io, "panic relaying stdin") })
		return r.pumpInToSocket(ctx, conn, in, noteActivity)
	})

	g.Go(func() (err error) {
		defer recovery.RecoverWithCallback(r.logger, "relay-socket-to-stdout", func(any) { err = cryptcaterr.Wrap(cryptcaterr.Io, "panic relaying socket") })
		return r.pumpSocketToOut(ctx, conn, out, noteActivity)
	})

	g.Go(func() error {
		return r.idleKeepalive(ctx, conn, activity)
	})

	err := g.Wait()
	if ctx.Err() != nil && (err == nil || cryptcaterr.Is(err, cryptcaterr.TransportClosed)) {
		conn.SendDisconnect("local cancellation")
		return cryptcaterr.Wrap(cryptcaterr.Cancelled, "relay cancelled")
	}
	return err
}

func (r *Runtime) pumpInToSocket(ctx context.Context, conn *protocol.Conn, in io.Reader, noteActivity func()) error {
	reader := bufio.NewReader(in)
	buf := make([]byte, 16384)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := reader.Read(buf)
		if n > 0 {
			if sendErr := conn.SendDataMessage(buf[:n]); sendErr != nil {
				return sendErr
			}
			noteActivity()
		}
		if err == io.EOF {
			conn.SendDisconnect("stdin closed")
			return nil
		}
		if err != nil {
			return cryptcaterr.New(cryptcaterr.Io, err)
		}
	}
}

func (r *Runtime) pumpSocketToOut(ctx context.Context, conn *protocol.Conn, out io.Writer, noteActivity func()) error {
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgType, payload, err := conn.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msgType {
		case protocol.TypeData:
			if _, werr := writer.Write(payload); werr != nil {
				return cryptcaterr.New(cryptcaterr.Io, werr)
			}
			writer.Flush()
			noteActivity()
		case protocol.TypeKeepalive:
			r.metrics.RecordKeepaliveReceived()
			noteActivity()
		case protocol.TypeDisconnect:
			return cryptcaterr.Wrap(cryptcaterr.TransportClosed, "peer disconnected")
		default:
			r.logger.Warn("unexpected message in relay",
				logging.KeyMessageType, protocol.TypeName(msgType))
		}
	}
}

func (r *Runtime) idleKeepalive(ctx context.Context, conn *protocol.Conn, activity <-chan struct{}) error {
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-activity:
			ticker.Reset(idleTick)
		case <-ticker.C:
			if err := conn.SendKeepalive(); err != nil {
				return err
			}
			r.metrics.RecordKeepaliveSent()
		}
	}
}
