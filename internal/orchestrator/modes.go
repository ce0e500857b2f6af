package orchestrator

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/filetransfer"
	"github.com/cryptcat-go/cryptcat/internal/logging"
)

// RunConnect drives the plain netcat-style mode: stdin and the socket
// are relayed to each other until either side closes or a signal fires.
func (r *Runtime) RunConnect(ctx context.Context) error {
	conn, err := r.establish(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return r.relay(ctx, conn)
}

// RunChat drives the interactive mode: stdin is switched to raw terminal
// mode for the duration of the relay so local line editing doesn't
// interfere with the remote side's echo, then restored on exit.
func (r *Runtime) RunChat(ctx context.Context) error {
	conn, err := r.establish(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	return r.relay(ctx, conn)
}

// RunFile drives a single file transfer: the listening side receives
// into the current directory, the connecting side sends the path named
// by --file.
func (r *Runtime) RunFile(ctx context.Context) error {
	conn, err := r.establish(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	r.metrics.RecordFileTransferStart()

	if r.opts.Listen {
		receiver := filetransfer.NewReceiver(conn, ".", r.logger, r.metrics)
		info, err := receiver.Receive()
		if err != nil {
			r.metrics.RecordFileTransferFailed(kindName(err))
			return err
		}
		r.metrics.RecordFileTransferComplete()
		r.lastTransferBytes = int64(info.BytesWritten)
		r.logger.Info("file received",
			logging.KeyFileName, info.FileName,
			logging.KeyBytesTransferred, info.BytesWritten)
		return nil
	}

	sender := filetransfer.NewSender(conn, r.logger, r.metrics)
	if r.opts.RateLimitBytesPerSec > 0 {
		sender.SetRateLimit(r.opts.RateLimitBytesPerSec)
	}
	if err := sender.Send(r.opts.File); err != nil {
		r.metrics.RecordFileTransferFailed(kindName(err))
		return err
	}
	r.metrics.RecordFileTransferComplete()
	r.lastTransferBytes = int64(sender.BytesSent())
	return nil
}

// RunP2P is declared by the CLI surface but not implemented in this
// core path.
func (r *Runtime) RunP2P(ctx context.Context) error {
	return cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "p2p mode is not implemented")
}

// RunShell backs -e/--execute: spawning a command and wiring the relayed
// session to its stdin/stdout. Declared by the CLI surface but not
// implemented in this core path, per the remote-shell mode being an
// explicit Non-goal of the core.
func (r *Runtime) RunShell(ctx context.Context) error {
	return cryptcaterr.Wrap(cryptcaterr.InvalidArgument, "remote shell mode is not implemented")
}
