// Package orchestrator builds and drives one cryptcat invocation: it
// establishes the TCP role (listen or connect), runs the passphrase
// handshake, and dispatches to the selected application mode (plain
// relay, command execution, chat, or file transfer).
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cryptcat-go/cryptcat/internal/config"
	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/cryptoengine"
	"github.com/cryptcat-go/cryptcat/internal/logging"
	"github.com/cryptcat-go/cryptcat/internal/metrics"
	"github.com/cryptcat-go/cryptcat/internal/protocol"
	"github.com/cryptcat-go/cryptcat/internal/transport"
)

// idleTick is the period of the relay loop's idle ticker, which drives
// keepalive sends when neither stdin nor the socket has produced data.
const idleTick = 30 * time.Second

// Runtime owns the logger and metrics for one invocation and builds the
// transport/protocol wiring from a resolved config.Options. The CLI
// constructs exactly one Runtime and calls Run.
type Runtime struct {
	opts    config.Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	lastTransferBytes int64
}

// LastTransferBytes reports the byte count of the most recently completed
// file transfer, for CLI summary output. Zero before any transfer runs.
func (r *Runtime) LastTransferBytes() int64 {
	return r.lastTransferBytes
}

// New builds a Runtime from resolved options. A nil logger defaults to
// a discarding logger so Runtime is safe to use in tests without wiring
// up slog.
func New(opts config.Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runtime{opts: opts, logger: logger, metrics: metrics.Default()}
}

// Run validates opts and dispatches to the selected mode.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.opts.Validate(); err != nil {
		return cryptcaterr.New(cryptcaterr.InvalidArgument, err)
	}

	switch r.opts.Mode() {
	case config.ModeExecute:
		return r.RunShell(ctx)
	case config.ModeChat:
		return r.RunChat(ctx)
	case config.ModeFile:
		return r.RunFile(ctx)
	case config.ModeP2P:
		return r.RunP2P(ctx)
	default:
		return r.RunConnect(ctx)
	}
}

// establish performs the TCP role (listen-and-accept or connect) and the
// 4-step passphrase handshake, returning a Ready protocol.Conn.
func (r *Runtime) establish(ctx context.Context) (*protocol.Conn, error) {
	passphrase := []byte(r.opts.Passphrase)
	defer cryptoengine.ZeroBytes(passphrase)

	if r.opts.Listen {
		ln, err := transport.Listen(r.opts.Port)
		if err != nil {
			return nil, err
		}
		defer ln.Close()

		r.logger.Info("listening", logging.KeyAddress, ln.Addr().String())

		tc, err := ln.Accept(ctx)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		conn, err := protocol.ServerHandshake(tc, passphrase, r.logger, r.metrics)
		if err != nil {
			r.metrics.RecordHandshakeError(kindName(err))
			tc.Close()
			return nil, err
		}
		r.metrics.RecordHandshakeSuccess(time.Since(start).Seconds())
		r.metrics.RecordConnect("server")
		return conn, nil
	}

	tc, err := transport.Connect(ctx, r.opts.Host, r.opts.Port)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := protocol.ClientHandshake(tc, passphrase, r.logger, r.metrics)
	if err != nil {
		r.metrics.RecordHandshakeError(kindName(err))
		tc.Close()
		return nil, err
	}
	r.metrics.RecordHandshakeSuccess(time.Since(start).Seconds())
	r.metrics.RecordConnect("client")
	return conn, nil
}

func kindName(err error) string {
	var e *cryptcaterr.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "unknown"
}
