// Package main provides the CLI entry point for cryptcat.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cryptcat-go/cryptcat/internal/config"
	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
	"github.com/cryptcat-go/cryptcat/internal/logging"
	"github.com/cryptcat-go/cryptcat/internal/orchestrator"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	okStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := config.Defaults()
	var verbose, quiet bool

	cmd := &cobra.Command{
		Use:          "cryptcat [host] [port]",
		Short:        "Encrypted netcat: a confidential, integrity-protected TCP pipe",
		Version:      Version,
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) >= 1 {
				opts.Host = args[0]
			}
			if len(args) == 2 {
				port, err := parsePort(args[1])
				if err != nil {
					return cryptcaterr.New(cryptcaterr.InvalidArgument, err)
				}
				opts.Port = port
			}
			opts.Verbose = verbose
			opts.Quiet = quiet

			logger := buildLogger(opts)

			rt := orchestrator.New(opts, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			start := time.Now()
			if err := rt.Run(ctx); err != nil {
				return err
			}

			if opts.Mode() == config.ModeFile && !opts.Quiet {
				elapsed := time.Since(start).Round(10 * time.Millisecond)
				summary := fmt.Sprintf("transfer complete: %s in %s",
					humanize.Bytes(uint64(rt.LastTransferBytes())), elapsed)
				fmt.Println(okStyle.Render(summary))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.Listen, "listen", "l", false, "listen for an incoming connection instead of connecting out")
	flags.IntVarP(&opts.Port, "port", "p", config.DefaultPort, "TCP port")
	flags.StringVarP(&opts.Passphrase, "key", "k", "", "pre-shared passphrase (required)")
	flags.StringVarP(&opts.Execute, "execute", "e", "", "remote shell command (declared, not implemented)")
	flags.BoolVarP(&opts.Chat, "chat", "c", false, "interactive chat mode (raw terminal)")
	flags.StringVarP(&opts.File, "file", "f", "", "file to send; when listening, selects file-receive mode (the file is written to the current directory)")
	flags.BoolVar(&opts.P2P, "p2p", false, "peer-to-peer discovery mode (not implemented)")
	flags.IntVar(&opts.P2PPort, "p2p-port", config.DefaultP2PPort, "P2P bootstrap port")
	flags.StringVar(&opts.P2PBootstrap, "p2p-bootstrap", "", "P2P bootstrap host:port")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	if err := cmd.Execute(); err != nil {
		printError(err)
		return 1
	}
	return 0
}

func buildLogger(opts config.Options) *slog.Logger {
	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	if opts.Quiet {
		level = "error"
	}
	return logging.NewLogger(level, "text")
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func printError(err error) {
	var e *cryptcaterr.Error
	if errors.As(err, &e) {
		fmt.Fprintln(os.Stderr, errStyle.Render("cryptcat: "+e.Error()))
		return
	}
	fmt.Fprintln(os.Stderr, errStyle.Render("cryptcat: "+err.Error()))
}
