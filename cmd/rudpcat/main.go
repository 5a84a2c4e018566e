// Command rudpcat pipes stdin to a peer and the peer's bytes to stdout over
// the reliable transport in pkg/rudp, the way the teacher's cmd/httptest
// gives the pack a minimal single-purpose binary to exercise a package by
// hand instead of through a test.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/datawire/dlib/dlog"

	"github.com/keyxcode/cs340-networking/internal/logging"
	"github.com/keyxcode/cs340-networking/pkg/rudp"
)

func main() {
	ctx := makeBaseContext(context.Background())
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// makeBaseContext wires a logrus backend into dlog, the way the teacher's
// cmd/traffic/logger.go does for its own binaries.
func makeBaseContext(ctx context.Context) context.Context {
	logger := logrus.New()
	logger.SetFormatter(logging.NewFormatter())
	logging.SetLevel(logger, os.Getenv("RUDP_LOG_LEVEL"))

	dlogger := dlog.WrapLogrus(logger)
	dlog.SetFallbackLogger(dlogger)
	return dlog.WithLogger(ctx, dlogger)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "rudpcat",
		Short: "Pipe stdin/stdout through a reliable transport built on an unreliable UDP channel.",
	}
	root.AddCommand(newListenCommand(), newDialCommand())
	return root
}

func newListenCommand() *cobra.Command {
	var listenAddr, peerAddr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Bind locally and wait for a peer to dial in, relaying stdin/stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), peerAddr, listenAddr, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":9340", "local host:port to bind")
	cmd.Flags().StringVar(&peerAddr, "peer", "", "peer host:port (required)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this host:port")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func newDialCommand() *cobra.Command {
	var peerAddr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Dial a peer from an ephemeral local port, relaying stdin/stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), peerAddr, "", metricsAddr)
		},
	}
	cmd.Flags().StringVar(&peerAddr, "peer", "", "peer host:port (required)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this host:port")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func run(ctx context.Context, peerAddr, localAddr, metricsAddr string) error {
	cfg, err := rudp.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if metricsAddr != "" {
		go func() {
			dlog.Infof(ctx, "serving metrics on %s", metricsAddr)
			srv := &http.Server{Addr: metricsAddr, Handler: rudp.MetricsHandler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				dlog.Errorf(ctx, "metrics server: %v", err)
			}
		}()
	}

	t, err := rudp.New(ctx, peerAddr, localAddr, cfg)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- pumpStdinToTransport(t) }()
	go func() { errCh <- pumpTransportToStdout(ctx, t) }()

	err = <-errCh
	closeErr := t.Close(ctx)
	if err == nil {
		err = closeErr
	}
	return err
}

func pumpStdinToTransport(t *rudp.Transport) error {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if subErr := t.Submit(buf[:n]); subErr != nil {
				return subErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func pumpTransportToStdout(ctx context.Context, t *rudp.Transport) error {
	for {
		b, err := t.Read(ctx)
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(b); err != nil {
			return err
		}
	}
}
