package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/config"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/remote/httpapi"
	"github.com/MarquesJr132/stock-system/internal/remote/memory"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	Memory bool

	// Ready, if set, receives the listening address once the server accepts
	// connections (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the authoritative backend over HTTP",
		Long: `Expose a backend over HTTP for clients configured with the http remote.

The served backend is the sql remote from the configuration, or an in-memory
one with --memory.

Example:
  stocksync serve --memory --addr :8080
  STOCK_REMOTE_KIND=sql STOCK_REMOTE_DSN=postgres://... stocksync serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (defaults to http.addr from config)")
	cmd.Flags().BoolVar(&opts.Memory, "memory", false, "serve an in-memory backend")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	cfg, log, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	defer log.Sync()

	var backend remote.Backend
	switch {
	case opts.Memory || cfg.Remote.Kind == config.RemoteMemory:
		backend = memory.New()
	case cfg.Remote.Kind == config.RemoteSQL:
		b, closeBackend, err := openBackend(ctx, cfg, log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open backend", err)
		}
		defer closeBackend()
		backend = b
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("cannot serve a %s remote; use --memory or the sql remote", cfg.Remote.Kind))
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.HTTP.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           httpapi.NewHandler(backend, log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("serving backend", zap.String("addr", ln.Addr().String()))
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	log.Info("server stopped")
	return nil
}
