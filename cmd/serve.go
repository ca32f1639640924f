package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcpgateway/internal/config"
	"mcpgateway/internal/gateway"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/router"
	"mcpgateway/pkg/logging"

	"github.com/spf13/cobra"
)

// serveDebug enables debug-level logging across the gateway.
var serveDebug bool

// serveConfigPath is the backend configuration file to load at startup.
var serveConfigPath string

// serveListenAddr is the address the HTTP server binds to.
var serveListenAddr string

// serveHealthCheckInterval controls how often the registry pings backends.
var serveHealthCheckInterval time.Duration

// serveSessionTimeout controls how long an idle client event-stream session
// is kept before eviction.
var serveSessionTimeout time.Duration

// serveCmd starts the gateway: it loads the backend catalog, registers each
// backend with the registry, and serves the merged namespaced catalog over
// HTTP until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and aggregate the configured backends",
	Long: `Loads a backend configuration file, registers every enabled backend
with the adapter registry, and serves the merged tools/resources/prompts
catalog to clients over the event-stream and stateless RPC endpoints.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "gateway.yaml", "Path to the backend configuration file")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", ":8080", "Address to serve the gateway HTTP endpoints on")
	serveCmd.Flags().DurationVar(&serveHealthCheckInterval, "health-check-interval", 15*time.Second, "Interval between backend health pings")
	serveCmd.Flags().DurationVar(&serveSessionTimeout, "session-timeout", gateway.DefaultSessionTimeout, "Idle timeout before an event-stream session is evicted")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)

	backends, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	for _, b := range backends {
		if !b.Enabled {
			continue
		}
		if err := reg.RegisterServer(ctx, b); err != nil {
			return fmt.Errorf("registering backend %s: %w", b.ID, err)
		}
	}
	reg.StartHealthChecks(ctx, serveHealthCheckInterval)

	rt := router.New(reg)
	gw := gateway.New(reg, rt, serveSessionTimeout)
	gw.StartSessionSweep(ctx)

	srv := &http.Server{Addr: serveListenAddr, Handler: gw.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("serve", "listening on %s with %d backend(s)", serveListenAddr, len(backends))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logging.Info("serve", "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("serve", err, "http server shutdown")
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logging.Error("serve", err, "registry shutdown")
	}
	return nil
}
