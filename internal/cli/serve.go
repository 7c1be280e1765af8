package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/pkg/manifest"
	"github.com/drover-ai/drover/pkg/session"
	"github.com/drover-ai/drover/pkg/tool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run background services",
	Long: `Run the long-lived background services: the Prometheus metrics
endpoint, the scheduled session cleanup, and the tool manifest watcher.
Stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup := session.NewCleanup(rt.store, time.Duration(rt.cfg.Sessions.CleanupAgeDays)*24*time.Hour)
	if rt.cfg.Sessions.MaxEntries > 0 {
		cleanup.SetMaxEntries(rt.cfg.Sessions.MaxEntries)
	}
	if err := cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	defer func() {
		if err := cleanup.Stop(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to stop session cleanup")
		}
	}()

	if rt.cfg.Tools.ManifestPath != "" {
		registry := tool.NewRegistry()
		watcher, err := manifest.NewWatcher(manifest.WatcherConfig{
			Path:     rt.cfg.Tools.ManifestPath,
			Registry: registry,
			OnReload: func(m *manifest.Manifest, reloadErr error) {
				if reloadErr != nil {
					rt.log.Warn().Err(reloadErr).Msg("Tool manifest reload failed, keeping last good version")
					return
				}
				rt.log.Info().Int("tools", len(m.Tools)).Msg("Tool manifest reloaded")
			},
		})
		if err != nil {
			return fmt.Errorf("failed to watch tool manifest: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				rt.log.Warn().Err(err).Msg("Failed to stop manifest watcher")
			}
		}()
		rt.log.Info().Str("path", rt.cfg.Tools.ManifestPath).Msg("Watching tool manifest")
	}

	var metricsServer *http.Server
	if rt.cfg.Metrics.Enabled {
		addr := net.JoinHostPort(rt.cfg.Metrics.Host, strconv.Itoa(rt.cfg.Metrics.Port))
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsServer = &http.Server{Addr: addr, Handler: mux}

		go func() {
			rt.log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	rt.log.Info().Msg("Background services started")
	<-ctx.Done()
	rt.log.Info().Msg("Shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	return nil
}
