package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentuity/smartcache/eventing"
	"github.com/agentuity/smartcache/metrics"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the metrics and health endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		exporter, err := metrics.New(app.analyzer, app.cfg, app.logger)
		if err != nil {
			return err
		}

		if app.cfg.Broadcasting.Enabled && app.redis != nil {
			events := eventing.NewRedis(ctx, app.logger, app.redis)
			defer events.Close()
			broadcaster := eventing.NewStatsBroadcaster(events, func(ctx context.Context) (interface{}, error) {
				return app.analyzer.Stats(ctx)
			}, app.cfg.Broadcasting.StatsUpdateInterval.Std(), app.logger)
			broadcaster.Start(ctx)
			defer broadcaster.Stop()
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(exporter.Health())
		})

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		app.logger.Info("listening on %s", listenAddr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9090", "listen address for metrics and health")
	rootCmd.AddCommand(serveCmd)
}
