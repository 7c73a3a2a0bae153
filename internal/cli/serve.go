package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"zoneplane/internal/controller"
	"zoneplane/internal/handlers"
	"zoneplane/internal/logging"
	"zoneplane/internal/metrics"
	"zoneplane/internal/notify"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + cfg.Port
			}
			log := newLogger(cfg, os.Stdout)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, err := metrics.NewCollector(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			hub := notify.NewHub(0)
			pub := notify.Multi{hub}
			if len(cfg.EtcdEndpoints) > 0 {
				etcd, err := notify.NewEtcdPublisher(cfg.EtcdEndpoints, cfg.EtcdEventTTL)
				if err != nil {
					return err
				}
				defer etcd.Close()
				pub = append(pub, etcd)
				log.Info(ctx, "publishing events to etcd", logging.Any("endpoints", cfg.EtcdEndpoints))
			}

			coord, store, err := newCoordinator(cfg, pub, m, log)
			if err != nil {
				return err
			}
			defer store.Close()

			if cfg.AutoConverge {
				conv := controller.NewConverger(coord,
					controller.WithInterval(cfg.AutoConvergeInterval),
					controller.WithMetrics(m),
					controller.WithLogger(log.With(logging.String("component", "converger"))),
				)
				go conv.Start(ctx)
				log.Info(ctx, "auto-converge enabled", logging.String("interval", cfg.AutoConvergeInterval.String()))
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           handlers.NewServer(coord, handlers.Options{Hub: hub, Metrics: m, Logger: log}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Info(ctx, "server started", logging.String("addr", addr), logging.String("db", cfg.DBPath))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Info(context.Background(), "shutdown signal received")
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				log.Warn(shutCtx, "graceful shutdown", logging.Err(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	return cmd
}
