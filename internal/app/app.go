package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/grandcat/zeroconf"

	"uplinkdash/telemetry-server/internal/anomaly"
	"uplinkdash/telemetry-server/internal/config"
	"uplinkdash/telemetry-server/internal/ingest"
	"uplinkdash/telemetry-server/internal/kafkasrc"
	"uplinkdash/telemetry-server/internal/metrics"
	"uplinkdash/telemetry-server/internal/mqttsub"
	"uplinkdash/telemetry-server/internal/store"
)

// App wires together the uplink dashboard services and manages their lifecycle.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	store     *store.Store
	ingester  *ingest.Ingester
	anomalies *anomaly.Service
	mdns      *zeroconf.Server
	accessLog io.Writer
	webDir    string
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		accessLog: os.Stdout,
		webDir:    "web",
	}
}

// attach binds the store and everything built on top of it.
func (a *App) attach(st *store.Store) {
	a.store = st
	a.ingester = ingest.New(st, a.logger, a.metrics)
	a.anomalies = anomaly.NewService(st, a.logger, a.metrics)
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := db.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	a.attach(db)

	if a.cfg.DatasetDir != "" {
		if _, err := a.ingester.IngestDataset(ctx, a.cfg.DatasetDir); err != nil {
			return fmt.Errorf("ingest dataset: %w", err)
		}
	}

	sourceErrCh := make(chan error, 1)

	if a.cfg.MQTTBroker != "" {
		sub, err := mqttsub.New(mqttsub.Config{
			Broker:   a.cfg.MQTTBroker,
			ClientID: a.cfg.MQTTClientID,
			Topic:    a.cfg.MQTTTopic,
			QoS:      byte(a.cfg.MQTTQoS),
		}, a.ingester, a.logger)
		if err != nil {
			return fmt.Errorf("mqtt source: %w", err)
		}
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	}

	if len(a.cfg.KafkaBrokers) > 0 {
		consumer, err := kafkasrc.New(kafkasrc.Config{
			Brokers: a.cfg.KafkaBrokers,
			Topic:   a.cfg.KafkaTopic,
			GroupID: a.cfg.KafkaGroup,
		}, a.ingester, a.logger)
		if err != nil {
			return fmt.Errorf("kafka source: %w", err)
		}
		defer func() {
			if cerr := consumer.Close(); cerr != nil {
				a.logger.Error("close kafka consumer", "error", cerr)
			}
		}()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				sourceErrCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	httpErrCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           handlers.CombinedLoggingHandler(a.accessLog, a.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", a.metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErrCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("metrics server shutdown", "error", err)
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	}

	select {
	case <-ctx.Done():
		return shutdown()
	case err := <-httpErrCh:
		_ = shutdown()
		return err
	case err := <-sourceErrCh:
		_ = shutdown()
		return err
	}
}
