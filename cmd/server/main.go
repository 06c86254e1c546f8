// Package main is the entry point for the chain explorer, a fail-over query
// engine over public blockchain explorer APIs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-explorer/internal/aggregate"
	"github.com/yourorg/chain-explorer/internal/api"
	"github.com/yourorg/chain-explorer/internal/broker"
	"github.com/yourorg/chain-explorer/internal/cache"
	"github.com/yourorg/chain-explorer/internal/config"
	"github.com/yourorg/chain-explorer/internal/defaults"
	"github.com/yourorg/chain-explorer/internal/otel"
	"github.com/yourorg/chain-explorer/internal/registry"
	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/store/db"
	"github.com/yourorg/chain-explorer/internal/telemetry"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Server owns every long lived component of the process
type Server struct {
	config   config.Config
	store    store.DefaultProviders
	cache    cache.Cache
	explorer *aggregate.Explorer
	exporter *telemetry.Exporter
	consumer *broker.Consumer
	server   *http.Server
	log      *logrus.Logger
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()
	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	s, err := NewServer(ctx, cfg, logrus.StandardLogger())
	cancel()
	if err != nil {
		logrus.Fatalf("Error initializing server: %v", err)
	}
	s.Start()
}

// NewServer wires the stores, the adapters and the explorer
func NewServer(ctx context.Context, cfg config.Config, log *logrus.Logger) (*Server, error) {
	s := &Server{config: cfg, log: log}

	var err error
	if s.store, err = db.New(ctx, cfg.StoreType, cfg.StoreDSN); err != nil {
		return nil, err
	}
	if s.cache, err = newCache(ctx, cfg); err != nil {
		s.store.Close()
		return nil, err
	}

	providers, err := config.LoadProviders(cfg.ProvidersFile, cfg.APIKeys)
	if err != nil {
		s.close()
		return nil, err
	}

	metrics := telemetry.NewMetrics(nil)
	reg, err := registry.Build(providers, registry.BuildOptions{
		Timeout:          cfg.RequestTimeout,
		RetryMax:         cfg.RetryMax,
		RateLimitBackoff: cfg.RateLimitBackoff,
		Shared:           s.cache,
		OnTrip: func(net types.Network, name, reason string, until time.Time) {
			metrics.Backoff(net, name)
			log.WithFields(logrus.Fields{
				"network":  net,
				"provider": name,
				"until":    until.Format(time.RFC3339),
			}).Warnf("Provider backing off: %s", reason)
		},
		Logger: log,
	})
	if err != nil {
		s.close()
		return nil, err
	}

	tracker := defaults.New(s.store, s.cache, cfg.DefaultTTL, log)
	opts := []aggregate.Option{
		aggregate.WithMetrics(metrics),
		aggregate.WithLogger(log),
		aggregate.WithWorkers(cfg.BlockWorkers),
		aggregate.WithHedge(cfg.BlockHedge),
		aggregate.WithMaxBackoffWait(cfg.MaxBackoffWait),
	}
	if cfg.ExportWebhookURL != "" {
		s.exporter, err = telemetry.NewExporter(telemetry.ExporterConfig{
			WebhookURL:    cfg.ExportWebhookURL,
			WebhookAPIKey: os.Getenv("EXPORT_WEBHOOK_API_KEY"),
			BatchSize:     config.GetEnvAsInt("EXPORT_BATCH_SIZE", 100),
			Interval:      cfg.ExportInterval,
			Logger:        log,
		})
		if err != nil {
			log.Warnf("Failed to initialize exhaustion exporter: %v", err)
		} else {
			opts = append(opts, aggregate.WithReporter(s.exporter))
			log.Info("Exhaustion exporter initialized")
		}
	}
	s.explorer = aggregate.New(reg, tracker, opts...)

	if cfg.AMQPURL != "" {
		s.consumer, err = broker.Dial(cfg.AMQPURL, cfg.AMQPQueue, s.explorer, cfg.RequestTimeout*4, log)
		if err != nil {
			log.Warnf("Failed to connect to AMQP broker: %v", err)
		}
	}

	handler := api.New(s.explorer, tracker,
		api.WithMetricsHandler(metrics.Handler()),
		api.WithLogger(log),
	)
	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"store":    cfg.StoreType,
		"cache":    cfg.CacheType,
		"networks": len(reg.Networks()),
		"broker":   s.consumer != nil,
		"export":   s.exporter != nil,
	}).Info("Server initialized")
	return s, nil
}

// newCache selects the default provider cache
func newCache(ctx context.Context, cfg config.Config) (cache.Cache, error) {
	if cfg.CacheType == "redis" {
		return cache.NewRedis(ctx, cfg.RedisAddr)
	}
	return cache.NewMemory(), nil
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		s.log.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Fatalf("Error starting server: %v", err)
		}
	}()

	consumed := make(chan struct{})
	if s.consumer != nil {
		go func() {
			defer close(consumed)
			if err := s.consumer.Run(ctx); err != nil {
				s.log.Errorf("Broker consumer stopped: %v", err)
			}
		}()
	} else {
		close(consumed)
	}

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.log.Info("Server shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("Server shutdown failed: %v", err)
	}
	<-consumed
	s.close()
	s.log.Info("Server stopped")
}

// close releases the components in reverse order of creation
func (s *Server) close() {
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			s.log.Warnf("Error closing broker: %v", err)
		}
	}
	if s.explorer != nil {
		s.explorer.Flush()
	}
	s.exporter.Stop()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warnf("Error closing cache: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warnf("Error closing store: %v", err)
		}
	}
}
