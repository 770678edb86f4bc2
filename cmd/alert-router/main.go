package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/chaos"
	"github.com/ismaiel54/alert-trade-router/internal/config"
	"github.com/ismaiel54/alert-trade-router/internal/dispatch"
	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"github.com/ismaiel54/alert-trade-router/internal/execution/bridge"
	"github.com/ismaiel54/alert-trade-router/internal/execution/sim"
	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/journal"
	"github.com/ismaiel54/alert-trade-router/internal/ledger"
	"github.com/ismaiel54/alert-trade-router/internal/logging"
	"github.com/ismaiel54/alert-trade-router/internal/msg"
	"github.com/ismaiel54/alert-trade-router/internal/notify"
	"github.com/ismaiel54/alert-trade-router/internal/observability"
	"github.com/ismaiel54/alert-trade-router/internal/parser"
	"github.com/ismaiel54/alert-trade-router/internal/router"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// replyKey keeps every reply on one partition, in handling order.
const replyKey = "replies"

func main() {
	// Load configuration
	cfg := config.LoadConfig("alert-router")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("starting alert-router service",
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("broker_kind", cfg.BrokerKind),
		zap.Float64("position_size", cfg.PositionSize),
		zap.String("data_dir", cfg.DataDir),
	)

	// Lookup tables
	mapper, kw, err := loadTables(cfg)
	if err != nil {
		logger.Fatal("failed to load tables", zap.Error(err))
	}
	logger.Info("tables loaded", zap.Strings("indices", mapper.Keys()))

	p, err := parser.New(mapper, kw, cfg.PositionSize, logger)
	if err != nil {
		logger.Fatal("failed to build parser", zap.Error(err))
	}

	// Execution port
	port, injector, err := newPort(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create broker", zap.Error(err))
	}

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.SetComponentReady(observability.ComponentKafka, false)

	// Rebuild the ledger from what the broker holds
	l := ledger.New(mapper.Keys())
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	seeded, err := l.Seed(seedCtx, port, mapper)
	seedCancel()
	if err != nil {
		logger.Fatal("failed to seed ledger", zap.Error(err))
	}
	logger.Info("ledger seeded",
		zap.Int("positions", seeded.Loaded),
		zap.Strings("ignored_symbols", seeded.Ignored),
	)
	healthChecker.SetComponentReady(observability.ComponentBroker, true)
	healthChecker.SetComponentReady(observability.ComponentLedger, true)

	d := dispatch.New(port, l, mapper, logger)
	r := router.New(p, d, logger)

	// Open journal
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Fatal("failed to open journal", zap.Error(err))
	}
	defer store.Close()
	logger.Info("journal opened", zap.String("path", cfg.JournalPath()))

	// Kafka
	msgCfg := msg.LoadConfig()
	producer, err := msg.NewProducer(msgCfg, logger)
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	consumer, err := msg.NewConsumer(msgCfg, msgCfg.ConsumerGroup, []string{msgCfg.AlertsTopic}, logger,
		msg.WithMaxAttempts(1))
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Reply delivery
	hub := notify.NewHub(logger)
	defer hub.Close()
	sinks := []notify.Sink{notify.NewKafkaSink(producer, msgCfg.RepliesTopic, replyKey), hub}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, 10*time.Second))
	}
	notifier := notify.NewNotifier(logger, sinks...)
	publisher := journal.NewPublisher(store, notifier, logger)
	ingestor := router.NewIngestor(r, store, msgCfg.RepliesTopic, logger)

	// Operator endpoints
	healthChecker.Handle("/ledger", observability.JSONHandler(func() any { return l.Snapshot() }))
	healthChecker.Handle("/context", observability.JSONHandler(func() any {
		key, ok := r.Context()
		if !ok {
			return map[string]any{"index": nil}
		}
		return map[string]any{"index": key}
	}))
	healthChecker.Handle("/ws/replies", hub)
	healthChecker.Handle("/chaos", observability.JSONHandler(func() any { return injector.Dropped() }))

	// Create gRPC server
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	// Start HTTP health server
	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Start consumer
	consumerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerErrCh := make(chan error, 1)
	go func() {
		if err := consumer.Run(consumerCtx, ingestor.HandleRecord); err != nil && consumerCtx.Err() == nil {
			consumerErrCh <- err
		}
	}()

	// Start outbox publisher loop
	publisherErrCh := make(chan error, 1)
	go func() {
		if err := publisher.Run(consumerCtx); err != nil && consumerCtx.Err() == nil {
			publisherErrCh <- err
		}
	}()

	// Wait for consumer to start
	time.Sleep(1 * time.Second)
	if consumer.IsRunning() {
		healthChecker.SetComponentReady(observability.ComponentKafka, true)
	} else {
		logger.Warn("consumer not running yet")
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	case err := <-consumerErrCh:
		logger.Error("consumer error", zap.Error(err))
	case err := <-publisherErrCh:
		logger.Error("publisher error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")

	cancel()
	consumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Flush replies queued before the consumer stopped
	if n, err := publisher.PublishBatch(shutdownCtx); err != nil {
		logger.Warn("final reply flush failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("flushed pending replies", zap.Int("replies", n))
	}

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("alert-router service stopped")
}

func loadTables(cfg *config.Config) (*index.Mapper, parser.Keywords, error) {
	mapper := index.Default()
	if cfg.IndexMapperPath != "" {
		m, err := index.Load(cfg.IndexMapperPath)
		if err != nil {
			return nil, parser.Keywords{}, err
		}
		mapper = m
	}

	kw := parser.DefaultKeywords()
	if cfg.KeywordsPath != "" {
		k, err := parser.LoadKeywords(cfg.KeywordsPath)
		if err != nil {
			return nil, parser.Keywords{}, err
		}
		kw = k
	}
	return mapper, kw, nil
}

// newPort builds the broker stack: backend, then chaos, then the
// per-call timeout around both.
func newPort(cfg *config.Config, logger *zap.Logger) (execution.Port, *chaos.Chaos, error) {
	var base execution.Port
	switch cfg.BrokerKind {
	case config.BrokerBridge:
		poll := execution.DefaultPollConfig()
		poll.MaxWait = cfg.ConfirmMaxWait
		base = bridge.NewClient(cfg.BrokerURL, cfg.BrokerAPIKey, logger, bridge.WithPoll(poll))
	default:
		b := sim.New(logger)
		if cfg.SimQuotesPath != "" {
			n, err := b.LoadQuotes(cfg.SimQuotesPath)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("sim quotes loaded", zap.Int("symbols", n))
		} else {
			logger.Warn("sim broker has no quotes; opens will be rejected until SIM_QUOTES_PATH is set")
		}
		base = b
	}

	chaosCfg := chaos.LoadConfig()
	if chaosCfg.Enabled {
		logger.Warn("chaos injection enabled on broker calls",
			zap.Int("drop_pct", chaosCfg.DropPct),
			zap.Strings("ops", chaosCfg.TargetOps),
		)
	}
	injector := chaos.New(chaosCfg, logger)
	return execution.WithTimeout(chaos.WrapPort(base, injector), cfg.BrokerTimeout), injector, nil
}
