package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/config"
	"github.com/dgnsrekt/telemetry-relay/internal/ingest"
	"github.com/dgnsrekt/telemetry-relay/internal/logging"
	"github.com/dgnsrekt/telemetry-relay/internal/recorder"
	"github.com/dgnsrekt/telemetry-relay/internal/server"
	"github.com/dgnsrekt/telemetry-relay/internal/sse"
	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config
	cfg, err := config.Load(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Bool("validateRequests", cfg.Server.ValidateRequests),
		zap.Int("sendBuffer", cfg.Hub.SendBuffer),
		zap.Bool("mqtt", cfg.MQTT.Enabled),
		zap.Bool("recorder", cfg.Recorder.Enabled),
	)

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := state.NewStore()
	hub := ws.NewHub("relay", ws.SnapshotOf(store), logger)
	go hub.Run(ctx)

	commands := ws.NewCommandChannel(store, hub, logger)

	// Flight recorder (optional)
	var (
		sink      ingest.Recorder
		flightLog server.FlightLog
	)
	if cfg.Recorder.Enabled {
		rec, err := recorder.Open(ctx, cfg.Recorder.Path, cfg.Recorder.QueueSize, logger)
		if err != nil {
			logger.Error("failed to open flight recorder", zap.Error(err))
			return 1
		}
		defer rec.Close()
		sink, flightLog = rec, rec
		logger.Info("flight recorder enabled", zap.String("path", cfg.Recorder.Path))
	}

	gateway := ingest.NewGateway(store, hub, sink, logger)

	// MQTT ingestion (optional)
	if cfg.MQTT.Enabled {
		ingester := ingest.NewMQTTIngester(gateway, ingest.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		go func() {
			if err := ingester.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mqtt ingester stopped", zap.Error(err))
			}
		}()
	}

	wsOpts := ws.Options{
		WriteWait:      cfg.Hub.WriteWait,
		PongWait:       cfg.Hub.PongWait,
		MaxMessageSize: cfg.Hub.MaxMessageSize,
		SendBuffer:     cfg.Hub.SendBuffer,
	}
	streams := server.StreamHandlers{
		WebSocket: ws.NewHandler(hub, commands, wsOpts, logger),
		Events:    sse.NewHandler(hub, cfg.Hub.SendBuffer, cfg.Hub.SSEHeartbeat, logger),
		Negotiate: ws.NewNegotiateHandler(logger).HandleNegotiate,
	}

	srv := server.NewServer(store, gateway, commands, hub, flightLog, logger)

	// Create router
	router, err := server.NewRouter(srv, streams, cfg.Server.ValidateRequests, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("shutting down server...")

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
