// Headless alert daemon: holds the TradeIQ socket open, fans incoming
// market alerts and narration into the feed, archives them to parquet, and
// serves the status API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeiq/internal/alerts"
	"tradeiq/internal/archive"
	"tradeiq/internal/config"
	"tradeiq/internal/httpapi"
	"tradeiq/internal/market"
	"tradeiq/internal/store"
	"tradeiq/internal/stream"
	"tradeiq/internal/util"
)

func main() {
	_ = godotenv.Load(".env")

	cfgPath := "config/tradeiq.yaml"
	if p := os.Getenv("TRADEIQ_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	feed := alerts.NewFeed(cfg.Alerts.RecentAlerts, cfg.Alerts.RecentNarration)

	dispatcher := stream.NewDispatcher()
	dispatcher.OnMarketAlert(feed.AddAlert)
	dispatcher.OnNarration(feed.AddNarration)

	transport, err := stream.NewTransport(stream.Options{
		BaseURL:          cfg.Server.BaseURL,
		SocketPath:       cfg.Server.SocketPath,
		UserID:           cfg.Server.UserID,
		MaxAttempts:      cfg.Stream.ReconnectMaxAttempts,
		BaseDelay:        cfg.ReconnectBaseDelay(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		PingInterval:     cfg.PingInterval(),
		Sink:             dispatcher,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("building transport: %v", err)
	}
	transport.SubscribeStatus(dispatcher.HandleStatus)

	arc := store.NewParquetArchive(cfg.Storage.DataDir)
	archiver := archive.NewArchiver(feed, arc, cfg.FlushInterval(), logger)

	clock := market.NewClock(cfg.Market.MIC)
	api := httpapi.NewServer(feed, transport, archiver, clock, logger)

	httpSrv := &http.Server{
		Addr:    cfg.Daemon.HTTPAddr,
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport.Connect()
	logger.Info("socket transport started", "endpoint", transport.Endpoint())

	go func() {
		logger.Info("status API listening", "addr", cfg.Daemon.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	logger.Info("starting " + archiver.Name())
	if err := archiver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("archiver stopped", "error", err)
	}

	// Run returned after the final flush; drain HTTP and drop the socket.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	transport.Disconnect()
	logger.Info("shutdown complete")
}
