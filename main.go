package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mafin/config"
	"mafin/internal/archive"
	"mafin/internal/cache"
	"mafin/internal/exchange/binance"
	"mafin/internal/orders"
	"mafin/internal/quote"
	"mafin/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.MaFin.Name,
		"version": cfg.MaFin.Version,
	}).Info("starting mafin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch {
		logger.InitCloudWatch(cfg.Archive.Region, cfg.MaFin.Name, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	client := binance.New(cfg)
	board := quote.NewBoard()

	directory := cache.New(cfg, client)
	if err := directory.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start cache directory")
		os.Exit(1)
	}

	manager := orders.NewManager(client, directory, board, cfg.Orders, cfg.Storage.Root)

	var uploader *archive.Uploader
	if cfg.Archive.Enabled {
		uploader, err = archive.NewUploader(cfg.Archive, cfg.Storage.Root)
		if err != nil {
			log.WithError(err).Error("failed to create archive uploader")
			os.Exit(1)
		}
		if err := uploader.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive uploader")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archive disabled; skipping S3 mirror")
	}

	var wg sync.WaitGroup

	// Execution reports invalidate the cached order feeds and route
	// fills to any smart order tracking that id.
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.RunUserStream(ctx, func(symbol string, orderID int64, status string) {
			manager.HandleOrderUpdate(symbol, orderID, status)
			directory.OnDomainEvent(cache.DomainEvent{
				Kind:   cache.EventOrderStatusChanged,
				Symbol: symbol,
			})
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		client.RunMarketStream(ctx, cfg.Binance.Pairs, board.Update)
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if uploader != nil {
		log.Info("stopping archive uploader")
		uploader.Stop()
	}

	log.Info("waiting for smart orders")
	manager.Wait()

	log.Info("stopping cache directory")
	directory.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("mafin stopped")
}
