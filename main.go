package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"krakenfeed/config"
	"krakenfeed/internal/channel"
	"krakenfeed/internal/dashboard"
	"krakenfeed/internal/metrics"
	"krakenfeed/logger"
	"krakenfeed/processor"
	"krakenfeed/reader/kraken"
	"krakenfeed/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"endpoint":    kraken.Endpoint,
	}).Info("starting krakenfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	var wg sync.WaitGroup

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.ProcessedBuffer)
	client := kraken.NewFeedClient(cfg, os.Stdout, channels.Ticker)

	if dash := dashboard.NewServer(cfg.Dashboard, log, func() interface{} {
		return map[string]interface{}{
			"endpoint": kraken.Endpoint,
			"state":    client.State().String(),
			"stats":    client.Stats(),
		}
	}); dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	if cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Prometheus.Address); err != nil {
				log.WithError(err).Warn("prometheus endpoint stopped")
			}
		}()
	}

	if log.ReportEnabled() {
		metrics.StartReport(ctx, log, 30*time.Second)
	}

	channels.StartMetricsReporting(ctx)
	metrics.StartChannelSizeMetrics(ctx, channels, 10*time.Second)

	var tickerProcessor *processor.TickerProcessor
	var tickerWriter *writer.TickerWriter

	if cfg.Reader.ForwardFrames {
		tickerProcessor = processor.NewTickerProcessor(cfg, channels.Ticker)
		if err := tickerProcessor.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start ticker processor")
			os.Exit(1)
		}

		if cfg.Storage.S3.Enabled {
			tickerWriter, err = writer.NewTickerWriter(cfg, channels.Ticker)
			if err != nil {
				log.WithError(err).Error("failed to create ticker writer")
				os.Exit(1)
			}
			if err := tickerWriter.Start(ctx); err != nil {
				log.WithError(err).Error("failed to start ticker writer")
				os.Exit(1)
			}
		} else {
			log.WithComponent("main").Info("S3 storage disabled; skipping ticker writer")
		}
	} else {
		log.WithComponent("main").Info("frame forwarding disabled; skipping ticker pipeline")
	}

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("failed to connect to the feed")
		cancel()
		stopPipeline(log, tickerProcessor, tickerWriter)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-client.Done():
		log.WithFields(logger.Fields{"state": client.State().String()}).Warn("feed connection closed")
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		log.Info("stopping kraken feed")
		client.Stop()
		stopPipeline(log, tickerProcessor, tickerWriter)
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("krakenfeed stopped")
	if client.Err() != nil {
		os.Exit(1)
	}
}

// loadConfig falls back to the built-in defaults when the file is missing,
// except in production-like environments where the file is required.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !config.IsProductionLike(config.AppEnvironment()) {
		def := config.Default()
		if verr := def.Validate(); verr != nil {
			return nil, verr
		}
		logger.GetLogger().WithFields(logger.Fields{"path": path}).Warn("configuration file not found, using defaults")
		return &def, nil
	}
	return nil, err
}

func stopPipeline(log *logger.Log, p *processor.TickerProcessor, w *writer.TickerWriter) {
	if p != nil {
		log.Info("stopping ticker processor")
		p.Stop()
	}
	if w != nil {
		log.Info("stopping ticker writer")
		w.Stop()
	}
}
