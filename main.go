package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"yad2-watcher/api"
	"yad2-watcher/config"
	"yad2-watcher/messaging"
	"yad2-watcher/models"
	"yad2-watcher/scraper/yad2"
	"yad2-watcher/services"
	"yad2-watcher/storage"
	"yad2-watcher/utils"
)

func main() {
	once := flag.Bool("once", false, "run a single scan cycle over every target and exit")
	flag.Parse()

	cfg := config.Load()
	logger := utils.NewLoggerLevel(cfg.LogLevel)

	logger.Info("=== Yad2 watcher starting ===")
	logger.Info("Config: store: %s | concurrency: %d | retries: %d | schedule: %q",
		cfg.StoreBackend, cfg.MaxConcurrency, cfg.MaxRetries, cfg.ScanSchedule)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreBackend, err)
		if cfg.StoreBackend == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TargetsFile != "" {
		if err := seedTargets(ctx, store, cfg.TargetsFile, logger); err != nil {
			logger.Error("Failed to seed targets: %v", err)
			os.Exit(1)
		}
	}

	fetcher := yad2.NewFetcher(yad2.FetcherConfig{
		MaxAttempts:       cfg.MaxRetries,
		BaseDelay:         cfg.RetryBaseDelay,
		NavigationTimeout: cfg.NavigationTimeout,
		ChallengeMarkers:  cfg.ChallengeMarkers,
	}, yad2.NewChromeSessionFactory(yad2.ChromeOptions{
		ChromeBin: cfg.ChromeBin,
		Headless:  cfg.Headless,
	}, logger), logger)
	defer fetcher.Close()

	var sender messaging.Sender
	if cfg.TelegramAPIToken != "" && cfg.TelegramChatID != "" {
		tg, err := messaging.NewTelegramSender(cfg.TelegramAPIToken, cfg.TelegramChatID)
		if err != nil {
			logger.Error("Failed to create Telegram sender: %v", err)
			os.Exit(1)
		}
		sender = tg
	} else {
		logger.Warn("API_TOKEN or CHAT_ID not set, notifications go to the log only")
		sender = messaging.NewLogSender(logger)
	}

	pcfg := services.PipelineConfig{
		Fetcher:   fetcher,
		Extractor: yad2.NewExtractor(cfg.ItemBaseURL),
		Store:     store,
		Notifier: services.NewNotifier(sender, services.NotifierConfig{
			MaxMessageLength:  cfg.MaxMessageLength,
			MessagesPerSecond: cfg.MessagesPerSecond,
		}, logger),
		Concurrency: cfg.MaxConcurrency,
	}
	if cfg.CSVExportDir != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVExportDir)
		if err != nil {
			logger.Error("Failed to create CSV writer: %v", err)
			os.Exit(1)
		}
		pcfg.Recorder = csvWriter
	}
	pipeline := services.NewPipeline(pcfg, logger)

	scanAll := func(ctx context.Context) []*models.ScanOutcome {
		targets, err := store.ListTargets(ctx)
		if err != nil {
			logger.Error("Failed to list targets: %v", err)
			return nil
		}
		return pipeline.RunScanCycle(ctx, targets)
	}

	if *once {
		failed := 0
		for _, o := range scanAll(ctx) {
			if o.Failed() {
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.ScanSchedule, func() { scanAll(ctx) }); err != nil {
		logger.Error("Invalid SCAN_SCHEDULE %q: %v", cfg.ScanSchedule, err)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("Scheduled scans: %q", cfg.ScanSchedule)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(pipeline, store, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	<-scheduler.Stop().Done()
	logger.Info("=== Yad2 watcher stopped ===")
}

func openStore(cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "badger":
		s, err := storage.NewBadgerStore(cfg.BadgerPath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := storage.NewPostgresStore(cfg.DSN())
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New("STORE_BACKEND must be postgres or badger")
	}
}

// seedTargets adds targets from the YAML file whose URL is not tracked yet.
func seedTargets(ctx context.Context, store storage.TargetStore, path string, logger *utils.Logger) error {
	seeds, err := config.LoadTargets(path)
	if err != nil {
		return err
	}
	existing, err := store.ListTargets(ctx)
	if err != nil {
		return err
	}

	known := utils.NewTokenSet()
	for _, t := range existing {
		known.Add(t.URL)
	}

	added := 0
	for _, s := range seeds {
		if !known.Add(s.URL) {
			continue
		}
		t, err := store.AddTarget(ctx, models.TrackedTarget{
			Name:           s.Topic,
			URL:            s.URL,
			MaxPricePerSqm: s.MaxPricePerSqm,
			Disabled:       s.Disabled,
		})
		if err != nil {
			return err
		}
		logger.Debug("Seeded target #%d %q", t.ID, t.Name)
		added++
	}
	logger.Info("Seeded %d new target(s) from %s", added, path)
	return nil
}
