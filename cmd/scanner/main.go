package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"StockSentry/internal/cache"
	"StockSentry/internal/config"
	"StockSentry/internal/fetcher"
	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
	"StockSentry/internal/notifier"
	"StockSentry/internal/ratelimit"
	"StockSentry/internal/report"
	"StockSentry/internal/scanner"
	"StockSentry/internal/state"
	"StockSentry/internal/strategy"
	"StockSentry/internal/universe"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	reportMode := flag.Bool("report", false, "print an alert history report and exit")
	reportHours := flag.Int("report-hours", 24, "report window in hours")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("[INFO] loaded .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}

	tf, err := model.ParseTimeframe(cfg.Scan.Timeframe)
	if err != nil {
		log.Fatalf("[FATAL] invalid scan.timeframe: %v", err)
	}

	cooldown := time.Duration(cfg.Scan.CooldownMinutes) * time.Minute
	stateStore, err := state.Open(cfg.State.SQLitePath, cooldown)
	if err != nil {
		log.Fatalf("[FATAL] open state store: %v", err)
	}
	defer stateStore.Close()

	if *reportMode {
		window := time.Duration(*reportHours) * time.Hour
		summary, err := report.Build(stateStore, window, time.Now())
		if err != nil {
			log.Fatalf("[FATAL] build report: %v", err)
		}
		fmt.Print(summary.Render())
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] invalid config: %v", err)
	}

	items, err := loadUniverse(cfg)
	if err != nil {
		log.Fatalf("[FATAL] load universe: %v", err)
	}
	log.Printf("[INFO] universe loaded: %d symbols", len(items))

	store, err := cache.Open(cache.Options{Backend: cfg.Cache.Backend, Dir: cfg.Cache.Dir})
	if err != nil {
		log.Fatalf("[FATAL] open bar cache: %v", err)
	}
	defer store.Close()

	m := metrics.New()
	limiter := ratelimit.New(ratelimit.Config{
		MaxRPS:      cfg.DataSource.MaxRPS,
		Burst:       cfg.DataSource.Burst,
		MaxAttempts: cfg.DataSource.RetryMax,
		BackoffBase: time.Duration(cfg.DataSource.BackoffBaseMS) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.DataSource.BackoffMaxMS) * time.Millisecond,
		MaxWait:     time.Duration(cfg.DataSource.AcquireTimeout) * time.Second,
	})
	client := fetcher.NewPolygonClient(
		cfg.DataSource.BaseURL,
		cfg.DataSource.APIKey,
		cfg.Proxy,
		time.Duration(cfg.DataSource.TimeoutSeconds)*time.Second,
		limiter,
		m,
	)

	minBars := make(map[model.Timeframe]int, len(cfg.Scan.MinBars))
	for k, v := range cfg.Scan.MinBars {
		minBars[model.Timeframe(k)] = v
	}
	fetch := fetcher.New(store, client, m, fetcher.Options{
		LookbackDays:    cfg.Scan.LookbackDays,
		MinBars:         minBars,
		MaxGapIntervals: cfg.Scan.MaxGapIntervals,
		AllowPartial:    cfg.Scan.AllowPartial,
	})

	notify := notifier.NewMulti(
		notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy),
		notifier.NewEmail(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.Username,
			cfg.Email.Password, cfg.Email.From, cfg.Email.To),
	)
	if !notify.Enabled() {
		log.Println("[WARN] no notifier configured, alerts will only be logged")
	}

	maint := scanner.NewMaintenance(store, func(tf model.Timeframe) int {
		return cfg.KeepBarsFor(string(tf))
	}, m)
	if err := maint.Register(cfg.Scan.PruneCron); err != nil {
		log.Fatalf("[FATAL] start maintenance scheduler: %v", err)
	}
	defer maint.Stop()

	runner := scanner.New(items, fetch, strategy.NewRSIReversal(), stateStore, notify, m, scanner.Config{
		Timeframe:       tf,
		Interval:        time.Duration(cfg.Scan.IntervalSeconds) * time.Second,
		Concurrency:     cfg.Scan.Concurrency,
		MarketHoursOnly: cfg.Scan.MarketHoursOnly,
		ExtendedHours:   cfg.Scan.ExtendedHours,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Printf("[INFO] received %s, shutting down", s)
		cancel()
	}()

	runner.Run(ctx)
	log.Printf("[INFO] final metrics:\n%s", m.Snapshot().Summary())
}

func loadUniverse(cfg *config.Config) ([]universe.Item, error) {
	if cfg.Scan.UniverseFile != "" {
		return universe.LoadCSV(cfg.Scan.UniverseFile)
	}
	items := universe.FromSymbols(cfg.Scan.Symbols)
	if len(items) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	return items, nil
}
