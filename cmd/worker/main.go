package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/klaxonhq/klaxon/escalation"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/internal/config"
	"github.com/klaxonhq/klaxon/internal/uptime"
	"github.com/klaxonhq/klaxon/notify"
	"github.com/klaxonhq/klaxon/store"
)

func main() {
	log.Println("Starting workers...")

	configPath := os.Getenv("KLAXON_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Escalation deadlines and shift math assume UTC timestamps end to end.
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}

	log.Println("Connected to database successfully")

	logger := slog.Default()
	stores := store.New(pg)
	notifier := notify.NewQueueEmitter(pg, config.App.NotificationQueue)

	engine := escalation.New(stores, notifier, logger)
	if s := config.App.Escalation.TickSeconds; s > 0 {
		engine.Interval = time.Duration(s) * time.Second
	}
	if n := config.App.Escalation.BatchSize; n > 0 {
		engine.BatchSize = n
	}
	if n := config.App.Escalation.Concurrency; n > 0 {
		engine.Concurrency = n
	}

	// Provider sync feeds detected transitions through the same alert path
	// webhooks use, so external downtime opens and resolves incidents.
	ingestor := ingest.NewIngestor(stores.Incidents, notifier, logger)
	syncWorker := uptime.NewSyncWorker(stores.Providers, ingestor, logger)
	if s := config.App.ProviderSyncSeconds; s > 0 {
		syncWorker.Interval = time.Duration(s) * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			log.Printf("Escalation engine exited: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := syncWorker.Run(ctx); err != nil {
			log.Printf("Uptime sync worker exited: %v", err)
		}
	}()

	log.Println("Workers started successfully. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down workers...")
	wg.Wait()
}
