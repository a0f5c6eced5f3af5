package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cajards.org/internal/audit"
	"cajards.org/internal/config"
	"cajards.org/internal/events/kafka"
	"cajards.org/internal/httpapi"
	"cajards.org/internal/ledger"
	"cajards.org/internal/obs"
	"cajards.org/internal/store/pg"
	"cajards.org/internal/stream"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CAJA_COMMIT"))

	// Without a DSN the service runs against the in-memory ledger, which is
	// enough for local development and the smoke tests.
	var (
		svc        ledger.Service
		auditStore audit.Store
		db         *sql.DB
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		svc = store
		auditStore = pg.NewAuditStore(store.DB())
		db = store.DB()
	} else {
		svc = ledger.NewInMemory()
		auditStore = audit.NewMemoryStore()
	}

	recorder := audit.NewRecorder(auditStore)
	txStream := stream.New()

	opts := []httpapi.Option{
		httpapi.WithStream(txStream),
		httpapi.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	}
	var publisher *kafka.Publisher
	if cfg.EventsEnabled() {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		opts = append(opts, httpapi.WithEvents(publisher))
	}

	api := httpapi.New(svc, recorder, httpapi.ReadyProbe{DB: db}, version, opts...)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting caja-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if publisher != nil {
		_ = publisher.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
