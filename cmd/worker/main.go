package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clubhub/internal/config"
	"clubhub/internal/event"
	"clubhub/internal/logger"
	"clubhub/internal/queue"
	"clubhub/internal/rsvp"
	"clubhub/internal/store"
)

// Worker retries failed participant-counter reconciliations from the queue
// and periodically sweeps for drifted events. Because reconciliation is a
// full recount, re-running it any number of times is harmless.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slogger := logger.Setup(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slogger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rsvp:reconcile")
	}

	catalog := event.NewRepository(db.Client)
	repo := rsvp.NewRepository(db.Client)
	svc := rsvp.NewService(repo, catalog, q, slogger)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	// Periodic sweep for counters that drifted without a queued retry.
	go sweepDrifted(ctx, cfg.ReconcileInterval, catalog, svc, slogger)

	slogger.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeReconcile {
			continue
		}
		eventID := string(msg.Body)
		if err := svc.Reconcile(ctx, eventID); err != nil {
			slogger.Warn("reconcile retry failed, requeueing", "event", eventID, "err", err)
			if pubErr := q.Publish(ctx, msg); pubErr != nil {
				slogger.Error("requeue failed", "event", eventID, "err", pubErr)
			}
			continue
		}
		slogger.Info("reconciled event counter", "event", eventID)
	}

	slogger.Info("worker stopped")
}

func sweepDrifted(ctx context.Context, interval time.Duration, catalog *event.Repository, svc *rsvp.Service, slogger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := catalog.ListDrifted(ctx, 100)
			if err != nil {
				slogger.Warn("drift sweep failed", "err", err)
				continue
			}
			for _, id := range ids {
				if err := svc.Reconcile(ctx, id); err != nil {
					slogger.Warn("sweep reconcile failed", "event", id, "err", err)
					continue
				}
				slogger.Info("repaired drifted counter", "event", id)
			}
		}
	}
}
