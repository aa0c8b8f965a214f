package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-patient-flow/internal/app"
	"github.com/hackgods/clinic-patient-flow/internal/config"
	"github.com/hackgods/clinic-patient-flow/internal/queue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("wait-time-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.Store == "memory" {
		log.Fatal("wait-time-worker needs a shared store, STORE=memory is not supported")
	}

	log.Printf("running wait-time worker in env=%s interval=%s window=%s", cfg.Env, cfg.WaitRefreshInterval, cfg.AverageWindow)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Service, cfg.AverageWindow)

	ticker := time.NewTicker(cfg.WaitRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping wait-time worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Service, cfg.AverageWindow)
		}
	}
}

func runOnce(ctx context.Context, svc *queue.Service, window time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	queues, err := svc.ListQueues(runCtx, uuid.Nil)
	if err != nil {
		log.Printf("wait-time run error: %v", err)
		return
	}

	since := start.Add(-window)
	failed := 0
	for _, q := range queues {
		if _, err := svc.RefreshAverageWaitTime(runCtx, q.ID, since); err != nil {
			failed++
			log.Printf("failed to refresh wait time for queue %s: %v", q.ID, err)
		}
	}
	log.Printf("wait-time run complete queues=%d failed=%d in %s", len(queues), failed, time.Since(start))
}
