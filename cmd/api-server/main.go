package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-patient-flow/internal/api"
	"github.com/hackgods/clinic-patient-flow/internal/app"
	"github.com/hackgods/clinic-patient-flow/internal/config"
	"github.com/hackgods/clinic-patient-flow/internal/events"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s store=%s lock_backend=%s", cfg.Env, cfg.HTTPPort, cfg.Store, cfg.LockBackend)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer a.Close()

	var pub events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatalf("nats connection error: %v", err)
		}
		pub = np
		log.Println("connected to NATS")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Printf("error closing nats: %v", err)
		}
	}()

	var deps []api.Dependency
	if a.PgPool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Critical: true, Check: a.PgPool.Ping})
	}
	if a.Redis != nil {
		deps = append(deps, api.Dependency{
			Name:     "redis",
			Critical: cfg.LockBackend == "redis",
			Check:    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		})
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      a.Service,
		Settings:     a.Settings,
		Writer:       a.Writer,
		Notifier:     events.NewNotifier(pub),
		Metrics:      api.NewMetrics(),
		KioskLimiter: api.NewKioskLimiter(cfg.KioskRateLimit, cfg.KioskRateBurst),
		Dependencies: deps,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
