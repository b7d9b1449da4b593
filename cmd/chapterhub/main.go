package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/chapterhub/internal/catalog"
	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/flows"
	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/http/handlers"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/internal/wizard"
	"github.com/diagnosis/chapterhub/pkg/config"
	"github.com/diagnosis/chapterhub/pkg/events"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

func main() {
	cfg := config.Load()

	store, closeStore := openStore(cfg.Session)
	defer closeStore()
	sess := session.New(store)

	gw := gateway.New(cfg.API.BaseURL, cfg.API.Timeout, sess)

	var bus events.Publisher = events.NoopBus{}
	if cfg.NATS.URL != "" {
		nb, err := events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			logger.Error("Failed to connect to NATS, events disabled", "error", err)
		} else {
			bus = nb
		}
	}
	defer bus.Close()

	checkInCfg := handlers.CheckInConfig{
		GeoTimeout:  cfg.Geo.Timeout,
		MaxAccuracy: cfg.CheckIn.MaxAccuracyMeters,
	}
	if cfg.Geo.StaticEnabled {
		checkInCfg.Static = &domain.LocationReading{
			Latitude:       cfg.Geo.StaticLat,
			Longitude:      cfg.Geo.StaticLng,
			AccuracyMeters: cfg.Geo.StaticAccuracy,
		}
		logger.Info("Using static location provider", "lat", cfg.Geo.StaticLat, "lng", cfg.Geo.StaticLng)
	}

	checkInFlows := flows.NewRegistry[*handlers.CheckInFlow](cfg.Flows.IdleTTL).
		OnEvict(func(id string, _ *handlers.CheckInFlow) {
			logger.Debug("Check-in flow closed", "flow_id", id)
		})
	registerFlows := flows.NewRegistry[*wizard.Wizard](cfg.Flows.IdleTTL).
		OnEvict(func(id string, wiz *wizard.Wizard) {
			wiz.Discard()
			logger.Debug("Registration flow closed", "flow_id", id)
		})

	r := handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth:           handlers.NewAuthHandler(sess, gw),
		CheckIn:        handlers.NewCheckInHandler(gw, sess, bus, checkInFlows, checkInCfg),
		Register:       handlers.NewRegisterHandler(gw, sess, bus, registerFlows, cfg.Wizard.RedirectDelay),
		Catalog:        handlers.NewCatalogHandler(catalog.New(gw), sess),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down chapterhub...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting chapterhub", "port", cfg.Server.Port, "api", cfg.API.BaseURL, "session_store", cfg.Session.Store)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg config.SessionConfig) (session.Store, func()) {
	switch cfg.Store {
	case "file":
		return session.NewFileStore(cfg.FilePath), func() {}
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := session.DialRedis(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("Redis session store unavailable", "error", err)
			os.Exit(1)
		}
		return session.NewRedisStore(rdb), func() { rdb.Close() }
	default:
		return session.NewMemoryStore(), func() {}
	}
}
