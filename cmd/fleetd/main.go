package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"schoolbus-tracking-backend/config"
	"schoolbus-tracking-backend/internal/api"
	"schoolbus-tracking-backend/internal/db"
	"schoolbus-tracking-backend/internal/fleet"
	"schoolbus-tracking-backend/internal/live"
	"schoolbus-tracking-backend/internal/notification"
	"schoolbus-tracking-backend/internal/refdata"
	"schoolbus-tracking-backend/internal/routes"
	"schoolbus-tracking-backend/internal/trip"
	"schoolbus-tracking-backend/internal/zone"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Fatal().Msg("VAPID keys must be configured for parent notifications")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	pool.Start(ctx)

	ref := refdata.NewProvider(gormDB)
	routeProvider := routes.NewGormProvider(gormDB)
	zones := zone.NewClassifier(cfg.Zones)

	liveStore := live.NewStore(cfg.Tracking, gormDB, ref, pool)
	engine := trip.NewEngine(gormDB, routeProvider, ref, liveStore, pool)
	liveStore.SetTripContext(engine)
	aggregator := fleet.NewAggregator(liveStore, ref, zones)

	go liveStore.Run(ctx)

	handler := api.NewHandler(cfg, gormDB, liveStore, engine, aggregator, zones, &webpushOptions)
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}

	cancel()
	pool.Wait()
	log.Info().Msg("server gracefully stopped")
}
