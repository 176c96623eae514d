package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"aquaflow/internal/api"
	"aquaflow/internal/config"
	"aquaflow/internal/engine"
	"aquaflow/internal/events"
	"aquaflow/internal/kafka"
	"aquaflow/internal/logger"
	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

func main() {
	// Load environment variables from .env file, if present
	_ = godotenv.Load()

	logger.Init(os.Getenv("AQUAFLOW_LOG_LEVEL"))
	log := logger.WithComponent("main")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: documents in memory, readings optionally in InfluxDB
	docs := store.NewMemory()
	var st store.Store = docs
	if cfg.Influx.URL != "" {
		readings, err := store.NewInfluxReadings(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect reading store")
		}
		defer readings.Close()
		st = store.NewLayered(readings, docs)
	}

	if cfg.SeedDemo {
		if err := seedDemo(ctx, st); err != nil {
			log.Fatal().Err(err).Msg("failed to seed demo sensors")
		}
	}

	bus := events.NewBus(cfg.EventBuffer)

	// Optional Kafka event sink
	var sink *kafka.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		var err error
		sink, err = kafka.NewSink(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize kafka sink")
		}
		sub := bus.Subscribe()
		go sink.Run(ctx, sub)
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka event sink enabled")
	}

	eng := engine.New(cfg, st, bus)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine exited")
			cancel()
		}
	}()

	// Operator API
	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      c.Handler(api.NewServer(st, eng.Alerts()).Router()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	// Wait for termination signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}

	// Graceful shutdown: stop accepting requests, stop the timers, let
	// in-flight cycle work finish, then close the bus and sink.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	eng.Stop()
	select {
	case <-engineDone:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("engine shutdown timeout")
	}

	bus.Close()
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("kafka sink close error")
		}
	}

	log.Info().Msg("exited")
}

// seedDemo provisions a small fleet when the store is empty, so a dev
// instance produces telemetry out of the box.
func seedDemo(ctx context.Context, st store.Store) error {
	existing, err := st.ListSensors(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	fleet := []*models.Sensor{
		{Name: "Main trunk flow", Kind: models.KindFlow, Zone: "north", Latitude: 52.377, Longitude: 4.897},
		{Name: "North booster pressure", Kind: models.KindPressure, Zone: "north", Latitude: 52.381, Longitude: 4.902},
		{Name: "Hillside reservoir level", Kind: models.KindLevel, Zone: "east", Latitude: 52.368, Longitude: 4.915},
		{Name: "Pump station composite", Kind: models.KindComposite, Zone: "east", Latitude: 52.362, Longitude: 4.921},
		{Name: "South trunk flow", Kind: models.KindFlow, Zone: "south", Latitude: 52.349, Longitude: 4.889},
	}
	for _, s := range fleet {
		s.ID = uuid.New().String()
		s.Active = true
		s.CreatedAt = now
		if err := st.UpsertSensor(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
