package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"aquaflow/internal/alerting"
	"aquaflow/internal/anomaly"
	"aquaflow/internal/automation"
	"aquaflow/internal/baseline"
	"aquaflow/internal/config"
	"aquaflow/internal/events"
	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
	"aquaflow/internal/offline"
	"aquaflow/internal/store"
	"aquaflow/internal/telemetry"
)

// Engine is the periodic coordinator driving the telemetry pipeline:
// per tick it generates a reading for every active sensor concurrently,
// runs the anomaly and automation branches per reading, and emits a
// cycle-complete event once every unit settles.
type Engine struct {
	cfg *config.Config

	store     store.Store
	bus       *events.Bus
	generator *telemetry.Generator
	detector  *anomaly.Detector
	alerts    *alerting.Manager
	rules     *automation.Evaluator
	offline   *offline.Monitor

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	cycles atomic.Uint64
}

// New wires the pipeline components over the given store and bus.
func New(cfg *config.Config, st store.Store, bus *events.Bus) *Engine {
	detector := anomaly.NewDetector(baseline.NewTracker(st))
	alerts := alerting.NewManager(alerting.Config{
		Store:          st,
		Bus:            bus,
		Detector:       detector,
		ThrottleWindow: cfg.ThrottleWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:   cfg,
		store: st,
		bus:   bus,
		generator: telemetry.NewGenerator(telemetry.Config{
			Store:            st,
			Bus:              bus,
			FaultProbability: cfg.FaultProbability,
		}),
		detector: detector,
		alerts:   alerts,
		rules: automation.NewEvaluator(automation.Config{
			Store:      st,
			Dispatcher: automation.NewWebhookDispatcher(),
		}),
		offline: offline.NewMonitor(offline.Config{
			Store:     st,
			Alerts:    alerts,
			Threshold: cfg.OfflineThreshold,
			Interval:  cfg.OfflinePollInterval,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Alerts exposes the lifecycle manager for the operator API.
func (e *Engine) Alerts() *alerting.Manager { return e.alerts }

// Run drives the tick loop until ctx is cancelled or Stop is called.
// Cancellation stops the timers only; in-flight cycle work finishes
// naturally before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	log := logger.WithComponent("engine")
	log.Info().
		Dur("tick_interval", e.cfg.TickInterval).
		Msg("engine starting")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.offline.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reportStats(e.ctx)
	}()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.ctx.Done():
			log.Info().Msg("engine stopping, waiting for in-flight work")
			e.wg.Wait()
			log.Info().Msg("engine stopped")
			return nil
		case <-ticker.C:
			// The next tick fires independently even if this cycle
			// overruns the interval.
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.RunCycle(context.WithoutCancel(e.ctx))
			}()
		}
	}
}

// Stop cancels the timers. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(e.cancel)
}

// RunCycle processes one full telemetry cycle. A top-level listing
// failure no-ops the cycle; per-sensor failures are isolated.
func (e *Engine) RunCycle(ctx context.Context) {
	log := logger.WithComponent("engine")
	start := time.Now()

	sensors, err := e.store.ListActiveSensors(ctx)
	if err != nil {
		metrics.CyclesSkipped.Inc()
		log.Error().Err(err).Msg("failed to list active sensors, skipping cycle")
		return
	}

	var failed atomic.Int32
	var wg sync.WaitGroup
	for _, sensor := range sensors {
		wg.Add(1)
		go func(sensor *models.Sensor) {
			defer wg.Done()
			if !e.processSensor(ctx, sensor) {
				failed.Add(1)
			}
		}(sensor)
	}
	wg.Wait()

	duration := time.Since(start)
	e.cycles.Add(1)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(duration.Seconds())

	e.bus.Publish(events.Event{
		Type: events.TypeCycleCompleted,
		Cycle: &events.CycleStats{
			Sensors:  len(sensors),
			Failed:   int(failed.Load()),
			Duration: duration,
		},
	})
}

// processSensor runs one sensor's unit of work: generate and persist a
// reading, then run the anomaly and automation branches. The branches
// touch disjoint state and run independently.
func (e *Engine) processSensor(ctx context.Context, sensor *models.Sensor) (ok bool) {
	log := logger.WithSensor("engine", sensor.ID)

	defer func() {
		if r := recover(); r != nil {
			ok = false
			metrics.PanicsRecovered.WithLabelValues("engine").Inc()
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("sensor unit panic recovered")
		}
	}()

	reading, err := e.generator.Process(ctx, sensor)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate reading")
		return false
	}

	// A fresh reading resolves any open offline alert.
	if err := e.alerts.ResolveOffline(ctx, sensor.ID); err != nil {
		log.Error().Err(err).Msg("failed to resolve offline alert")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		detections := e.detector.Evaluate(ctx, reading)
		e.alerts.Process(ctx, sensor, reading, detections)
	}()
	go func() {
		defer wg.Done()
		e.rules.Evaluate(ctx, sensor, reading)
	}()
	wg.Wait()
	return true
}

// reportStats periodically logs engine statistics.
func (e *Engine) reportStats(ctx context.Context) {
	log := logger.WithComponent("engine")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			open, err := e.store.ListOpenAlerts(ctx, "")
			if err != nil {
				log.Warn().Err(err).Msg("failed to count open alerts")
				continue
			}
			log.Info().
				Uint64("cycles", e.cycles.Load()).
				Int("open_alerts", len(open)).
				Msg("stats")
		}
	}
}
