package telemetry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquaflow/internal/events"
	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

// Nominal operating points and jitter bands per metric. Values are
// clamped to the physically plausible ranges below.
const (
	nominalFlow      = 55.0
	nominalPressure  = 4.2
	nominalLevel     = 62.0
	nominalTempC     = 16.0
	nominalPH        = 7.2
	nominalTurbidity = 1.2

	leakHealthPenalty = 25.0
)

// Config holds generator configuration.
type Config struct {
	Store store.Store
	Bus   *events.Bus

	// Probability [0,1] of injecting a fault signature per reading
	FaultProbability float64

	// Rand and Now are injectable for tests; nil picks real sources.
	Rand *rand.Rand
	Now  func() time.Time
}

// Generator synthesizes one reading per active sensor per cycle.
type Generator struct {
	store     store.Store
	bus       *events.Bus
	faultProb float64
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator from the given config.
func NewGenerator(cfg Config) *Generator {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Generator{
		store:     cfg.Store,
		bus:       cfg.Bus,
		faultProb: cfg.FaultProbability,
		now:       now,
		rng:       rng,
	}
}

// Process synthesizes, persists, and announces one reading for the
// sensor, refreshing its last-known cache. The sensor is mutated in
// place so downstream branches see the fresh values.
func (g *Generator) Process(ctx context.Context, sensor *models.Sensor) (*models.Reading, error) {
	reading := g.Synthesize(sensor)

	if err := g.store.InsertReading(ctx, reading); err != nil {
		metrics.ReadingsFailed.Inc()
		return nil, store.Transient("insert reading", err)
	}

	sensor.SetLastValues(reading)
	if err := g.store.UpsertSensor(ctx, sensor); err != nil {
		// The reading is already persisted; a stale cache only degrades
		// fallback lookups, so log and carry on.
		log := logger.WithSensor("generator", sensor.ID)
		log.Warn().Err(err).Msg("failed to refresh sensor cache")
	}

	metrics.ReadingsGenerated.WithLabelValues(string(sensor.Kind)).Inc()
	if g.bus != nil {
		g.bus.Publish(events.Event{Type: events.TypeReadingCreated, Reading: reading})
	}
	return reading, nil
}

// Synthesize builds a reading from the sensor's kind-specific model
// without persisting it.
func (g *Generator) Synthesize(sensor *models.Sensor) *models.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := &models.Reading{
		ID:        uuid.New().String(),
		SensorID:  sensor.ID,
		Timestamp: g.now(),
	}

	fault := g.rng.Float64() < g.faultProb
	if fault {
		metrics.FaultsInjected.WithLabelValues(string(sensor.Kind)).Inc()
	}

	battery := clamp(g.previous(sensor, models.MetricBattery, 100)-g.rng.Float64()*0.05, 5, 100)
	r.Battery = f(battery)
	r.Temperature = f(g.drift(sensor, models.MetricTemperature, nominalTempC, 0.4, 0, 40))

	switch sensor.Kind {
	case models.KindFlow:
		flow := g.drift(sensor, models.MetricFlowRate, nominalFlow, 4.0, 0, 400)
		if fault {
			// Leak signature: flow well past the jitter band.
			flow = clamp(flow*(1.5+g.rng.Float64()*0.5), 0, 400)
		}
		r.FlowRate = f(flow)

	case models.KindPressure:
		pressure := g.drift(sensor, models.MetricPressure, nominalPressure, 0.12, 0.5, 12)
		if fault {
			// Surge signature.
			pressure = clamp(pressure+0.8+g.rng.Float64()*0.6, 0.5, 12)
		}
		r.Pressure = f(pressure)

	case models.KindLevel:
		level := g.drift(sensor, models.MetricLevel, nominalLevel, 1.2, 0, 100)
		if fault {
			// Depletion signature.
			level = clamp(level-(16+g.rng.Float64()*10), 0, 100)
		}
		r.Level = f(level)

	case models.KindComposite:
		r.FlowRate = f(g.drift(sensor, models.MetricFlowRate, nominalFlow, 3.0, 0, 400))
		r.Pressure = f(g.drift(sensor, models.MetricPressure, nominalPressure, 0.1, 0.5, 12))
		r.Level = f(g.drift(sensor, models.MetricLevel, nominalLevel, 1.0, 0, 100))
		r.PH = f(g.drift(sensor, models.MetricPH, nominalPH, 0.1, 5.5, 9))
		r.Turbidity = f(g.drift(sensor, models.MetricTurbidity, nominalTurbidity, 0.3, 0, 50))

		leak := fault
		r.LeakDetected = &leak
		r.HealthScore = f(healthScore(battery, leak))
	}

	return r
}

// drift walks the previous value (or the nominal) by bounded jitter.
func (g *Generator) drift(sensor *models.Sensor, m models.Metric, nominal, spread, lo, hi float64) float64 {
	base := g.previous(sensor, m, nominal)
	return clamp(base+(g.rng.Float64()*2-1)*spread, lo, hi)
}

func (g *Generator) previous(sensor *models.Sensor, m models.Metric, nominal float64) float64 {
	if v, ok := sensor.LastValue(m); ok {
		return v
	}
	return nominal
}

// healthScore is a deterministic function of battery and leak state,
// clamped to [10,100].
func healthScore(battery float64, leak bool) float64 {
	h := battery
	if leak {
		h -= leakHealthPenalty
	}
	return clamp(h, 10, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func f(v float64) *float64 { return &v }
