package telemetry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

func newTestGenerator(st store.Store, faultProb float64, seed int64) *Generator {
	return NewGenerator(Config{
		Store:            st,
		FaultProbability: faultProb,
		Rand:             rand.New(rand.NewSource(seed)),
		Now:              func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func kindSensor(kind models.SensorKind) *models.Sensor {
	return &models.Sensor{ID: "s1", Name: "s1", Kind: kind, Zone: "north", Active: true}
}

func TestSynthesizePerKind(t *testing.T) {
	tests := []struct {
		kind models.SensorKind
		want []models.Metric
		skip []models.Metric
	}{
		{models.KindFlow, []models.Metric{models.MetricFlowRate, models.MetricBattery, models.MetricTemperature}, []models.Metric{models.MetricPressure, models.MetricLevel}},
		{models.KindPressure, []models.Metric{models.MetricPressure}, []models.Metric{models.MetricFlowRate, models.MetricLevel}},
		{models.KindLevel, []models.Metric{models.MetricLevel}, []models.Metric{models.MetricFlowRate, models.MetricPressure}},
		{models.KindComposite, []models.Metric{models.MetricFlowRate, models.MetricPressure, models.MetricLevel, models.MetricPH, models.MetricTurbidity, models.MetricHealthScore}, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			g := newTestGenerator(store.NewMemory(), 0, 1)
			r := g.Synthesize(kindSensor(tt.kind))
			for _, m := range tt.want {
				if _, ok := r.Value(m); !ok {
					t.Errorf("%s reading missing %s", tt.kind, m)
				}
			}
			for _, m := range tt.skip {
				if _, ok := r.Value(m); ok {
					t.Errorf("%s reading unexpectedly carries %s", tt.kind, m)
				}
			}
			if tt.kind == models.KindComposite {
				if _, ok := r.Leak(); !ok {
					t.Error("composite reading missing leak flag")
				}
			} else if _, ok := r.Leak(); ok {
				t.Errorf("%s reading unexpectedly carries leak flag", tt.kind)
			}
		})
	}
}

func TestFaultInjectionCompositeLeak(t *testing.T) {
	// FaultProbability 1 forces the fault branch on every reading.
	g := newTestGenerator(store.NewMemory(), 1, 42)
	r := g.Synthesize(kindSensor(models.KindComposite))

	leak, ok := r.Leak()
	if !ok || !leak {
		t.Fatal("forced fault must set the leak flag on composite sensors")
	}
	h, _ := r.Value(models.MetricHealthScore)
	b, _ := r.Value(models.MetricBattery)
	if h >= b {
		t.Errorf("health %v not penalized against battery %v during leak", h, b)
	}
}

func TestFaultInjectionFlowSpike(t *testing.T) {
	g := newTestGenerator(store.NewMemory(), 1, 42)
	sensor := kindSensor(models.KindFlow)
	sensor.LastValues = map[models.Metric]float64{models.MetricFlowRate: 100}

	r := g.Synthesize(sensor)
	flow, _ := r.Value(models.MetricFlowRate)
	// Fault multiplies the drifted value by at least 1.5; drift spread is 4.
	if flow < (100-4)*1.5 {
		t.Errorf("faulted flow %v below spike band", flow)
	}
}

func TestDriftStaysInBounds(t *testing.T) {
	g := newTestGenerator(store.NewMemory(), 0, 7)
	sensor := kindSensor(models.KindLevel)
	sensor.LastValues = map[models.Metric]float64{models.MetricLevel: 0.3}

	for i := 0; i < 50; i++ {
		r := g.Synthesize(sensor)
		level, _ := r.Value(models.MetricLevel)
		if level < 0 || level > 100 {
			t.Fatalf("level %v escaped [0,100]", level)
		}
		sensor.SetLastValues(r)
	}
}

func TestHealthScoreClamped(t *testing.T) {
	if got := healthScore(20, true); got != 10 {
		t.Errorf("healthScore(20, leak) = %v, want floor 10", got)
	}
	if got := healthScore(100, false); got != 100 {
		t.Errorf("healthScore(100, ok) = %v, want 100", got)
	}
	if got := healthScore(80, true); got != 55 {
		t.Errorf("healthScore(80, leak) = %v, want 55", got)
	}
}

func TestProcessPersistsAndRefreshesCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	g := newTestGenerator(st, 0, 1)
	sensor := kindSensor(models.KindFlow)
	_ = st.UpsertSensor(ctx, sensor)

	r, err := g.Process(ctx, sensor)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// Persisted: visible to baseline queries strictly before a later time.
	vals, err := st.QueryRecent(ctx, "s1", models.MetricFlowRate, r.Timestamp.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("query recent: %v", err)
	}
	if len(vals) != 1 {
		t.Fatalf("expected one persisted value, got %d", len(vals))
	}

	if !sensor.LastReadingAt.Equal(r.Timestamp) {
		t.Error("last reading timestamp not refreshed")
	}
	if _, ok := sensor.LastValue(models.MetricFlowRate); !ok {
		t.Error("last-known cache not refreshed")
	}

	stored, _ := st.GetSensor(ctx, "s1")
	if !stored.LastReadingAt.Equal(r.Timestamp) {
		t.Error("refreshed sensor not persisted")
	}
}

// failingReadings wraps the memory store and rejects inserts.
type failingReadings struct {
	*store.Memory
}

func (s *failingReadings) InsertReading(ctx context.Context, r *models.Reading) error {
	return errors.New("disk full")
}

// failingSensors wraps the memory store and rejects sensor upserts.
type failingSensors struct {
	*store.Memory
}

func (s *failingSensors) UpsertSensor(ctx context.Context, sensor *models.Sensor) error {
	return errors.New("write conflict")
}

func TestProcessToleratesCacheRefreshFailure(t *testing.T) {
	ctx := context.Background()
	g := newTestGenerator(&failingSensors{Memory: store.NewMemory()}, 0, 1)

	// The reading is persisted before the cache refresh; a failed
	// upsert is logged and does not fail the sensor's unit of work.
	r, err := g.Process(ctx, kindSensor(models.KindFlow))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if r == nil {
		t.Fatal("expected a reading despite the cache refresh failure")
	}
}

func TestProcessWrapsInsertFailure(t *testing.T) {
	ctx := context.Background()
	g := newTestGenerator(&failingReadings{Memory: store.NewMemory()}, 0, 1)

	_, err := g.Process(ctx, kindSensor(models.KindFlow))
	if err == nil {
		t.Fatal("expected error from failed insert")
	}
	var te *store.TransientError
	if !errors.As(err, &te) {
		t.Errorf("error %v is not transient", err)
	}
}
