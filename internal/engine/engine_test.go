package engine

import (
	"context"
	"testing"
	"time"

	"aquaflow/internal/config"
	"aquaflow/internal/events"
	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.FaultProbability = 0
	return cfg
}

func seedSensors(t *testing.T, st store.Store) {
	t.Helper()
	sensors := []*models.Sensor{
		{ID: "f1", Name: "North Main", Kind: models.KindFlow, Zone: "north", Active: true},
		{ID: "p1", Name: "East Booster", Kind: models.KindPressure, Zone: "east", Active: true},
		{ID: "c1", Name: "Vault 3", Kind: models.KindComposite, Zone: "south", Active: true},
		{ID: "dead", Name: "Retired", Kind: models.KindLevel, Zone: "west", Active: false},
	}
	for _, s := range sensors {
		if err := st.UpsertSensor(context.Background(), s); err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}
}

func TestRunCycleProcessesActiveSensors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedSensors(t, st)

	bus := events.NewBus(16)
	sub := bus.Subscribe()
	eng := New(testConfig(), st, bus)

	eng.RunCycle(ctx)

	// Every active sensor got a reading this cycle.
	now := time.Now().Add(time.Second)
	for _, id := range []string{"f1", "p1", "c1"} {
		s, _ := st.GetSensor(ctx, id)
		metric := map[string]models.Metric{
			"f1": models.MetricFlowRate,
			"p1": models.MetricPressure,
			"c1": models.MetricLevel,
		}[id]
		vals, err := st.QueryRecent(ctx, id, metric, now, 10)
		if err != nil {
			t.Fatalf("query %s: %v", id, err)
		}
		if len(vals) != 1 {
			t.Errorf("sensor %s has %d readings, want 1", id, len(vals))
		}
		if s.LastReadingAt.IsZero() {
			t.Errorf("sensor %s cache not refreshed", id)
		}
	}

	// The inactive sensor was skipped.
	if vals, _ := st.QueryRecent(ctx, "dead", models.MetricLevel, now, 10); len(vals) != 0 {
		t.Error("inactive sensor received a reading")
	}

	// A cycle-complete event went out after the per-reading events.
	var cycle *events.CycleStats
	for done := false; !done; {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeCycleCompleted {
				cycle = ev.Cycle
				done = true
			}
		default:
			done = true
		}
	}
	if cycle == nil {
		t.Fatal("no cycle-complete event published")
	}
	if cycle.Sensors != 3 || cycle.Failed != 0 {
		t.Errorf("cycle stats = %+v, want 3 sensors, 0 failed", cycle)
	}
}

func TestFreshReadingResolvesOfflineAlert(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedSensors(t, st)

	bus := events.NewBus(16)
	eng := New(testConfig(), st, bus)

	sensor, _ := st.GetSensor(ctx, "f1")
	if err := eng.Alerts().OpenOffline(ctx, sensor, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("open offline: %v", err)
	}

	eng.RunCycle(ctx)

	if _, err := st.FindOpenAlert(ctx, "f1", models.MetricOffline); err == nil {
		t.Error("offline alert still open after a fresh reading")
	}
}

func TestRunStopsCleanly(t *testing.T) {
	st := store.NewMemory()
	seedSensors(t, st)

	bus := events.NewBus(16)
	eng := New(testConfig(), st, bus)

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	// Let a few ticks land, then stop twice.
	time.Sleep(50 * time.Millisecond)
	eng.Stop()
	eng.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestRunHonorsContextCancel(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus(16)
	eng := New(testConfig(), st, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop on context cancel")
	}
}
