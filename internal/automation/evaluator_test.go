package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

type webhook struct {
	server *httptest.Server
	hits   atomic.Int64
	last   atomic.Pointer[map[string]any]
	query  atomic.Pointer[map[string][]string]
	status int
}

func newWebhook(status int) *webhook {
	w := &webhook{status: status}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.hits.Add(1)
		if r.Method == http.MethodGet || r.Method == http.MethodDelete {
			q := map[string][]string(r.URL.Query())
			w.query.Store(&q)
		} else {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.last.Store(&body)
		}
		rw.WriteHeader(w.status)
	}))
	return w
}

type harness struct {
	store     *store.Memory
	evaluator *Evaluator
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.evaluator = NewEvaluator(Config{
		Store:      h.store,
		Dispatcher: NewWebhookDispatcher(),
		Now:        func() time.Time { return h.now },
	})
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func flowRule(url string) *models.AutomationRule {
	return &models.AutomationRule{
		ID:              "r1",
		Name:            "high flow shutoff",
		SourceSensorID:  "s1",
		Metric:          models.MetricFlowRate,
		Operator:        models.OpGreater,
		Threshold:       f(120),
		ActionLabel:     "close-valve",
		Method:          "POST",
		URL:             url,
		TimeoutMs:       2000,
		CooldownSeconds: 30,
		Enabled:         true,
	}
}

func flowSensor() *models.Sensor {
	return &models.Sensor{ID: "s1", Name: "North Main", Kind: models.KindFlow, Active: true}
}

func reading(flow float64, at time.Time) *models.Reading {
	return &models.Reading{SensorID: "s1", Timestamp: at, FlowRate: f(flow)}
}

func TestEvaluateDispatchesOnMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	rule := flowRule(wh.server.URL)
	rule.PayloadTemplate = map[string]any{"valve": "v-17", "metric": "override"}
	_ = h.store.CreateRule(ctx, rule)

	h.evaluator.Evaluate(ctx, flowSensor(), reading(150, h.now))

	if wh.hits.Load() != 1 {
		t.Fatalf("expected one dispatch, got %d", wh.hits.Load())
	}
	body := *wh.last.Load()
	if body["ruleId"] != "r1" || body["sensorId"] != "s1" {
		t.Errorf("payload missing trigger context: %v", body)
	}
	if body["value"].(float64) != 150 || body["threshold"].(float64) != 120 {
		t.Errorf("payload value/threshold wrong: %v", body)
	}
	if body["valve"] != "v-17" {
		t.Error("payload template entry missing")
	}
	// Template keys shadow the generated fields.
	if body["metric"] != "override" {
		t.Errorf("template key did not win collision: metric = %v", body["metric"])
	}

	stored, _ := h.store.GetRule(ctx, "r1")
	if stored.LastTriggeredAt == nil || !stored.LastTriggeredAt.Equal(h.now) {
		t.Error("lastTriggeredAt not recorded")
	}
}

func TestEvaluateSkipsNonMatching(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	_ = h.store.CreateRule(ctx, flowRule(wh.server.URL))

	h.evaluator.Evaluate(ctx, flowSensor(), reading(90, h.now))

	if wh.hits.Load() != 0 {
		t.Fatalf("dispatched on non-matching value: %d hits", wh.hits.Load())
	}
}

func TestCooldownGatesRedispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	_ = h.store.CreateRule(ctx, flowRule(wh.server.URL))
	sensor := flowSensor()

	h.evaluator.Evaluate(ctx, sensor, reading(150, h.now))
	if wh.hits.Load() != 1 {
		t.Fatalf("expected first dispatch, got %d", wh.hits.Load())
	}

	// Still matching 10s later, inside the 30s cooldown.
	h.advance(10 * time.Second)
	h.evaluator.Evaluate(ctx, sensor, reading(155, h.now))
	if wh.hits.Load() != 1 {
		t.Fatalf("cooldown did not gate redispatch: %d hits", wh.hits.Load())
	}

	// Cooldown elapsed.
	h.advance(30 * time.Second)
	h.evaluator.Evaluate(ctx, sensor, reading(155, h.now))
	if wh.hits.Load() != 2 {
		t.Fatalf("expected redispatch after cooldown, got %d hits", wh.hits.Load())
	}
}

func TestFailedDispatchStillStartsCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusBadGateway)
	defer wh.server.Close()

	_ = h.store.CreateRule(ctx, flowRule(wh.server.URL))
	sensor := flowSensor()

	h.evaluator.Evaluate(ctx, sensor, reading(150, h.now))
	if wh.hits.Load() != 1 {
		t.Fatalf("expected dispatch attempt, got %d", wh.hits.Load())
	}

	stored, _ := h.store.GetRule(ctx, "r1")
	if stored.LastTriggeredAt == nil {
		t.Fatal("failed delivery must still record the trigger time")
	}

	h.advance(5 * time.Second)
	h.evaluator.Evaluate(ctx, sensor, reading(150, h.now))
	if wh.hits.Load() != 1 {
		t.Fatal("cooldown must gate retries after a failed delivery")
	}
}

func TestLastKnownValueFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	_ = h.store.CreateRule(ctx, flowRule(wh.server.URL))

	sensor := flowSensor()
	sensor.LastValues = map[models.Metric]float64{models.MetricFlowRate: 150}

	// Reading carries no flow value; the sensor cache does.
	r := &models.Reading{SensorID: "s1", Timestamp: h.now, Pressure: f(4.2)}
	h.evaluator.Evaluate(ctx, sensor, r)

	if wh.hits.Load() != 1 {
		t.Fatalf("expected fallback dispatch, got %d", wh.hits.Load())
	}
}

func TestNoValueAnywhereSkips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	_ = h.store.CreateRule(ctx, flowRule(wh.server.URL))

	r := &models.Reading{SensorID: "s1", Timestamp: h.now, Pressure: f(4.2)}
	h.evaluator.Evaluate(ctx, flowSensor(), r)

	if wh.hits.Load() != 0 {
		t.Fatal("rule must be skipped when no value is available")
	}
}

func TestBooleanRuleDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	rule := flowRule(wh.server.URL)
	rule.Metric = models.MetricLeakDetected
	rule.Operator = models.OpEqual
	rule.Threshold = nil
	rule.BoolThreshold = b(true)
	_ = h.store.CreateRule(ctx, rule)

	sensor := &models.Sensor{ID: "s1", Name: "Vault 3", Kind: models.KindComposite, Active: true}
	r := &models.Reading{SensorID: "s1", Timestamp: h.now, LeakDetected: b(true)}
	h.evaluator.Evaluate(ctx, sensor, r)

	if wh.hits.Load() != 1 {
		t.Fatalf("expected leak dispatch, got %d", wh.hits.Load())
	}
	body := *wh.last.Load()
	if body["value"] != true || body["threshold"] != true {
		t.Errorf("boolean payload wrong: %v", body)
	}
}

func TestGetActionUsesQueryParams(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	rule := flowRule(wh.server.URL)
	rule.Method = "GET"
	_ = h.store.CreateRule(ctx, rule)

	h.evaluator.Evaluate(ctx, flowSensor(), reading(150, h.now))

	if wh.hits.Load() != 1 {
		t.Fatalf("expected GET dispatch, got %d", wh.hits.Load())
	}
	q := *wh.query.Load()
	if got := q["sensorId"]; len(got) != 1 || got[0] != "s1" {
		t.Errorf("query params missing trigger context: %v", q)
	}
	if got := q["value"]; len(got) != 1 || got[0] != "150" {
		t.Errorf("query value wrong: %v", q)
	}
}

func TestFailingRuleIsolatedFromSiblings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	good := newWebhook(http.StatusOK)
	defer good.server.Close()

	bad := flowRule("http://127.0.0.1:1/unreachable")
	bad.ID = "r-bad"
	_ = h.store.CreateRule(ctx, bad)

	ok := flowRule(good.server.URL)
	ok.ID = "r-ok"
	_ = h.store.CreateRule(ctx, ok)

	h.evaluator.Evaluate(ctx, flowSensor(), reading(150, h.now))

	if good.hits.Load() != 1 {
		t.Fatal("healthy rule must dispatch despite a failing sibling")
	}
}

func TestDisabledRuleNeverEvaluated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wh := newWebhook(http.StatusOK)
	defer wh.server.Close()

	rule := flowRule(wh.server.URL)
	rule.Enabled = false
	_ = h.store.CreateRule(ctx, rule)

	h.evaluator.Evaluate(ctx, flowSensor(), reading(150, h.now))

	if wh.hits.Load() != 0 {
		t.Fatal("disabled rule dispatched")
	}
}
