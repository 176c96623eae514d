package automation

import (
	"context"
	"sync"
	"time"

	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

// Evaluator matches readings against enabled automation rules and
// dispatches their outbound actions. Rules are evaluated concurrently
// and in isolation: one failing rule never affects its siblings or the
// anomaly pipeline.
type Evaluator struct {
	store      store.Store
	dispatcher Dispatcher
	now        func() time.Time
}

// Config holds evaluator configuration.
type Config struct {
	Store      store.Store
	Dispatcher Dispatcher

	// Now is injectable for tests; nil picks the real clock.
	Now func() time.Time
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		now:        now,
	}
}

// Evaluate runs every enabled rule bound to the reporting sensor
// against the new reading and waits for all dispatches to settle.
func (e *Evaluator) Evaluate(ctx context.Context, sensor *models.Sensor, reading *models.Reading) {
	log := logger.WithSensor("automation", sensor.ID)

	rules, err := e.store.FindEnabledRules(ctx, sensor.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load enabled rules")
		return
	}

	var wg sync.WaitGroup
	for _, rule := range rules {
		wg.Add(1)
		go func(rule *models.AutomationRule) {
			defer wg.Done()
			e.evaluateRule(ctx, rule, sensor, reading)
		}(rule)
	}
	wg.Wait()
}

// evaluateRule runs one rule end to end. Thresholds and metric types
// were validated at rule creation, so evaluation assumes they match.
func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AutomationRule, sensor *models.Sensor, reading *models.Reading) {
	log := logger.WithComponent("automation").With().
		Str("rule_id", rule.ID).
		Str("sensor_id", sensor.ID).
		Logger()

	var (
		value   any
		matched bool
	)
	if rule.Metric.Boolean() {
		v, ok := reading.Leak()
		if !ok {
			if sensor.LastLeak == nil {
				return
			}
			v = *sensor.LastLeak
		}
		value = v
		matched = rule.Operator.CompareBool(v, *rule.BoolThreshold)
	} else {
		v, ok := reading.Value(rule.Metric)
		if !ok {
			v, ok = sensor.LastValue(rule.Metric)
			if !ok {
				return
			}
		}
		value = v
		matched = rule.Operator.CompareNumeric(v, *rule.Threshold)
	}
	if !matched {
		return
	}

	now := e.now()
	if rule.LastTriggeredAt != nil && now.Sub(*rule.LastTriggeredAt) < rule.Cooldown() {
		metrics.RulesSkippedCooldown.Inc()
		log.Debug().Time("last_triggered", *rule.LastTriggeredAt).Msg("rule on cooldown, skipping")
		return
	}

	payload := buildPayload(rule, sensor, reading, value, now)

	start := time.Now()
	err := e.dispatcher.Dispatch(ctx, rule, payload)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("url", rule.URL).Msg("webhook dispatch failed")
	} else {
		metrics.DispatchTotal.WithLabelValues("success").Inc()
		log.Info().Str("url", rule.URL).Str("action", rule.ActionLabel).Msg("webhook dispatched")
	}

	// lastTriggeredAt moves on every attempt, failed deliveries
	// included, so the cooldown gates retries too.
	if err := e.store.MarkRuleTriggered(ctx, rule.ID, now); err != nil {
		log.Error().Err(err).Msg("failed to record trigger time")
	}
}

// buildPayload merges the fixed trigger context with the operator's
// payload template. Template keys win on collision.
func buildPayload(rule *models.AutomationRule, sensor *models.Sensor, reading *models.Reading, value any, now time.Time) map[string]any {
	var threshold any
	if rule.Metric.Boolean() {
		threshold = *rule.BoolThreshold
	} else {
		threshold = *rule.Threshold
	}

	payload := map[string]any{
		"ruleId":           rule.ID,
		"sensorId":         sensor.ID,
		"sensorName":       sensor.Name,
		"metric":           string(rule.Metric),
		"comparison":       string(rule.Operator),
		"threshold":        threshold,
		"value":            value,
		"readingTimestamp": reading.Timestamp.UTC().Format(time.RFC3339),
		"triggeredAt":      now.UTC().Format(time.RFC3339),
	}
	for k, v := range rule.PayloadTemplate {
		payload[k] = v
	}
	return payload
}
