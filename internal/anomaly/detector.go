package anomaly

import (
	"context"

	"aquaflow/internal/baseline"
	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
)

// baselineMetrics are evaluated against a rolling baseline. The leak
// flag and the offline metric bypass the baseline mechanism.
var baselineMetrics = []models.Metric{
	models.MetricFlowRate,
	models.MetricPressure,
	models.MetricLevel,
}

type thresholdFn func(current, baseline float64) (Detection, bool)

var evaluators = map[models.Metric]thresholdFn{
	models.MetricFlowRate: EvaluateFlow,
	models.MetricPressure: EvaluatePressure,
	models.MetricLevel:    EvaluateLevel,
}

// Detector merges per-metric evaluations for one reading. Each metric
// is evaluated independently; a baseline failure on one metric is
// logged and suppresses only that metric's detection.
type Detector struct {
	baselines *baseline.Tracker
}

// NewDetector creates a detector over the given baseline tracker.
func NewDetector(baselines *baseline.Tracker) *Detector {
	return &Detector{baselines: baselines}
}

// Evaluate returns every candidate detection for the reading.
func (d *Detector) Evaluate(ctx context.Context, r *models.Reading) []Detection {
	log := logger.WithSensor("anomaly", r.SensorID)
	var out []Detection

	for _, metric := range baselineMetrics {
		current, ok := r.Value(metric)
		if !ok {
			continue
		}
		mean, ok, err := d.baselines.Baseline(ctx, r, metric)
		if err != nil {
			log.Error().Err(err).Str("metric", string(metric)).Msg("baseline query failed, suppressing detection")
			continue
		}
		if !ok {
			// Insufficient history: suppress to avoid cold-start false positives.
			continue
		}
		if det, fired := evaluators[metric](current, mean); fired {
			out = append(out, det)
		}
	}

	if leak, ok := r.Leak(); ok {
		if det, fired := EvaluateLeakFlag(leak); fired {
			out = append(out, det)
		}
	}

	for _, det := range out {
		metrics.DetectionsTotal.WithLabelValues(string(det.Metric), string(det.Severity)).Inc()
	}
	return out
}

// Recovery checks whether the open-alert metric has recovered under
// hysteresis, given the current reading. ok=false means the reading
// carries no verdict for the metric (value or baseline missing).
func (d *Detector) Recovery(ctx context.Context, r *models.Reading, metric models.Metric) (recovered bool, ok bool) {
	if metric == models.MetricLeakDetected {
		leak, present := r.Leak()
		return !leak, present
	}

	current, present := r.Value(metric)
	if !present {
		return false, false
	}
	mean, hasBaseline, err := d.baselines.Baseline(ctx, r, metric)
	if err != nil || !hasBaseline {
		return false, false
	}
	return Recovered(metric, current, mean), true
}
