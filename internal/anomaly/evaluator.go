package anomaly

import (
	"fmt"

	"aquaflow/internal/models"
)

// Trigger thresholds. A detection fires when the minimum-baseline,
// ratio, and delta guards all hold; severity escalates to critical at
// the outer bounds.
const (
	flowMinBaseline  = 25.0
	flowWarnRatio    = 1.35
	flowWarnDelta    = 28.0
	flowCritRatio    = 1.75
	flowCritDelta    = 65.0
	flowRecoverRatio = 1.2

	pressureMinBaseline  = 1.0
	pressureWarnRatio    = 1.2
	pressureWarnDelta    = 0.45
	pressureCritRatio    = 1.4
	pressureCritDelta    = 1.0
	pressureRecoverRatio = 1.1

	levelMinBaseline   = 10.0
	levelWarnDropAbs   = 8.0
	levelWarnDropFrac  = 0.12
	levelCritDropAbs   = 15.0
	levelCritDropFrac  = 0.22
	levelRecoverAbs    = 5.0
	levelRecoverFrac   = 0.07
)

// Detection is one anomaly candidate for a single metric.
type Detection struct {
	Metric   models.Metric
	Severity models.Severity
	Message  string

	// Numeric context, nil for the composite leak flag.
	Current  *float64
	Baseline *float64
	Delta    *float64
}

// EvaluateFlow classifies a flow reading against its baseline.
// Returns ok=false when no anomaly is present.
func EvaluateFlow(current, baseline float64) (Detection, bool) {
	if baseline < flowMinBaseline {
		return Detection{}, false
	}
	ratio := current / baseline
	delta := current - baseline
	if ratio < flowWarnRatio || delta < flowWarnDelta {
		return Detection{}, false
	}

	severity := models.SeverityWarning
	if ratio >= flowCritRatio || delta >= flowCritDelta {
		severity = models.SeverityCritical
	}
	return Detection{
		Metric:   models.MetricFlowRate,
		Severity: severity,
		Message:  fmt.Sprintf("flow rate %.1f is %.0f%% above the rolling baseline %.1f, possible leak", current, (ratio-1)*100, baseline),
		Current:  ptr(current),
		Baseline: ptr(baseline),
		Delta:    ptr(delta),
	}, true
}

// EvaluatePressure classifies a pressure reading against its baseline.
func EvaluatePressure(current, baseline float64) (Detection, bool) {
	if baseline < pressureMinBaseline {
		return Detection{}, false
	}
	ratio := current / baseline
	delta := current - baseline
	if ratio < pressureWarnRatio || delta < pressureWarnDelta {
		return Detection{}, false
	}

	severity := models.SeverityWarning
	if ratio >= pressureCritRatio || delta >= pressureCritDelta {
		severity = models.SeverityCritical
	}
	return Detection{
		Metric:   models.MetricPressure,
		Severity: severity,
		Message:  fmt.Sprintf("pressure %.2f bar exceeds the rolling baseline %.2f, possible surge", current, baseline),
		Current:  ptr(current),
		Baseline: ptr(baseline),
		Delta:    ptr(delta),
	}, true
}

// EvaluateLevel classifies a reservoir level drop against its baseline.
func EvaluateLevel(current, baseline float64) (Detection, bool) {
	if baseline < levelMinBaseline {
		return Detection{}, false
	}
	drop := baseline - current
	if drop < max(levelWarnDropAbs, levelWarnDropFrac*baseline) {
		return Detection{}, false
	}

	severity := models.SeverityWarning
	if drop >= max(levelCritDropAbs, levelCritDropFrac*baseline) {
		severity = models.SeverityCritical
	}
	return Detection{
		Metric:   models.MetricLevel,
		Severity: severity,
		Message:  fmt.Sprintf("level %.1f dropped %.1f below the rolling baseline %.1f, possible depletion", current, drop, baseline),
		Current:  ptr(current),
		Baseline: ptr(baseline),
		Delta:    ptr(drop),
	}, true
}

// EvaluateLeakFlag turns a composite sensor's upstream leak flag into a
// critical detection. No baseline is involved.
func EvaluateLeakFlag(leak bool) (Detection, bool) {
	if !leak {
		return Detection{}, false
	}
	return Detection{
		Metric:   models.MetricLeakDetected,
		Severity: models.SeverityCritical,
		Message:  "composite sensor reported an active leak",
	}, true
}

// Recovered applies the hysteresis thresholds, looser than the trigger
// thresholds, used to close an open alert without flapping.
func Recovered(metric models.Metric, current, baseline float64) bool {
	switch metric {
	case models.MetricFlowRate:
		return current <= baseline*flowRecoverRatio
	case models.MetricPressure:
		return current <= baseline*pressureRecoverRatio
	case models.MetricLevel:
		return baseline-current <= max(levelRecoverAbs, levelRecoverFrac*baseline)
	default:
		return true
	}
}

func ptr(v float64) *float64 { return &v }
