package models

import "time"

// NumericMetrics lists the metrics a reading can carry as numbers,
// in a stable order.
var NumericMetrics = []Metric{
	MetricFlowRate,
	MetricPressure,
	MetricLevel,
	MetricTemperature,
	MetricPH,
	MetricTurbidity,
	MetricBattery,
	MetricHealthScore,
}

// Reading is one sampled set of metric values for a sensor.
// Readings are immutable once persisted; the store treats them append-only.
type Reading struct {
	ID        string    `json:"id"`
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`

	// Sparse metric values; a nil pointer means the metric was not sampled.
	FlowRate     *float64 `json:"flow_rate,omitempty"`
	Pressure     *float64 `json:"pressure,omitempty"`
	Level        *float64 `json:"level,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	PH           *float64 `json:"ph,omitempty"`
	Turbidity    *float64 `json:"turbidity,omitempty"`
	Battery      *float64 `json:"battery,omitempty"`
	LeakDetected *bool    `json:"leak_detected,omitempty"`
	HealthScore  *float64 `json:"health_score,omitempty"`
}

// Value returns the numeric value for a metric, with ok=false when the
// reading omits the metric or the metric is not numeric.
func (r *Reading) Value(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricFlowRate:
		p = r.FlowRate
	case MetricPressure:
		p = r.Pressure
	case MetricLevel:
		p = r.Level
	case MetricTemperature:
		p = r.Temperature
	case MetricPH:
		p = r.PH
	case MetricTurbidity:
		p = r.Turbidity
	case MetricBattery:
		p = r.Battery
	case MetricHealthScore:
		p = r.HealthScore
	default:
		return 0, false
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Leak returns the composite leak flag, with ok=false when absent.
func (r *Reading) Leak() (bool, bool) {
	if r.LeakDetected == nil {
		return false, false
	}
	return *r.LeakDetected, true
}
