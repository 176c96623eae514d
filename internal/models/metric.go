package models

// Metric identifies a single measured quantity on a sensor.
type Metric string

const (
	MetricFlowRate     Metric = "flowRate"
	MetricPressure     Metric = "pressure"
	MetricLevel        Metric = "level"
	MetricTemperature  Metric = "temperature"
	MetricPH           Metric = "ph"
	MetricTurbidity    Metric = "turbidity"
	MetricBattery      Metric = "battery"
	MetricLeakDetected Metric = "leakDetected"
	MetricHealthScore  Metric = "healthScore"

	// MetricOffline is a synthetic metric owned by the offline monitor.
	// It never appears on a reading; alerts keyed on it track stale sensors.
	MetricOffline Metric = "offline"
)

// IsValid checks if the metric is a known kind.
func (m Metric) IsValid() bool {
	switch m {
	case MetricFlowRate, MetricPressure, MetricLevel, MetricTemperature,
		MetricPH, MetricTurbidity, MetricBattery, MetricLeakDetected,
		MetricHealthScore, MetricOffline:
		return true
	default:
		return false
	}
}

// Boolean reports whether the metric carries a boolean value
// rather than a numeric one.
func (m Metric) Boolean() bool {
	return m == MetricLeakDetected
}

// Severity represents alert severity levels
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}
