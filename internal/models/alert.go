package models

import "time"

// Alert records one anomaly episode for a (sensor, metric) pair.
//
// Lifecycle: created OPEN on first detection, updated in place while
// open, resolved exactly once. A resolved alert is never reopened; a
// later detection on the same key starts a fresh record. At most one
// open alert exists per (SensorID, Metric).
type Alert struct {
	ID       string   `json:"id"`
	SensorID string   `json:"sensor_id"`
	Metric   Metric   `json:"metric"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	TriggeredAt time.Time `json:"triggered_at"`

	// Numeric context, absent for composite/offline alerts.
	CurrentValue  *float64 `json:"current_value,omitempty"`
	BaselineValue *float64 `json:"baseline_value,omitempty"`
	Delta         *float64 `json:"delta,omitempty"`

	// Acknowledge is an orthogonal operator flag, settable at any time.
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	// Absence of ResolvedAt means the alert is open.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the alert has not been resolved yet.
func (a *Alert) Open() bool {
	return a.ResolvedAt == nil
}
