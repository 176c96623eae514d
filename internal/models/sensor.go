package models

import (
	"errors"
	"time"
)

// SensorKind identifies the physical model a sensor reports with.
type SensorKind string

const (
	KindFlow      SensorKind = "flow"
	KindPressure  SensorKind = "pressure"
	KindLevel     SensorKind = "level"
	KindComposite SensorKind = "composite"
)

// IsValid checks if the sensor kind is known.
func (k SensorKind) IsValid() bool {
	switch k {
	case KindFlow, KindPressure, KindLevel, KindComposite:
		return true
	default:
		return false
	}
}

// Sensor is a monitored field device.
type Sensor struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      SensorKind `json:"kind"`
	Zone      string     `json:"zone"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`

	// Active is cleared by the offline monitor when the sensor goes stale.
	Active bool `json:"active"`

	CreatedAt     time.Time `json:"created_at"`
	LastReadingAt time.Time `json:"last_reading_at,omitempty"`

	// Last-known metric values, refreshed by every accepted reading.
	LastValues map[Metric]float64 `json:"last_values,omitempty"`
	LastLeak   *bool              `json:"last_leak,omitempty"`
}

var (
	ErrEmptySensorID = errors.New("sensor ID cannot be empty")
	ErrInvalidKind   = errors.New("invalid sensor kind")
	ErrEmptyZone     = errors.New("sensor zone cannot be empty")
)

// Validate checks if the sensor has all required fields.
func (s *Sensor) Validate() error {
	if s.ID == "" {
		return ErrEmptySensorID
	}
	if !s.Kind.IsValid() {
		return ErrInvalidKind
	}
	if s.Zone == "" {
		return ErrEmptyZone
	}
	return nil
}

// LastValue returns the last-known numeric value for a metric.
func (s *Sensor) LastValue(m Metric) (float64, bool) {
	if s.LastValues == nil {
		return 0, false
	}
	v, ok := s.LastValues[m]
	return v, ok
}

// SetLastValues refreshes the sensor's last-known cache from a reading.
func (s *Sensor) SetLastValues(r *Reading) {
	if s.LastValues == nil {
		s.LastValues = make(map[Metric]float64, 8)
	}
	for _, m := range NumericMetrics {
		if v, ok := r.Value(m); ok {
			s.LastValues[m] = v
		}
	}
	if leak, ok := r.Leak(); ok {
		l := leak
		s.LastLeak = &l
	}
	s.LastReadingAt = r.Timestamp
}
