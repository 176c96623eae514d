package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aquaflow/internal/models"
)

// ErrNotFound is returned when a sensor, alert, or rule id is unknown.
var ErrNotFound = errors.New("not found")

// ErrOpenAlertExists is returned by CreateAlert when the (sensorID,
// metric) key already holds an open alert: the caller lost a creation
// race and must update the existing record instead.
var ErrOpenAlertExists = errors.New("open alert exists")

// TransientError wraps a read/write failure during cycle processing.
// Callers log it and continue; it never aborts the batch.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError, preserving nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// ReadingStore persists readings and serves recency-ordered history.
type ReadingStore interface {
	// InsertReading appends a reading. Readings are immutable.
	InsertReading(ctx context.Context, r *models.Reading) error

	// QueryRecent returns up to limit non-null values of a metric for a
	// sensor, most recent first, taken strictly before the given instant.
	QueryRecent(ctx context.Context, sensorID string, metric models.Metric, before time.Time, limit int) ([]float64, error)
}

// SensorStore manages the sensor registry and its last-known cache.
type SensorStore interface {
	ListSensors(ctx context.Context) ([]*models.Sensor, error)
	ListActiveSensors(ctx context.Context) ([]*models.Sensor, error)
	GetSensor(ctx context.Context, id string) (*models.Sensor, error)
	UpsertSensor(ctx context.Context, s *models.Sensor) error
	SetSensorActive(ctx context.Context, id string, active bool) error
}

// AlertStore owns alert records. Implementations must serialize
// create-vs-update for one (sensorID, metric) key so concurrent
// detections cannot produce two open alerts for the same key.
type AlertStore interface {
	// FindOpenAlert returns the open alert for the key, or ErrNotFound.
	FindOpenAlert(ctx context.Context, sensorID string, metric models.Metric) (*models.Alert, error)
	ListOpenAlerts(ctx context.Context, sensorID string) ([]*models.Alert, error)
	ListAlerts(ctx context.Context, sensorID string) ([]*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// CreateAlert inserts a new alert, or returns ErrOpenAlertExists
	// without inserting when the key already has an open record.
	CreateAlert(ctx context.Context, a *models.Alert) error
	UpdateAlert(ctx context.Context, a *models.Alert) error
	ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error)
}

// RuleStore owns automation rules.
type RuleStore interface {
	ListRules(ctx context.Context) ([]*models.AutomationRule, error)
	FindEnabledRules(ctx context.Context, sensorID string) ([]*models.AutomationRule, error)
	GetRule(ctx context.Context, id string) (*models.AutomationRule, error)
	CreateRule(ctx context.Context, r *models.AutomationRule) error
	UpdateRule(ctx context.Context, r *models.AutomationRule) error
	DeleteRule(ctx context.Context, id string) error
	MarkRuleTriggered(ctx context.Context, id string, at time.Time) error
}

// Store is the full persistence contract the engine requires.
type Store interface {
	ReadingStore
	SensorStore
	AlertStore
	RuleStore
}
