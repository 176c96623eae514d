package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquaflow/internal/anomaly"
	"aquaflow/internal/events"
	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

// throttleKey identifies one alert stream.
type throttleKey struct {
	SensorID string
	Metric   models.Metric
}

// announcement records the last time an alert was announced for a key.
type announcement struct {
	At       time.Time
	Severity models.Severity
}

// Manager owns the per-(sensor, metric) alert state machine:
// none → OPEN → RESOLVED. Resolved is terminal; a later detection
// starts a fresh record.
//
// The announce throttle lives in memory only. Losing it on restart is
// acceptable: it suppresses duplicate announcements, it is not
// authoritative data.
type Manager struct {
	store    store.Store
	bus      *events.Bus
	detector *anomaly.Detector
	window   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	announced map[throttleKey]announcement
}

// Config holds manager configuration.
type Config struct {
	Store    store.Store
	Bus      *events.Bus
	Detector *anomaly.Detector

	// ThrottleWindow guards against a warning re-announcing right after
	// a critical on the same key.
	ThrottleWindow time.Duration

	// Now is injectable for tests; nil picks the real clock.
	Now func() time.Time
}

// NewManager creates an alert lifecycle manager.
func NewManager(cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:     cfg.Store,
		bus:       cfg.Bus,
		detector:  cfg.Detector,
		window:    cfg.ThrottleWindow,
		now:       now,
		announced: make(map[throttleKey]announcement),
	}
}

// Process applies this cycle's detections for one sensor: opens or
// refreshes alerts for each candidate, then attempts hysteresis
// resolution for open alerts whose metric produced no candidate.
// Failures are isolated per alert.
func (m *Manager) Process(ctx context.Context, sensor *models.Sensor, reading *models.Reading, detections []anomaly.Detection) {
	log := logger.WithSensor("alerting", sensor.ID)

	detected := make(map[models.Metric]bool, len(detections))
	for _, det := range detections {
		detected[det.Metric] = true
		if err := m.applyDetection(ctx, sensor.ID, det); err != nil {
			log.Error().Err(err).Str("metric", string(det.Metric)).Msg("failed to apply detection")
		}
	}

	open, err := m.store.ListOpenAlerts(ctx, sensor.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list open alerts for resolve pass")
		return
	}
	for _, alert := range open {
		if detected[alert.Metric] {
			continue
		}
		// Offline alerts resolve on the ingest path, not here.
		if alert.Metric == models.MetricOffline {
			continue
		}
		recovered, ok := m.detector.Recovery(ctx, reading, alert.Metric)
		if !ok || !recovered {
			continue
		}
		if _, err := m.resolve(ctx, alert.ID); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to resolve recovered alert")
		}
	}
}

// applyDetection opens a fresh alert or refreshes the open one in place.
func (m *Manager) applyDetection(ctx context.Context, sensorID string, det anomaly.Detection) error {
	now := m.now()
	key := throttleKey{SensorID: sensorID, Metric: det.Metric}

	existing, err := m.store.FindOpenAlert(ctx, sensorID, det.Metric)
	switch {
	case err == nil:
		// In-place update; the throttle never applies here.
		return m.refresh(ctx, key, existing, det, now)

	case errors.Is(err, store.ErrNotFound):
		if m.suppressed(key, det.Severity, now) {
			metrics.AlertsThrottled.Inc()
			return nil
		}
		alert := &models.Alert{
			ID:            uuid.New().String(),
			SensorID:      sensorID,
			Metric:        det.Metric,
			Severity:      det.Severity,
			Message:       det.Message,
			TriggeredAt:   now,
			CurrentValue:  det.Current,
			BaselineValue: det.Baseline,
			Delta:         det.Delta,
		}
		switch err := m.store.CreateAlert(ctx, alert); {
		case errors.Is(err, store.ErrOpenAlertExists):
			// Lost a creation race with a concurrent detection: refresh
			// the record that won instead of announcing one that was
			// never stored.
			winner, ferr := m.store.FindOpenAlert(ctx, sensorID, det.Metric)
			if ferr != nil {
				return ferr
			}
			return m.refresh(ctx, key, winner, det, now)
		case err != nil:
			return err
		}
		m.recordAnnouncement(key, announcement{At: now, Severity: det.Severity})
		metrics.AlertsCreated.WithLabelValues(string(det.Metric), string(det.Severity)).Inc()
		metrics.AlertsOpen.Inc()
		m.publish(events.TypeAlertCreated, alert)
		return nil

	default:
		return err
	}
}

// refresh updates an open alert in place with the latest detection
// context and announces the change.
func (m *Manager) refresh(ctx context.Context, key throttleKey, alert *models.Alert, det anomaly.Detection, now time.Time) error {
	alert.Severity = det.Severity
	alert.Message = det.Message
	alert.CurrentValue = det.Current
	alert.BaselineValue = det.Baseline
	alert.Delta = det.Delta
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return err
	}
	m.recordAnnouncement(key, announcement{At: now, Severity: det.Severity})
	m.publish(events.TypeAlertUpdated, alert)
	return nil
}

// suppressed reports whether a none→OPEN transition must be withheld:
// the previous announcement was critical, the candidate is only a
// warning, and the window has not elapsed.
func (m *Manager) suppressed(key throttleKey, severity models.Severity, now time.Time) bool {
	if severity != models.SeverityWarning {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.announced[key]
	if !ok || last.Severity != models.SeverityCritical {
		return false
	}
	return now.Sub(last.At) < m.window
}

func (m *Manager) recordAnnouncement(key throttleKey, a announcement) {
	m.mu.Lock()
	m.announced[key] = a
	m.mu.Unlock()
}

// OpenOffline opens (or refreshes) the critical offline alert for a
// sensor. Used by the offline monitor.
func (m *Manager) OpenOffline(ctx context.Context, sensor *models.Sensor, staleSince time.Time) error {
	det := anomaly.Detection{
		Metric:   models.MetricOffline,
		Severity: models.SeverityCritical,
		Message:  "sensor has not reported since " + staleSince.UTC().Format(time.RFC3339),
	}
	return m.applyDetection(ctx, sensor.ID, det)
}

// ResolveOffline closes the open offline alert for a sensor, if any.
// Called from the ingest path when a fresh reading arrives.
func (m *Manager) ResolveOffline(ctx context.Context, sensorID string) error {
	alert, err := m.store.FindOpenAlert(ctx, sensorID, models.MetricOffline)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = m.resolve(ctx, alert.ID)
	return err
}

// Acknowledge sets the operator acknowledge flag. Idempotent: a second
// call leaves acknowledgedAt unchanged.
func (m *Manager) Acknowledge(ctx context.Context, alertID string) (*models.Alert, error) {
	return m.store.AcknowledgeAlert(ctx, alertID, m.now())
}

// Resolve closes an alert on operator request. Idempotent.
func (m *Manager) Resolve(ctx context.Context, alertID string) (*models.Alert, error) {
	return m.resolve(ctx, alertID)
}

func (m *Manager) resolve(ctx context.Context, alertID string) (*models.Alert, error) {
	before, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	alert, err := m.store.ResolveAlert(ctx, alertID, m.now())
	if err != nil {
		return nil, err
	}
	if before.Open() {
		metrics.AlertsResolved.WithLabelValues(string(alert.Metric)).Inc()
		metrics.AlertsOpen.Dec()
		m.publish(events.TypeAlertResolved, alert)
	}
	return alert, nil
}

func (m *Manager) publish(t events.Type, alert *models.Alert) {
	if m.bus != nil {
		m.bus.Publish(events.Event{Type: t, Alert: alert})
	}
}
