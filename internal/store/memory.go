package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"aquaflow/internal/models"
)

// alertKey indexes open alerts by their uniqueness key.
type alertKey struct {
	SensorID string
	Metric   models.Metric
}

// Memory is an in-memory Store. All methods take the store mutex, so
// per-key read-modify-write sequences made under a single call are
// atomic, matching the single-writer requirement for open alerts.
type Memory struct {
	mu       sync.RWMutex
	sensors  map[string]*models.Sensor
	readings map[string][]*models.Reading
	alerts   map[string]*models.Alert
	open     map[alertKey]string
	rules    map[string]*models.AutomationRule
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sensors:  make(map[string]*models.Sensor),
		readings: make(map[string][]*models.Reading),
		alerts:   make(map[string]*models.Alert),
		open:     make(map[alertKey]string),
		rules:    make(map[string]*models.AutomationRule),
	}
}

// --- readings ---

func (m *Memory) InsertReading(ctx context.Context, r *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.readings[r.SensorID] = append(m.readings[r.SensorID], &cp)
	return nil
}

func (m *Memory) QueryRecent(ctx context.Context, sensorID string, metric models.Metric, before time.Time, limit int) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.readings[sensorID]
	out := make([]float64, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		r := history[i]
		if !r.Timestamp.Before(before) {
			continue
		}
		if v, ok := r.Value(metric); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// --- sensors ---

func (m *Memory) ListSensors(ctx context.Context) ([]*models.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, cloneSensor(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListActiveSensors(ctx context.Context) ([]*models.Sensor, error) {
	all, err := m.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, s := range all {
		if s.Active {
			active = append(active, s)
		}
	}
	return active, nil
}

func (m *Memory) GetSensor(ctx context.Context, id string) (*models.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSensor(s), nil
}

func (m *Memory) UpsertSensor(ctx context.Context, s *models.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneSensor(s)
	if existing, ok := m.sensors[s.ID]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.sensors[s.ID] = cp
	return nil
}

func (m *Memory) SetSensorActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sensors[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = active
	return nil
}

// --- alerts ---

func (m *Memory) FindOpenAlert(ctx context.Context, sensorID string, metric models.Metric) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[alertKey{SensorID: sensorID, Metric: metric}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlert(m.alerts[id]), nil
}

func (m *Memory) ListOpenAlerts(ctx context.Context, sensorID string) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Alert
	for _, id := range m.open {
		a := m.alerts[id]
		if sensorID == "" || a.SensorID == sensorID {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out, nil
}

func (m *Memory) ListAlerts(ctx context.Context, sensorID string) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Alert
	for _, a := range m.alerts {
		if sensorID == "" || a.SensorID == sensorID {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out, nil
}

func (m *Memory) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *Memory) CreateAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alertKey{SensorID: a.SensorID, Metric: a.Metric}
	// Uniqueness guard: the loser of a racing duplicate creation is
	// told so, and no second record is inserted.
	if _, ok := m.open[key]; ok {
		return ErrOpenAlertExists
	}
	m.alerts[a.ID] = cloneAlert(a)
	if a.Open() {
		m.open[key] = a.ID
	}
	return nil
}

func (m *Memory) UpdateAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	m.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (m *Memory) ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.ResolvedAt == nil {
		t := at
		a.ResolvedAt = &t
		delete(m.open, alertKey{SensorID: a.SensorID, Metric: a.Metric})
	}
	return cloneAlert(a), nil
}

func (m *Memory) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Acknowledged {
		t := at
		a.Acknowledged = true
		a.AcknowledgedAt = &t
	}
	return cloneAlert(a), nil
}

// --- rules ---

func (m *Memory) ListRules(ctx context.Context) ([]*models.AutomationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AutomationRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindEnabledRules(ctx context.Context, sensorID string) ([]*models.AutomationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AutomationRule
	for _, r := range m.rules {
		if r.Enabled && r.SourceSensorID == sensorID {
			out = append(out, cloneRule(r))
		}
	}
	return out, nil
}

func (m *Memory) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRule(r), nil
}

func (m *Memory) CreateRule(ctx context.Context, r *models.AutomationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = cloneRule(r)
	return nil
}

func (m *Memory) UpdateRule(ctx context.Context, r *models.AutomationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		return ErrNotFound
	}
	m.rules[r.ID] = cloneRule(r)
	return nil
}

func (m *Memory) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) MarkRuleTriggered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	r.LastTriggeredAt = &t
	r.UpdatedAt = at
	return nil
}

// --- clones ---

func cloneSensor(s *models.Sensor) *models.Sensor {
	cp := *s
	if s.LastValues != nil {
		cp.LastValues = make(map[models.Metric]float64, len(s.LastValues))
		for k, v := range s.LastValues {
			cp.LastValues[k] = v
		}
	}
	if s.LastLeak != nil {
		l := *s.LastLeak
		cp.LastLeak = &l
	}
	return &cp
}

func cloneAlert(a *models.Alert) *models.Alert {
	cp := *a
	cp.CurrentValue = cloneF(a.CurrentValue)
	cp.BaselineValue = cloneF(a.BaselineValue)
	cp.Delta = cloneF(a.Delta)
	cp.AcknowledgedAt = cloneT(a.AcknowledgedAt)
	cp.ResolvedAt = cloneT(a.ResolvedAt)
	return &cp
}

func cloneRule(r *models.AutomationRule) *models.AutomationRule {
	cp := *r
	cp.Threshold = cloneF(r.Threshold)
	if r.BoolThreshold != nil {
		b := *r.BoolThreshold
		cp.BoolThreshold = &b
	}
	if r.Headers != nil {
		cp.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			cp.Headers[k] = v
		}
	}
	if r.PayloadTemplate != nil {
		cp.PayloadTemplate = make(map[string]any, len(r.PayloadTemplate))
		for k, v := range r.PayloadTemplate {
			cp.PayloadTemplate[k] = v
		}
	}
	cp.LastTriggeredAt = cloneT(r.LastTriggeredAt)
	return &cp
}

func cloneF(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneT(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	t := *p
	return &t
}
