package baseline

import (
	"context"

	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

// Window sizes per metric: how many recent samples feed the rolling mean.
var windows = map[models.Metric]int{
	models.MetricFlowRate: 10,
	models.MetricPressure: 8,
	models.MetricLevel:    12,
}

const defaultWindow = 10

// Tracker computes rolling baselines from recent reading history.
//
// The composite leak flag and the offline metric bypass baselines
// entirely; callers never ask the tracker about them.
type Tracker struct {
	readings store.ReadingStore
}

// NewTracker creates a tracker over the given reading history.
func NewTracker(readings store.ReadingStore) *Tracker {
	return &Tracker{readings: readings}
}

// Baseline returns the arithmetic mean of the metric's recent values
// strictly before the given reading. ok=false means no history exists
// yet; evaluators must suppress detection on it (cold-start safety).
func (t *Tracker) Baseline(ctx context.Context, r *models.Reading, metric models.Metric) (mean float64, ok bool, err error) {
	limit := windows[metric]
	if limit == 0 {
		limit = defaultWindow
	}

	values, err := t.readings.QueryRecent(ctx, r.SensorID, metric, r.Timestamp, limit)
	if err != nil {
		return 0, false, store.Transient("query baseline", err)
	}
	if len(values) == 0 {
		return 0, false, nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true, nil
}
