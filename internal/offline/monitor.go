package offline

import (
	"context"
	"sync/atomic"
	"time"

	"aquaflow/internal/alerting"
	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/store"
)

// Monitor is a periodic task that flags sensors with stale last-reading
// timestamps: the sensor is marked inactive and a critical offline
// alert is opened. Scans are self-excluding: a scheduled scan is
// skipped, not queued, while a previous one is still running.
type Monitor struct {
	store     store.Store
	alerts    *alerting.Manager
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time

	running atomic.Bool
}

// Config holds monitor configuration.
type Config struct {
	Store     store.Store
	Alerts    *alerting.Manager
	Threshold time.Duration
	Interval  time.Duration

	// Now is injectable for tests; nil picks the real clock.
	Now func() time.Time
}

// NewMonitor creates an offline monitor.
func NewMonitor(cfg Config) *Monitor {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{
		store:     cfg.Store,
		alerts:    cfg.Alerts,
		threshold: cfg.Threshold,
		interval:  cfg.Interval,
		now:       now,
	}
}

// Run scans on the monitor's own interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := logger.WithComponent("offline_monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", m.interval).
		Dur("threshold", m.threshold).
		Msg("offline monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("offline monitor stopped")
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan checks every sensor's last-reading age once. Returns the number
// of sensors flagged offline; -1 when the scan was skipped because a
// previous one is still running.
func (m *Monitor) Scan(ctx context.Context) int {
	log := logger.WithComponent("offline_monitor")

	if !m.running.CompareAndSwap(false, true) {
		metrics.OfflineScansSkipped.Inc()
		log.Warn().Msg("previous scan still running, skipping")
		return -1
	}
	defer m.running.Store(false)

	metrics.OfflineScans.Inc()

	sensors, err := m.store.ListSensors(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sensors, skipping scan")
		return 0
	}

	now := m.now()
	flagged := 0
	for _, sensor := range sensors {
		lastSeen := sensor.LastReadingAt
		if lastSeen.IsZero() {
			// Never reported: age from provisioning time.
			lastSeen = sensor.CreatedAt
		}
		if now.Sub(lastSeen) <= m.threshold {
			continue
		}

		if sensor.Active {
			if err := m.store.SetSensorActive(ctx, sensor.ID, false); err != nil {
				log.Error().Err(err).Str("sensor_id", sensor.ID).Msg("failed to mark sensor inactive")
				continue
			}
			metrics.SensorsOffline.Inc()
		}
		if err := m.alerts.OpenOffline(ctx, sensor, lastSeen); err != nil {
			log.Error().Err(err).Str("sensor_id", sensor.ID).Msg("failed to open offline alert")
			continue
		}
		flagged++
	}

	if flagged > 0 {
		log.Info().Int("flagged", flagged).Msg("offline scan flagged stale sensors")
	}
	return flagged
}
