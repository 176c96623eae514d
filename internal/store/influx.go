package store

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"aquaflow/internal/logger"
	"aquaflow/internal/models"
)

const readingMeasurement = "sensor_reading"

// InfluxReadings is a ReadingStore backed by InfluxDB. Readings land as
// points tagged by sensor id with one field per sampled metric, so
// QueryRecent maps onto a Flux sort+limit.
type InfluxReadings struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
}

// NewInfluxReadings connects a reading store to InfluxDB and verifies
// the connection health.
func NewInfluxReadings(url, token, org, bucket string) (*InfluxReadings, error) {
	log := logger.WithComponent("influx")
	client := influxdb2.NewClient(url, token)

	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %v", health.Message)
	}
	log.Info().Str("url", url).Str("bucket", bucket).Msg("connected to InfluxDB")

	return &InfluxReadings{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		query:  client.QueryAPI(org),
		bucket: bucket,
	}, nil
}

// InsertReading writes one reading as a single point with a field per
// sampled metric.
func (s *InfluxReadings) InsertReading(ctx context.Context, r *models.Reading) error {
	fields := make(map[string]interface{}, 9)
	for _, m := range models.NumericMetrics {
		if v, ok := r.Value(m); ok {
			fields[string(m)] = v
		}
	}
	if leak, ok := r.Leak(); ok {
		fields[string(models.MetricLeakDetected)] = leak
	}
	if len(fields) == 0 {
		return nil
	}

	p := influxdb2.NewPoint(
		readingMeasurement,
		map[string]string{"sensor_id": r.SensorID},
		fields,
		r.Timestamp,
	)
	if err := s.write.WritePoint(ctx, p); err != nil {
		return Transient("insert reading", err)
	}
	return nil
}

// QueryRecent returns the latest non-null values of one metric for a
// sensor, most recent first, strictly before the given instant.
func (s *InfluxReadings) QueryRecent(ctx context.Context, sensorID string, metric models.Metric, before time.Time, limit int) ([]float64, error) {
	if metric.Boolean() {
		return nil, nil
	}

	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -30d, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.sensor_id == %q and r._field == %q)
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`,
		s.bucket, before.UTC().Format(time.RFC3339Nano),
		readingMeasurement, sensorID, string(metric), limit)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, Transient("query recent", err)
	}
	defer result.Close()

	var out []float64
	for result.Next() {
		if v, ok := result.Record().Value().(float64); ok {
			out = append(out, v)
		}
	}
	if result.Err() != nil {
		return nil, Transient("query recent", result.Err())
	}
	return out, nil
}

// Close releases the underlying client.
func (s *InfluxReadings) Close() {
	s.client.Close()
}

// Layered composes a dedicated ReadingStore (time series) with a
// document store for sensors, alerts, and rules.
type Layered struct {
	ReadingStore
	SensorStore
	AlertStore
	RuleStore
}

// NewLayered routes reading traffic to readings and everything else to docs.
func NewLayered(readings ReadingStore, docs Store) *Layered {
	return &Layered{
		ReadingStore: readings,
		SensorStore:  docs,
		AlertStore:   docs,
		RuleStore:    docs,
	}
}
