package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"aquaflow/internal/config"
	"aquaflow/internal/events"
	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
)

// Sink forwards bus events to a Kafka topic. Delivery is best-effort:
// a failed batch is logged and dropped, never retried into the pipeline.
type Sink struct {
	writer       *kafka.Writer
	batchSize    int
	batchTimeout time.Duration
	writeTimeout time.Duration

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewSink creates a sink writing to the configured topic.
func NewSink(cfg config.KafkaConfig) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // partition by event key
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Sink{
		writer:       writer,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// Run consumes the subscription channel until it closes or ctx is
// cancelled, flushing accumulated events as batches.
func (s *Sink) Run(ctx context.Context, sub <-chan events.Event) {
	log := logger.WithComponent("kafka_sink")
	log.Info().Str("topic", s.writer.Topic).Msg("kafka sink started")
	defer log.Info().Msg("kafka sink stopped")

	batch := make([]events.Event, 0, s.batchSize)
	timer := time.NewTimer(s.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				s.flush(context.Background(), batch)
			}
			return

		case ev, ok := <-sub:
			if !ok {
				if len(batch) > 0 {
					s.flush(context.Background(), batch)
				}
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
				timer.Reset(s.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(s.batchTimeout)
		}
	}
}

// flush serializes and writes one batch.
func (s *Sink) flush(ctx context.Context, batch []events.Event) {
	log := logger.WithComponent("kafka_sink")

	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to serialize event")
			s.failed.Add(1)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(partitionKey(ev)),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
			},
			Time: ev.Timestamp,
		})
	}
	if len(msgs) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	start := time.Now()
	err := s.writer.WriteMessages(writeCtx, msgs...)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.failed.Add(uint64(len(msgs)))
		metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(len(msgs)))
		log.Error().Err(err).Int("batch_size", len(msgs)).Msg("failed to publish event batch")
		return
	}
	s.sent.Add(uint64(len(msgs)))
	metrics.KafkaPublishTotal.WithLabelValues("success").Add(float64(len(msgs)))
	log.Debug().Int("batch_size", len(msgs)).Msg("event batch published")
}

// partitionKey keeps events for one sensor on one partition.
func partitionKey(ev events.Event) string {
	switch {
	case ev.Reading != nil:
		return ev.Reading.SensorID
	case ev.Alert != nil:
		return ev.Alert.SensorID
	default:
		return string(ev.Type)
	}
}

// Close flushes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}

// Stats returns sink counters.
func (s *Sink) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// Stats holds sink metrics.
type Stats struct {
	Sent   uint64
	Failed uint64
}
