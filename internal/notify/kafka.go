// Package notify publishes DANGER alerts to external consumers.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"gassentry/internal/config"
	"gassentry/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafka returns nil when kafka is disabled.
func NewKafka(cfg config.KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka alert publisher disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("kafka alert publisher enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 2 * time.Second,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

type alertMessage struct {
	model.AlertRecord
	Source string `json:"source"`
}

func (p *KafkaPublisher) PublishAlert(ctx context.Context, a model.AlertRecord) error {
	value, err := json.Marshal(alertMessage{AlertRecord: a, Source: "gassentry"})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.ID),
		Value: value,
		Time:  a.Time,
	})
}

// Close flushes pending messages and reports failures.
func (p *KafkaPublisher) Close() error {
	err := p.writer.Close()
	if err != nil && p.logger != nil {
		p.logger.Warn("kafka alert publisher close failed", "err", err)
	}
	return err
}
