package repository

import (
	"context"
	"fmt"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/kafka"
	"SigRelay/pkg/logger"
)

// KafkaSink publishes status-change events to a Kafka topic. The signal
// ID is the message key, so every event of one signal hits the same
// partition and consumers see transitions in order.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger
}

func NewKafkaSink(lgr *logger.Logger, producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, log: lgr}
}

func (k *KafkaSink) Publish(ctx context.Context, e *models.StatusChangedEvent) error {
	envelope := struct {
		Type string                     `json:"type"`
		Data *models.StatusChangedEvent `json:"data"`
	}{Type: models.EventStatusChanged, Data: e}

	if err := k.producer.Publish(ctx, k.topic, []byte(e.SignalID), envelope); err != nil {
		return fmt.Errorf("publish status change: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
