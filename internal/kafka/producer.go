package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"

	"github.com/IBM/sarama"
)

// Producer представляет Kafka producer
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topic    string
}

// NewProducer создает новый Kafka producer
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll       // Ждем подтверждения от всех реплик
	config.Producer.Retry.Max = 3                          // Максимум 3 попытки
	config.Producer.Return.Successes = true                // Возвращаем успешные результаты
	config.Producer.Compression = sarama.CompressionSnappy // Сжатие данных

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer created successfully")

	return NewProducerWith(producer, cfg.Topics.Events, log), nil
}

// NewProducerWith оборачивает готовый SyncProducer (используется в тестах с sarama/mocks)
func NewProducerWith(producer sarama.SyncProducer, topic string, log *logger.Logger) *Producer {
	return &Producer{
		producer: producer,
		log:      log,
		topic:    topic,
	}
}

// Close закрывает producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

// RunMirror отправляет зафиксированные события хаба в топик событий до отмены ctx.
// Ошибки отправки логируются, событие при этом теряется только для Kafka.
func (p *Producer) RunMirror(ctx context.Context, sub *hub.Subscriber) {
	hub.Pump(ctx, sub, func(events []models.Event) {
		for _, event := range events {
			if err := p.PublishEvent(event); err != nil {
				p.log.WithError(err).
					WithField("event_type", event.Type).
					WithField("event_id", event.ID).
					Error("Failed to mirror event to Kafka")
			}
		}
	})
}

// PublishEvent публикует событие в топик событий
func (p *Producer) PublishEvent(event models.Event) error {
	return p.publishEvent(p.topic, eventKey(event), event)
}

// eventKey выбирает ключ партиционирования: события одной сущности попадают в одну партицию
func eventKey(event models.Event) string {
	switch data := event.Data.(type) {
	case models.LocationUpdatedEvent:
		return fmt.Sprintf("agent-%d", data.AgentID)
	case models.AgentStatusChangedEvent:
		return fmt.Sprintf("agent-%d", data.AgentID)
	case models.PackageStatusChangedEvent:
		return fmt.Sprintf("package-%d", data.PackageID)
	case models.PackageAssignedEvent:
		return fmt.Sprintf("package-%d", data.PackageID)
	}
	return event.ID.String()
}

// publishEvent публикует событие в указанный топик
func (p *Producer) publishEvent(topic, key string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
			{
				Key:   []byte("timestamp"),
				Value: []byte(event.Timestamp.Format(time.RFC3339)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithField("topic", topic).
		WithField("partition", partition).
		WithField("offset", offset).
		WithField("event_type", event.Type).
		WithField("event_id", event.ID).
		Debug("Event published successfully")

	return nil
}
