package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"

	"github.com/IBM/sarama"
)

const consumeRetryBackoff = 2 * time.Second

// EventHandler обрабатывает событие из топика телеметрии
type EventHandler func(ctx context.Context, event *models.RawEvent) error

// ConsumerStats представляет счетчики обработанных сообщений
type ConsumerStats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
}

// Consumer читает отчеты телеметрии из Kafka и передает их обработчикам по типу события
type Consumer struct {
	group    sarama.ConsumerGroup
	topics   []string
	handlers map[models.EventType]EventHandler
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// NewConsumer создает consumer group на топике координат.
// Читаются только новые сообщения: устаревшие точки не нужны.
func NewConsumer(cfg *config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaCfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group %s: %w", cfg.GroupID, err)
	}

	log.WithField("group_id", cfg.GroupID).Info("Kafka consumer group created")
	return newConsumer(group, []string{cfg.Topics.Locations}, log), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, log *logger.Logger) *Consumer {
	return &Consumer{
		group:    group,
		topics:   topics,
		handlers: make(map[models.EventType]EventHandler),
		log:      log,
	}
}

// RegisterHandler назначает обработчик типу события. Вызывать до Start.
func (c *Consumer) RegisterHandler(eventType models.EventType, handler EventHandler) {
	c.handlers[eventType] = handler
}

// Start запускает чтение в фоне до Stop или отмены ctx.
// После ошибки группы чтение возобновляется с паузой.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err == nil {
				continue
			}
			c.log.WithError(err).WithField("topics", c.topics).Error("Kafka consume failed, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(consumeRetryBackoff):
			}
		}
	}()

	c.log.WithField("topics", c.topics).WithField("handlers", len(c.handlers)).Info("Kafka consumer started")
}

// Stop останавливает чтение и закрывает группу
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	stats := c.Stats()
	c.log.WithFields(map[string]interface{}{
		"processed": stats.Processed,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	}).Info("Kafka consumer stopped")
	return c.group.Close()
}

// Stats возвращает счетчики сообщений
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim помечает каждое сообщение прочитанным, даже если обработка не удалась:
// повтор старой координаты поверх более новой хуже потери одной точки.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.route(ctx, msg); err != nil {
				c.log.WithError(err).WithFields(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("Dropping telemetry message")
			}
			session.MarkMessage(msg, "")
		}
	}
}

// route декодирует конверт события и вызывает обработчик его типа.
// Типы без обработчика пропускаются без ошибки.
func (c *Consumer) route(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event models.RawEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.skipped.Add(1)
		c.log.WithField("event_type", event.Type).Debug("No handler for telemetry event")
		return nil
	}

	if err := handler(ctx, &event); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("event %s (%s): %w", event.ID, event.Type, err)
	}
	c.processed.Add(1)
	return nil
}
