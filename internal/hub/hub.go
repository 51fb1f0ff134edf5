package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"

	"github.com/eapache/queue"
)

const defaultQueueSize = 256

// Publisher принимает зафиксированные события состояния
type Publisher interface {
	Publish(event models.Event)
}

// Subscriber представляет подписчика хаба с собственной ограниченной очередью.
// Порядок доставки внутри одного подписчика совпадает с порядком публикации.
type Subscriber struct {
	id       string
	capacity int

	mu      sync.Mutex
	queue   *queue.Queue
	closed  bool
	ready   chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

func newSubscriber(id string, capacity int) *Subscriber {
	return &Subscriber{
		id:       id,
		capacity: capacity,
		queue:    queue.New(),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID возвращает идентификатор подписчика
func (s *Subscriber) ID() string {
	return s.id
}

// Ready сигнализирует, что в очереди появились события
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Done закрывается после отписки
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Dropped возвращает количество вытесненных событий
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Len возвращает текущую длину очереди
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Length()
}

// Drain забирает все накопленные события в порядке публикации
func (s *Subscriber) Drain() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.queue.Length()
	if n == 0 {
		return nil
	}
	events := make([]models.Event, 0, n)
	for s.queue.Length() > 0 {
		events = append(events, s.queue.Remove().(models.Event))
	}
	return events
}

// enqueue добавляет событие; при переполнении вытесняет самое старое
func (s *Subscriber) enqueue(event models.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped := false
	if s.queue.Length() >= s.capacity {
		s.queue.Remove()
		s.dropped.Add(1)
		dropped = true
	}
	s.queue.Add(event)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = queue.New()
	close(s.done)
}

// Stats представляет метрики хаба
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Hub представляет широковещательный хаб событий для дашбордов и внутренних потребителей
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueSize   int
	log         *logger.Logger
	published   atomic.Uint64
	dropped     atomic.Uint64
}

// New создает новый хаб
func New(queueSize int, log *logger.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
		log:         log,
	}
}

// Subscribe регистрирует подписчика. Повторный вызов возвращает существующего.
func (h *Hub) Subscribe(id string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		return sub
	}
	sub := newSubscriber(id, h.queueSize)
	h.subscribers[id] = sub
	h.log.WithField("subscriber_id", id).Debug("Subscriber registered")
	return sub
}

// Unsubscribe удаляет подписчика и отбрасывает его очередь. Идемпотентен.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.close()
	h.log.WithField("subscriber_id", id).
		WithField("dropped", sub.Dropped()).
		Debug("Subscriber removed")
}

// Publish ставит событие в очередь каждого подписчика и сразу возвращает управление
func (h *Hub) Publish(event models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for _, sub := range h.subscribers {
		if sub.enqueue(event) {
			h.dropped.Add(1)
		}
	}
}

// Stats возвращает метрики хаба
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		Subscribers: len(h.subscribers),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Pump доставляет события подписчика в handle до отмены ctx или отписки.
// Используется внутренними потребителями (Kafka, Postgres, кеш).
func Pump(ctx context.Context, sub *Subscriber, handle func(events []models.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-sub.Ready():
			if events := sub.Drain(); len(events) > 0 {
				handle(events)
			}
		}
	}
}
