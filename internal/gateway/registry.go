package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"delivery-tracking/internal/models"

	"github.com/google/uuid"
)

// SessionRole представляет роль подключения
type SessionRole string

const (
	SessionRoleCourier   SessionRole = "courier"
	SessionRoleDashboard SessionRole = "dashboard"
)

// Session представляет одно живое подключение
type Session struct {
	ConnectionID uuid.UUID   `json:"connection_id"`
	Role         SessionRole `json:"role"`
	AgentID      int64       `json:"agent_id,omitempty"`
	ConnectedAt  time.Time   `json:"connected_at"`

	actor    models.Actor
	lastSeen atomic.Int64
}

// ID возвращает строковый идентификатор соединения
func (s *Session) ID() string {
	return s.ConnectionID.String()
}

// Actor возвращает участника, от имени которого действует сессия
func (s *Session) Actor() models.Actor {
	return s.actor
}

// Touch отмечает активность клиента
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeenAt возвращает время последней активности
func (s *Session) LastSeenAt() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Registry хранит живые сессии
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry создает пустой реестр сессий
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Register создает сессию для аутентифицированного участника.
// Администратор подключается как дашборд.
func (r *Registry) Register(actor models.Actor) *Session {
	now := time.Now()
	sess := &Session{
		ConnectionID: uuid.New(),
		Role:         SessionRoleDashboard,
		ConnectedAt:  now,
		actor:        actor,
	}
	if !actor.IsAdmin() {
		sess.Role = SessionRoleCourier
		sess.AgentID = actor.AgentID
	}
	sess.lastSeen.Store(now.UnixNano())

	r.mu.Lock()
	r.sessions[sess.ConnectionID] = sess
	r.mu.Unlock()
	return sess
}

// Remove удаляет сессию. Идемпотентен.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get возвращает сессию по идентификатору соединения
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// List возвращает сессии, упорядоченные по времени подключения
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, sess)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
	return list
}

// SessionCounts представляет число живых сессий по ролям
type SessionCounts struct {
	Couriers   int `json:"couriers"`
	Dashboards int `json:"dashboards"`
}

// Counts возвращает число сессий по ролям
func (r *Registry) Counts() SessionCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var counts SessionCounts
	for _, sess := range r.sessions {
		if sess.Role == SessionRoleDashboard {
			counts.Dashboards++
		} else {
			counts.Couriers++
		}
	}
	return counts
}
