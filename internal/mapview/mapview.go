// Package mapview поддерживает набор маркеров курьеров на карте дашборда.
package mapview

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"delivery-tracking/internal/models"
)

// Marker представляет маркер курьера
type Marker struct {
	AgentID int64   `json:"agentId"`
	Label   string  `json:"label"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Active  bool    `json:"active"`
}

// View представляет поверхность отображения карты
type View interface {
	SetCenter(lat, lng float64)
	UpsertMarker(marker Marker)
	RemoveMarker(agentID int64)
}

// Markers владеет маркерами и передает в View только изменения
type Markers struct {
	mu      sync.Mutex
	view    View
	markers map[int64]Marker
	names   map[int64]string
	// версии последних примененных событий; события публикуются после
	// фиксации, поэтому могут прийти не в порядке версий
	locationSeen map[int64]uint64
	statusSeen   map[int64]uint64
}

// NewMarkers создает набор маркеров поверх view
func NewMarkers(view View) *Markers {
	return &Markers{
		view:    view,
		markers:      make(map[int64]Marker),
		names:        make(map[int64]string),
		locationSeen: make(map[int64]uint64),
		statusSeen:   make(map[int64]uint64),
	}
}

// Load выполняет полную пересинхронизацию по срезу курьеров.
// Курьеры без координат маркера не получают.
func (m *Markers) Load(agents []models.DeliveryAgent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int64]struct{}, len(agents))
	var sumLat, sumLng float64
	located := 0

	for _, agent := range agents {
		m.names[agent.ID] = agent.DisplayName
		m.locationSeen[agent.ID] = agent.Version
		m.statusSeen[agent.ID] = agent.Version
		if agent.LastLocation == nil {
			continue
		}
		seen[agent.ID] = struct{}{}
		marker := Marker{
			AgentID: agent.ID,
			Label:   agent.DisplayName,
			Lat:     agent.LastLocation.Lat,
			Lng:     agent.LastLocation.Lng,
			Active:  agent.Status == models.AgentStatusActive,
		}
		m.upsert(marker)
		sumLat += marker.Lat
		sumLng += marker.Lng
		located++
	}

	for id := range m.markers {
		if _, ok := seen[id]; !ok {
			delete(m.markers, id)
			m.view.RemoveMarker(id)
		}
	}

	if located > 0 {
		m.view.SetCenter(sumLat/float64(located), sumLng/float64(located))
	}
}

// upsert передает маркер во view только при изменении
func (m *Markers) upsert(marker Marker) {
	if current, ok := m.markers[marker.AgentID]; ok && current == marker {
		return
	}
	m.markers[marker.AgentID] = marker
	m.view.UpsertMarker(marker)
}

// Apply применяет событие хаба. Неизвестные типы игнорируются.
func (m *Markers) Apply(eventType models.EventType, data json.RawMessage) error {
	switch eventType {
	case models.EventTypeLocationUpdated:
		var e models.LocationUpdatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		m.mu.Lock()
		if stale(m.locationSeen, e.AgentID, e.Version) {
			m.mu.Unlock()
			return nil
		}
		marker, ok := m.markers[e.AgentID]
		if !ok {
			marker = Marker{AgentID: e.AgentID, Label: m.label(e.AgentID)}
		}
		marker.Lat, marker.Lng = e.Lat, e.Lng
		m.upsert(marker)
		m.mu.Unlock()

	case models.EventTypeAgentStatusChanged:
		var e models.AgentStatusChangedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		m.mu.Lock()
		if stale(m.statusSeen, e.AgentID, e.Version) {
			m.mu.Unlock()
			return nil
		}
		// координаты сохраняются и после ухода со смены
		if marker, ok := m.markers[e.AgentID]; ok {
			marker.Active = e.Status == models.AgentStatusActive
			m.upsert(marker)
		}
		m.mu.Unlock()
	}
	return nil
}

// stale сообщает, что событие старше уже примененного, и запоминает новую версию.
// Нулевая версия означает событие без версии и применяется всегда.
func stale(seen map[int64]uint64, agentID int64, version uint64) bool {
	if version == 0 {
		return false
	}
	if version <= seen[agentID] {
		return true
	}
	seen[agentID] = version
	return false
}

func (m *Markers) label(agentID int64) string {
	if name, ok := m.names[agentID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("agent-%d", agentID)
}

// Get возвращает маркер курьера
func (m *Markers) Get(agentID int64) (Marker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.markers[agentID]
	return marker, ok
}

// List возвращает маркеры, упорядоченные по id
func (m *Markers) List() []Marker {
	m.mu.Lock()
	list := make([]Marker, 0, len(m.markers))
	for _, marker := range m.markers {
		list = append(list, marker)
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].AgentID < list[j].AgentID })
	return list
}
