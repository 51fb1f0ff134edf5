package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType представляет тип события
type EventType string

const (
	EventTypeLocationUpdated      EventType = "locationUpdated"
	EventTypeAgentStatusChanged   EventType = "agentStatusChanged"
	EventTypePackageStatusChanged EventType = "packageStatusChanged"
	EventTypePackageAssigned      EventType = "packageAssigned"

	// EventTypeLocationReported приходит из Kafka от внешних шлюзов телеметрии
	EventTypeLocationReported EventType = "location.reported"
)

// Event представляет базовое событие
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RawEvent представляет событие с неразобранными данными
type RawEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// LocationUpdatedEvent представляет событие обновления местоположения
type LocationUpdatedEvent struct {
	AgentID int64   `json:"agentId"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Version uint64  `json:"version,omitempty"`
}

// AgentStatusChangedEvent представляет событие изменения рабочего состояния курьера
type AgentStatusChangedEvent struct {
	AgentID int64       `json:"agentId"`
	Status  AgentStatus `json:"status"`
	Version uint64      `json:"version,omitempty"`
}

// PackageStatusChangedEvent представляет событие изменения статуса посылки
type PackageStatusChangedEvent struct {
	PackageID int64         `json:"packageId"`
	Status    PackageStatus `json:"status"`
	Version   uint64        `json:"version,omitempty"`
}

// PackageAssignedEvent представляет событие назначения посылки курьеру
type PackageAssignedEvent struct {
	PackageID int64  `json:"packageId"`
	AgentID   int64  `json:"agentId"`
	Address   string `json:"address"`
	Version   uint64 `json:"version,omitempty"`
}

// NewEvent создает событие с новым идентификатором и текущим временем
func NewEvent(eventType EventType, data interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// LocationUpdated строит событие из зафиксированного состояния курьера
func LocationUpdated(agent DeliveryAgent) Event {
	data := LocationUpdatedEvent{AgentID: agent.ID, Version: agent.Version}
	if agent.LastLocation != nil {
		data.Lat = agent.LastLocation.Lat
		data.Lng = agent.LastLocation.Lng
	}
	return NewEvent(EventTypeLocationUpdated, data)
}

// AgentStatusChanged строит событие из зафиксированного состояния курьера
func AgentStatusChanged(agent DeliveryAgent) Event {
	return NewEvent(EventTypeAgentStatusChanged, AgentStatusChangedEvent{
		AgentID: agent.ID,
		Status:  agent.Status,
		Version: agent.Version,
	})
}

// PackageStatusChanged строит событие из зафиксированного состояния посылки
func PackageStatusChanged(pkg Package) Event {
	return NewEvent(EventTypePackageStatusChanged, PackageStatusChangedEvent{
		PackageID: pkg.ID,
		Status:    pkg.Status,
		Version:   pkg.Version,
	})
}

// PackageAssigned строит событие из зафиксированного состояния посылки
func PackageAssigned(pkg Package) Event {
	data := PackageAssignedEvent{PackageID: pkg.ID, Address: pkg.Address, Version: pkg.Version}
	if pkg.AssigneeID != nil {
		data.AgentID = *pkg.AssigneeID
	}
	return NewEvent(EventTypePackageAssigned, data)
}
