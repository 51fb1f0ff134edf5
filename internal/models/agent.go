package models

import (
	"time"
)

// AgentStatus представляет рабочее состояние курьера
type AgentStatus string

const (
	AgentStatusActive AgentStatus = "active"
	AgentStatusOff    AgentStatus = "off"
)

// Valid проверяет, что статус входит в допустимый набор
func (s AgentStatus) Valid() bool {
	return s == AgentStatusActive || s == AgentStatusOff
}

// Location представляет последнюю известную точку курьера (WGS84, градусы)
type Location struct {
	Lat        float64   `json:"lat" db:"last_lat"`
	Lng        float64   `json:"lng" db:"last_lng"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// DeliveryAgent представляет курьера, отслеживаемого системой
type DeliveryAgent struct {
	ID           int64       `json:"id" db:"id"`
	DisplayName  string      `json:"display_name" db:"display_name"`
	Status       AgentStatus `json:"status" db:"status"`
	LastLocation *Location   `json:"last_location,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	// Version растет на каждое изменение в хранилище; не сохраняется в базе
	Version      uint64      `json:"version"`
}

// Clone возвращает копию курьера без общих указателей
func (a DeliveryAgent) Clone() DeliveryAgent {
	if a.LastLocation != nil {
		loc := *a.LastLocation
		a.LastLocation = &loc
	}
	return a
}

// CreateAgentRequest представляет запрос на регистрацию курьера
type CreateAgentRequest struct {
	DisplayName string `json:"display_name"`
}

// UpdateAgentStatusRequest представляет запрос на смену рабочего состояния
type UpdateAgentStatusRequest struct {
	Status AgentStatus `json:"status"`
}

// LocationReport представляет входящий отчет о местоположении от курьера
type LocationReport struct {
	AgentID   int64     `json:"agent_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"ts"`
}
