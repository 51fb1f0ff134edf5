package models

import (
	"time"
)

// PackageStatus представляет статус посылки
type PackageStatus string

const (
	PackageStatusInTransit PackageStatus = "in_transit"
	PackageStatusDelivered PackageStatus = "delivered"
	PackageStatusReturned  PackageStatus = "returned"
)

// Valid проверяет, что статус входит в допустимый набор
func (s PackageStatus) Valid() bool {
	switch s {
	case PackageStatusInTransit, PackageStatusDelivered, PackageStatusReturned:
		return true
	}
	return false
}

// Terminal сообщает, что из статуса нет переходов
func (s PackageStatus) Terminal() bool {
	return s == PackageStatusDelivered || s == PackageStatusReturned
}

// CanTransitionTo проверяет допустимость перехода статуса.
// Разрешены только in_transit -> delivered и in_transit -> returned.
func (s PackageStatus) CanTransitionTo(next PackageStatus) bool {
	return s == PackageStatusInTransit && next.Terminal()
}

// Package представляет посылку в системе
type Package struct {
	ID         int64         `json:"id" db:"id"`
	AssigneeID *int64        `json:"assignee_id,omitempty" db:"assignee_id"`
	Address    string        `json:"address" db:"address"`
	Status     PackageStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
	Version    uint64        `json:"version"`
}

// Clone возвращает копию посылки без общих указателей
func (p Package) Clone() Package {
	if p.AssigneeID != nil {
		id := *p.AssigneeID
		p.AssigneeID = &id
	}
	return p
}

// AssignedTo сообщает, назначена ли посылка указанному курьеру
func (p Package) AssignedTo(agentID int64) bool {
	return p.AssigneeID != nil && *p.AssigneeID == agentID
}

// CreatePackageRequest представляет запрос на создание и назначение посылки
type CreatePackageRequest struct {
	Address string `json:"address"`
	AgentID int64  `json:"agent_id"`
}

// UpdatePackageRequest представляет запрос на изменение посылки.
// Можно передать статус, нового исполнителя или оба поля сразу.
type UpdatePackageRequest struct {
	Status     *PackageStatus `json:"status,omitempty"`
	AssigneeID *int64         `json:"assignee_id,omitempty"`
}
