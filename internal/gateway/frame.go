package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"delivery-tracking/internal/models"
)

// FrameType представляет тип кадра протокола реального времени
type FrameType string

// Входящие кадры
const (
	FrameReportLocation      FrameType = "reportLocation"
	FrameSetWorkingState     FrameType = "setWorkingState"
	FrameUpdatePackageStatus FrameType = "updatePackageStatus"
	FrameAssignPackage       FrameType = "assignPackage"
	FrameRequestSnapshot     FrameType = "requestSnapshot"
)

// Ответные кадры
const (
	FrameAck   FrameType = "ack"
	FrameError FrameType = "error"
)

// CodeUnknownType возвращается для кадров без обработчика
const CodeUnknownType = "UNKNOWN_TYPE"

// ErrMalformedFrame возвращается каналом, если кадр не удалось разобрать.
// Соединение при этом остается открытым.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame представляет кадр протокола {type, id, payload}
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload представляет тело кадра error
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventPayload представляет тело кадра события
type EventPayload struct {
	EventID   string      `json:"eventId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ReportLocationPayload представляет тело кадра reportLocation.
// AgentID можно не передавать: берется курьер сессии.
type ReportLocationPayload struct {
	AgentID   int64     `json:"agentId,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"ts,omitempty"`
}

// SetWorkingStatePayload представляет тело кадра setWorkingState
type SetWorkingStatePayload struct {
	AgentID int64 `json:"agentId,omitempty"`
	Active  bool  `json:"active"`
}

// UpdatePackageStatusPayload представляет тело кадра updatePackageStatus
type UpdatePackageStatusPayload struct {
	PackageID int64                `json:"packageId"`
	Status    models.PackageStatus `json:"status"`
}

// AssignPackagePayload представляет тело кадра assignPackage
type AssignPackagePayload struct {
	Address string `json:"address"`
	AgentID int64  `json:"agentId"`
}

// Snapshot представляет полный срез состояния для пересинхронизации дашборда
type Snapshot struct {
	Agents   []models.DeliveryAgent `json:"agents"`
	Packages []models.Package       `json:"packages"`
}

func mustPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// все полезные нагрузки - простые структуры, ошибка означает баг
		panic(err)
	}
	return data
}

func ackFrame(id string, result interface{}) Frame {
	f := Frame{Type: FrameAck, ID: id}
	if result != nil {
		f.Payload = mustPayload(result)
	}
	return f
}

func errorFrame(id, code, message string) Frame {
	return Frame{
		Type:    FrameError,
		ID:      id,
		Payload: mustPayload(ErrorPayload{Code: code, Message: message}),
	}
}

func eventFrame(event models.Event) Frame {
	return Frame{
		Type: FrameType(event.Type),
		Payload: mustPayload(EventPayload{
			EventID:   event.ID.String(),
			Timestamp: event.Timestamp,
			Data:      event.Data,
		}),
	}
}
