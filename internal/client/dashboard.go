package client

import (
	"context"
	"encoding/json"
	"fmt"

	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/mapview"
	"delivery-tracking/internal/models"
)

// Dashboard применяет поток кадров шлюза к набору маркеров
type Dashboard struct {
	markers *mapview.Markers
	log     *logger.Logger
}

// NewDashboard создает дашборд поверх маркеров
func NewDashboard(markers *mapview.Markers, log *logger.Logger) *Dashboard {
	return &Dashboard{markers: markers, log: log}
}

// HandleFrame применяет один кадр: снимок из ack или событие хаба
func (d *Dashboard) HandleFrame(frame gateway.Frame) error {
	switch frame.Type {
	case gateway.FrameAck:
		var snap gateway.Snapshot
		if err := json.Unmarshal(frame.Payload, &snap); err != nil || snap.Agents == nil {
			// ack без снимка
			return nil
		}
		d.markers.Load(snap.Agents)
		return nil
	case gateway.FrameError:
		var p gateway.ErrorPayload
		json.Unmarshal(frame.Payload, &p)
		return fmt.Errorf("request %s failed: %s: %s", frame.ID, p.Code, p.Message)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
		return fmt.Errorf("failed to decode event %s: %w", frame.Type, err)
	}
	return d.markers.Apply(models.EventType(frame.Type), envelope.Data)
}

// Run запрашивает снимок и применяет события до отмены ctx или разрыва
func (d *Dashboard) Run(ctx context.Context, conn *Conn) error {
	if _, err := conn.Send(gateway.FrameRequestSnapshot, nil); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-conn.Frames():
			if !ok {
				return conn.Err()
			}
			if err := d.HandleFrame(frame); err != nil {
				d.log.WithError(err).WithField("frame_type", frame.Type).Warn("Failed to apply frame")
			}
		}
	}
}
