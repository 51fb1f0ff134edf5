package gateway

import (
	"encoding/json"
	"fmt"

	"delivery-tracking/internal/models"
)

// frameHandler обрабатывает полезную нагрузку кадра и возвращает результат для ack
type frameHandler func(sess *Session, payload json.RawMessage) (interface{}, error)

func (g *Gateway) dispatchTable() map[FrameType]frameHandler {
	return map[FrameType]frameHandler{
		FrameReportLocation:      g.handleReportLocation,
		FrameSetWorkingState:     g.handleSetWorkingState,
		FrameUpdatePackageStatus: g.handleUpdatePackageStatus,
		FrameAssignPackage:       g.handleAssignPackage,
		FrameRequestSnapshot:     g.handleRequestSnapshot,
	}
}

// handle выполняет кадр и строит ответ ack или error
func (g *Gateway) handle(sess *Session, frame Frame) Frame {
	handler, ok := g.handlers[frame.Type]
	if !ok {
		return errorFrame(frame.ID, CodeUnknownType, fmt.Sprintf("unknown frame type %q", frame.Type))
	}

	result, err := handler(sess, frame.Payload)
	if err != nil {
		code := models.ErrorCode(err)
		message := err.Error()
		if code == "INTERNAL" {
			g.log.WithError(err).WithField("frame_type", frame.Type).Error("Frame handler failed")
			message = "internal error"
		}
		return errorFrame(frame.ID, code, message)
	}
	return ackFrame(frame.ID, result)
}

func decodePayload(payload json.RawMessage, target interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required: %w", models.ErrInvalidArgument)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, models.ErrInvalidArgument)
	}
	return nil
}

func (g *Gateway) handleReportLocation(sess *Session, payload json.RawMessage) (interface{}, error) {
	var p ReportLocationPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	agentID := p.AgentID
	if agentID == 0 {
		agentID = sess.AgentID
	}

	agent, err := g.location.ReportLocation(sess.Actor(), models.LocationReport{
		AgentID:   agentID,
		Lat:       p.Lat,
		Lng:       p.Lng,
		Timestamp: p.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (g *Gateway) handleSetWorkingState(sess *Session, payload json.RawMessage) (interface{}, error) {
	var p SetWorkingStatePayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	agentID := p.AgentID
	if agentID == 0 {
		agentID = sess.AgentID
	}
	if agentID == 0 {
		return nil, fmt.Errorf("agentId is required: %w", models.ErrInvalidArgument)
	}

	agent, err := g.dispatch.SetAgentWorkingState(sess.Actor(), agentID, p.Active)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (g *Gateway) handleUpdatePackageStatus(sess *Session, payload json.RawMessage) (interface{}, error) {
	var p UpdatePackageStatusPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}

	pkg, err := g.dispatch.UpdatePackageStatus(sess.Actor(), p.PackageID, p.Status)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

func (g *Gateway) handleAssignPackage(sess *Session, payload json.RawMessage) (interface{}, error) {
	var p AssignPackagePayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}

	pkg, err := g.dispatch.AssignPackage(sess.Actor(), p.Address, p.AgentID)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// handleRequestSnapshot отдает дашборду полный срез для пересинхронизации
func (g *Gateway) handleRequestSnapshot(sess *Session, _ json.RawMessage) (interface{}, error) {
	if sess.Role != SessionRoleDashboard {
		return nil, fmt.Errorf("snapshot is available to dashboards only: %w", models.ErrForbidden)
	}
	return Snapshot{
		Agents:   g.store.ListAgents(nil),
		Packages: g.store.ListPackages(nil),
	}, nil
}
