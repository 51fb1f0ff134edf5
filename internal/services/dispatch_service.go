package services

import (
	"fmt"
	"strings"

	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/store"
)

// DispatchService представляет сервис назначения посылок и смены статусов
type DispatchService struct {
	store     *store.Store
	publisher hub.Publisher
	log       *logger.Logger
}

// NewDispatchService создает новый экземпляр сервиса назначения
func NewDispatchService(st *store.Store, publisher hub.Publisher, log *logger.Logger) *DispatchService {
	return &DispatchService{
		store:     st,
		publisher: publisher,
		log:       log,
	}
}

// RegisterAgent регистрирует курьера (доступно только администратору)
func (s *DispatchService) RegisterAgent(actor models.Actor, displayName string) (models.DeliveryAgent, error) {
	if !actor.IsAdmin() {
		return models.DeliveryAgent{}, fmt.Errorf("only admins can register agents: %w", models.ErrForbidden)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return models.DeliveryAgent{}, fmt.Errorf("display name is required: %w", models.ErrInvalidArgument)
	}

	agent := s.store.AddAgent(displayName)

	s.log.WithField("agent_id", agent.ID).Info("Agent registered")
	return agent, nil
}

// AssignPackage создает посылку и назначает ее курьеру
func (s *DispatchService) AssignPackage(actor models.Actor, address string, agentID int64) (models.Package, error) {
	if !actor.IsAdmin() {
		return models.Package{}, fmt.Errorf("only admins can assign packages: %w", models.ErrForbidden)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return models.Package{}, fmt.Errorf("address is required: %w", models.ErrInvalidArgument)
	}

	pkg, err := s.store.CreatePackage(address, &agentID)
	if err != nil {
		return models.Package{}, fmt.Errorf("failed to assign package: %w", err)
	}

	s.publisher.Publish(models.PackageAssigned(pkg))

	s.log.WithFields(map[string]interface{}{
		"package_id": pkg.ID,
		"agent_id":   agentID,
	}).Info("Package assigned")

	return pkg, nil
}

// ReassignPackage передает посылку другому курьеру
func (s *DispatchService) ReassignPackage(actor models.Actor, packageID, agentID int64) (models.Package, error) {
	return s.UpdatePackage(actor, packageID, models.UpdatePackageRequest{AssigneeID: &agentID})
}

// UpdatePackageStatus меняет статус посылки.
// Курьер может менять только свои посылки; проверка владельца и перехода атомарна.
func (s *DispatchService) UpdatePackageStatus(actor models.Actor, packageID int64, status models.PackageStatus) (models.Package, error) {
	return s.UpdatePackage(actor, packageID, models.UpdatePackageRequest{Status: &status})
}

// UpdatePackage применяет переназначение и смену статуса одной операцией:
// либо фиксируются обе части, либо ничего.
func (s *DispatchService) UpdatePackage(actor models.Actor, packageID int64, change models.UpdatePackageRequest) (models.Package, error) {
	if change.AssigneeID == nil && change.Status == nil {
		return models.Package{}, fmt.Errorf("nothing to update: %w", models.ErrInvalidArgument)
	}
	if change.AssigneeID != nil && !actor.IsAdmin() {
		return models.Package{}, fmt.Errorf("only admins can reassign packages: %w", models.ErrForbidden)
	}
	if change.Status != nil && !change.Status.Valid() {
		return models.Package{}, fmt.Errorf("package status %q: %w", *change.Status, models.ErrInvalidArgument)
	}

	pkg, err := s.store.UpdatePackage(packageID, func(pkg *models.Package) error {
		if !actor.IsAdmin() && !pkg.AssignedTo(actor.AgentID) {
			return fmt.Errorf("package %d is not assigned to agent %d: %w", pkg.ID, actor.AgentID, models.ErrForbidden)
		}
		if change.Status != nil {
			if err := store.CheckTransition(pkg.Status, *change.Status); err != nil {
				return err
			}
			pkg.Status = *change.Status
		}
		if change.AssigneeID != nil {
			assignee := *change.AssigneeID
			pkg.AssigneeID = &assignee
		}
		return nil
	})
	if err != nil {
		return models.Package{}, fmt.Errorf("failed to update package: %w", err)
	}

	fields := map[string]interface{}{
		"package_id": pkg.ID,
		"actor_role": actor.Role,
	}
	if change.AssigneeID != nil {
		s.publisher.Publish(models.PackageAssigned(pkg))
		fields["agent_id"] = *change.AssigneeID
	}
	if change.Status != nil {
		s.publisher.Publish(models.PackageStatusChanged(pkg))
		fields["new_status"] = pkg.Status
	}
	s.log.WithFields(fields).Info("Package updated")

	return pkg, nil
}

// SetAgentWorkingState включает или выключает рабочий режим курьера.
// Курьер меняет только свое состояние, администратор любое.
func (s *DispatchService) SetAgentWorkingState(actor models.Actor, agentID int64, active bool) (models.DeliveryAgent, error) {
	if !actor.IsAdmin() && !actor.Is(agentID) {
		return models.DeliveryAgent{}, fmt.Errorf("agent %d cannot change state of agent %d: %w",
			actor.AgentID, agentID, models.ErrForbidden)
	}

	status := models.AgentStatusOff
	if active {
		status = models.AgentStatusActive
	}

	agent, err := s.store.SetAgentStatus(agentID, status)
	if err != nil {
		return models.DeliveryAgent{}, fmt.Errorf("failed to set working state: %w", err)
	}

	s.publisher.Publish(models.AgentStatusChanged(agent))

	s.log.WithField("agent_id", agent.ID).WithField("new_status", agent.Status).Info("Agent working state changed")
	return agent, nil
}
