package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"delivery-tracking/internal/models"
)

// Store представляет авторитетное хранилище курьеров и посылок в памяти.
// Все изменения выполняются под одной блокировкой; наружу отдаются только копии.
type Store struct {
	mu            sync.RWMutex
	agents        map[int64]*models.DeliveryAgent
	packages      map[int64]*models.Package
	nextAgentID   int64
	nextPackageID int64
	now           func() time.Time
}

// New создает пустое хранилище
func New() *Store {
	return &Store{
		agents:        make(map[int64]*models.DeliveryAgent),
		packages:      make(map[int64]*models.Package),
		nextAgentID:   1,
		nextPackageID: 1,
		now:           time.Now,
	}
}

// GetAgent получает курьера по ID
func (s *Store) GetAgent(id int64) (models.DeliveryAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return models.DeliveryAgent{}, fmt.Errorf("agent %d: %w", id, models.ErrNotFound)
	}
	return agent.Clone(), nil
}

// ListAgents получает список курьеров, опционально по статусу
func (s *Store) ListAgents(status *models.AgentStatus) []models.DeliveryAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]models.DeliveryAgent, 0, len(s.agents))
	for _, agent := range s.agents {
		if status != nil && agent.Status != *status {
			continue
		}
		agents = append(agents, agent.Clone())
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// AddAgent регистрирует нового курьера в состоянии off
func (s *Store) AddAgent(displayName string) models.DeliveryAgent {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent := &models.DeliveryAgent{
		ID:          s.nextAgentID,
		DisplayName: displayName,
		Status:      models.AgentStatusOff,
		UpdatedAt:   s.now(),
		Version:     1,
	}
	s.agents[agent.ID] = agent
	s.nextAgentID++
	return agent.Clone()
}

// PutAgent загружает курьера как есть (восстановление снимка)
func (s *Store) PutAgent(agent models.DeliveryAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := agent.Clone()
	s.agents[agent.ID] = &stored
	if agent.ID >= s.nextAgentID {
		s.nextAgentID = agent.ID + 1
	}
}

// UpsertAgentLocation записывает последнюю точку курьера.
// Побеждает последний пришедший отчет независимо от observedAt.
func (s *Store) UpsertAgentLocation(id int64, lat, lng float64, observedAt time.Time) (models.DeliveryAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return models.DeliveryAgent{}, fmt.Errorf("agent %d: %w", id, models.ErrNotFound)
	}

	now := s.now()
	agent.LastLocation = &models.Location{
		Lat:        lat,
		Lng:        lng,
		ObservedAt: observedAt,
		ReceivedAt: now,
	}
	agent.UpdatedAt = now
	agent.Version++
	return agent.Clone(), nil
}

// SetAgentStatus обновляет рабочее состояние курьера.
// При переходе в off последняя точка сохраняется.
func (s *Store) SetAgentStatus(id int64, status models.AgentStatus) (models.DeliveryAgent, error) {
	if !status.Valid() {
		return models.DeliveryAgent{}, fmt.Errorf("agent status %q: %w", status, models.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return models.DeliveryAgent{}, fmt.Errorf("agent %d: %w", id, models.ErrNotFound)
	}
	agent.Status = status
	agent.UpdatedAt = s.now()
	agent.Version++
	return agent.Clone(), nil
}

// CreatePackage создает посылку в статусе in_transit.
// Если указан исполнитель, он должен существовать.
func (s *Store) CreatePackage(address string, assigneeID *int64) (models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if assigneeID != nil {
		if _, ok := s.agents[*assigneeID]; !ok {
			return models.Package{}, fmt.Errorf("agent %d: %w", *assigneeID, models.ErrNotFound)
		}
	}

	now := s.now()
	pkg := &models.Package{
		ID:        s.nextPackageID,
		Address:   address,
		Status:    models.PackageStatusInTransit,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if assigneeID != nil {
		id := *assigneeID
		pkg.AssigneeID = &id
	}
	s.packages[pkg.ID] = pkg
	s.nextPackageID++
	return pkg.Clone(), nil
}

// PutPackage загружает посылку как есть (восстановление снимка)
func (s *Store) PutPackage(pkg models.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := pkg.Clone()
	s.packages[pkg.ID] = &stored
	if pkg.ID >= s.nextPackageID {
		s.nextPackageID = pkg.ID + 1
	}
}

// GetPackage получает посылку по ID
func (s *Store) GetPackage(id int64) (models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[id]
	if !ok {
		return models.Package{}, fmt.Errorf("package %d: %w", id, models.ErrNotFound)
	}
	return pkg.Clone(), nil
}

// ListPackages получает список посылок, опционально по исполнителю
func (s *Store) ListPackages(assigneeID *int64) []models.Package {
	s.mu.RLock()
	defer s.mu.RUnlock()

	packages := make([]models.Package, 0, len(s.packages))
	for _, pkg := range s.packages {
		if assigneeID != nil && !pkg.AssignedTo(*assigneeID) {
			continue
		}
		packages = append(packages, pkg.Clone())
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })
	return packages
}

// UpdatePackage выполняет read-modify-write посылки в одной критической секции.
// fn получает копию; при ошибке хранилище не меняется.
func (s *Store) UpdatePackage(id int64, fn func(pkg *models.Package) error) (models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.packages[id]
	if !ok {
		return models.Package{}, fmt.Errorf("package %d: %w", id, models.ErrNotFound)
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return models.Package{}, err
	}
	if next.AssigneeID != nil {
		if _, ok := s.agents[*next.AssigneeID]; !ok {
			return models.Package{}, fmt.Errorf("agent %d: %w", *next.AssigneeID, models.ErrNotFound)
		}
	}

	next.ID = id
	next.UpdatedAt = s.now()
	next.Version = current.Version + 1
	*current = next
	return current.Clone(), nil
}

// SetPackageStatus меняет статус посылки с проверкой перехода
func (s *Store) SetPackageStatus(id int64, status models.PackageStatus) (models.Package, error) {
	return s.UpdatePackage(id, func(pkg *models.Package) error {
		if err := CheckTransition(pkg.Status, status); err != nil {
			return err
		}
		pkg.Status = status
		return nil
	})
}

// ReassignPackage назначает посылку другому курьеру
func (s *Store) ReassignPackage(id, assigneeID int64) (models.Package, error) {
	return s.UpdatePackage(id, func(pkg *models.Package) error {
		pkg.AssigneeID = &assigneeID
		return nil
	})
}

// CheckTransition проверяет переход статуса посылки
func CheckTransition(from, to models.PackageStatus) error {
	if !to.Valid() {
		return fmt.Errorf("package status %q: %w", to, models.ErrInvalidArgument)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, models.ErrInvalidState)
	}
	return nil
}

// Counts возвращает количество курьеров и посылок
func (s *Store) Counts() (agents, packages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents), len(s.packages)
}
