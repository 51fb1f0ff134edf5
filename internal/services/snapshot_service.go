package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"delivery-tracking/internal/database"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/store"
)

const (
	batchSaveTimeout = 5 * time.Second
	fullSaveTimeout  = 30 * time.Second
)

// SnapshotService сохраняет снимки курьеров и посылок в Postgres.
// Хранилище в памяти остается авторитетным; база нужна для восстановления после рестарта.
type SnapshotService struct {
	db  *database.DB
	log *logger.Logger
}

// NewSnapshotService создает новый экземпляр сервиса снимков
func NewSnapshotService(db *database.DB, log *logger.Logger) *SnapshotService {
	return &SnapshotService{
		db:  db,
		log: log,
	}
}

// LoadInto загружает снимок из базы в хранилище
func (s *SnapshotService) LoadInto(ctx context.Context, st *store.Store) error {
	agents, err := s.loadAgents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		st.PutAgent(agent)
	}

	packages, err := s.loadPackages(ctx)
	if err != nil {
		return err
	}
	for _, pkg := range packages {
		st.PutPackage(pkg)
	}

	s.log.WithFields(map[string]interface{}{
		"agents":   len(agents),
		"packages": len(packages),
	}).Info("Snapshot loaded")
	return nil
}

func (s *SnapshotService) loadAgents(ctx context.Context) ([]models.DeliveryAgent, error) {
	query := `
		SELECT id, display_name, status, last_lat, last_lng, observed_at, received_at, updated_at
		FROM agents
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	defer rows.Close()

	var agents []models.DeliveryAgent
	for rows.Next() {
		var (
			agent      models.DeliveryAgent
			lat, lng   sql.NullFloat64
			observedAt sql.NullTime
			receivedAt sql.NullTime
		)
		if err := rows.Scan(&agent.ID, &agent.DisplayName, &agent.Status,
			&lat, &lng, &observedAt, &receivedAt, &agent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		if lat.Valid && lng.Valid {
			agent.LastLocation = &models.Location{
				Lat:        lat.Float64,
				Lng:        lng.Float64,
				ObservedAt: observedAt.Time,
				ReceivedAt: receivedAt.Time,
			}
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func (s *SnapshotService) loadPackages(ctx context.Context) ([]models.Package, error) {
	query := `
		SELECT id, assignee_id, address, status, created_at, updated_at
		FROM packages
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	defer rows.Close()

	var packages []models.Package
	for rows.Next() {
		var (
			pkg      models.Package
			assignee sql.NullInt64
		)
		if err := rows.Scan(&pkg.ID, &assignee, &pkg.Address, &pkg.Status,
			&pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		if assignee.Valid {
			id := assignee.Int64
			pkg.AssigneeID = &id
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

// UpsertAgent сохраняет снимок курьера
func (s *SnapshotService) UpsertAgent(ctx context.Context, agent models.DeliveryAgent) error {
	query := `
		INSERT INTO agents (id, display_name, status, last_lat, last_lng, observed_at, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			status       = EXCLUDED.status,
			last_lat     = EXCLUDED.last_lat,
			last_lng     = EXCLUDED.last_lng,
			observed_at  = EXCLUDED.observed_at,
			received_at  = EXCLUDED.received_at,
			updated_at   = EXCLUDED.updated_at
	`
	var (
		lat, lng   sql.NullFloat64
		observedAt sql.NullTime
		receivedAt sql.NullTime
	)
	if loc := agent.LastLocation; loc != nil {
		lat = sql.NullFloat64{Float64: loc.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: loc.Lng, Valid: true}
		observedAt = sql.NullTime{Time: loc.ObservedAt, Valid: true}
		receivedAt = sql.NullTime{Time: loc.ReceivedAt, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, agent.ID, agent.DisplayName, agent.Status,
		lat, lng, observedAt, receivedAt, agent.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert agent %d: %w", agent.ID, err)
	}
	return nil
}

// UpsertPackage сохраняет снимок посылки
func (s *SnapshotService) UpsertPackage(ctx context.Context, pkg models.Package) error {
	query := `
		INSERT INTO packages (id, assignee_id, address, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			assignee_id = EXCLUDED.assignee_id,
			address     = EXCLUDED.address,
			status      = EXCLUDED.status,
			updated_at  = EXCLUDED.updated_at
	`
	var assignee sql.NullInt64
	if pkg.AssigneeID != nil {
		assignee = sql.NullInt64{Int64: *pkg.AssigneeID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, pkg.ID, assignee, pkg.Address, pkg.Status,
		pkg.CreatedAt, pkg.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert package %d: %w", pkg.ID, err)
	}
	return nil
}

// SnapshotSink принимает снимки отдельных сущностей
type SnapshotSink interface {
	UpsertAgent(ctx context.Context, agent models.DeliveryAgent) error
	UpsertPackage(ctx context.Context, pkg models.Package) error
}

// SaveAll сохраняет полный снимок хранилища (регистрация курьеров не порождает событий)
func (s *SnapshotService) SaveAll(ctx context.Context, st *store.Store) error {
	return saveAll(ctx, s, st)
}

func saveAll(ctx context.Context, sink SnapshotSink, st *store.Store) error {
	for _, agent := range st.ListAgents(nil) {
		if err := sink.UpsertAgent(ctx, agent); err != nil {
			return err
		}
	}
	for _, pkg := range st.ListPackages(nil) {
		if err := sink.UpsertPackage(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

// RunWriter сохраняет затронутые событиями сущности до отмены ctx
func (s *SnapshotService) RunWriter(ctx context.Context, sub *hub.Subscriber, st *store.Store) {
	RunSnapshotWriter(ctx, sub, st, s, s.log)
}

// RunSnapshotWriter записывает в sink сущности из каждой пачки событий.
// Очередь подписчика ограничена; если хаб вытеснил события, точечной записи
// уже недостаточно и сохраняется полный снимок хранилища.
func RunSnapshotWriter(ctx context.Context, sub *hub.Subscriber, st *store.Store, sink SnapshotSink, log *logger.Logger) {
	var flushedDrops uint64
	hub.Pump(ctx, sub, func(events []models.Event) {
		if dropped := sub.Dropped(); dropped > flushedDrops {
			saveCtx, cancel := context.WithTimeout(ctx, fullSaveTimeout)
			defer cancel()

			if err := saveAll(saveCtx, sink, st); err != nil {
				// счетчик не сдвигается, следующая пачка повторит полную запись
				log.WithError(err).WithField("dropped", dropped).Error("Failed to persist full snapshot")
				return
			}
			flushedDrops = dropped
			log.WithField("dropped", dropped).Warn("Snapshot writer missed events, full snapshot saved")
			return
		}

		writeCtx, cancel := context.WithTimeout(ctx, batchSaveTimeout)
		defer cancel()

		agents, packages := AffectedEntities(events)
		for id := range agents {
			agent, err := st.GetAgent(id)
			if err != nil {
				continue
			}
			if err := sink.UpsertAgent(writeCtx, agent); err != nil {
				log.WithError(err).WithField("agent_id", id).Error("Failed to persist agent snapshot")
			}
		}
		for id := range packages {
			pkg, err := st.GetPackage(id)
			if err != nil {
				continue
			}
			if err := sink.UpsertPackage(writeCtx, pkg); err != nil {
				log.WithError(err).WithField("package_id", id).Error("Failed to persist package snapshot")
			}
		}
	})
}

// AffectedEntities собирает идентификаторы сущностей, затронутых пачкой событий
func AffectedEntities(events []models.Event) (agents, packages map[int64]struct{}) {
	agents = make(map[int64]struct{})
	packages = make(map[int64]struct{})
	for _, e := range events {
		switch data := e.Data.(type) {
		case models.LocationUpdatedEvent:
			agents[data.AgentID] = struct{}{}
		case models.AgentStatusChangedEvent:
			agents[data.AgentID] = struct{}{}
		case models.PackageStatusChangedEvent:
			packages[data.PackageID] = struct{}{}
		case models.PackageAssignedEvent:
			packages[data.PackageID] = struct{}{}
		}
	}
	return agents, packages
}
