package services

import (
	"fmt"
	"math"
	"time"

	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/store"
)

// LocationService представляет сервис приема отчетов о местоположении
type LocationService struct {
	store     *store.Store
	publisher hub.Publisher
	log       *logger.Logger
}

// NewLocationService создает новый экземпляр сервиса местоположения
func NewLocationService(st *store.Store, publisher hub.Publisher, log *logger.Logger) *LocationService {
	return &LocationService{
		store:     st,
		publisher: publisher,
		log:       log,
	}
}

// ReportLocation проверяет и применяет отчет курьера.
// Более поздний по прибытию отчет перезаписывает точку, даже если его ts старше.
func (s *LocationService) ReportLocation(actor models.Actor, report models.LocationReport) (models.DeliveryAgent, error) {
	if !actor.Is(report.AgentID) {
		return models.DeliveryAgent{}, fmt.Errorf("agent %d cannot report for agent %d: %w",
			actor.AgentID, report.AgentID, models.ErrForbidden)
	}
	if err := ValidateCoordinates(report.Lat, report.Lng); err != nil {
		return models.DeliveryAgent{}, err
	}

	observedAt := report.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	agent, err := s.store.UpsertAgentLocation(report.AgentID, report.Lat, report.Lng, observedAt)
	if err != nil {
		return models.DeliveryAgent{}, fmt.Errorf("failed to apply location report: %w", err)
	}

	s.publisher.Publish(models.LocationUpdated(agent))

	s.log.WithFields(map[string]interface{}{
		"agent_id": agent.ID,
		"lat":      report.Lat,
		"lng":      report.Lng,
	}).Debug("Location report applied")

	return agent, nil
}

// ValidateCoordinates проверяет диапазоны широты и долготы
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]: %w", lat, models.ErrInvalidArgument)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]: %w", lng, models.ErrInvalidArgument)
	}
	return nil
}
