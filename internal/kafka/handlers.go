package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"delivery-tracking/internal/models"
)

// LocationReporter принимает отчеты о местоположении
type LocationReporter interface {
	ReportLocation(actor models.Actor, report models.LocationReport) (models.DeliveryAgent, error)
}

// LocationReportedHandler преобразует сообщения location.reported в отчеты курьеров.
// Шлюз телеметрии считается доверенным: отчет выполняется от имени указанного курьера.
func LocationReportedHandler(reporter LocationReporter) EventHandler {
	return func(ctx context.Context, event *models.RawEvent) error {
		var report models.LocationReport
		if err := json.Unmarshal(event.Data, &report); err != nil {
			return fmt.Errorf("failed to unmarshal location report: %w", err)
		}
		if report.AgentID == 0 {
			return fmt.Errorf("location report without agent_id: %w", models.ErrInvalidArgument)
		}
		if _, err := reporter.ReportLocation(models.CourierActor(report.AgentID), report); err != nil {
			return err
		}
		return nil
	}
}
