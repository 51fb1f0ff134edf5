package mapview

import (
	"github.com/sirupsen/logrus"
)

// LogView выводит изменения карты в лог (используется консольным дашбордом)
type LogView struct {
	entry *logrus.Entry
}

// NewLogView создает view поверх записи логгера
func NewLogView(entry *logrus.Entry) *LogView {
	return &LogView{entry: entry}
}

func (v *LogView) SetCenter(lat, lng float64) {
	v.entry.WithField("lat", lat).WithField("lng", lng).Info("Map centered")
}

func (v *LogView) UpsertMarker(marker Marker) {
	v.entry.WithFields(logrus.Fields{
		"agent_id": marker.AgentID,
		"label":    marker.Label,
		"lat":      marker.Lat,
		"lng":      marker.Lng,
		"active":   marker.Active,
	}).Info("Marker updated")
}

func (v *LogView) RemoveMarker(agentID int64) {
	v.entry.WithField("agent_id", agentID).Info("Marker removed")
}
