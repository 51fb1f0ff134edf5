package mapview

import (
	"encoding/json"
	"testing"

	"delivery-tracking/internal/models"
)

type recordingView struct {
	centers  [][2]float64
	upserts  []Marker
	removals []int64
}

func (v *recordingView) SetCenter(lat, lng float64) { v.centers = append(v.centers, [2]float64{lat, lng}) }
func (v *recordingView) UpsertMarker(m Marker) { v.upserts = append(v.upserts, m) }
func (v *recordingView) RemoveMarker(id int64) { v.removals = append(v.removals, id) }

func agent(id int64, name string, lat, lng float64, status models.AgentStatus) models.DeliveryAgent {
	return models.DeliveryAgent{
		ID:           id,
		DisplayName:  name,
		Status:       status,
		LastLocation: &models.Location{Lat: lat, Lng: lng},
	}
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestLoadCentersAndSkipsUnlocated(t *testing.T) {
	view := &recordingView{}
	m := NewMarkers(view)

	m.Load([]models.DeliveryAgent{
		agent(1, "Erick", 10, 20, models.AgentStatusActive),
		agent(2, "Ana", 30, 40, models.AgentStatusOff),
		{ID: 3, DisplayName: "Nuevo", Status: models.AgentStatusOff},
	})

	if len(view.upserts) != 2 {
		t.Fatalf("upserts = %d, want 2", len(view.upserts))
	}
	if len(view.centers) != 1 || view.centers[0] != [2]float64{20, 30} {
		t.Fatalf("centers = %v", view.centers)
	}
	if _, ok := m.Get(3); ok {
		t.Fatalf("unlocated agent got a marker")
	}

	// повторная загрузка без изменений не трогает view
	m.Load([]models.DeliveryAgent{
		agent(1, "Erick", 10, 20, models.AgentStatusActive),
	})
	if len(view.upserts) != 2 {
		t.Fatalf("unchanged marker re-sent: %d upserts", len(view.upserts))
	}
	if len(view.removals) != 1 || view.removals[0] != 2 {
		t.Fatalf("removals = %v, want [2]", view.removals)
	}
}

func TestApplyEvents(t *testing.T) {
	view := &recordingView{}
	m := NewMarkers(view)
	m.Load([]models.DeliveryAgent{{ID: 3, DisplayName: "Nuevo"}})

	if err := m.Apply(models.EventTypeLocationUpdated, raw(t, models.LocationUpdatedEvent{AgentID: 3, Lat: 1, Lng: 2})); err != nil {
		t.Fatalf("Apply location: %v", err)
	}
	marker, ok := m.Get(3)
	if !ok || marker.Label != "Nuevo" || marker.Lat != 1 || marker.Lng != 2 {
		t.Fatalf("marker = %+v, %v", marker, ok)
	}

	if err := m.Apply(models.EventTypeAgentStatusChanged, raw(t, models.AgentStatusChangedEvent{AgentID: 3, Status: models.AgentStatusActive})); err != nil {
		t.Fatalf("Apply status: %v", err)
	}
	if marker, _ := m.Get(3); !marker.Active {
		t.Fatalf("marker not active")
	}

	if err := m.Apply(models.EventTypeAgentStatusChanged, raw(t, models.AgentStatusChangedEvent{AgentID: 3, Status: models.AgentStatusOff})); err != nil {
		t.Fatalf("Apply status: %v", err)
	}
	marker, _ = m.Get(3)
	if marker.Active || marker.Lat != 1 {
		t.Fatalf("off marker = %+v, want inactive with retained location", marker)
	}

	if err := m.Apply(models.EventTypeLocationUpdated, raw(t, models.LocationUpdatedEvent{AgentID: 9, Lat: 5, Lng: 5})); err != nil {
		t.Fatalf("Apply unknown agent: %v", err)
	}
	if marker, _ := m.Get(9); marker.Label != "agent-9" {
		t.Fatalf("fallback label = %q", marker.Label)
	}

	if err := m.Apply(models.EventTypePackageAssigned, raw(t, models.PackageAssignedEvent{PackageID: 1})); err != nil {
		t.Fatalf("package events must be ignored: %v", err)
	}
	if err := m.Apply(models.EventTypeLocationUpdated, json.RawMessage(`{"agentId":"x"}`)); err == nil {
		t.Fatalf("expected decode error")
	}

	if got := len(m.List()); got != 2 {
		t.Fatalf("markers = %d, want 2", got)
	}
}

func TestApplySkipsOutOfOrderEvents(t *testing.T) {
	view := &recordingView{}
	m := NewMarkers(view)
	seeded := agent(1, "Erick", 10, 10, models.AgentStatusOff)
	seeded.Version = 3
	m.Load([]models.DeliveryAgent{seeded})

	apply := func(eventType models.EventType, data interface{}) {
		t.Helper()
		if err := m.Apply(eventType, raw(t, data)); err != nil {
			t.Fatalf("Apply %s: %v", eventType, err)
		}
	}

	// v5 зафиксирован позже v4, но пришел раньше
	apply(models.EventTypeLocationUpdated, models.LocationUpdatedEvent{AgentID: 1, Lat: 5, Lng: 5, Version: 5})
	apply(models.EventTypeLocationUpdated, models.LocationUpdatedEvent{AgentID: 1, Lat: 4, Lng: 4, Version: 4})
	if marker, _ := m.Get(1); marker.Lat != 5 {
		t.Fatalf("stale location applied: %+v", marker)
	}

	// статус со своей версией не теряется из-за более нового события о точке
	apply(models.EventTypeAgentStatusChanged, models.AgentStatusChangedEvent{AgentID: 1, Status: models.AgentStatusActive, Version: 4})
	if marker, _ := m.Get(1); !marker.Active {
		t.Fatalf("status event skipped: %+v", marker)
	}

	// события не новее снимка игнорируются
	apply(models.EventTypeAgentStatusChanged, models.AgentStatusChangedEvent{AgentID: 1, Status: models.AgentStatusOff, Version: 2})
	if marker, _ := m.Get(1); !marker.Active || marker.Lat != 5 {
		t.Fatalf("marker = %+v", marker)
	}
}
