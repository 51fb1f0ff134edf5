package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/store"
)

type memorySink struct {
	mu       sync.Mutex
	agents   map[int64]models.DeliveryAgent
	packages map[int64]models.Package
}

func newMemorySink() *memorySink {
	return &memorySink{
		agents:   make(map[int64]models.DeliveryAgent),
		packages: make(map[int64]models.Package),
	}
}

func (s *memorySink) UpsertAgent(_ context.Context, agent models.DeliveryAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
	return nil
}

func (s *memorySink) UpsertPackage(_ context.Context, pkg models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[pkg.ID] = pkg
	return nil
}

func (s *memorySink) pkg(id int64) (models.Package, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.packages[id]
	return pkg, ok
}

func (s *memorySink) counts() (agents, packages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents), len(s.packages)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotWriterPersistsAffectedEntities(t *testing.T) {
	log := logger.NewDiscard()
	st := store.New()
	agent := st.AddAgent("Erick")
	untouched, _ := st.CreatePackage("Calle 1", &agent.ID)
	pkg, _ := st.CreatePackage("Calle 5", &agent.ID)

	h := hub.New(16, log)
	sub := h.Subscribe("snapshot")
	sink := newMemorySink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunSnapshotWriter(ctx, sub, st, sink, log)

	dispatch := NewDispatchService(st, h, log)
	if _, err := dispatch.UpdatePackageStatus(models.AdminActor(), pkg.ID, models.PackageStatusDelivered); err != nil {
		t.Fatalf("UpdatePackageStatus: %v", err)
	}

	waitFor(t, func() bool {
		got, ok := sink.pkg(pkg.ID)
		return ok && got.Status == models.PackageStatusDelivered
	}, "delivered package persisted")

	if _, ok := sink.pkg(untouched.ID); ok {
		t.Fatalf("package without events was written")
	}
	if agents, _ := sink.counts(); agents != 0 {
		t.Fatalf("agents written = %d, want 0", agents)
	}
}

func TestSnapshotWriterSavesEverythingAfterDrops(t *testing.T) {
	log := logger.NewDiscard()
	st := store.New()
	agent := st.AddAgent("Erick")
	pkg, _ := st.CreatePackage("Calle 5", &agent.ID)

	h := hub.New(4, log)
	sub := h.Subscribe("snapshot")
	location := NewLocationService(st, h, log)
	dispatch := NewDispatchService(st, h, log)

	// разовое терминальное событие вытесняется потоком координат до старта писателя
	if _, err := dispatch.UpdatePackageStatus(models.AdminActor(), pkg.ID, models.PackageStatusDelivered); err != nil {
		t.Fatalf("UpdatePackageStatus: %v", err)
	}
	courier := models.CourierActor(agent.ID)
	for i := 0; i < 4; i++ {
		if _, err := location.ReportLocation(courier, models.LocationReport{AgentID: agent.ID, Lat: float64(i), Lng: 1}); err != nil {
			t.Fatalf("ReportLocation: %v", err)
		}
	}
	if sub.Dropped() == 0 {
		t.Fatalf("expected the subscriber queue to overflow")
	}

	sink := newMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunSnapshotWriter(ctx, sub, st, sink, log)

	waitFor(t, func() bool {
		got, ok := sink.pkg(pkg.ID)
		return ok && got.Status == models.PackageStatusDelivered
	}, "dropped terminal status persisted by the full save")
}
