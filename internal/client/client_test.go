package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/mapview"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/services"
	"delivery-tracking/internal/testutil"
)

type fakeSender struct {
	mu       sync.Mutex
	payloads []gateway.ReportLocationPayload
	failAt   int
}

func (s *fakeSender) Send(frameType gateway.FrameType, payload interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frameType != gateway.FrameReportLocation {
		return "", errors.New("unexpected frame type")
	}
	if s.failAt > 0 && len(s.payloads)+1 >= s.failAt {
		return "", errors.New("connection lost")
	}
	s.payloads = append(s.payloads, payload.(gateway.ReportLocationPayload))
	return "req", nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type fixedSource struct{ lat, lng float64 }

func (f fixedSource) Position() (float64, float64) { return f.lat, f.lng }

func TestReporterSendsPeriodicallyUntilCancel(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(sender, fixedSource{1, 2}, 5*time.Millisecond, 2*time.Millisecond, logger.NewDiscard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, nil) }()

	testutil.Eventually(t, 2*time.Second, func() bool { return sender.count() >= 3 }, "three reports sent")
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := sender.count()
	time.Sleep(20 * time.Millisecond)
	if sender.count() != sent {
		t.Fatalf("reporter kept sending after cancel")
	}
	if p := sender.payloads[0]; p.Lat != 1 || p.Lng != 2 || p.Timestamp.IsZero() {
		t.Fatalf("payload = %+v", p)
	}
}

func TestReporterStopsOnDisconnectAndSendError(t *testing.T) {
	disconnected := make(chan struct{})
	close(disconnected)
	r := NewReporter(&fakeSender{}, fixedSource{}, time.Hour, 0, logger.NewDiscard())
	// таймер на ноль и закрытый канал готовы одновременно: допустим любой исход без ошибки
	if err := r.Run(context.Background(), disconnected); err != nil {
		t.Fatalf("Run after disconnect: %v", err)
	}

	failing := &fakeSender{failAt: 2}
	r = NewReporter(failing, fixedSource{}, time.Millisecond, 0, logger.NewDiscard())
	if err := r.Run(context.Background(), nil); err == nil {
		t.Fatalf("expected send error")
	}
	if failing.count() != 1 {
		t.Fatalf("sent = %d before failure, want 1", failing.count())
	}
}

func TestRandomWalkStaysInRange(t *testing.T) {
	w := NewRandomWalk(89.99, 179.99, 0.5, 1)
	for i := 0; i < 1000; i++ {
		lat, lng := w.Position()
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			t.Fatalf("position out of range: %f, %f", lat, lng)
		}
	}
}

type nopView struct{}

func (nopView) SetCenter(float64, float64) {}
func (nopView) UpsertMarker(mapview.Marker) {}
func (nopView) RemoveMarker(int64) {}

func TestReporterAndDashboardThroughGateway(t *testing.T) {
	log := logger.NewDiscard()
	st := testutil.SeedStore(t, "Erick")
	h := hub.New(64, log)
	g := gateway.New(
		testutil.GatewayConfig(),
		testutil.Authenticator(),
		h,
		st,
		services.NewLocationService(st, h, log),
		services.NewDispatchService(st, h, log),
		log,
	)
	srv := httptest.NewServer(g)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dashConn, err := Dial(ctx, wsURL, testutil.MintToken(t, models.AdminActor()))
	if err != nil {
		t.Fatalf("dial dashboard: %v", err)
	}
	defer dashConn.Close()
	markers := mapview.NewMarkers(nopView{})
	go NewDashboard(markers, log).Run(ctx, dashConn)

	testutil.Eventually(t, time.Second, func() bool {
		return g.Registry().Counts().Dashboards == 1
	}, "dashboard connected")

	courierConn, err := Dial(ctx, wsURL, testutil.MintToken(t, models.CourierActor(1)))
	if err != nil {
		t.Fatalf("dial courier: %v", err)
	}
	defer courierConn.Close()
	reporter := NewReporter(courierConn, fixedSource{19.4, -99.1}, 10*time.Millisecond, 0, log)
	go reporter.Run(ctx, courierConn.Done())

	testutil.Eventually(t, 2*time.Second, func() bool {
		agent, err := st.GetAgent(1)
		return err == nil && agent.LastLocation != nil && agent.LastLocation.Lat == 19.4
	}, "location stored")
	testutil.Eventually(t, 2*time.Second, func() bool {
		marker, ok := markers.Get(1)
		return ok && marker.Lat == 19.4 && marker.Lng == -99.1
	}, "dashboard marker updated")

	if _, err := Dial(ctx, wsURL, "bad-token"); err == nil {
		t.Fatalf("dial with bad token succeeded")
	}
}
