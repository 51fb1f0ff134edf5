package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"delivery-tracking/internal/models"
	"delivery-tracking/internal/testutil"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ FrameType) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	f := newGatewayFixture(t, "Erick")
	srv := httptest.NewServer(f.gateway)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	f := newGatewayFixture(t, "Erick")
	srv := httptest.NewServer(f.gateway)
	defer srv.Close()

	dashboard := dialWS(t, srv, testutil.MintToken(t, models.AdminActor()))
	courier := dialWS(t, srv, testutil.MintToken(t, models.CourierActor(1)))

	testutil.Eventually(t, time.Second, func() bool {
		counts := f.gateway.Registry().Counts()
		return counts.Couriers == 1 && counts.Dashboards == 1
	}, "both sessions registered")

	payload, _ := json.Marshal(ReportLocationPayload{Lat: 40.4168, Lng: -3.7038})
	if err := courier.WriteJSON(Frame{Type: FrameReportLocation, ID: "r1", Payload: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readUntil(t, courier, FrameAck); ack.ID != "r1" {
		t.Fatalf("ack id = %s", ack.ID)
	}

	event := readUntil(t, dashboard, FrameType(models.EventTypeLocationUpdated))
	var envelope eventEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var data models.LocationUpdatedEvent
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.AgentID != 1 || data.Lat != 40.4168 {
		t.Fatalf("event data = %+v", data)
	}

	// битый JSON не рвет соединение
	if err := courier.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	errFrame := readUntil(t, courier, FrameError)
	var errPayload ErrorPayload
	json.Unmarshal(errFrame.Payload, &errPayload)
	if errPayload.Code != "INVALID_ARGUMENT" {
		t.Fatalf("garbage code = %s", errPayload.Code)
	}

	if err := courier.WriteJSON(Frame{Type: FrameReportLocation, ID: "r2", Payload: payload}); err != nil {
		t.Fatalf("write after garbage: %v", err)
	}
	if ack := readUntil(t, courier, FrameAck); ack.ID != "r2" {
		t.Fatalf("ack id = %s", ack.ID)
	}

	courier.Close()
	testutil.Eventually(t, time.Second, func() bool {
		return f.gateway.Registry().Counts().Couriers == 0
	}, "courier session removed")
	if agent, _ := f.store.GetAgent(1); agent.LastLocation == nil {
		t.Fatalf("location lost after disconnect")
	}
}

func TestWebSocketPongKeepsSessionAlive(t *testing.T) {
	f := newGatewayFixture(t, "Erick")
	srv := httptest.NewServer(f.gateway)
	defer srv.Close()

	conn := dialWS(t, srv, testutil.MintToken(t, models.AdminActor()))
	testutil.Eventually(t, time.Second, func() bool {
		return f.gateway.Registry().Counts().Dashboards == 1
	}, "dashboard registered")
	sess := f.gateway.Registry().List()[0]
	connectedSeen := sess.LastSeenAt()

	// клиент gorilla отвечает на ping только во время чтения
	pings := make(chan struct{}, 8)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatalf("server sent no ping")
	}
	testutil.Eventually(t, time.Second, func() bool {
		return sess.LastSeenAt().After(connectedSeen)
	}, "pong touched the session")
}
