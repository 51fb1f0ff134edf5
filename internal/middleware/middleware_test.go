package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/config"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/redis"
	"delivery-tracking/internal/services"

	"github.com/alicebob/miniredis/v2"
)

type staticAuthenticator struct {
	actor models.Actor
	err   error
}

func (a staticAuthenticator) Authenticate(*http.Request) (models.Actor, error) {
	return a.actor, a.err
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:54321"
	if got := ClientIP(r); got != "10.0.0.5" {
		t.Fatalf("remote addr ip = %s", got)
	}

	r.Header.Set("X-Real-IP", "172.16.0.1")
	if got := ClientIP(r); got != "172.16.0.1" {
		t.Fatalf("x-real-ip = %s", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("x-forwarded-for = %s", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen models.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	ok := AuthMiddleware(staticAuthenticator{actor: models.CourierActor(7)}, logger.NewDiscard())(next)
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest("GET", "/api/agents", nil))
	if rec.Code != http.StatusNoContent || !seen.Is(7) {
		t.Fatalf("code = %d, actor = %+v", rec.Code, seen)
	}

	denied := AuthMiddleware(staticAuthenticator{err: errors.New("bad token")}, logger.NewDiscard())(next)
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, httptest.NewRequest("GET", "/api/agents", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestRateLimitMiddlewareBlocksAfterLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.ConnectAddr(mr.Addr(), logger.NewDiscard())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	limiter := services.NewRateLimiterService(client, &config.RateLimitConfig{
		Enabled:     true,
		DefaultRPM:  2,
		VIPRPM:      100,
		BanDuration: 30,
	}, logger.NewDiscard())

	handler := RateLimitMiddleware(limiter, logger.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest("GET", "/api/agents", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
		if i == 2 && rec.Header().Get("Retry-After") != "30" {
			t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	// администратор получает повышенный лимит
	r := httptest.NewRequest("GET", "/api/agents", nil)
	r.RemoteAddr = "192.0.2.2:1000"
	r = r.WithContext(auth.WithActor(r.Context(), models.AdminActor()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("admin limit = %s", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestLoggingMiddlewareRecordsImplicitStatus(t *testing.T) {
	var captured *statusWriter
	handler := LoggingMiddleware(logger.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = w.(*statusWriter)
		w.Write([]byte("hello"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if captured.status != http.StatusOK || captured.bytes != 5 {
		t.Fatalf("status = %d, bytes = %d", captured.status, captured.bytes)
	}
}
