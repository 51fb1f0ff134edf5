package testutil

import (
	"testing"
	"time"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/config"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/store"
)

// JWTSecret используется всеми тестовыми аутентификаторами
const JWTSecret = "test-secret"

// AuthConfig возвращает конфигурацию аутентификации для тестов
func AuthConfig() *config.AuthConfig {
	return &config.AuthConfig{JWTSecret: JWTSecret, Issuer: "delivery-tracking-test"}
}

// GatewayConfig возвращает конфигурацию шлюза с короткими интервалами
func GatewayConfig() *config.GatewayConfig {
	return &config.GatewayConfig{
		PingInterval:   50 * time.Millisecond,
		PongWait:       time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 8192,
		ReplyBuffer:    8,
	}
}

// Authenticator возвращает аутентификатор, совместимый с MintToken
func Authenticator() *auth.JWTAuthenticator {
	return auth.NewJWTAuthenticator(AuthConfig())
}

// MintToken выпускает подписанный токен для участника
func MintToken(t *testing.T, actor models.Actor) string {
	t.Helper()
	token, err := Authenticator().IssueToken(actor, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// SeedStore создает хранилище с курьерами в указанном порядке (id с 1)
func SeedStore(t *testing.T, names ...string) *store.Store {
	t.Helper()
	st := store.New()
	for _, name := range names {
		st.AddAgent(name)
	}
	return st
}

// Eventually повторяет проверку до успеха или таймаута
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
