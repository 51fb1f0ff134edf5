package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newAuthenticator() *JWTAuthenticator {
	return NewJWTAuthenticator(&config.AuthConfig{JWTSecret: "test-secret", Issuer: "tracking-test"})
}

func TestIssueAndAuthenticateHeader(t *testing.T) {
	a := newAuthenticator()
	token, err := a.IssueToken(models.CourierActor(12), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	actor, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !actor.Is(12) {
		t.Fatalf("actor = %+v, want courier 12", actor)
	}
}

func TestAuthenticateQueryToken(t *testing.T) {
	a := newAuthenticator()
	token, err := a.IssueToken(models.AdminActor(), 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	actor, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !actor.IsAdmin() {
		t.Fatalf("actor = %+v, want admin", actor)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	a := newAuthenticator()

	other := NewJWTAuthenticator(&config.AuthConfig{JWTSecret: "other-secret", Issuer: "tracking-test"})
	forged, _ := other.IssueToken(models.AdminActor(), time.Hour)

	wrongIssuer := NewJWTAuthenticator(&config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else"})
	foreign, _ := wrongIssuer.IssueToken(models.AdminActor(), time.Hour)

	expiredIssuer := newAuthenticator()
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIssuer.IssueToken(models.CourierActor(1), time.Hour)

	noAgent, _ := a.IssueToken(models.Actor{Role: models.RoleCourier}, time.Hour)
	unknownRole, _ := a.IssueToken(models.Actor{Role: "viewer"}, time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"role": "admin", "iss": "tracking-test"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"forged":       forged,
		"wrong issuer": foreign,
		"expired":      expired,
		"no agent":     noAgent,
		"unknown role": unknownRole,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		if _, err := a.Parse(token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: err = %v, want ErrUnauthenticated", name, err)
		}
	}
}

func TestAuthenticateMissingOrMalformedHeader(t *testing.T) {
	a := newAuthenticator()

	r := httptest.NewRequest("GET", "/ws", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing token err = %v", err)
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("basic auth err = %v", err)
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := FromContext(r.Context()); ok {
		t.Fatalf("empty context returned an actor")
	}
	ctx := WithActor(r.Context(), models.CourierActor(3))
	actor, ok := FromContext(ctx)
	if !ok || !actor.Is(3) {
		t.Fatalf("FromContext = %+v, %v", actor, ok)
	}
}
