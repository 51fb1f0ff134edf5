package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated возвращается при отсутствии или невалидности токена
var ErrUnauthenticated = errors.New("unauthenticated")

// claims представляет полезную нагрузку токена сессии
type claims struct {
	Role    models.Role `json:"role"`
	AgentID int64       `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// WithActor сохраняет участника в контексте запроса
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext извлекает участника из контекста
func FromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}

// JWTAuthenticator проверяет выданные ранее токены HS256 и возвращает участника
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTAuthenticator создает аутентификатор по конфигурации
func NewJWTAuthenticator(cfg *config.AuthConfig) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// Authenticate извлекает токен из заголовка Authorization или параметра token.
// Браузерный WebSocket не умеет выставлять заголовки, поэтому поддерживается query.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (models.Actor, error) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return models.Actor{}, err
	}
	return a.Parse(token)
}

func tokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", fmt.Errorf("invalid authorization header: %w", ErrUnauthenticated)
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("missing token: %w", ErrUnauthenticated)
}

// Parse проверяет подпись и утверждения токена
func (a *JWTAuthenticator) Parse(tokenStr string) (models.Actor, error) {
	if len(a.secret) == 0 {
		return models.Actor{}, errors.New("jwt secret is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return models.Actor{}, fmt.Errorf("%v: %w", err, ErrUnauthenticated)
	}

	c, _ := tok.Claims.(*claims)
	if c == nil {
		return models.Actor{}, fmt.Errorf("invalid claims: %w", ErrUnauthenticated)
	}
	switch c.Role {
	case models.RoleAdmin:
		return models.AdminActor(), nil
	case models.RoleCourier:
		if c.AgentID <= 0 {
			return models.Actor{}, fmt.Errorf("courier token without agent_id: %w", ErrUnauthenticated)
		}
		return models.CourierActor(c.AgentID), nil
	}
	return models.Actor{}, fmt.Errorf("unknown role %q: %w", c.Role, ErrUnauthenticated)
}

// IssueToken выпускает токен для участника (симуляторы, тесты, локальная отладка)
func (a *JWTAuthenticator) IssueToken(actor models.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	c := claims{
		Role:    actor.Role,
		AgentID: actor.AgentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if actor.Role == models.RoleCourier {
		c.Subject = fmt.Sprintf("agent-%d", actor.AgentID)
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}
