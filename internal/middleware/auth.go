package middleware

import (
	"encoding/json"
	"net/http"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
)

// Authenticator связывает запрос с участником
type Authenticator interface {
	Authenticate(r *http.Request) (models.Actor, error)
}

// AuthMiddleware требует валидный токен и кладет участника в контекст запроса
func AuthMiddleware(authn Authenticator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := authn.Authenticate(r)
			if err != nil {
				log.WithError(err).WithField("path", r.URL.Path).Debug("Request rejected: unauthenticated")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   http.StatusText(http.StatusUnauthorized),
					"message": "Valid bearer token required",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}
