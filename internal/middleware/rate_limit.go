package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/services"
)

// ClientIP извлекает IP адрес клиента с учетом прокси
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	return ip
}

// RateLimitMiddleware ограничивает частоту запросов по IP.
// Администраторы получают повышенный лимит, если аутентификация выполнена раньше.
func RateLimitMiddleware(rateLimiter *services.RateLimiterService, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			actor, _ := auth.FromContext(r.Context())
			isVIP := actor.IsAdmin()

			result, err := rateLimiter.CheckLimit(r.Context(), ip, isVIP)
			if err != nil {
				log.WithError(err).WithField("ip", ip).Error("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			if !result.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", result.ResetAt.Format(time.RFC3339))
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", result.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				response := map[string]interface{}{
					"error":       "rate_limit_exceeded",
					"message":     "Превышен лимит запросов. Повторите попытку позже.",
					"limit":       result.Limit,
					"retry_after": result.RetryAfter,
				}

				if !result.BannedUntil.IsZero() {
					response["banned_until"] = result.BannedUntil.Format(time.RFC3339)
				}

				log.WithFields(map[string]interface{}{
					"ip":          ip,
					"path":        r.URL.Path,
					"retry_after": result.RetryAfter,
				}).Warn("Request blocked by rate limiter")

				json.NewEncoder(w).Encode(response)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
