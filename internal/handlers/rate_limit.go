package handlers

import (
	"net/http"
	"time"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/middleware"
	"delivery-tracking/internal/services"
)

// RateLimitHandler обрабатывает запросы связанные с rate limiting
type RateLimitHandler struct {
	rateLimiter *services.RateLimiterService
	log         *logger.Logger
}

// NewRateLimitHandler создает новый RateLimitHandler
func NewRateLimitHandler(rateLimiter *services.RateLimiterService, log *logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		rateLimiter: rateLimiter,
		log:         log,
	}
}

// GetStatus возвращает текущий статус rate limit для клиента
func (h *RateLimitHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ip := middleware.ClientIP(r)
	actor, _ := auth.FromContext(r.Context())

	// Получаем статус (БЕЗ инкремента счетчика)
	result, err := h.rateLimiter.GetStatus(r.Context(), ip, actor.IsAdmin())
	if err != nil {
		h.log.WithError(err).WithField("ip", ip).Error("Failed to get rate limit status")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to get rate limit status")
		return
	}

	response := map[string]interface{}{
		"ip":        ip,
		"limit":     result.Limit,
		"remaining": result.Remaining,
		"is_banned": !result.Allowed,
	}
	if !result.ResetAt.IsZero() {
		response["reset_at"] = result.ResetAt.Format(time.RFC3339)
	}

	// Если клиент забанен, добавляем дополнительную информацию
	if !result.Allowed && !result.BannedUntil.IsZero() {
		response["banned_until"] = result.BannedUntil.Format(time.RFC3339)
		response["retry_after"] = result.RetryAfter
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// Reset снимает ограничение с IP (только администратор)
func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		writeErrorResponse(w, http.StatusForbidden, "Only admins can reset rate limits")
		return
	}

	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeErrorResponse(w, http.StatusBadRequest, "ip is required")
		return
	}

	if err := h.rateLimiter.ResetLimit(r.Context(), ip); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to reset rate limit")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Rate limit reset"})
}
