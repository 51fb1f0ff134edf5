package handlers

import (
	"context"
	"net/http"
	"time"

	"delivery-tracking/internal/database"
	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/redis"
	"delivery-tracking/internal/store"
)

// HealthHandler представляет обработчик для проверки здоровья системы.
// db и redisClient равны nil, если соответствующая инфраструктура выключена.
type HealthHandler struct {
	db          *database.DB
	redisClient *redis.Client
	hub         *hub.Hub
	registry    *gateway.Registry
	store       *store.Store
}

// NewHealthHandler создает новый обработчик здоровья
func NewHealthHandler(db *database.DB, redisClient *redis.Client, h *hub.Hub, registry *gateway.Registry, st *store.Store) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
		hub:         h,
		registry:    registry,
		store:       st,
	}
}

// HealthResponse представляет ответ проверки здоровья
type HealthResponse struct {
	Status   string                `json:"status"`
	Services map[string]string     `json:"services"`
	Hub      hub.Stats             `json:"hub"`
	Sessions gateway.SessionCounts `json:"sessions"`
	State    StateCounts           `json:"state"`
	Version  string                `json:"version"`
	Uptime   string                `json:"uptime"`
}

// StateCounts представляет размер хранилища
type StateCounts struct {
	Agents   int `json:"agents"`
	Packages int `json:"packages"`
}

var startTime = time.Now()

func (h *HealthHandler) checkServices(ctx context.Context) (map[string]string, bool) {
	services := make(map[string]string)
	healthy := true

	// Проверка базы данных
	if h.db == nil {
		services["database"] = "disabled"
	} else if err := h.db.Health(); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		services["database"] = "healthy"
	}

	// Проверка Redis
	if h.redisClient == nil {
		services["redis"] = "disabled"
	} else if err := h.redisClient.Health(ctx); err != nil {
		services["redis"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		services["redis"] = "healthy"
	}

	return services, healthy
}

// Health проверяет состояние всех компонентов системы
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services, healthy := h.checkServices(ctx)
	overallStatus := "healthy"
	if !healthy {
		overallStatus = "unhealthy"
	}

	agents, packages := h.store.Counts()
	response := HealthResponse{
		Status:   overallStatus,
		Services: services,
		Hub:      h.hub.Stats(),
		Sessions: h.registry.Counts(),
		State:    StateCounts{Agents: agents, Packages: packages},
		Version:  "1.0.0",
		Uptime:   time.Since(startTime).String(),
	}

	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, response)
}

// Readiness проверяет готовность приложения к обработке запросов
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// Быстрая проверка основных компонентов
	if h.db != nil {
		if err := h.db.Health(); err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Database not ready")
			return
		}
	}

	if h.redisClient != nil {
		if err := h.redisClient.Health(ctx); err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Redis not ready")
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Liveness проверяет, что приложение живо
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(startTime).String(),
	})
}
