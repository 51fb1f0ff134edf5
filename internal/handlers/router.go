package handlers

import (
	"net/http"
	"strings"

	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/middleware"
	"delivery-tracking/internal/services"
)

// Router объединяет обработчики и middleware в http.Handler
type Router struct {
	Agents    *AgentHandler
	Packages  *PackageHandler
	Health    *HealthHandler
	Cache     *CacheHandler
	RateLimit *RateLimitHandler

	Realtime      http.Handler // шлюз WebSocket, монтируется на /ws
	Authenticator middleware.Authenticator
	RateLimiter   *services.RateLimiterService
	Log           *logger.Logger
}

// Handler настраивает маршруты HTTP сервера
func (rt *Router) Handler() http.Handler {
	authed := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		handler = middleware.RateLimitMiddleware(rt.RateLimiter, rt.Log)(handler)
		handler = middleware.AuthMiddleware(rt.Authenticator, rt.Log)(handler)
		return corsMiddleware(handler)
	}
	public := func(h http.HandlerFunc) http.Handler {
		return corsMiddleware(h)
	}

	api := http.NewServeMux()

	// Health check endpoints
	api.Handle("/health", public(rt.Health.Health))
	api.Handle("/health/readiness", public(rt.Health.Readiness))
	api.Handle("/health/liveness", public(rt.Health.Liveness))

	// Agent endpoints
	api.Handle("/api/agents", authed(rt.agentsRoute))
	api.Handle("/api/agents/", authed(rt.agentRoute))

	// Package endpoints
	api.Handle("/api/packages", authed(rt.packagesRoute))
	api.Handle("/api/packages/", authed(rt.packageRoute))

	// Service endpoints
	api.Handle("/api/cache/metrics", authed(rt.Cache.GetMetrics))
	api.Handle("/api/rate-limit/status", authed(rt.RateLimit.GetStatus))
	api.Handle("/api/rate-limit/reset", authed(rt.RateLimit.Reset))

	root := http.NewServeMux()
	// WebSocket не проходит через statusWriter: ему нужен Hijacker
	if rt.Realtime != nil {
		root.Handle("/ws", rt.Realtime)
	}
	root.Handle("/", middleware.LoggingMiddleware(rt.Log)(api))
	return root
}

// agentsRoute обрабатывает маршруты для коллекции курьеров
func (rt *Router) agentsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.Agents.GetAgents(w, r)
	case http.MethodPost:
		rt.Agents.CreateAgent(w, r)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// agentRoute обрабатывает маршруты для отдельного курьера
func (rt *Router) agentRoute(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/status") {
		rt.Agents.UpdateAgentStatus(w, r)
		return
	}
	rt.Agents.GetAgent(w, r)
}

// packagesRoute обрабатывает маршруты для коллекции посылок
func (rt *Router) packagesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.Packages.GetPackages(w, r)
	case http.MethodPost:
		rt.Packages.CreatePackage(w, r)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// packageRoute обрабатывает маршруты для отдельной посылки
func (rt *Router) packageRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.Packages.GetPackage(w, r)
	case http.MethodPatch:
		rt.Packages.UpdatePackage(w, r)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
