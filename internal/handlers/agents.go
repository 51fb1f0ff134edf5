package handlers

import (
	"encoding/json"
	"net/http"

	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/redis"
	"delivery-tracking/internal/services"
	"delivery-tracking/internal/store"
)

// AgentHandler представляет обработчик курьеров
type AgentHandler struct {
	store        *store.Store
	dispatch     *services.DispatchService
	cacheService *services.CacheService
	snapshot     *services.SnapshotService
	log          *logger.Logger
}

// NewAgentHandler создает новый обработчик курьеров.
// snapshot может быть nil, если Postgres выключен.
func NewAgentHandler(
	st *store.Store,
	dispatch *services.DispatchService,
	cacheService *services.CacheService,
	snapshot *services.SnapshotService,
	log *logger.Logger,
) *AgentHandler {
	return &AgentHandler{
		store:        st,
		dispatch:     dispatch,
		cacheService: cacheService,
		snapshot:     snapshot,
		log:          log,
	}
}

// CreateAgent регистрирует нового курьера
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	agent, err := h.dispatch.RegisterAgent(actor, req.DisplayName)
	if err != nil {
		writeServiceError(w, h.log, err, "register agent")
		return
	}

	// Регистрация не порождает события хаба, поэтому снимок и кеш обновляются здесь
	if h.snapshot != nil {
		if err := h.snapshot.UpsertAgent(r.Context(), agent); err != nil {
			h.log.WithError(err).WithField("agent_id", agent.ID).Error("Failed to persist agent")
		}
	}
	h.cacheService.InvalidatePrefix(r.Context(), redis.KeyPrefixAgent)

	writeJSONResponse(w, http.StatusCreated, agent)
}

// GetAgent получает курьера по ID
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	agentID, err := extractIDFromPath(r.URL.Path, "/api/agents/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid agent ID")
		return
	}

	agent, err := h.store.GetAgent(agentID)
	if err != nil {
		writeServiceError(w, h.log, err, "get agent")
		return
	}

	writeJSONResponse(w, http.StatusOK, agent)
}

// GetAgents получает список курьеров с фильтрацией по статусу
func (h *AgentHandler) GetAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var status *models.AgentStatus
	filter := "all"
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		s := models.AgentStatus(statusStr)
		if !s.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		status = &s
		filter = statusStr
	}

	cacheKey := services.BuildListKey(redis.KeyPrefixAgent, filter)
	var agents []models.DeliveryAgent
	if found, _ := h.cacheService.Get(r.Context(), cacheKey, &agents); found {
		h.log.WithField("key", cacheKey).Debug("Agents retrieved from cache")
		writeJSONResponse(w, http.StatusOK, agents)
		return
	}

	agents = h.store.ListAgents(status)

	// Координаты меняются часто, поэтому TTL короткий
	if err := h.cacheService.Set(r.Context(), cacheKey, agents, h.cacheService.GetHotDataTTL()); err != nil {
		h.log.WithError(err).Error("Failed to cache agents")
	}

	writeJSONResponse(w, http.StatusOK, agents)
}

// UpdateAgentStatus меняет рабочее состояние курьера
func (h *AgentHandler) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	agentID, err := extractIDFromPath(r.URL.Path, "/api/agents/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid agent ID")
		return
	}

	var req models.UpdateAgentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Status.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid status")
		return
	}

	agent, err := h.dispatch.SetAgentWorkingState(actor, agentID, req.Status == models.AgentStatusActive)
	if err != nil {
		writeServiceError(w, h.log, err, "update agent status")
		return
	}

	writeJSONResponse(w, http.StatusOK, agent)
}
