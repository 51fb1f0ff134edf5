package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/redis"
	"delivery-tracking/internal/services"
	"delivery-tracking/internal/store"
)

// PackageHandler представляет обработчик посылок
type PackageHandler struct {
	store        *store.Store
	dispatch     *services.DispatchService
	cacheService *services.CacheService
	log          *logger.Logger
}

// NewPackageHandler создает новый обработчик посылок
func NewPackageHandler(st *store.Store, dispatch *services.DispatchService, cacheService *services.CacheService, log *logger.Logger) *PackageHandler {
	return &PackageHandler{
		store:        st,
		dispatch:     dispatch,
		cacheService: cacheService,
		log:          log,
	}
}

// CreatePackage создает посылку и назначает ее курьеру
func (h *PackageHandler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CreatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pkg, err := h.dispatch.AssignPackage(actor, req.Address, req.AgentID)
	if err != nil {
		writeServiceError(w, h.log, err, "assign package")
		return
	}

	writeJSONResponse(w, http.StatusCreated, pkg)
}

// GetPackage получает посылку по ID. Курьер видит только свои посылки.
func (h *PackageHandler) GetPackage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	packageID, err := extractIDFromPath(r.URL.Path, "/api/packages/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid package ID")
		return
	}

	pkg, err := h.store.GetPackage(packageID)
	if err != nil {
		writeServiceError(w, h.log, err, "get package")
		return
	}
	if !actor.IsAdmin() && !pkg.AssignedTo(actor.AgentID) {
		writeServiceError(w, h.log, fmt.Errorf("package %d: %w", packageID, models.ErrForbidden), "get package")
		return
	}

	writeJSONResponse(w, http.StatusOK, pkg)
}

// GetPackages получает список посылок с фильтрацией по исполнителю
func (h *PackageHandler) GetPackages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var assignee *int64
	if assigneeStr := r.URL.Query().Get("assignee_id"); assigneeStr != "" {
		id, err := strconv.ParseInt(assigneeStr, 10, 64)
		if err != nil || id <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid assignee_id")
			return
		}
		assignee = &id
	}

	// Курьер получает только собственные посылки
	if !actor.IsAdmin() {
		if assignee != nil && *assignee != actor.AgentID {
			writeServiceError(w, h.log, fmt.Errorf("packages of agent %d: %w", *assignee, models.ErrForbidden), "list packages")
			return
		}
		own := actor.AgentID
		assignee = &own
	}

	filter := "all"
	if assignee != nil {
		filter = "assignee:" + strconv.FormatInt(*assignee, 10)
	}
	cacheKey := services.BuildListKey(redis.KeyPrefixPackage, filter)

	var packages []models.Package
	if found, _ := h.cacheService.Get(r.Context(), cacheKey, &packages); found {
		h.log.WithField("key", cacheKey).Debug("Packages retrieved from cache")
		writeJSONResponse(w, http.StatusOK, packages)
		return
	}

	packages = h.store.ListPackages(assignee)
	if err := h.cacheService.Set(r.Context(), cacheKey, packages, h.cacheService.GetDefaultTTL()); err != nil {
		h.log.WithError(err).Error("Failed to cache packages")
	}

	writeJSONResponse(w, http.StatusOK, packages)
}

// UpdatePackage меняет исполнителя и/или статус посылки.
// Оба поля применяются атомарно: при отказе посылка не меняется.
func (h *PackageHandler) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	packageID, err := extractIDFromPath(r.URL.Path, "/api/packages/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid package ID")
		return
	}

	var req models.UpdatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status == nil && req.AssigneeID == nil {
		writeErrorResponse(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	pkg, err := h.dispatch.UpdatePackage(actor, packageID, req)
	if err != nil {
		writeServiceError(w, h.log, err, "update package")
		return
	}

	writeJSONResponse(w, http.StatusOK, pkg)
}
