package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/models"
	pkghttp "github.com/BradenHooton/fleetgate/pkg/http"
)

// SecurityServiceInterface defines the security administration contract.
type SecurityServiceInterface interface {
	GetStatistics(ctx context.Context) (*models.SecurityStatistics, error)
	GetStatus() models.SecurityStatus
	ListBlocks() []models.BlockRecord
	Unblock(ctx context.Context, sourceKey, actorID string) bool
	Block(ctx context.Context, sourceKey, reason string, duration time.Duration, actorID string) models.BlockRecord
	RecentEvents(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error)
}

// UnblockRequest is the body of POST /api/v1/security/unblock
type UnblockRequest struct {
	SourceKey string `json:"source_key" validate:"required,max=128"`
}

// UnblockResponse reports whether a block was lifted.
type UnblockResponse struct {
	Unblocked bool `json:"unblocked"`
}

// BlockRequest is the body of POST /api/v1/security/block
type BlockRequest struct {
	SourceKey       string `json:"source_key" validate:"required,max=128"`
	Reason          string `json:"reason" validate:"omitempty,max=255"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,gte=1,lte=43200"`
}

// BlockListResponse wraps the active blocks.
type BlockListResponse struct {
	Blocks []models.BlockRecord `json:"blocks"`
	Count  int                  `json:"count"`
}

// EventListResponse wraps the security event feed.
type EventListResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Count  int                     `json:"count"`
}

var knownEventTypes = map[string]bool{
	models.SecurityEventRegistration: true,
	models.SecurityEventAutoBlock:    true,
	models.SecurityEventManualBlock:  true,
	models.SecurityEventUnblock:      true,
	models.SecurityEventFlagged:      true,
}

// SecurityHandler handles the security statistics and block management endpoints.
type SecurityHandler struct {
	service SecurityServiceInterface
	logger  *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler.
func NewSecurityHandler(service SecurityServiceInterface, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{service: service, logger: logger}
}

// GetStatistics handles GET /api/v1/security/statistics
func (h *SecurityHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStatistics(r.Context())
	if err != nil {
		h.logger.Error("failed to build security statistics", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security statistics")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// GetStatus handles GET /api/v1/security/status
func (h *SecurityHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.service.GetStatus())
}

// ListBlocks handles GET /api/v1/security/blocks
func (h *SecurityHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := h.service.ListBlocks()
	if blocks == nil {
		blocks = []models.BlockRecord{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, BlockListResponse{Blocks: blocks, Count: len(blocks)})
}

// Unblock handles POST /api/v1/security/unblock
func (h *SecurityHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req UnblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	unblocked := h.service.Unblock(r.Context(), req.SourceKey, actorID(r))
	pkghttp.WriteJSON(w, http.StatusOK, UnblockResponse{Unblocked: unblocked})
}

// Block handles POST /api/v1/security/block
func (h *SecurityHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	rec := h.service.Block(r.Context(), req.SourceKey, req.Reason, duration, actorID(r))
	pkghttp.WriteJSON(w, http.StatusCreated, rec)
}

// ListEvents handles GET /api/v1/security/events
// Accepts optional query params ?type=<event type> and ?limit=N (1-100, default 50).
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	if eventType != "" && !knownEventTypes[eventType] {
		pkghttp.WriteBadRequest(w, "unknown event type")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	events, err := h.service.RecentEvents(r.Context(), eventType, limit)
	if err != nil {
		h.logger.Error("failed to list security events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, EventListResponse{Events: events, Count: len(events)})
}

func actorID(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}
