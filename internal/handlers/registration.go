package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/fleetgate/internal/models"
	pkghttp "github.com/BradenHooton/fleetgate/pkg/http"
)

const maxRegistrationBody = 64 << 10

// RegistrationServiceInterface defines the registration gate contract.
type RegistrationServiceInterface interface {
	Register(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationOutcome, error)
}

// RegistrationHandler handles device registration requests.
type RegistrationHandler struct {
	service  RegistrationServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(service RegistrationServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Register handles POST /api/v1/devices/register
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBody)

	sourceKey := pkghttp.ExtractClientIP(r, h.ipConfig)

	// undecodable bodies still pass through the gate so they count as failures
	var req models.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = models.RegistrationRequest{DecodeError: err}
	}

	req.SourceKey = sourceKey
	if strings.TrimSpace(req.UserAgentValue()) == "" {
		if ua := r.Header.Get("User-Agent"); ua != "" {
			req.UserAgent = &ua
		} else {
			req.UserAgent = nil
		}
	}

	outcome, err := h.service.Register(r.Context(), &req)
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, outcome)
}

// gateStatus maps rejection kinds to HTTP status codes.
var gateStatus = map[models.ErrorKind]int{
	models.ErrorKindRateLimitExceeded:   http.StatusTooManyRequests,
	models.ErrorKindIPBlocked:           http.StatusTooManyRequests,
	models.ErrorKindBotDetected:         http.StatusForbidden,
	models.ErrorKindDuplicateDeviceName: http.StatusConflict,
	models.ErrorKindValidationFailed:    http.StatusBadRequest,
	models.ErrorKindRegistrationFailed:  http.StatusBadGateway,
	models.ErrorKindInternalError:       http.StatusInternalServerError,
}

func (h *RegistrationHandler) writeGateError(w http.ResponseWriter, err error) {
	var gateErr *models.GateError
	if !errors.As(err, &gateErr) {
		h.logger.Error("registration returned unexpected error", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "an internal error occurred")
		return
	}

	status, ok := gateStatus[gateErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if gateErr.Kind.Retryable() {
		pkghttp.WriteRetryableError(w, status, string(gateErr.Kind), gateErr.Message, gateErr.RetryAfterSeconds())
		return
	}
	pkghttp.WriteError(w, status, string(gateErr.Kind), gateErr.Message)
}
