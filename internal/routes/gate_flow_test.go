package routes_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/config"
	"github.com/BradenHooton/fleetgate/internal/handlers"
	"github.com/BradenHooton/fleetgate/internal/middleware"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/BradenHooton/fleetgate/internal/routes"
	"github.com/BradenHooton/fleetgate/internal/services"
	pkghttp "github.com/BradenHooton/fleetgate/pkg/http"
	pkglogger "github.com/BradenHooton/fleetgate/pkg/logger"
)

type gateServer struct {
	router     http.Handler
	adminToken string
}

// newGateServer wires the real gate components over in-memory provisioning.
func newGateServer(t *testing.T) *gateServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := config.DefaultGateConfig()
	clock := services.SystemClock{}
	auditLogger := pkglogger.NewAuditLogger(logger, "test")

	locks := services.NewKeyedMutex()
	limiter := services.NewRateLimitService(services.RateLimitConfig{
		MaxAttemptsPerHour: g.MaxAttemptsPerHour,
		MaxAttemptsPerDay:  g.MaxAttemptsPerDay,
	}, logger)
	blocks := services.NewIPBlockService(limiter, services.IPBlockConfig{
		AutoBlockThreshold: g.AutoBlockThreshold,
		BlockDuration:      g.BlockDuration,
	}, logger)
	validator, err := services.NewFingerprintValidator(&services.MockDeviceNameLookup{}, services.FingerprintValidatorConfig{
		Policy:       g.Policy,
		DedupeWindow: g.FingerprintDedupeWindow,
	}, logger)
	require.NoError(t, err)
	scorer := services.NewRiskScorer(services.RiskScorerConfig{
		Weights:        g.Weights,
		Thresholds:     g.Thresholds,
		BurstThreshold: g.BurstThreshold,
		OffHoursStart:  g.OffHoursStart,
		OffHoursEnd:    g.OffHoursEnd,
		Location:       time.UTC,
	})
	stats := services.NewSecurityStatsService(services.SecurityLevelThresholds{
		ElevatedBlockedSources: g.ElevatedBlockedSources,
		CriticalBlockedSources: g.CriticalBlockedSources,
		ElevatedHourlyFailures: g.ElevatedHourlyFailures,
		CriticalHourlyFailures: g.CriticalHourlyFailures,
	})

	registration := services.NewRegistrationService(services.RegistrationDeps{
		Clock:       clock,
		Locks:       locks,
		RateLimiter: limiter,
		Blocks:      blocks,
		Validator:   validator,
		Scorer:      scorer,
		Stats:       stats,
		Provisioner: &services.MockProvisioner{},
		AuditLogger: auditLogger,
	}, services.RegistrationConfig{
		BurstWindow:       g.BurstWindow,
		RepositoryTimeout: g.RepositoryTimeout,
	}, logger)

	audit := services.NewAuditService(&services.MockSecurityEventRepository{}, logger)
	security := services.NewSecurityAdminService(clock, locks, limiter, blocks, stats,
		&services.MockDeviceRepository{}, audit, nil, auditLogger, logger)

	tm := auth.NewTokenManager(testJWTSecret, 15*time.Minute, time.Hour)
	token, err := tm.GenerateAccessToken("admin-1", "ops@example.com", models.RoleAdmin)
	require.NoError(t, err)

	router := chi.NewRouter()
	routes.RegisterRoutes(router,
		handlers.NewRegistrationHandler(registration, nil, logger),
		handlers.NewSecurityHandler(security, logger),
		tm,
		middleware.RateLimitConfig{RequestsPerMinute: 1000},
	)
	return &gateServer{router: router, adminToken: token}
}

func (s *gateServer) register(t *testing.T, remoteIP string, i int) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]interface{}{
		"device_name":      fmt.Sprintf("Lobby Kiosk %d", i),
		"registration_key": "fleet-key-123",
		"user_agent":       "FleetKiosk/2.1 (Android 13)",
		"fingerprint": map[string]interface{}{
			"hardware_id":   fmt.Sprintf("hw-%s-%d", remoteIP, i),
			"mac_addresses": []string{"00:1a:2b:3c:4d:5e"},
		},
	}
	return s.do(t, http.MethodPost, "/api/v1/devices/register", remoteIP, body, false)
}

func (s *gateServer) do(t *testing.T, method, path, remoteIP string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = remoteIP + ":40000"
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.adminToken)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGateFlow_HourlyLimitThenStatistics(t *testing.T) {
	s := newGateServer(t)

	for i := 1; i <= 5; i++ {
		w := s.register(t, "198.51.100.20", i)
		require.Equal(t, http.StatusCreated, w.Code, "attempt %d: %s", i, w.Body.String())
	}

	w := s.register(t, "198.51.100.20", 6)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, w).Error)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// another source is unaffected
	w = s.register(t, "198.51.100.21", 1)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/security/statistics", "10.0.0.1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.SecurityStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(7), stats.TotalAttempts)
	assert.Equal(t, int64(6), stats.Successful)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 0, stats.BlockedIPCount)
}

func TestGateFlow_ManualBlockAndUnblock(t *testing.T) {
	s := newGateServer(t)
	const source = "198.51.100.30"

	w := s.do(t, http.MethodPost, "/api/v1/security/block", "10.0.0.1",
		handlers.BlockRequest{SourceKey: source, Reason: "abuse report", DurationMinutes: 60}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.register(t, source, 1)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "ip_blocked", resp.Error)
	assert.InDelta(t, 3600, resp.RetryAfterSeconds, 2)

	w = s.do(t, http.MethodGet, "/api/v1/security/blocks", "10.0.0.1", nil, true)
	var list handlers.BlockListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, source, list.Blocks[0].SourceKey)

	w = s.do(t, http.MethodGet, "/api/v1/security/status", "10.0.0.1", nil, true)
	var status models.SecurityStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.SecurityLevelElevated, status.Level)

	w = s.do(t, http.MethodPost, "/api/v1/security/unblock", "10.0.0.1", handlers.UnblockRequest{SourceKey: source}, true)
	var unblocked handlers.UnblockResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unblocked))
	assert.True(t, unblocked.Unblocked)

	w = s.register(t, source, 2)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestGateFlow_BotUserAgentRejected(t *testing.T) {
	s := newGateServer(t)

	body := map[string]interface{}{
		"device_name":      "Lobby Kiosk",
		"registration_key": "fleet-key-123",
		"user_agent":       "python-requests/2.31",
		"fingerprint":      map[string]interface{}{"hardware_id": "hw-bot"},
	}
	w := s.do(t, http.MethodPost, "/api/v1/devices/register", "198.51.100.40", body, false)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "bot_detected", decodeError(t, w).Error)
}
