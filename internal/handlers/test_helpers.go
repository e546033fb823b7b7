package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/models"
	pkghttp "github.com/BradenHooton/fleetgate/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin operator claims to request context
func WithAdminContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   models.RoleAdmin,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockRegistrationService implements RegistrationServiceInterface for testing
type MockRegistrationService struct {
	RegisterFunc func(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationOutcome, error)
}

func (m *MockRegistrationService) Register(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationOutcome, error) {
	if m.RegisterFunc == nil {
		return nil, models.NewGateError(models.ErrorKindInternalError, "an internal error occurred", 0, nil)
	}
	return m.RegisterFunc(ctx, req)
}

// MockSecurityService implements SecurityServiceInterface for testing
type MockSecurityService struct {
	GetStatisticsFunc func(ctx context.Context) (*models.SecurityStatistics, error)
	GetStatusFunc     func() models.SecurityStatus
	ListBlocksFunc    func() []models.BlockRecord
	UnblockFunc       func(ctx context.Context, sourceKey, actorID string) bool
	BlockFunc         func(ctx context.Context, sourceKey, reason string, duration time.Duration, actorID string) models.BlockRecord
	RecentEventsFunc  func(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityService) GetStatistics(ctx context.Context) (*models.SecurityStatistics, error) {
	if m.GetStatisticsFunc == nil {
		return &models.SecurityStatistics{}, nil
	}
	return m.GetStatisticsFunc(ctx)
}

func (m *MockSecurityService) GetStatus() models.SecurityStatus {
	if m.GetStatusFunc == nil {
		return models.SecurityStatus{Level: models.SecurityLevelNormal}
	}
	return m.GetStatusFunc()
}

func (m *MockSecurityService) ListBlocks() []models.BlockRecord {
	if m.ListBlocksFunc == nil {
		return nil
	}
	return m.ListBlocksFunc()
}

func (m *MockSecurityService) Unblock(ctx context.Context, sourceKey, actorID string) bool {
	if m.UnblockFunc == nil {
		return false
	}
	return m.UnblockFunc(ctx, sourceKey, actorID)
}

func (m *MockSecurityService) Block(ctx context.Context, sourceKey, reason string, duration time.Duration, actorID string) models.BlockRecord {
	if m.BlockFunc == nil {
		return models.BlockRecord{SourceKey: sourceKey, Reason: reason, Manual: true}
	}
	return m.BlockFunc(ctx, sourceKey, reason, duration, actorID)
}

func (m *MockSecurityService) RecentEvents(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	if m.RecentEventsFunc == nil {
		return nil, nil
	}
	return m.RecentEventsFunc(ctx, eventType, limit)
}
