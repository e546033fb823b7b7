package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/segmentio/kafka-go"
)

// MockDeviceRepository implements DeviceRepository for testing
type MockDeviceRepository struct {
	GetCompanyByRegistrationKeyFunc func(ctx context.Context, registrationKey string) (*models.Company, error)
	DeviceNameExistsFunc            func(ctx context.Context, companyID, name string) (bool, error)
	CreateDeviceFunc                func(ctx context.Context, device *models.Device) (*models.Device, error)
	CountDevicesFunc                func(ctx context.Context) (int64, error)
}

func (m *MockDeviceRepository) GetCompanyByRegistrationKey(ctx context.Context, registrationKey string) (*models.Company, error) {
	if m.GetCompanyByRegistrationKeyFunc != nil {
		return m.GetCompanyByRegistrationKeyFunc(ctx, registrationKey)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) DeviceNameExists(ctx context.Context, companyID, name string) (bool, error) {
	if m.DeviceNameExistsFunc != nil {
		return m.DeviceNameExistsFunc(ctx, companyID, name)
	}
	return false, nil
}

func (m *MockDeviceRepository) CreateDevice(ctx context.Context, device *models.Device) (*models.Device, error) {
	if m.CreateDeviceFunc != nil {
		return m.CreateDeviceFunc(ctx, device)
	}
	return nil, models.ErrInternalServer
}

func (m *MockDeviceRepository) CountDevices(ctx context.Context) (int64, error) {
	if m.CountDevicesFunc != nil {
		return m.CountDevicesFunc(ctx)
	}
	return 0, nil
}

// MockDeviceNameLookup implements DeviceNameLookup for testing
type MockDeviceNameLookup struct {
	DeviceNameExistsFunc func(ctx context.Context, registrationKey, name string) (bool, error)
}

func (m *MockDeviceNameLookup) DeviceNameExists(ctx context.Context, registrationKey, name string) (bool, error) {
	if m.DeviceNameExistsFunc != nil {
		return m.DeviceNameExistsFunc(ctx, registrationKey, name)
	}
	return false, nil
}

// MockProvisioner implements DeviceProvisioner for testing
type MockProvisioner struct {
	ProvisionDeviceFunc func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error)
}

func (m *MockProvisioner) ProvisionDevice(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
	if m.ProvisionDeviceFunc != nil {
		return m.ProvisionDeviceFunc(ctx, reg)
	}
	return &models.DeviceCredentials{DeviceID: "device-" + reg.DeviceName, CompanyID: "company-1"}, nil
}

// MockScorer implements Scorer for testing
type MockScorer struct {
	ScoreFunc              func(in RiskInput) models.RiskAssessment
	DegradedAssessmentFunc func() models.RiskAssessment
}

func (m *MockScorer) Score(in RiskInput) models.RiskAssessment {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(in)
	}
	return models.RiskAssessment{Level: models.RiskLevelLow}
}

func (m *MockScorer) DegradedAssessment() models.RiskAssessment {
	if m.DegradedAssessmentFunc != nil {
		return m.DegradedAssessmentFunc()
	}
	return models.RiskAssessment{Score: 5, Level: models.RiskLevelHigh, FlaggedForReview: true, Degraded: true}
}

// MockValidator implements RequestValidator for testing
type MockValidator struct {
	ValidateFunc func(ctx context.Context, req *models.RegistrationRequest, now time.Time) ValidationResult
}

func (m *MockValidator) Validate(ctx context.Context, req *models.RegistrationRequest, now time.Time) ValidationResult {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, req, now)
	}
	return ValidationResult{}
}

// BlockChange is one BlockChanged call captured by RecordingNotifier
type BlockChange struct {
	EventType string
	Record    models.BlockRecord
	ActorID   *string
}

// RecordingNotifier implements SecurityNotifier and keeps every notification
type RecordingNotifier struct {
	mu       sync.Mutex
	Attempts []models.RegistrationAttempt
	Blocks   []BlockChange
}

func (n *RecordingNotifier) AttemptRecorded(attempt models.RegistrationAttempt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Attempts = append(n.Attempts, attempt)
}

func (n *RecordingNotifier) BlockChanged(eventType string, record models.BlockRecord, actorID *string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Blocks = append(n.Blocks, BlockChange{EventType: eventType, Record: record, ActorID: actorID})
}

// AttemptCount returns the number of attempts recorded so far
func (n *RecordingNotifier) AttemptCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Attempts)
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	CreateFunc          func(ctx context.Context, event *models.SecurityEvent) error
	ListRecentFunc      func(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error)
	DeleteOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return nil
}

func (m *MockSecurityEventRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, eventType, limit)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

// MockMessageWriter implements MessageWriter for testing
type MockMessageWriter struct {
	mu       sync.Mutex
	Messages []kafka.Message
	WriteErr error
	Closed   bool
}

func (m *MockMessageWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockMessageWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockAlertSender implements AlertSender for testing
type MockAlertSender struct {
	mu           sync.Mutex
	BlockAlerts  []string
	ReviewAlerts []string
	Err          error
}

func (m *MockAlertSender) SendBlockAlert(ctx context.Context, eventType string, record models.BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BlockAlerts = append(m.BlockAlerts, eventType+":"+record.SourceKey)
	return m.Err
}

func (m *MockAlertSender) SendReviewAlert(ctx context.Context, attempt models.RegistrationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReviewAlerts = append(m.ReviewAlerts, attempt.ID)
	return m.Err
}

// MockEventRecorder implements EventRecorder for testing
type MockEventRecorder struct {
	mu          sync.Mutex
	Attempts    []string
	BlockEvents []string
}

func (m *MockEventRecorder) RecordAttempt(ctx context.Context, attempt *models.RegistrationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts = append(m.Attempts, attempt.ID)
	return nil
}

func (m *MockEventRecorder) RecordBlockEvent(ctx context.Context, eventType string, record *models.BlockRecord, actorID *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BlockEvents = append(m.BlockEvents, eventType+":"+record.SourceKey)
	return nil
}
