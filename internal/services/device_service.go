package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/models"
)

// DeviceRepository defines the device and tenant storage used by provisioning
type DeviceRepository interface {
	GetCompanyByRegistrationKey(ctx context.Context, registrationKey string) (*models.Company, error)
	DeviceNameExists(ctx context.Context, companyID, name string) (bool, error)
	CreateDevice(ctx context.Context, device *models.Device) (*models.Device, error)
	CountDevices(ctx context.Context) (int64, error)
}

// DeviceService provisions devices that passed the registration gate
type DeviceService struct {
	repo        DeviceRepository
	credentials *auth.CredentialManager
	tokens      *auth.TokenManager
	clock       Clock
	logger      *slog.Logger
}

// NewDeviceService creates a new DeviceService
func NewDeviceService(repo DeviceRepository, credentials *auth.CredentialManager, tokens *auth.TokenManager, clock Clock, logger *slog.Logger) *DeviceService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DeviceService{
		repo:        repo,
		credentials: credentials,
		tokens:      tokens,
		clock:       clock,
		logger:      logger,
	}
}

// resolveCompany maps a registration key to its tenant. Unknown and expired
// keys both report ErrInvalidRegistrationKey.
func (s *DeviceService) resolveCompany(ctx context.Context, registrationKey string) (*models.Company, error) {
	company, err := s.repo.GetCompanyByRegistrationKey(ctx, strings.TrimSpace(registrationKey))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidRegistrationKey
		}
		return nil, fmt.Errorf("failed to resolve registration key: %w", err)
	}
	if company.RegistrationKeyExpiresAt != nil && !s.clock.Now().Before(*company.RegistrationKeyExpiresAt) {
		return nil, models.ErrInvalidRegistrationKey
	}
	return company, nil
}

// DeviceNameExists reports whether the tenant behind registrationKey already
// has a device called name, ignoring case.
func (s *DeviceService) DeviceNameExists(ctx context.Context, registrationKey, name string) (bool, error) {
	company, err := s.resolveCompany(ctx, registrationKey)
	if err != nil {
		return false, err
	}
	return s.repo.DeviceNameExists(ctx, company.ID, name)
}

// ProvisionDevice creates the device row and issues its credentials.
func (s *DeviceService) ProvisionDevice(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
	company, err := s.resolveCompany(ctx, reg.RegistrationKey)
	if err != nil {
		return nil, err
	}

	secret, secretHash, err := s.credentials.GenerateDeviceSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device secret: %w", err)
	}

	device := &models.Device{
		CompanyID:        company.ID,
		Name:             strings.TrimSpace(reg.DeviceName),
		Location:         reg.Location,
		SecretHash:       secretHash,
		RegisteredFromIP: reg.SourceKey,
	}
	if reg.Fingerprint != nil {
		hardwareID := reg.Fingerprint.HardwareID
		hash := reg.Fingerprint.Hash()
		device.HardwareID = &hardwareID
		device.MACAddresses = reg.Fingerprint.MACAddresses
		device.FingerprintHash = &hash
	}
	if reg.Assessment != nil {
		device.RiskScore = reg.Assessment.Score
		device.RiskLevel = reg.Assessment.Level
		device.FlaggedForReview = reg.Assessment.FlaggedForReview
	}

	created, err := s.repo.CreateDevice(ctx, device)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateDeviceName) {
			return nil, err
		}
		s.logger.Error("failed to create device",
			slog.String("company_id", company.ID),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	token, expiresAt, err := s.tokens.GenerateDeviceToken(created.ID, company.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue device token: %w", err)
	}

	s.logger.Info("device provisioned",
		slog.String("device_id", created.ID),
		slog.String("company_id", company.ID),
		slog.Bool("flagged_for_review", created.FlaggedForReview))

	return &models.DeviceCredentials{
		DeviceID:     created.ID,
		CompanyID:    company.ID,
		DeviceSecret: secret,
		AccessToken:  token,
		ExpiresAt:    expiresAt,
	}, nil
}

// CountDevices returns the number of registered devices across tenants.
func (s *DeviceService) CountDevices(ctx context.Context) (int64, error) {
	n, err := s.repo.CountDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return n, nil
}
