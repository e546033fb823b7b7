package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/fleetgate/internal/config"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/BradenHooton/fleetgate/internal/services"
	"github.com/BradenHooton/fleetgate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type gateHarness struct {
	clock       *testClock
	limiter     *services.RateLimitService
	blocks      *services.IPBlockService
	stats       *services.SecurityStatsService
	scorer      *services.RiskScorer
	lookup      *services.MockDeviceNameLookup
	provisioner *services.MockProvisioner
	notifier    *services.RecordingNotifier
	service     *services.RegistrationService
}

func newGateHarness(t *testing.T, overrides ...func(*services.RegistrationDeps)) *gateHarness {
	t.Helper()
	g := config.DefaultGateConfig()
	h := &gateHarness{
		clock:       &testClock{now: baseTime},
		lookup:      &services.MockDeviceNameLookup{},
		provisioner: &services.MockProvisioner{},
		notifier:    &services.RecordingNotifier{},
	}
	h.limiter = services.NewRateLimitService(services.RateLimitConfig{
		MaxAttemptsPerHour: g.MaxAttemptsPerHour,
		MaxAttemptsPerDay:  g.MaxAttemptsPerDay,
	}, testLogger())
	h.blocks = services.NewIPBlockService(h.limiter, services.IPBlockConfig{
		AutoBlockThreshold: g.AutoBlockThreshold,
		BlockDuration:      g.BlockDuration,
	}, testLogger())
	h.stats = services.NewSecurityStatsService(services.SecurityLevelThresholds{
		ElevatedBlockedSources: g.ElevatedBlockedSources,
		CriticalBlockedSources: g.CriticalBlockedSources,
		ElevatedHourlyFailures: g.ElevatedHourlyFailures,
		CriticalHourlyFailures: g.CriticalHourlyFailures,
	})
	h.scorer = services.NewRiskScorer(services.RiskScorerConfig{
		Weights:        g.Weights,
		Thresholds:     g.Thresholds,
		BurstThreshold: g.BurstThreshold,
		OffHoursStart:  g.OffHoursStart,
		OffHoursEnd:    g.OffHoursEnd,
		Location:       time.UTC,
	})
	validator, err := services.NewFingerprintValidator(h.lookup, services.FingerprintValidatorConfig{
		Policy:       g.Policy,
		DedupeWindow: g.FingerprintDedupeWindow,
	}, testLogger())
	require.NoError(t, err)

	deps := services.RegistrationDeps{
		Clock:       h.clock,
		Locks:       services.NewKeyedMutex(),
		RateLimiter: h.limiter,
		Blocks:      h.blocks,
		Validator:   validator,
		Scorer:      h.scorer,
		Stats:       h.stats,
		Provisioner: h.provisioner,
		Notifier:    h.notifier,
		AuditLogger: logger.NewAuditLogger(testLogger(), "test"),
	}
	for _, o := range overrides {
		o(&deps)
	}
	h.service = services.NewRegistrationService(deps, services.RegistrationConfig{
		BurstWindow:       g.BurstWindow,
		RepositoryTimeout: g.RepositoryTimeout,
	}, testLogger())
	return h
}

func requireGateError(t *testing.T, err error, kind models.ErrorKind) *models.GateError {
	t.Helper()
	require.Error(t, err)
	var gateErr *models.GateError
	require.True(t, errors.As(err, &gateErr), "expected *models.GateError, got %T", err)
	assert.Equal(t, kind, gateErr.Kind)
	return gateErr
}

func botRequest(i int) *models.RegistrationRequest {
	req := validRequest(fmt.Sprintf("Kiosk %d", i))
	req.UserAgent = strPtr("curl/8.4.0")
	return req
}

func TestRegistrationService_AcceptsCleanRequest(t *testing.T) {
	h := newGateHarness(t)
	var got models.DeviceRegistration
	h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
		got = reg
		return &models.DeviceCredentials{DeviceID: "dev-1", CompanyID: "company-1", DeviceSecret: "dvc_secret"}, nil
	}

	outcome, err := h.service.Register(context.Background(), validRequest("  Lobby Kiosk  "))

	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, "dev-1", outcome.Credentials.DeviceID)
	assert.Equal(t, models.RiskLevelLow, outcome.RiskAssessment.Level)
	assert.Equal(t, "Lobby Kiosk", got.DeviceName)
	assert.Equal(t, "203.0.113.10", got.SourceKey)
	require.NotNil(t, got.Assessment)
	assert.Equal(t, outcome.RiskAssessment.Score, got.Assessment.Score)

	snap := h.stats.Snapshot(h.clock.Now(), 0)
	assert.Equal(t, int64(1), snap.TotalAttempts)
	assert.Equal(t, int64(1), snap.Successful)

	require.Len(t, h.notifier.Attempts, 1)
	attempt := h.notifier.Attempts[0]
	assert.Equal(t, models.OutcomeAccepted, attempt.Outcome)
	assert.Nil(t, attempt.Reason)
	assert.NotEmpty(t, attempt.ID)
}

func TestRegistrationService_NightRequestWithoutFingerprintOrUserAgent(t *testing.T) {
	h := newGateHarness(t)
	h.clock.now = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	req := validRequest("device-01")
	req.Fingerprint = nil
	req.UserAgent = nil

	outcome, err := h.service.Register(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, outcome.RiskAssessment)
	assert.Equal(t, 4.5, outcome.RiskAssessment.Score)
	assert.Equal(t, models.RiskLevelMedium, outcome.RiskAssessment.Level)
	assert.Equal(t, []string{models.FactorOffHours, models.FindingMissingUserAgent, models.FindingMissingFingerprint}, factorLabels(*outcome.RiskAssessment))
	assert.False(t, outcome.RiskAssessment.FlaggedForReview)
}

func TestRegistrationService_SameInputsSameAssessment(t *testing.T) {
	assess := func() models.RiskAssessment {
		h := newGateHarness(t)
		h.clock.now = time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
		req := validRequest("device-01")
		req.UserAgent = nil
		outcome, err := h.service.Register(context.Background(), req)
		require.NoError(t, err)
		return *outcome.RiskAssessment
	}

	first, second := assess(), assess()

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.Factors, second.Factors)
	assert.Equal(t, 2.5, first.Score)
}

func TestRegistrationService_NilRequest(t *testing.T) {
	h := newGateHarness(t)

	_, err := h.service.Register(context.Background(), nil)

	requireGateError(t, err, models.ErrorKindValidationFailed)
}

func TestRegistrationService_RateLimitOnSixthAttempt(t *testing.T) {
	h := newGateHarness(t)

	for i := 0; i < 5; i++ {
		_, err := h.service.Register(context.Background(), validRequest(fmt.Sprintf("Kiosk %d", i)))
		require.NoError(t, err, "attempt %d", i+1)
		h.clock.Advance(time.Second)
	}

	_, err := h.service.Register(context.Background(), validRequest("Kiosk 6"))

	gateErr := requireGateError(t, err, models.ErrorKindRateLimitExceeded)
	// the first attempt leaves the hour window at baseTime+1h
	assert.Equal(t, 3595, gateErr.RetryAfterSeconds())
	assert.Equal(t, 1, h.limiter.ConsecutiveFailures("203.0.113.10"))

	snap := h.stats.Snapshot(h.clock.Now(), 0)
	assert.Equal(t, int64(6), snap.TotalAttempts)
	assert.Equal(t, int64(1), snap.Failed)
}

func TestRegistrationService_AdmittedAfterRetryAfterElapses(t *testing.T) {
	h := newGateHarness(t)

	for i := 0; i < 5; i++ {
		_, err := h.service.Register(context.Background(), validRequest(fmt.Sprintf("Kiosk %d", i)))
		require.NoError(t, err, "attempt %d", i+1)
		h.clock.Advance(time.Second)
	}

	// retrying while limited must not push the window further out
	var wait int
	for i := 0; i < 3; i++ {
		_, err := h.service.Register(context.Background(), validRequest("Kiosk 6"))
		gateErr := requireGateError(t, err, models.ErrorKindRateLimitExceeded)
		wait = gateErr.RetryAfterSeconds()
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, 3593, wait)
	assert.Equal(t, 3, h.limiter.ConsecutiveFailures("203.0.113.10"))

	h.clock.Advance(time.Duration(wait-1) * time.Second)
	outcome, err := h.service.Register(context.Background(), validRequest("Kiosk 6"))

	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Zero(t, h.limiter.ConsecutiveFailures("203.0.113.10"))
	history, ok := h.limiter.History("203.0.113.10")
	require.True(t, ok)
	assert.Len(t, history.Attempts, 9)
}

func TestRegistrationService_AutoBlockAfterTenFailures(t *testing.T) {
	h := newGateHarness(t)

	for i := 0; i < 10; i++ {
		_, err := h.service.Register(context.Background(), botRequest(i))
		require.Error(t, err)
	}
	require.Len(t, h.notifier.Blocks, 1)
	assert.Equal(t, models.SecurityEventAutoBlock, h.notifier.Blocks[0].EventType)
	assert.Equal(t, models.BlockReasonConsecutiveFailures, h.notifier.Blocks[0].Record.Reason)

	_, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	gateErr := requireGateError(t, err, models.ErrorKindIPBlocked)
	assert.Equal(t, 1800, gateErr.RetryAfterSeconds())

	// blocked attempts are counted but do not extend the streak
	assert.Equal(t, 10, h.limiter.ConsecutiveFailures("203.0.113.10"))
	snap := h.stats.Snapshot(h.clock.Now(), h.blocks.ActiveCount(h.clock.Now()))
	assert.Equal(t, int64(11), snap.TotalAttempts)
	assert.Equal(t, int64(11), snap.Failed)
	assert.Equal(t, 1, snap.BlockedSourceCount)
	assert.Len(t, h.notifier.Blocks, 1)
}

func malformedRequest() *models.RegistrationRequest {
	return &models.RegistrationRequest{
		SourceKey:   "203.0.113.10",
		DecodeError: errors.New("unexpected EOF"),
	}
}

func TestRegistrationService_MalformedBodyCountsAsFailure(t *testing.T) {
	h := newGateHarness(t)

	for i := 0; i < 10; i++ {
		_, err := h.service.Register(context.Background(), malformedRequest())
		var gateErr *models.GateError
		require.ErrorAs(t, err, &gateErr)
		if i < 5 {
			assert.Equal(t, models.ErrorKindValidationFailed, gateErr.Kind, "attempt %d", i+1)
		} else {
			assert.Equal(t, models.ErrorKindRateLimitExceeded, gateErr.Kind, "attempt %d", i+1)
		}
	}

	assert.Equal(t, 10, h.limiter.ConsecutiveFailures("203.0.113.10"))
	require.Len(t, h.notifier.Blocks, 1)
	assert.Equal(t, models.BlockReasonConsecutiveFailures, h.notifier.Blocks[0].Record.Reason)
	snap := h.stats.Snapshot(h.clock.Now(), 0)
	assert.Equal(t, int64(10), snap.TotalAttempts)
	assert.Equal(t, int64(10), snap.Failed)
	require.Len(t, h.notifier.Attempts, 10)
	assert.Equal(t, models.OutcomeRejected, h.notifier.Attempts[0].Outcome)
}

func TestRegistrationService_MalformedBodyFromBlockedSource(t *testing.T) {
	h := newGateHarness(t)
	h.blocks.RegisterBlock("203.0.113.10", h.clock.Now(), models.BlockReasonManual)

	_, err := h.service.Register(context.Background(), malformedRequest())

	gateErr := requireGateError(t, err, models.ErrorKindIPBlocked)
	assert.Positive(t, gateErr.RetryAfterSeconds())
	assert.Zero(t, h.limiter.ConsecutiveFailures("203.0.113.10"))
	require.Len(t, h.notifier.Attempts, 1)
	assert.Equal(t, models.OutcomeBlocked, h.notifier.Attempts[0].Outcome)
}

func TestRegistrationService_MalformedBodySkipsProvisioning(t *testing.T) {
	h := newGateHarness(t)
	h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
		t.Fatal("provisioner called for an undecodable body")
		return nil, nil
	}

	_, err := h.service.Register(context.Background(), malformedRequest())

	gateErr := requireGateError(t, err, models.ErrorKindValidationFailed)
	assert.Equal(t, "invalid request body", gateErr.Message)
	assert.Equal(t, 1, h.limiter.ConsecutiveFailures("203.0.113.10"))
}

func TestRegistrationService_FailureMixTriggersBlock(t *testing.T) {
	h := newGateHarness(t)

	// five bot rejections, then five rate limit rejections
	kinds := make([]models.ErrorKind, 0, 10)
	for i := 0; i < 10; i++ {
		_, err := h.service.Register(context.Background(), botRequest(i))
		var gateErr *models.GateError
		require.ErrorAs(t, err, &gateErr)
		kinds = append(kinds, gateErr.Kind)
	}

	assert.Equal(t, models.ErrorKindBotDetected, kinds[0])
	assert.Equal(t, models.ErrorKindBotDetected, kinds[4])
	assert.Equal(t, models.ErrorKindRateLimitExceeded, kinds[5])
	assert.Equal(t, models.ErrorKindRateLimitExceeded, kinds[9])
	assert.NotNil(t, h.blocks.IsBlocked("203.0.113.10", h.clock.Now()))
}

func TestRegistrationService_BlockExpiresThenReblocks(t *testing.T) {
	h := newGateHarness(t)
	for i := 0; i < 10; i++ {
		_, _ = h.service.Register(context.Background(), botRequest(i))
	}

	h.clock.Advance(29 * time.Minute)
	_, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))
	requireGateError(t, err, models.ErrorKindIPBlocked)

	h.clock.Advance(time.Minute)
	assert.Nil(t, h.blocks.IsBlocked("203.0.113.10", h.clock.Now()))

	// still over the hourly limit, and the failure streak was never reset
	_, err = h.service.Register(context.Background(), validRequest("Lobby Kiosk"))
	requireGateError(t, err, models.ErrorKindRateLimitExceeded)
	rec := h.blocks.IsBlocked("203.0.113.10", h.clock.Now())
	require.NotNil(t, rec)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), rec.ExpiresAt)
	assert.Len(t, h.notifier.Blocks, 2)
}

func TestRegistrationService_SourceKeysAreIndependent(t *testing.T) {
	h := newGateHarness(t)
	for i := 0; i < 10; i++ {
		_, _ = h.service.Register(context.Background(), botRequest(i))
	}

	req := validRequest("Lobby Kiosk")
	req.SourceKey = "198.51.100.20"
	_, err := h.service.Register(context.Background(), req)

	assert.NoError(t, err)
}

func TestRegistrationService_SourceKeyNormalized(t *testing.T) {
	h := newGateHarness(t)

	req := botRequest(1)
	req.SourceKey = "  2001:DB8::1 "
	_, _ = h.service.Register(context.Background(), req)

	assert.Equal(t, 1, h.limiter.ConsecutiveFailures("2001:db8::1"))
}

func TestRegistrationService_DuplicateNameSkipsScoring(t *testing.T) {
	var scored int32
	scorer := &services.MockScorer{ScoreFunc: func(in services.RiskInput) models.RiskAssessment {
		atomic.AddInt32(&scored, 1)
		return models.RiskAssessment{Level: models.RiskLevelLow}
	}}
	h := newGateHarness(t, func(d *services.RegistrationDeps) { d.Scorer = scorer })
	h.lookup.DeviceNameExistsFunc = func(ctx context.Context, registrationKey, name string) (bool, error) {
		return true, nil
	}
	provisioned := false
	h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
		provisioned = true
		return nil, nil
	}

	_, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	requireGateError(t, err, models.ErrorKindDuplicateDeviceName)
	assert.Zero(t, atomic.LoadInt32(&scored))
	assert.False(t, provisioned)
	require.Len(t, h.notifier.Attempts, 1)
	assert.Zero(t, h.notifier.Attempts[0].RiskScore)
	assert.Equal(t, 1, h.limiter.ConsecutiveFailures("203.0.113.10"))
}

func TestRegistrationService_ProvisioningErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    models.ErrorKind
		message string
	}{
		{name: "duplicate at insert", err: models.ErrDuplicateDeviceName, kind: models.ErrorKindDuplicateDeviceName},
		{name: "invalid key", err: models.ErrInvalidRegistrationKey, kind: models.ErrorKindRegistrationFailed, message: "registration key is invalid or expired"},
		{name: "storage failure", err: errors.New("connection reset"), kind: models.ErrorKindRegistrationFailed, message: "device registration failed, try again later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGateHarness(t)
			h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
				return nil, tt.err
			}

			_, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

			gateErr := requireGateError(t, err, tt.kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, gateErr.Message)
			}
			assert.NotContains(t, gateErr.Message, "connection reset")
			assert.Equal(t, 1, h.limiter.ConsecutiveFailures("203.0.113.10"))
			require.Len(t, h.notifier.Attempts, 1)
			assert.Equal(t, models.OutcomeRejected, h.notifier.Attempts[0].Outcome)
		})
	}
}

func TestRegistrationService_ProvisioningTimeout(t *testing.T) {
	h := newGateHarness(t)
	h.service = services.NewRegistrationService(services.RegistrationDeps{
		Clock:       h.clock,
		RateLimiter: h.limiter,
		Blocks:      h.blocks,
		Validator:   &services.MockValidator{},
		Scorer:      h.scorer,
		Stats:       h.stats,
		Provisioner: h.provisioner,
		Notifier:    h.notifier,
	}, services.RegistrationConfig{RepositoryTimeout: 20 * time.Millisecond}, testLogger())
	h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	gateErr := requireGateError(t, err, models.ErrorKindRegistrationFailed)
	assert.ErrorIs(t, gateErr, context.DeadlineExceeded)
	assert.Equal(t, 1, h.limiter.ConsecutiveFailures("203.0.113.10"))
}

func TestRegistrationService_CancelledContextStillAccounted(t *testing.T) {
	h := newGateHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &models.DeviceCredentials{DeviceID: "dev-1"}, nil
	}

	outcome, err := h.service.Register(ctx, validRequest("Lobby Kiosk"))

	require.NoError(t, err)
	assert.Equal(t, "dev-1", outcome.Credentials.DeviceID)
	assert.Equal(t, int64(1), h.stats.Snapshot(h.clock.Now(), 0).TotalAttempts)
	history, ok := h.limiter.History("203.0.113.10")
	require.True(t, ok)
	assert.Len(t, history.Attempts, 1)
}

func TestRegistrationService_ScorerPanicDegrades(t *testing.T) {
	fallback := newTestScorer()
	h := newGateHarness(t, func(d *services.RegistrationDeps) {
		d.Scorer = &services.MockScorer{
			ScoreFunc:              func(in services.RiskInput) models.RiskAssessment { panic("weights missing") },
			DegradedAssessmentFunc: fallback.DegradedAssessment,
		}
	})

	outcome, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	require.NoError(t, err)
	assert.True(t, outcome.RiskAssessment.Degraded)
	assert.True(t, outcome.RiskAssessment.FlaggedForReview)
	assert.Equal(t, models.RiskLevelHigh, outcome.RiskAssessment.Level)
	require.Len(t, h.notifier.Attempts, 1)
	assert.True(t, h.notifier.Attempts[0].Flagged)
	assert.True(t, h.notifier.Attempts[0].Degraded)
	assert.Equal(t, int64(1), h.stats.Snapshot(h.clock.Now(), 0).HighRiskCount)
}

func TestRegistrationService_ValidatorPanicDegrades(t *testing.T) {
	h := newGateHarness(t, func(d *services.RegistrationDeps) {
		d.Validator = &services.MockValidator{
			ValidateFunc: func(ctx context.Context, req *models.RegistrationRequest, now time.Time) services.ValidationResult {
				panic("nil pattern")
			},
		}
	})

	outcome, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	require.NoError(t, err)
	assert.True(t, outcome.RiskAssessment.Degraded)
	assert.Equal(t, []models.RiskFactor{{Label: models.FactorScoringUnavailable, Points: 5}}, outcome.RiskAssessment.Factors)
}

func TestRegistrationService_ProvisionerPanicIsInternalError(t *testing.T) {
	h := newGateHarness(t)
	h.provisioner.ProvisionDeviceFunc = func(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error) {
		panic("nil pool")
	}

	_, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	requireGateError(t, err, models.ErrorKindInternalError)
	assert.Equal(t, 1, h.notifier.AttemptCount())
	assert.Equal(t, 1, h.limiter.ConsecutiveFailures("203.0.113.10"))

	// the per-key lock was released
	_, err = h.service.Register(context.Background(), botRequest(2))
	requireGateError(t, err, models.ErrorKindBotDetected)
}

func TestRegistrationService_SuccessResetsStreak(t *testing.T) {
	h := newGateHarness(t)
	_, _ = h.service.Register(context.Background(), botRequest(1))
	_, _ = h.service.Register(context.Background(), botRequest(2))

	outcome, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	require.NoError(t, err)
	assert.Contains(t, outcome.RiskAssessment.Factors, models.RiskFactor{Label: models.FactorPriorFailures, Points: 1})
	assert.Contains(t, outcome.RiskAssessment.Factors, models.RiskFactor{Label: models.FactorBurst, Points: 2})
	assert.Equal(t, 0, h.limiter.ConsecutiveFailures("203.0.113.10"))
}

func TestRegistrationService_CriticalAcceptedAndFlagged(t *testing.T) {
	h := newGateHarness(t, func(d *services.RegistrationDeps) {
		d.Scorer = &services.MockScorer{ScoreFunc: func(in services.RiskInput) models.RiskAssessment {
			return models.RiskAssessment{Score: 8, Level: models.RiskLevelCritical, FlaggedForReview: true}
		}}
	})

	outcome, err := h.service.Register(context.Background(), validRequest("Lobby Kiosk"))

	require.NoError(t, err)
	assert.Equal(t, []string{models.MarkerFlaggedForReview}, outcome.RiskAssessment.Markers())
	assert.True(t, h.notifier.Attempts[0].Flagged)
}

func TestRegistrationService_ConcurrentSameSource(t *testing.T) {
	h := newGateHarness(t)
	// below the auto-block threshold so every rejection is a rate limit
	const workers = 12

	var (
		wg       sync.WaitGroup
		accepted int32
		limited  int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.service.Register(context.Background(), validRequest(fmt.Sprintf("Kiosk %d", i)))
			var gateErr *models.GateError
			switch {
			case err == nil:
				atomic.AddInt32(&accepted, 1)
			case errors.As(err, &gateErr) && gateErr.Kind == models.ErrorKindRateLimitExceeded:
				atomic.AddInt32(&limited, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), accepted)
	assert.Equal(t, int32(7), limited)
	snap := h.stats.Snapshot(h.clock.Now(), 0)
	assert.Equal(t, int64(workers), snap.TotalAttempts)
	assert.Equal(t, snap.TotalAttempts, snap.Successful+snap.Failed)
	history, ok := h.limiter.History("203.0.113.10")
	require.True(t, ok)
	assert.Len(t, history.Attempts, workers)
}

func TestRegistrationService_ConcurrentDistinctSources(t *testing.T) {
	h := newGateHarness(t)

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest(fmt.Sprintf("Kiosk %d", i))
			req.SourceKey = fmt.Sprintf("10.1.0.%d", i)
			_, errs[i] = h.service.Register(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "source %d", i)
	}
	assert.Equal(t, 50, h.limiter.SourceCount())
}
