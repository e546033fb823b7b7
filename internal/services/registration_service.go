package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/fleetgate/internal/metrics"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/BradenHooton/fleetgate/pkg/logger"
	"github.com/google/uuid"
)

// DeviceProvisioner creates the device record and its credentials.
type DeviceProvisioner interface {
	ProvisionDevice(ctx context.Context, reg models.DeviceRegistration) (*models.DeviceCredentials, error)
}

// SecurityNotifier receives finished attempts and block changes for
// out-of-band processing. Implementations must not block.
type SecurityNotifier interface {
	AttemptRecorded(attempt models.RegistrationAttempt)
	BlockChanged(eventType string, record models.BlockRecord, actorID *string)
}

// RequestValidator runs the validation stage.
type RequestValidator interface {
	Validate(ctx context.Context, req *models.RegistrationRequest, now time.Time) ValidationResult
}

// Scorer runs the scoring stage.
type Scorer interface {
	Score(in RiskInput) models.RiskAssessment
	DegradedAssessment() models.RiskAssessment
}

// RegistrationConfig holds orchestration settings.
type RegistrationConfig struct {
	BurstWindow       time.Duration
	RepositoryTimeout time.Duration
}

// RegistrationDeps are the collaborators of a RegistrationService.
type RegistrationDeps struct {
	Clock       Clock
	Locks       *KeyedMutex
	RateLimiter *RateLimitService
	Blocks      *IPBlockService
	Validator   RequestValidator
	Scorer      Scorer
	Stats       *SecurityStatsService
	Provisioner DeviceProvisioner
	Notifier    SecurityNotifier
	AuditLogger *logger.AuditLogger
}

const (
	msgRateLimited   = "too many registration attempts, try again later"
	msgBlocked       = "registrations from this address are temporarily blocked"
	msgProvisionFail = "device registration failed, try again later"
	msgInvalidKey    = "registration key is invalid or expired"
	msgDuplicateName = "a device with this name is already registered"
	msgInternal      = "an internal error occurred"
	msgBadBody       = "invalid request body"
)

// RegistrationService sequences the gate for one registration request.
type RegistrationService struct {
	deps   RegistrationDeps
	config RegistrationConfig
	logger *slog.Logger
}

// NewRegistrationService creates a new RegistrationService
func NewRegistrationService(deps RegistrationDeps, config RegistrationConfig, logger *slog.Logger) *RegistrationService {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Locks == nil {
		deps.Locks = NewKeyedMutex()
	}
	if deps.Notifier == nil {
		deps.Notifier = NoopNotifier{}
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = 5 * time.Minute
	}
	if config.RepositoryTimeout <= 0 {
		config.RepositoryTimeout = 5 * time.Second
	}
	return &RegistrationService{
		deps:   deps,
		config: config,
		logger: logger,
	}
}

// Register runs one request through the gate. Any returned error is a *models.GateError.
// Work is serialized per source key and continues if ctx is cancelled so the
// attempt is always accounted for.
func (s *RegistrationService) Register(ctx context.Context, req *models.RegistrationRequest) (outcome *models.RegistrationOutcome, err error) {
	if req == nil {
		return nil, models.NewGateError(models.ErrorKindValidationFailed, "registration request is required", 0, nil)
	}
	ctx = context.WithoutCancel(ctx)

	r := *req
	r.SourceKey = NormalizeSourceKey(req.SourceKey)
	r.DeviceName = strings.TrimSpace(req.DeviceName)

	unlock := s.deps.Locks.Lock(r.SourceKey)
	defer unlock()

	now := s.deps.Clock.Now()
	run := &gateRun{attempt: &models.RegistrationAttempt{
		ID:          uuid.NewString(),
		SourceKey:   r.SourceKey,
		Timestamp:   now,
		DeviceName:  r.DeviceName,
		Fingerprint: r.Fingerprint,
		UserAgent:   r.UserAgent,
	}}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("registration gate panic",
				slog.Any("panic", p),
				slog.String("source_key", r.SourceKey),
				slog.String("stack", string(debug.Stack())))
			cause := fmt.Errorf("panic: %v", p)
			outcome = nil
			if run.recorded {
				err = models.NewGateError(models.ErrorKindInternalError, msgInternal, 0, cause)
				return
			}
			err = s.reject(run, models.ErrorKindInternalError, msgInternal, 0, cause)
		}
	}()

	return s.evaluate(ctx, &r, run)
}

type gateRun struct {
	attempt  *models.RegistrationAttempt
	scored   bool
	recorded bool
}

func (s *RegistrationService) evaluate(ctx context.Context, req *models.RegistrationRequest, run *gateRun) (*models.RegistrationOutcome, error) {
	key, now := run.attempt.SourceKey, run.attempt.Timestamp

	if rec := s.deps.Blocks.IsBlocked(key, now); rec != nil {
		return nil, s.recordBlocked(run, rec)
	}

	if decision := s.deps.RateLimiter.Check(key, now); !decision.Allowed {
		return nil, s.reject(run, models.ErrorKindRateLimitExceeded, msgRateLimited, decision.RetryAfter, nil)
	}

	if req.DecodeError != nil {
		return nil, s.reject(run, models.ErrorKindValidationFailed, msgBadBody, 0, req.DecodeError)
	}

	result, degraded := s.validate(ctx, req, now)
	if !result.IsValid() {
		return nil, s.reject(run, result.Reject.Kind, result.Reject.Reason, 0, result.Reject.Cause)
	}

	var assessment models.RiskAssessment
	if degraded {
		assessment = s.deps.Scorer.DegradedAssessment()
	} else {
		assessment = s.score(RiskInput{
			ConsecutiveFailures: s.deps.RateLimiter.ConsecutiveFailures(key),
			At:                  now,
			Findings:            result.Findings,
			RecentAttempts:      s.deps.RateLimiter.CountInWindow(key, now, s.config.BurstWindow) + 1,
		})
	}
	run.scored = true
	run.attempt.RiskScore = assessment.Score
	run.attempt.RiskLevel = assessment.Level
	run.attempt.Flagged = assessment.FlaggedForReview
	run.attempt.Degraded = assessment.Degraded

	provisionCtx, cancel := context.WithTimeout(ctx, s.config.RepositoryTimeout)
	creds, err := s.deps.Provisioner.ProvisionDevice(provisionCtx, models.DeviceRegistration{
		SourceKey:       key,
		DeviceName:      req.DeviceName,
		RegistrationKey: req.RegistrationKey,
		Location:        req.Location,
		Fingerprint:     req.Fingerprint,
		Assessment:      &assessment,
	})
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateDeviceName):
			return nil, s.reject(run, models.ErrorKindDuplicateDeviceName, msgDuplicateName, 0, nil)
		case errors.Is(err, models.ErrInvalidRegistrationKey):
			return nil, s.reject(run, models.ErrorKindRegistrationFailed, msgInvalidKey, 0, err)
		default:
			return nil, s.reject(run, models.ErrorKindRegistrationFailed, msgProvisionFail, 0, err)
		}
	}

	s.accept(run)
	return &models.RegistrationOutcome{
		Credentials:    creds,
		RiskAssessment: &assessment,
	}, nil
}

// validate runs the validator, treating a panic as a degraded pass.
func (s *RegistrationService) validate(ctx context.Context, req *models.RegistrationRequest, now time.Time) (result ValidationResult, degraded bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("fingerprint validation panic, degrading assessment",
				slog.Any("panic", p),
				slog.String("source_key", req.SourceKey))
			result, degraded = ValidationResult{}, true
		}
	}()
	return s.deps.Validator.Validate(ctx, req, now), false
}

// score runs the scorer, treating a panic as a degraded assessment.
func (s *RegistrationService) score(in RiskInput) (assessment models.RiskAssessment) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("risk scoring panic, degrading assessment", slog.Any("panic", p))
			assessment = s.deps.Scorer.DegradedAssessment()
		}
	}()
	return s.deps.Scorer.Score(in)
}

func (s *RegistrationService) recordBlocked(run *gateRun, rec *models.BlockRecord) error {
	kind := models.ErrorKindIPBlocked
	run.attempt.Outcome = models.OutcomeBlocked
	run.attempt.Reason = &kind

	s.deps.RateLimiter.RecordAttempt(run.attempt.SourceKey, run.attempt.Timestamp, models.OutcomeBlocked)
	s.complete(run, "")
	return models.NewGateError(kind, msgBlocked, rec.Remaining(run.attempt.Timestamp), nil)
}

// reject records a failed attempt, auto-blocks the source when its failure
// streak reaches the threshold and returns the caller-facing error.
func (s *RegistrationService) reject(run *gateRun, kind models.ErrorKind, message string, retryAfter time.Duration, cause error) error {
	key, now := run.attempt.SourceKey, run.attempt.Timestamp
	run.attempt.Outcome = models.OutcomeRejected
	run.attempt.Reason = &kind

	var history models.SourceHistory
	if kind == models.ErrorKindRateLimitExceeded {
		history = s.deps.RateLimiter.RecordThrottled(key, now)
	} else {
		history = s.deps.RateLimiter.RecordAttempt(key, now, models.OutcomeRejected)
	}
	failure := message
	if cause != nil {
		failure = cause.Error()
		s.logger.Warn("registration rejected",
			slog.String("kind", string(kind)),
			slog.String("source_key", key),
			slog.Any("error", cause))
	}
	s.complete(run, failure)

	if s.deps.Blocks.ShouldAutoBlock(history.ConsecutiveFailures) && s.deps.Blocks.IsBlocked(key, now) == nil {
		rec := s.deps.Blocks.RegisterBlock(key, now, models.BlockReasonConsecutiveFailures)
		metrics.RecordBlock("auto")
		s.deps.Notifier.BlockChanged(models.SecurityEventAutoBlock, rec, nil)
		if s.deps.AuditLogger != nil {
			s.deps.AuditLogger.LogBlockChange(logger.AuditEvent{
				EventType: models.SecurityEventAutoBlock,
				SourceKey: key,
				Success:   true,
				Metadata: map[string]string{
					"consecutive_failures": strconv.Itoa(history.ConsecutiveFailures),
					"expires_at":           rec.ExpiresAt.UTC().Format(time.RFC3339),
				},
			})
		}
	}

	return models.NewGateError(kind, message, retryAfter, cause)
}

func (s *RegistrationService) accept(run *gateRun) {
	run.attempt.Outcome = models.OutcomeAccepted
	s.deps.RateLimiter.RecordAttempt(run.attempt.SourceKey, run.attempt.Timestamp, models.OutcomeAccepted)
	s.complete(run, "")
}

// complete publishes a recorded attempt to statistics, metrics, audit and notifications.
func (s *RegistrationService) complete(run *gateRun, failure string) {
	run.recorded = true
	attempt := run.attempt

	s.deps.Stats.Record(attempt)

	kind := ""
	if attempt.Reason != nil {
		kind = string(*attempt.Reason)
	}
	metrics.RecordDecision(string(attempt.Outcome), kind)
	if run.scored {
		metrics.RecordRisk(attempt.RiskScore, string(attempt.RiskLevel), attempt.Degraded)
	}

	if s.deps.AuditLogger != nil {
		meta := map[string]string{
			"attempt_id": attempt.ID,
			"outcome":    string(attempt.Outcome),
		}
		if kind != "" {
			meta["reason"] = kind
		}
		if run.scored {
			meta["risk_score"] = strconv.FormatFloat(attempt.RiskScore, 'f', 2, 64)
			meta["risk_level"] = string(attempt.RiskLevel)
		}
		if attempt.Flagged {
			meta["marker"] = models.MarkerFlaggedForReview
		}
		s.deps.AuditLogger.LogRegistrationAttempt(logger.AuditEvent{
			EventType:     models.SecurityEventRegistration,
			SourceKey:     attempt.SourceKey,
			Subject:       attempt.DeviceName,
			Success:       attempt.Outcome == models.OutcomeAccepted,
			FailureReason: failure,
			Metadata:      meta,
		})
	}

	s.deps.Notifier.AttemptRecorded(*attempt)
}

// NoopNotifier discards notifications.
type NoopNotifier struct{}

// AttemptRecorded implements SecurityNotifier.
func (NoopNotifier) AttemptRecorded(models.RegistrationAttempt) {}

// BlockChanged implements SecurityNotifier.
func (NoopNotifier) BlockChanged(string, models.BlockRecord, *string) {}
