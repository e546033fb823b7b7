package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BradenHooton/fleetgate/internal/config"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/go-playground/validator/v10"
)

// DeviceNameLookup checks names already registered to the tenant a
// registration key belongs to.
type DeviceNameLookup interface {
	DeviceNameExists(ctx context.Context, registrationKey, name string) (bool, error)
}

// HardReject is a validation outcome that rejects a request without scoring.
type HardReject struct {
	Kind   models.ErrorKind
	Reason string
	Cause  error
}

// ValidationResult is either a HardReject or a set of findings for the scorer.
type ValidationResult struct {
	Reject   *HardReject
	Findings []string
}

// IsValid reports whether the request may proceed to scoring.
func (r ValidationResult) IsValid() bool {
	return r.Reject == nil
}

// HasFinding reports whether label was produced.
func (r ValidationResult) HasFinding(label string) bool {
	for _, f := range r.Findings {
		if f == label {
			return true
		}
	}
	return false
}

// FingerprintValidatorConfig configures the validator.
type FingerprintValidatorConfig struct {
	Policy            config.Policy
	DedupeWindow      time.Duration
	RepositoryTimeout time.Duration
}

// FingerprintValidator runs the structural and content checks on a registration request.
type FingerprintValidator struct {
	validate      *validator.Validate
	botPatterns   []*regexp.Regexp
	namePatterns  []*regexp.Regexp
	attackTools   []string
	lookup        DeviceNameLookup
	recent        *shardedMap[time.Time]
	dedupeWindow  time.Duration
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewFingerprintValidator compiles the policy patterns and creates a FingerprintValidator.
func NewFingerprintValidator(lookup DeviceNameLookup, cfg FingerprintValidatorConfig, logger *slog.Logger) (*FingerprintValidator, error) {
	bots, err := compilePatterns(cfg.Policy.BotUserAgentPatterns)
	if err != nil {
		return nil, fmt.Errorf("bot user agent patterns: %w", err)
	}
	names, err := compilePatterns(cfg.Policy.SuspiciousNamePatterns)
	if err != nil {
		return nil, fmt.Errorf("suspicious name patterns: %w", err)
	}

	tools := make([]string, 0, len(cfg.Policy.AttackToolNames))
	for _, t := range cfg.Policy.AttackToolNames {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tools = append(tools, t)
		}
	}

	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 5 * time.Minute
	}
	if cfg.RepositoryTimeout <= 0 {
		cfg.RepositoryTimeout = 5 * time.Second
	}

	return &FingerprintValidator{
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		botPatterns:   bots,
		namePatterns:  names,
		attackTools:   tools,
		lookup:        lookup,
		recent:        newShardedMap[time.Time](),
		dedupeWindow:  cfg.DedupeWindow,
		lookupTimeout: cfg.RepositoryTimeout,
		logger:        logger,
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Validate checks req at now. Hard rules short-circuit; everything else is
// collected as findings.
func (v *FingerprintValidator) Validate(ctx context.Context, req *models.RegistrationRequest, now time.Time) ValidationResult {
	if err := v.validate.Struct(req); err != nil {
		return ValidationResult{Reject: &HardReject{
			Kind:   models.ErrorKindValidationFailed,
			Reason: describeValidationError(err),
			Cause:  err,
		}}
	}

	var findings []string

	ua := strings.TrimSpace(req.UserAgentValue())
	if ua == "" {
		findings = append(findings, models.FindingMissingUserAgent)
	} else if v.IsBotUserAgent(ua) {
		return ValidationResult{
			Reject:   &HardReject{Kind: models.ErrorKindBotDetected, Reason: "automated clients may not register devices"},
			Findings: []string{models.FindingBotLikeUserAgent},
		}
	}

	exists, err := v.deviceNameExists(ctx, req.RegistrationKey, req.DeviceName)
	if err != nil {
		return ValidationResult{Reject: &HardReject{
			Kind:   models.ErrorKindRegistrationFailed,
			Reason: "device registry unavailable",
			Cause:  err,
		}}
	}
	if exists {
		return ValidationResult{Reject: &HardReject{
			Kind:   models.ErrorKindDuplicateDeviceName,
			Reason: "a device with this name is already registered",
		}}
	}

	if v.IsSuspiciousName(req.DeviceName) {
		findings = append(findings, models.FindingSuspiciousDeviceName)
	}

	if req.Fingerprint == nil {
		findings = append(findings, models.FindingMissingFingerprint)
	} else if v.markFingerprint(req.Fingerprint.Hash(), now) {
		findings = append(findings, models.FindingDuplicateFingerprint)
	}

	return ValidationResult{Findings: findings}
}

// IsBotUserAgent reports whether ua matches a bot pattern or names an attack tool.
func (v *FingerprintValidator) IsBotUserAgent(ua string) bool {
	for _, re := range v.botPatterns {
		if re.MatchString(ua) {
			return true
		}
	}
	return v.containsAttackTool(ua)
}

// IsSuspiciousName reports whether name looks machine-generated or names an attack tool.
func (v *FingerprintValidator) IsSuspiciousName(name string) bool {
	name = strings.TrimSpace(name)
	for _, re := range v.namePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return v.containsAttackTool(name)
}

func (v *FingerprintValidator) containsAttackTool(s string) bool {
	s = strings.ToLower(s)
	for _, tool := range v.attackTools {
		if strings.Contains(s, tool) {
			return true
		}
	}
	return false
}

func (v *FingerprintValidator) deviceNameExists(ctx context.Context, registrationKey, name string) (bool, error) {
	if v.lookup == nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	exists, err := v.lookup.DeviceNameExists(ctx, registrationKey, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, models.ErrInvalidRegistrationKey) {
			// provisioning reports the invalid key
			return false, nil
		}
		v.logger.Error("device name lookup failed", slog.Any("error", err))
		return false, err
	}
	return exists, nil
}

// markFingerprint records hash as seen at now and reports whether it had
// already been seen within the dedupe window.
func (v *FingerprintValidator) markFingerprint(hash string, now time.Time) bool {
	dup := false
	v.recent.mutate(hash, func(m map[string]time.Time) {
		if seen, ok := m[hash]; ok && now.Sub(seen) < v.dedupeWindow {
			dup = true
		}
		m[hash] = now
	})
	return dup
}

// PruneFingerprints forgets fingerprints last seen before the dedupe window.
func (v *FingerprintValidator) PruneFingerprints(now time.Time) int {
	cutoff := now.Add(-v.dedupeWindow)
	pruned := 0
	v.recent.each(func(m map[string]time.Time) {
		for hash, seen := range m {
			if seen.Before(cutoff) {
				delete(m, hash)
				pruned++
			}
		}
	})
	return pruned
}

// describeValidationError converts validator errors to a caller-facing message.
func describeValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid registration request"
	}
	fe := ve[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: this field is required", field)
	case "min":
		return fmt.Sprintf("%s: must have a minimum of %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must have a maximum of %s", field, fe.Param())
	case "mac":
		return fmt.Sprintf("%s: must be a valid MAC address", field)
	default:
		return fmt.Sprintf("%s: failed validation: %s", field, fe.Tag())
	}
}
