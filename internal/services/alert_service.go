package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"
)

// AlertSender notifies operators about security events.
type AlertSender interface {
	SendBlockAlert(ctx context.Context, eventType string, record models.BlockRecord) error
	SendReviewAlert(ctx context.Context, attempt models.RegistrationAttempt) error
}

// SESClient is the subset of the SES client used for alerts.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESAlertService sends operator alerts using AWS SES. Sends are throttled
// so an attack does not turn into an email flood.
type AWSSESAlertService struct {
	sesClient   SESClient
	fromAddress string
	recipients  []string
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewAWSSESAlertService creates a new AWS SES alert service
func NewAWSSESAlertService(ctx context.Context, region, fromAddress string, recipients []string, perMinute int, logger *slog.Logger) (*AWSSESAlertService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAlertServiceWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, perMinute, logger), nil
}

// NewAlertServiceWithClient creates an alert service around an existing SES client.
func NewAlertServiceWithClient(client SESClient, fromAddress string, recipients []string, perMinute int, logger *slog.Logger) *AWSSESAlertService {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &AWSSESAlertService{
		sesClient:   client,
		fromAddress: fromAddress,
		recipients:  recipients,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:      logger,
	}
}

// SendBlockAlert reports a block or unblock of a source key.
func (s *AWSSESAlertService) SendBlockAlert(ctx context.Context, eventType string, record models.BlockRecord) error {
	subject := fmt.Sprintf("[fleetgate] %s: %s", strings.ReplaceAll(eventType, "_", " "), record.SourceKey)
	body := fmt.Sprintf(`Source key: %s
Event: %s
Reason: %s
Started: %s
Expires: %s
`,
		record.SourceKey, eventType, record.Reason,
		record.StartedAt.UTC().Format(time.RFC3339),
		record.ExpiresAt.UTC().Format(time.RFC3339))

	return s.send(ctx, subject, body)
}

// SendReviewAlert reports a registration that was flagged for review.
func (s *AWSSESAlertService) SendReviewAlert(ctx context.Context, attempt models.RegistrationAttempt) error {
	subject := fmt.Sprintf("[fleetgate] device flagged for review: %s", attempt.DeviceName)
	body := fmt.Sprintf(`Attempt: %s
Source key: %s
Device name: %s
Risk score: %.2f (%s)
Degraded assessment: %t
Time: %s
`,
		attempt.ID, attempt.SourceKey, attempt.DeviceName,
		attempt.RiskScore, attempt.RiskLevel, attempt.Degraded,
		attempt.Timestamp.UTC().Format(time.RFC3339))

	return s.send(ctx, subject, body)
}

func (s *AWSSESAlertService) send(ctx context.Context, subject, body string) error {
	if len(s.recipients) == 0 {
		return nil
	}
	if !s.limiter.Allow() {
		s.logger.Warn("security alert suppressed by rate limit", slog.String("subject", subject))
		return nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security alert via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	s.logger.Info("security alert sent",
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
