package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/fleetgate/internal/metrics"
	"github.com/BradenHooton/fleetgate/internal/models"
)

// EventRecorder persists security events.
type EventRecorder interface {
	RecordAttempt(ctx context.Context, attempt *models.RegistrationAttempt) error
	RecordBlockEvent(ctx context.Context, eventType string, record *models.BlockRecord, actorID *string, at time.Time) error
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	QueueSize       int
	DeliveryTimeout time.Duration
}

type dispatchJob struct {
	attempt   *models.RegistrationAttempt
	block     *models.BlockRecord
	eventType string
	actorID   *string
	at        time.Time
}

// SecurityEventDispatcher delivers gate notifications to the audit store,
// alert mailer and review publisher off the request path. Any sink may be nil.
type SecurityEventDispatcher struct {
	queue    chan dispatchJob
	recorder EventRecorder
	alerts   AlertSender
	review   ReviewPublisher
	clock    Clock
	timeout  time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSecurityEventDispatcher creates a dispatcher. Call Start to begin delivery.
func NewSecurityEventDispatcher(recorder EventRecorder, alerts AlertSender, review ReviewPublisher, clock Clock, cfg DispatcherConfig, logger *slog.Logger) *SecurityEventDispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &SecurityEventDispatcher{
		queue:    make(chan dispatchJob, cfg.QueueSize),
		recorder: recorder,
		alerts:   alerts,
		review:   review,
		clock:    clock,
		timeout:  cfg.DeliveryTimeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// AttemptRecorded implements SecurityNotifier.
func (d *SecurityEventDispatcher) AttemptRecorded(attempt models.RegistrationAttempt) {
	d.enqueue(dispatchJob{attempt: &attempt})
}

// BlockChanged implements SecurityNotifier.
func (d *SecurityEventDispatcher) BlockChanged(eventType string, record models.BlockRecord, actorID *string) {
	d.enqueue(dispatchJob{block: &record, eventType: eventType, actorID: actorID, at: d.clock.Now()})
}

func (d *SecurityEventDispatcher) enqueue(job dispatchJob) {
	select {
	case d.queue <- job:
	default:
		metrics.RecordNotificationDropped()
		d.logger.Warn("security event queue full, dropping notification")
	}
}

// Start begins delivery in a background goroutine.
func (d *SecurityEventDispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case job := <-d.queue:
				d.deliver(ctx, job)
			case <-d.stopCh:
				d.drain(ctx)
				d.logger.Info("security event dispatcher stopped")
				return
			case <-ctx.Done():
				d.logger.Info("security event dispatcher context cancelled")
				return
			}
		}
	}()
}

// Stop delivers what is already queued and waits for the worker to exit.
func (d *SecurityEventDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	if d.review != nil {
		if err := d.review.Close(); err != nil {
			d.logger.Error("failed to close review publisher", slog.Any("error", err))
		}
	}
}

func (d *SecurityEventDispatcher) drain(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			d.deliver(ctx, job)
		default:
			return
		}
	}
}

func (d *SecurityEventDispatcher) deliver(ctx context.Context, job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if job.attempt != nil {
		d.deliverAttempt(ctx, job.attempt)
		return
	}
	d.deliverBlock(ctx, job)
}

func (d *SecurityEventDispatcher) deliverAttempt(ctx context.Context, attempt *models.RegistrationAttempt) {
	if d.recorder != nil {
		err := d.recorder.RecordAttempt(ctx, attempt)
		metrics.RecordNotificationDelivery("audit", err == nil)
	}
	if !attempt.Flagged {
		return
	}
	if d.review != nil {
		err := d.review.PublishFlagged(ctx, *attempt)
		if err != nil {
			d.logger.Error("failed to publish flagged attempt",
				slog.String("attempt_id", attempt.ID),
				slog.Any("error", err))
		}
		metrics.RecordNotificationDelivery("review", err == nil)
	}
	if d.alerts != nil {
		err := d.alerts.SendReviewAlert(ctx, *attempt)
		metrics.RecordNotificationDelivery("alert", err == nil)
	}
}

func (d *SecurityEventDispatcher) deliverBlock(ctx context.Context, job dispatchJob) {
	if d.recorder != nil {
		err := d.recorder.RecordBlockEvent(ctx, job.eventType, job.block, job.actorID, job.at)
		metrics.RecordNotificationDelivery("audit", err == nil)
	}
	if d.alerts != nil && job.eventType != models.SecurityEventUnblock {
		err := d.alerts.SendBlockAlert(ctx, job.eventType, *job.block)
		metrics.RecordNotificationDelivery("alert", err == nil)
	}
}
