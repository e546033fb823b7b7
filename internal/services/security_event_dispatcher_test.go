package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/BradenHooton/fleetgate/internal/services"
	"github.com/stretchr/testify/assert"
)

func fixedClock() services.Clock {
	return services.ClockFunc(func() time.Time { return baseTime })
}

func TestSecurityEventDispatcher_DeliversOnStop(t *testing.T) {
	recorder := &services.MockEventRecorder{}
	alerts := &services.MockAlertSender{}
	writer := &services.MockMessageWriter{}
	review := services.NewReviewPublisherWithWriter(writer, "fleetgate.review")

	d := services.NewSecurityEventDispatcher(recorder, alerts, review, fixedClock(), services.DispatcherConfig{}, testLogger())
	d.Start(context.Background())

	d.AttemptRecorded(models.RegistrationAttempt{ID: "clean", SourceKey: "10.0.0.1"})
	d.AttemptRecorded(models.RegistrationAttempt{ID: "flagged", SourceKey: "10.0.0.1", Flagged: true})
	rec := models.BlockRecord{SourceKey: "10.0.0.2", Reason: models.BlockReasonConsecutiveFailures}
	d.BlockChanged(models.SecurityEventAutoBlock, rec, nil)
	d.BlockChanged(models.SecurityEventUnblock, rec, nil)
	d.Stop()

	assert.Equal(t, []string{"clean", "flagged"}, recorder.Attempts)
	assert.Equal(t, []string{"auto_block:10.0.0.2", "unblock:10.0.0.2"}, recorder.BlockEvents)
	assert.Equal(t, []string{"flagged"}, alerts.ReviewAlerts)
	assert.Equal(t, []string{"auto_block:10.0.0.2"}, alerts.BlockAlerts)
	assert.Len(t, writer.Messages, 1)
	assert.True(t, writer.Closed)
}

func TestSecurityEventDispatcher_OptionalSinks(t *testing.T) {
	recorder := &services.MockEventRecorder{}
	d := services.NewSecurityEventDispatcher(recorder, nil, nil, fixedClock(), services.DispatcherConfig{}, testLogger())
	d.Start(context.Background())

	d.AttemptRecorded(models.RegistrationAttempt{ID: "flagged", Flagged: true})
	d.BlockChanged(models.SecurityEventManualBlock, models.BlockRecord{SourceKey: "10.0.0.2"}, nil)
	d.Stop()

	assert.Equal(t, []string{"flagged"}, recorder.Attempts)
	assert.Len(t, recorder.BlockEvents, 1)
}

func TestSecurityEventDispatcher_FullQueueDrops(t *testing.T) {
	recorder := &services.MockEventRecorder{}
	d := services.NewSecurityEventDispatcher(recorder, nil, nil, fixedClock(), services.DispatcherConfig{QueueSize: 2}, testLogger())

	// not started, so the queue fills up
	for i := 0; i < 5; i++ {
		d.AttemptRecorded(models.RegistrationAttempt{ID: "a"})
	}
	d.Start(context.Background())
	d.Stop()

	assert.Len(t, recorder.Attempts, 2)
}
