package dbqueue

import (
	"context"
	"time"

	"github.com/coregx/dbqueue/model"
)

// NotificationService defines an optional interface for sending notifications
// about queue events that need operator attention.
//
// Implementations might send emails, Slack messages, SMS, or log to monitoring systems.
type NotificationService interface {
	// NotifyPoisonMessage is called after a message that could not be decoded
	// was rejected. The message is gone from the queue at this point.
	NotifyPoisonMessage(ctx context.Context, msg *model.Message, err error) error

	// NotifyRetryScheduled is called when a worker re-sends a failed message.
	// This is informational and happens before retries are exhausted.
	NotifyRetryScheduled(ctx context.Context, env *model.Envelope, retryCount int, delay time.Duration, err error) error

	// NotifyRetriesExhausted is called when a worker rejects a message after
	// its last allowed retry failed.
	NotifyRetriesExhausted(ctx context.Context, env *model.Envelope, retryCount int, err error) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyPoisonMessage does nothing.
func (n *NoOpNotificationService) NotifyPoisonMessage(_ context.Context, _ *model.Message, _ error) error {
	return nil
}

// NotifyRetryScheduled does nothing.
func (n *NoOpNotificationService) NotifyRetryScheduled(_ context.Context, _ *model.Envelope, _ int, _ time.Duration, _ error) error {
	return nil
}

// NotifyRetriesExhausted does nothing.
func (n *NoOpNotificationService) NotifyRetriesExhausted(_ context.Context, _ *model.Envelope, _ int, _ error) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyPoisonMessage logs the rejected message.
func (n *LoggingNotificationService) NotifyPoisonMessage(_ context.Context, msg *model.Message, err error) error {
	n.logger.Warnf("⚠️ Poison message rejected: id=%d, queue=%s, body_size=%d, error=%v",
		msg.ID, msg.QueueName, len(msg.Body), err)
	return nil
}

// NotifyRetryScheduled logs the scheduled retry.
func (n *LoggingNotificationService) NotifyRetryScheduled(_ context.Context, env *model.Envelope, retryCount int, delay time.Duration, err error) error {
	n.logger.Warnf("⚠️ Retry scheduled: id=%d, type=%s, retry=%d, delay=%v, error=%v",
		env.TransportID, env.Headers[TypeHeader], retryCount, delay, err)
	return nil
}

// NotifyRetriesExhausted logs the rejected message.
func (n *LoggingNotificationService) NotifyRetriesExhausted(_ context.Context, env *model.Envelope, retryCount int, err error) error {
	n.logger.Errorf("🔴 Retries exhausted, message rejected: id=%d, type=%s, retries=%d, error=%v",
		env.TransportID, env.Headers[TypeHeader], retryCount, err)
	return nil
}
