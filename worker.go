package dbqueue

import (
	"context"
	"strconv"
	"time"

	"github.com/coregx/dbqueue/model"
	"github.com/coregx/dbqueue/retry"
)

// Handler processes a received envelope. A returned error triggers the retry policy.
type Handler interface {
	Handle(ctx context.Context, env *model.Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *model.Envelope) error

// Handle calls f(ctx, env).
func (f HandlerFunc) Handle(ctx context.Context, env *model.Envelope) error {
	return f(ctx, env)
}

// Worker consumes a Transport one message at a time.
//
// Successful messages are acked. When the handler fails, the worker either
// sends a delayed copy carrying an incremented retry-count header and acks the
// original, or, once the retry strategy is exhausted, rejects the message.
//
// Thread safety: Several workers may consume the same queue concurrently;
// the store guarantees each message is claimed by one of them at a time.
type Worker struct {
	transport           *Transport
	handler             Handler
	retryStrategy       retry.Strategy
	logger              Logger
	notificationService NotificationService
	pollInterval        time.Duration
}

// NewWorker creates a new worker with the provided options.
//
// Required options:
//   - WithTransport: the transport to consume
//   - WithHandler: the message handler
//
// Optional options:
//   - WithRetryStrategy: custom retry strategy (default: retry.DefaultStrategy())
//   - WithPollInterval: sleep on an empty queue (default: 1s)
//   - WithWorkerLogger: logger instance (default: NoopLogger)
//   - WithWorkerNotifications: notification service (default: no notifications)
func NewWorker(opts ...WorkerOption) (*Worker, error) {
	w := &Worker{
		retryStrategy:       retry.DefaultStrategy(),
		logger:              &NoopLogger{},
		notificationService: &NoOpNotificationService{},
		pollInterval:        time.Second,
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if w.transport == nil {
		return nil, NewError(ErrCodeConfiguration, "Transport is required (use WithTransport)")
	}
	if w.handler == nil {
		return nil, NewError(ErrCodeConfiguration, "Handler is required (use WithHandler)")
	}

	return w, nil
}

// ProcessNext receives and handles at most one message.
//
// Returns true when a message was consumed, including a poison message the
// transport rejected, and false when the queue was empty or unreachable.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	envs, err := w.transport.Get(ctx)
	if err != nil {
		return IsCode(err, ErrCodeDecode), err
	}
	if len(envs) == 0 {
		return false, nil
	}

	env := envs[0]
	if handleErr := w.handler.Handle(ctx, env); handleErr != nil {
		return true, w.handleFailure(ctx, env, handleErr)
	}

	if err := w.transport.Ack(ctx, env); err != nil {
		return true, err
	}

	w.logger.Debugf("Handled message %d (type=%s)", env.TransportID, env.Headers[TypeHeader])
	return true, nil
}

// handleFailure applies the retry strategy to a message whose handler failed.
func (w *Worker) handleFailure(ctx context.Context, env *model.Envelope, handleErr error) error {
	retryCount := retry.Count(env.Headers)

	if !w.retryStrategy.IsRetryable(retryCount) {
		w.logger.Warnf("Rejecting message %d after %d retries: %v", env.TransportID, retryCount, handleErr)
		if err := w.transport.Reject(ctx, env); err != nil {
			return err
		}
		if err := w.notificationService.NotifyRetriesExhausted(ctx, env, retryCount, handleErr); err != nil {
			w.logger.Warnf("Failed to send retries exhausted notification: %v", err)
		}
		return nil
	}

	delay := w.retryStrategy.Delay(retryCount)
	next := env.WithDelay(delay).WithHeader(retry.CountHeader, strconv.Itoa(retryCount+1))
	next.TransportID = 0

	// If the re-send fails the original stays in flight and is redelivered
	// after the redeliver timeout.
	sent, err := w.transport.Send(ctx, next)
	if err != nil {
		return err
	}
	if err := w.transport.Ack(ctx, env); err != nil {
		return err
	}

	w.logger.Warnf("Message %d failed, retry %d scheduled as message %d in %v: %v",
		env.TransportID, retryCount+1, sent.TransportID, delay, handleErr)
	if err := w.notificationService.NotifyRetryScheduled(ctx, env, retryCount+1, delay, handleErr); err != nil {
		w.logger.Warnf("Failed to send retry notification: %v", err)
	}
	return nil
}

// Run starts the worker loop that processes messages continuously.
// It runs until the context is canceled, polling again immediately after each
// consumed message and sleeping the poll interval when the queue is empty.
//
// This method blocks and should typically be run in a goroutine.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go worker.Run(ctx)
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Queue worker started")

	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			w.logger.Info("Queue worker stopped")
			return
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Errorf("Error processing message: %v", err)
		}
		if processed {
			continue
		}

		timer.Reset(w.pollInterval)
		select {
		case <-ctx.Done():
			w.logger.Info("Queue worker stopped")
			return
		case <-timer.C:
		}
	}
}

// RetrySchedule returns a human-readable description of the retry schedule.
func (w *Worker) RetrySchedule() string {
	return w.retryStrategy.Schedule()
}
