package dbqueue

import (
	"fmt"
	"time"

	"github.com/coregx/dbqueue/retry"
)

// TransportOption is a function that configures a Transport.
//
// Example:
//
//	transport, err := dbqueue.NewTransport(
//	    dbqueue.WithStore(conn),
//	    dbqueue.WithSerializer(serializer),
//	    dbqueue.WithLogger(logger), // optional
//	)
type TransportOption func(*Transport) error

// WithStore sets the queue store of the transport.
//
// This is a required option for NewTransport.
func WithStore(store Store) TransportOption {
	return func(t *Transport) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		t.store = store
		return nil
	}
}

// WithSerializer sets the codec used to encode and decode envelopes.
//
// This is a required option for NewTransport.
func WithSerializer(serializer Serializer) TransportOption {
	return func(t *Transport) error {
		if serializer == nil {
			return fmt.Errorf("serializer cannot be nil")
		}
		t.serializer = serializer
		return nil
	}
}

// WithLogger sets the logger instance for the transport.
// This is an optional configuration - NoopLogger is used by default.
//
// Implement the Logger interface to integrate with your logging system
// (slog, zap, logrus, etc.).
func WithLogger(logger Logger) TransportOption {
	return func(t *Transport) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		t.logger = logger
		return nil
	}
}

// WithNotifications sets an optional notification service for the transport.
// This is an optional configuration - if not provided, NoOpNotificationService
// will be used (no notifications).
//
// The transport notifies about poison messages it rejected.
func WithNotifications(service NotificationService) TransportOption {
	return func(t *Transport) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		t.notifications = service
		return nil
	}
}

// WorkerOption is a function that configures a Worker.
//
// Example:
//
//	worker, err := dbqueue.NewWorker(
//	    dbqueue.WithTransport(transport),
//	    dbqueue.WithHandler(handler),
//	    dbqueue.WithPollInterval(500*time.Millisecond), // optional
//	)
type WorkerOption func(*Worker) error

// WithTransport sets the transport the worker consumes from.
//
// This is a required option for NewWorker.
func WithTransport(transport *Transport) WorkerOption {
	return func(w *Worker) error {
		if transport == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		w.transport = transport
		return nil
	}
}

// WithHandler sets the handler invoked for every received envelope.
//
// This is a required option for NewWorker.
func WithHandler(handler Handler) WorkerOption {
	return func(w *Worker) error {
		if handler == nil {
			return fmt.Errorf("handler cannot be nil")
		}
		w.handler = handler
		return nil
	}
}

// WithWorkerLogger sets the logger instance for the worker.
// This is an optional configuration - NoopLogger is used by default.
func WithWorkerLogger(logger Logger) WorkerOption {
	return func(w *Worker) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		w.logger = logger
		return nil
	}
}

// WithRetryStrategy sets a custom retry strategy for the worker.
// This is an optional configuration - if not provided, retry.DefaultStrategy() will be used.
//
// The default strategy retries 3 times: 1s → 2s → 4s, then rejects.
// Use retry.Strategy{} to reject on the first failure.
func WithRetryStrategy(strategy retry.Strategy) WorkerOption {
	return func(w *Worker) error {
		if strategy.MaxRetries < 0 {
			return fmt.Errorf("max retries must be >= 0, got %d", strategy.MaxRetries)
		}
		if strategy.BaseDelay < 0 || strategy.MaxDelay < 0 {
			return fmt.Errorf("retry delays must not be negative")
		}
		w.retryStrategy = strategy
		return nil
	}
}

// WithPollInterval sets how long the worker sleeps when the queue is empty.
// This is an optional configuration - default is 1 second.
//
// Must be > 0. Shorter intervals lower latency at the cost of more queries.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be > 0, got %v", interval)
		}
		w.pollInterval = interval
		return nil
	}
}

// WithWorkerNotifications sets an optional notification service for the worker.
// This is an optional configuration - if not provided, NoOpNotificationService
// will be used (no notifications).
//
// The notification service receives callbacks for:
//   - Scheduled retries (every failed attempt that will be retried)
//   - Exhausted retries (when a message is rejected for good)
func WithWorkerNotifications(service NotificationService) WorkerOption {
	return func(w *Worker) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		w.notificationService = service
		return nil
	}
}
