package dbqueue

import (
	"context"

	"github.com/coregx/dbqueue/model"
)

// Transport bundles a Receiver and a Sender over one Store.
//
// Thread safety: Safe for concurrent use when the Store and Serializer are.
type Transport struct {
	store         Store
	serializer    Serializer
	logger        Logger
	notifications NotificationService
	receiver      *Receiver
	sender        *Sender
}

// NewTransport creates a new transport with the provided options.
//
// Required options:
//   - WithStore: the queue store (usually relica.Connection)
//   - WithSerializer: message codec
//
// Optional options:
//   - WithLogger: logger instance (default: NoopLogger)
//   - WithNotifications: notification service (default: NoOpNotificationService)
//
// Example:
//
//	conn, err := relica.NewConnection(db, "mysql", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	transport, err := dbqueue.NewTransport(
//	    dbqueue.WithStore(conn),
//	    dbqueue.WithSerializer(serializer),
//	    dbqueue.WithLogger(logger),
//	)
func NewTransport(opts ...TransportOption) (*Transport, error) {
	t := &Transport{
		logger:        &NoopLogger{},
		notifications: &NoOpNotificationService{},
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if t.store == nil {
		return nil, NewError(ErrCodeConfiguration, "Store is required (use WithStore)")
	}
	if t.serializer == nil {
		return nil, NewError(ErrCodeConfiguration, "Serializer is required (use WithSerializer)")
	}

	t.receiver = &Receiver{
		store:         t.store,
		serializer:    t.serializer,
		logger:        t.logger,
		notifications: t.notifications,
	}
	t.sender = &Sender{
		store:      t.store,
		serializer: t.serializer,
		logger:     t.logger,
	}

	return t, nil
}

// Receiver returns the receiving side of the transport.
func (t *Transport) Receiver() *Receiver {
	return t.receiver
}

// Sender returns the sending side of the transport.
func (t *Transport) Sender() *Sender {
	return t.sender
}

// Get claims at most one message. See Receiver.Get.
func (t *Transport) Get(ctx context.Context) ([]*model.Envelope, error) {
	return t.receiver.Get(ctx)
}

// Ack acknowledges a received envelope.
func (t *Transport) Ack(ctx context.Context, env *model.Envelope) error {
	return t.receiver.Ack(ctx, env)
}

// Reject discards a received envelope.
func (t *Transport) Reject(ctx context.Context, env *model.Envelope) error {
	return t.receiver.Reject(ctx, env)
}

// Send enqueues an envelope. See Sender.Send.
func (t *Transport) Send(ctx context.Context, env *model.Envelope) (*model.Envelope, error) {
	return t.sender.Send(ctx, env)
}

// Setup creates the queue table if it does not exist.
func (t *Transport) Setup(ctx context.Context) error {
	if err := t.store.Setup(ctx); err != nil {
		return transportError("failed to set up transport", err)
	}
	return nil
}

// MessageCount returns the number of claimable messages.
func (t *Transport) MessageCount(ctx context.Context) (int, error) {
	return t.receiver.MessageCount(ctx)
}

// All lists up to limit claimable messages without claiming them.
func (t *Transport) All(ctx context.Context, limit int) ([]*model.Envelope, error) {
	return t.receiver.All(ctx, limit)
}

// Find loads a message by id without claiming it.
func (t *Transport) Find(ctx context.Context, id int64) (*model.Envelope, error) {
	return t.receiver.Find(ctx, id)
}
