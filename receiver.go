package dbqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/coregx/dbqueue/model"
)

// Receiver pulls envelopes from a Store.
//
// Every envelope it returns carries the row id as TransportID; pass the same
// envelope back to Ack or Reject once the message is handled.
type Receiver struct {
	store         Store
	serializer    Serializer
	logger        Logger
	notifications NotificationService
}

// Get claims at most one message and returns it decoded.
//
// An empty queue yields an empty slice and no error. A message that cannot be
// decoded is rejected before the DECODE_ERROR is returned, so it can never
// block the queue.
func (r *Receiver) Get(ctx context.Context) ([]*model.Envelope, error) {
	msg, err := r.store.Get(ctx)
	if err != nil {
		if IsNoData(err) {
			return []*model.Envelope{}, nil
		}
		if msg != nil && IsCode(err, ErrCodeDecode) {
			return nil, r.rejectPoison(ctx, msg, err)
		}
		return nil, transportError("failed to receive message", err)
	}

	env, err := r.serializer.Decode(model.EncodedMessage{Body: msg.Body, Headers: msg.Headers})
	if err != nil {
		return nil, r.rejectPoison(ctx, msg, err)
	}
	env.TransportID = msg.ID

	return []*model.Envelope{env}, nil
}

// rejectPoison removes an undecodable message and returns the decode error.
func (r *Receiver) rejectPoison(ctx context.Context, msg *model.Message, decodeErr error) error {
	if _, err := r.store.Reject(ctx, msg.ID); err != nil {
		r.logger.Errorf("Failed to reject undecodable message %d (%v): %v", msg.ID, decodeErr, err)
		return transportError(fmt.Sprintf("failed to reject undecodable message %d", msg.ID), err)
	}

	r.logger.Warnf("Rejected undecodable message %d: %v", msg.ID, decodeErr)
	if err := r.notifications.NotifyPoisonMessage(ctx, msg, decodeErr); err != nil {
		r.logger.Warnf("Failed to send poison message notification: %v", err)
	}

	if IsCode(decodeErr, ErrCodeDecode) {
		return decodeErr
	}
	return NewErrorWithCause(ErrCodeDecode, fmt.Sprintf("failed to decode message %d", msg.ID), decodeErr)
}

// Ack acknowledges a received envelope.
func (r *Receiver) Ack(ctx context.Context, env *model.Envelope) error {
	return r.settle(ctx, env, "ack", r.store.Ack)
}

// Reject discards a received envelope. The message is not retried.
func (r *Receiver) Reject(ctx context.Context, env *model.Envelope) error {
	return r.settle(ctx, env, "reject", r.store.Reject)
}

func (r *Receiver) settle(ctx context.Context, env *model.Envelope, op string, fn func(context.Context, int64) (bool, error)) error {
	if env == nil || !env.IsReceived() {
		return NewError(ErrCodeValidation, fmt.Sprintf("cannot %s an envelope without transport id", op))
	}

	deleted, err := fn(ctx, env.TransportID)
	if err != nil {
		return transportError(fmt.Sprintf("failed to %s message %d", op, env.TransportID), err)
	}
	if !deleted {
		// Already settled or reclaimed and settled by another consumer.
		r.logger.Debugf("%s of message %d was a no-op", op, env.TransportID)
	}
	return nil
}

// MessageCount returns the number of claimable messages.
// The store must implement StatsStore.
func (r *Receiver) MessageCount(ctx context.Context) (int, error) {
	stats, err := r.stats()
	if err != nil {
		return 0, err
	}

	n, err := stats.MessageCount(ctx)
	if err != nil {
		return 0, transportError("failed to count messages", err)
	}
	return n, nil
}

// All decodes up to limit claimable messages without claiming them.
// Undecodable rows are skipped and logged. A limit <= 0 means no limit.
func (r *Receiver) All(ctx context.Context, limit int) ([]*model.Envelope, error) {
	stats, err := r.stats()
	if err != nil {
		return nil, err
	}

	rows, err := stats.All(ctx, limit)
	if err != nil {
		return nil, transportError("failed to list messages", err)
	}

	envs := make([]*model.Envelope, 0, len(rows))
	for i := range rows {
		env, err := r.serializer.Decode(model.EncodedMessage{Body: rows[i].Body, Headers: rows[i].Headers})
		if err != nil {
			r.logger.Warnf("Skipping undecodable message %d: %v", rows[i].ID, err)
			continue
		}
		env.TransportID = rows[i].ID
		envs = append(envs, env)
	}
	return envs, nil
}

// Find decodes the message with the given id without claiming it.
// Returns ErrNoData if not found.
func (r *Receiver) Find(ctx context.Context, id int64) (*model.Envelope, error) {
	stats, err := r.stats()
	if err != nil {
		return nil, err
	}

	msg, err := stats.Find(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return nil, err
		}
		return nil, transportError(fmt.Sprintf("failed to find message %d", id), err)
	}

	env, err := r.serializer.Decode(model.EncodedMessage{Body: msg.Body, Headers: msg.Headers})
	if err != nil {
		return nil, err
	}
	env.TransportID = msg.ID
	return env, nil
}

func (r *Receiver) stats() (StatsStore, error) {
	stats, ok := r.store.(StatsStore)
	if !ok {
		return nil, NewError(ErrCodeConfiguration, fmt.Sprintf("store %T does not support listing", r.store))
	}
	return stats, nil
}

// transportError wraps a failure as TRANSPORT_ERROR unless it already is a
// categorized *Error.
func transportError(message string, err error) error {
	var qErr *Error
	if errors.As(err, &qErr) {
		return err
	}
	return NewErrorWithCause(ErrCodeTransport, message, err)
}
