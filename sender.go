package dbqueue

import (
	"context"
	"fmt"

	"github.com/coregx/dbqueue/model"
)

// Sender encodes envelopes and enqueues them on a Store.
type Sender struct {
	store      Store
	serializer Serializer
	logger     Logger
}

// Send enqueues env, honoring env.Delay.
// It returns a copy of env whose TransportID is the id of the new row.
func (s *Sender) Send(ctx context.Context, env *model.Envelope) (*model.Envelope, error) {
	if env == nil {
		return nil, NewError(ErrCodeValidation, "envelope cannot be nil")
	}
	if env.Delay < 0 {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("delay must not be negative, got %v", env.Delay))
	}

	encoded, err := s.serializer.Encode(env)
	if err != nil {
		return nil, err
	}

	id, err := s.store.Send(ctx, encoded.Body, encoded.Headers, env.Delay)
	if err != nil {
		return nil, transportError("failed to send message", err)
	}

	sent := env.Clone()
	for k, v := range encoded.Headers {
		sent.Headers[k] = v
	}
	sent.TransportID = id

	s.logger.Debugf("Sent message %d (type=%s, delay=%v)", id, encoded.Headers[TypeHeader], env.Delay)
	return sent, nil
}
