package dbqueue

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/coregx/dbqueue/model"
)

// TypeHeader is the envelope header that names the message type.
const TypeHeader = "type"

// Serializer converts envelopes to and from their stored form.
type Serializer interface {
	// Encode renders an envelope as a body and headers.
	Encode(env *model.Envelope) (model.EncodedMessage, error)

	// Decode rebuilds an envelope. Any failure is a DECODE_ERROR.
	Decode(encoded model.EncodedMessage) (*model.Envelope, error)
}

// JSONSerializer encodes message bodies as JSON.
//
// Message types are registered under a name; the name travels in the "type"
// header and selects the Go type on decode. Only registered types can be
// encoded or decoded.
//
// Example:
//
//	s := dbqueue.NewJSONSerializer()
//	s.Register("order.created", func() interface{} { return &OrderCreated{} })
type JSONSerializer struct {
	mu        sync.RWMutex
	factories map[string]func() interface{}
	names     map[reflect.Type]string
}

// NewJSONSerializer creates an empty JSONSerializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		factories: make(map[string]func() interface{}),
		names:     make(map[reflect.Type]string),
	}
}

// Register binds a type name to a factory returning a new, empty message
// (usually a pointer to a struct). Registering a name twice replaces it.
func (s *JSONSerializer) Register(name string, factory func() interface{}) error {
	if name == "" {
		return NewError(ErrCodeValidation, "message type name cannot be empty")
	}
	if factory == nil {
		return NewError(ErrCodeValidation, fmt.Sprintf("factory for message type %q cannot be nil", name))
	}
	sample := factory()
	if sample == nil {
		return NewError(ErrCodeValidation, fmt.Sprintf("factory for message type %q returned nil", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = factory
	s.names[reflect.TypeOf(sample)] = name
	return nil
}

// Encode implements Serializer.
// The type header is set from the registry unless the envelope already carries one.
func (s *JSONSerializer) Encode(env *model.Envelope) (model.EncodedMessage, error) {
	if env == nil || env.Message == nil {
		return model.EncodedMessage{}, NewError(ErrCodeValidation, "envelope has no message")
	}

	name := env.Headers[TypeHeader]
	if name == "" {
		var ok bool
		s.mu.RLock()
		name, ok = s.names[reflect.TypeOf(env.Message)]
		s.mu.RUnlock()
		if !ok {
			return model.EncodedMessage{}, NewError(ErrCodeValidation,
				fmt.Sprintf("message type %T is not registered", env.Message))
		}
	}

	body, err := json.Marshal(env.Message)
	if err != nil {
		return model.EncodedMessage{}, NewErrorWithCause(ErrCodeValidation,
			fmt.Sprintf("failed to encode message of type %q", name), err)
	}

	headers := make(map[string]string, len(env.Headers)+1)
	for k, v := range env.Headers {
		headers[k] = v
	}
	headers[TypeHeader] = name

	return model.EncodedMessage{Body: string(body), Headers: headers}, nil
}

// Decode implements Serializer.
func (s *JSONSerializer) Decode(encoded model.EncodedMessage) (*model.Envelope, error) {
	name := encoded.Headers[TypeHeader]
	if name == "" {
		return nil, NewError(ErrCodeDecode, "message has no type header")
	}

	s.mu.RLock()
	factory, ok := s.factories[name]
	s.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrCodeDecode, fmt.Sprintf("unknown message type %q", name))
	}

	msg := factory()
	if err := json.Unmarshal([]byte(encoded.Body), msg); err != nil {
		return nil, NewErrorWithCause(ErrCodeDecode,
			fmt.Sprintf("failed to decode message of type %q", name), err)
	}

	env := model.NewEnvelope(msg)
	for k, v := range encoded.Headers {
		env.Headers[k] = v
	}
	return env, nil
}

// RawJSONSerializer passes JSON bodies through untouched.
//
// Envelopes carry a json.RawMessage; a string or []byte message is accepted on
// encode. Headers are kept as they are, and no type header is required.
// Bodies that are not valid JSON fail to encode and to decode.
type RawJSONSerializer struct{}

// Encode implements Serializer.
func (RawJSONSerializer) Encode(env *model.Envelope) (model.EncodedMessage, error) {
	if env == nil || env.Message == nil {
		return model.EncodedMessage{}, NewError(ErrCodeValidation, "envelope has no message")
	}

	var body []byte
	switch m := env.Message.(type) {
	case json.RawMessage:
		body = m
	case []byte:
		body = m
	case string:
		body = []byte(m)
	default:
		return model.EncodedMessage{}, NewError(ErrCodeValidation,
			fmt.Sprintf("raw message must be json.RawMessage, []byte or string, got %T", env.Message))
	}
	if !json.Valid(body) {
		return model.EncodedMessage{}, NewError(ErrCodeValidation, "message body is not valid JSON")
	}

	headers := make(map[string]string, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = v
	}
	return model.EncodedMessage{Body: string(body), Headers: headers}, nil
}

// Decode implements Serializer.
func (RawJSONSerializer) Decode(encoded model.EncodedMessage) (*model.Envelope, error) {
	if !json.Valid([]byte(encoded.Body)) {
		return nil, NewError(ErrCodeDecode, "message body is not valid JSON")
	}

	env := model.NewEnvelope(json.RawMessage(encoded.Body))
	for k, v := range encoded.Headers {
		env.Headers[k] = v
	}
	return env, nil
}
