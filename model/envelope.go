// Package model contains the persisted queue row and the envelope types
// exchanged between the transport and application code.
package model

import "time"

// Envelope wraps an application message on its way through the transport.
type Envelope struct {
	// Message is the application payload. The Serializer decides how it is encoded.
	Message interface{}

	// Headers carries application metadata. Serializers may add their own keys.
	Headers map[string]string

	// Delay postpones availability of the message when it is sent.
	Delay time.Duration

	// TransportID is the row id. It is set on envelopes returned by Send and
	// on every received envelope, and is the claim token for Ack and Reject.
	TransportID int64
}

// NewEnvelope creates an envelope for message with empty headers.
func NewEnvelope(message interface{}) *Envelope {
	return &Envelope{
		Message: message,
		Headers: make(map[string]string),
	}
}

// WithDelay returns a copy of the envelope delayed by d.
func (e *Envelope) WithDelay(d time.Duration) *Envelope {
	c := e.Clone()
	c.Delay = d
	return c
}

// WithHeader returns a copy of the envelope with the header set.
func (e *Envelope) WithHeader(key, value string) *Envelope {
	c := e.Clone()
	c.Headers[key] = value
	return c
}

// Clone returns a copy with its own headers map.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Headers = make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		c.Headers[k] = v
	}
	return &c
}

// IsReceived reports whether the envelope is tied to a stored row.
func (e *Envelope) IsReceived() bool {
	return e.TransportID != 0
}

// EncodedMessage is the serialized form of an Envelope: the body and headers
// columns of a queue row.
type EncodedMessage struct {
	Body    string
	Headers map[string]string
}
