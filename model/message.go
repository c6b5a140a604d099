package model

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTableName is the physical table used when none is configured.
const DefaultTableName = "messenger_messages"

// Headers is the transport/application metadata stored next to a message body.
// It is persisted as a JSON object in the headers column.
type Headers map[string]string

// Value implements driver.Valuer.
func (h Headers) Value() (driver.Value, error) {
	return EncodeHeaders(h)
}

// Scan implements sql.Scanner.
func (h *Headers) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*h = Headers{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("headers: unsupported column type %T", src)
	}
	decoded, err := DecodeHeaders(raw)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// EncodeHeaders renders headers in their column form. A nil map is stored as "{}".
func EncodeHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	return string(b), nil
}

// DecodeHeaders parses the column form of headers. Empty input yields empty headers.
func DecodeHeaders(raw string) (Headers, error) {
	h := Headers{}
	if raw == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	return h, nil
}

// Message is a row of the queue table.
//
// Lifecycle:
//  1. Created by a sender with DeliveredAt NULL and AvailableAt = CreatedAt + delay
//  2. Claimed by a receiver: DeliveredAt is set to the claim time
//  3. Deleted by ack or reject, or claimable again once the redeliver timeout
//     has elapsed since DeliveredAt (the consumer is presumed dead)
type Message struct {
	ID          int64        `json:"id" db:"id"`
	Body        string       `json:"body" db:"body"`
	Headers     Headers      `json:"headers" db:"headers"`
	QueueName   string       `json:"queueName" db:"queue_name"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	AvailableAt time.Time    `json:"availableAt" db:"available_at"`
	DeliveredAt sql.NullTime `json:"deliveredAt" db:"delivered_at"`
}

// TableName returns the default database table name for Message.
// Repositories override it with the configured table.
func (m *Message) TableName() string {
	return DefaultTableName
}

// NewMessage builds a row ready for insertion.
// now is read once by the caller so CreatedAt and AvailableAt never drift apart.
// A negative delay is treated as zero, keeping AvailableAt >= CreatedAt.
func NewMessage(queueName, body string, headers map[string]string, now time.Time, delay time.Duration) Message {
	if delay < 0 {
		delay = 0
	}
	h := Headers{}
	for k, v := range headers {
		h[k] = v
	}
	return Message{
		ID:          0,
		Body:        body,
		Headers:     h,
		QueueName:   queueName,
		CreatedAt:   now,
		AvailableAt: now.Add(delay),
		DeliveredAt: sql.NullTime{},
	}
}

// IsDelivered reports whether the message is currently marked in flight.
func (m *Message) IsDelivered() bool {
	return m.DeliveredAt.Valid
}

// IsAvailable reports whether the delay of the message has elapsed at now.
func (m *Message) IsAvailable(now time.Time) bool {
	return !m.AvailableAt.After(now)
}

// IsClaimable mirrors the selection predicate of the store: available, and
// either never delivered or delivered before now - redeliverTimeout.
func (m *Message) IsClaimable(now time.Time, redeliverTimeout time.Duration) bool {
	if !m.IsAvailable(now) {
		return false
	}
	if !m.DeliveredAt.Valid {
		return true
	}
	return m.DeliveredAt.Time.Before(now.Add(-redeliverTimeout))
}

// MarkDelivered records a claim at now.
func (m *Message) MarkDelivered(now time.Time) {
	m.DeliveredAt = sql.NullTime{Time: now, Valid: true}
}

// GetAge returns how long the message has existed at now.
func (m *Message) GetAge(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}
