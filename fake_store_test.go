package dbqueue

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/dbqueue/model"
)

// fakeStore is an in-memory StatsStore. Delays are recorded but not enforced.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	rows       []*model.Message
	delays     map[int64]time.Duration
	badHeaders map[int64]bool

	sendErr   error
	getErr    error
	ackErr    error
	rejectErr error

	acked      []int64
	rejected   []int64
	setupCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		delays:     make(map[int64]time.Duration),
		badHeaders: make(map[int64]bool),
	}
}

func (s *fakeStore) Send(_ context.Context, body string, headers map[string]string, delay time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return 0, s.sendErr
	}
	s.nextID++
	msg := model.NewMessage("default", body, headers, time.Now(), delay)
	msg.ID = s.nextID
	s.rows = append(s.rows, &msg)
	s.delays[msg.ID] = delay
	return msg.ID, nil
}

func (s *fakeStore) Get(_ context.Context) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, row := range s.rows {
		if row.IsDelivered() {
			continue
		}
		row.MarkDelivered(time.Now())
		claimed := *row
		if s.badHeaders[row.ID] {
			claimed.Headers = nil
			return &claimed, NewError(ErrCodeDecode, "malformed headers")
		}
		claimed.Headers = model.Headers{}
		for k, v := range row.Headers {
			claimed.Headers[k] = v
		}
		return &claimed, nil
	}
	return nil, ErrNoData
}

func (s *fakeStore) Ack(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ackErr != nil {
		return false, s.ackErr
	}
	deleted := s.remove(id)
	if deleted {
		s.acked = append(s.acked, id)
	}
	return deleted, nil
}

func (s *fakeStore) Reject(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectErr != nil {
		return false, s.rejectErr
	}
	deleted := s.remove(id)
	if deleted {
		s.rejected = append(s.rejected, id)
	}
	return deleted, nil
}

func (s *fakeStore) remove(id int64) bool {
	for i, row := range s.rows {
		if row.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return true
		}
	}
	return false
}

func (s *fakeStore) Setup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCalls++
	return nil
}

func (s *fakeStore) MessageCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, row := range s.rows {
		if !row.IsDelivered() {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Find(_ context.Context, id int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.ID == id {
			found := *row
			return &found, nil
		}
	}
	return nil, ErrNoData
}

func (s *fakeStore) All(_ context.Context, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, row := range s.rows {
		if row.IsDelivered() {
			continue
		}
		out = append(out, *row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.rows)
	s.rows = nil
	return n, nil
}

// sendRaw stores a row bypassing the serializer.
func (s *fakeStore) sendRaw(body string, headers map[string]string) int64 {
	id, _ := s.Send(context.Background(), body, headers, 0)
	return id
}

// plainStore hides the StatsStore methods of a fakeStore.
type plainStore struct {
	Store
}

// recordingNotifications captures notification calls.
type recordingNotifications struct {
	mu        sync.Mutex
	poison    []int64
	scheduled []int
	exhausted []int
}

func (n *recordingNotifications) NotifyPoisonMessage(_ context.Context, msg *model.Message, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.poison = append(n.poison, msg.ID)
	return nil
}

func (n *recordingNotifications) NotifyRetryScheduled(_ context.Context, _ *model.Envelope, retryCount int, _ time.Duration, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, retryCount)
	return nil
}

func (n *recordingNotifications) NotifyRetriesExhausted(_ context.Context, _ *model.Envelope, retryCount int, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exhausted = append(n.exhausted, retryCount)
	return nil
}

// orderCreated is the message type used across the package tests.
type orderCreated struct {
	OrderID int64  `json:"orderId"`
	Email   string `json:"email"`
}

func newTestSerializer() *JSONSerializer {
	s := NewJSONSerializer()
	_ = s.Register("order.created", func() interface{} { return &orderCreated{} })
	return s
}
