package relica

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/dbqueue"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	return openSQLitePool(t, 1)
}

// openSQLitePool opens a file database with up to conns connections.
// Immediate transactions serialize writers through SQLite's busy handler.
func openSQLitePool(t *testing.T, conns int) *sql.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "queue.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newTestConnection(t *testing.T, db *sql.DB, clock *fakeClock, mutate func(*dbqueue.Configuration)) *Connection {
	t.Helper()

	cfg := dbqueue.DefaultConfiguration()
	if mutate != nil {
		mutate(&cfg)
	}
	conn, err := NewConnection(db, "sqlite3", cfg, WithClock(clock.Now))
	require.NoError(t, err)

	return conn
}

func TestNewConnection_Invalid(t *testing.T) {
	db := openSQLite(t)

	t.Run("Nil database", func(t *testing.T) {
		_, err := NewConnection(nil, "sqlite3", dbqueue.DefaultConfiguration())
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeConfiguration))
	})

	t.Run("Unknown driver", func(t *testing.T) {
		_, err := NewConnection(db, "oracle", dbqueue.DefaultConfiguration())
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeConfiguration))
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		cfg := dbqueue.DefaultConfiguration()
		cfg.QueueName = ""
		_, err := NewConnection(db, "sqlite3", cfg)
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeConfiguration))
	})

	t.Run("Nil clock", func(t *testing.T) {
		_, err := NewConnection(db, "sqlite3", dbqueue.DefaultConfiguration(), WithClock(nil))
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeConfiguration))
	})
}

func TestConnection_SendGetAck(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTestConnection(t, openSQLite(t), clock, nil)

	id, err := conn.Send(ctx, "hello", map[string]string{"type": "greeting"}, 0)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	msg, err := conn.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, "greeting", msg.Headers["type"])
	assert.Equal(t, "default", msg.QueueName)
	assert.True(t, msg.IsDelivered())
	assert.True(t, msg.DeliveredAt.Time.Equal(clock.Now()))

	// In flight: nothing else is claimable
	_, err = conn.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	ok, err := conn.Ack(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conn.Ack(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = conn.Get(ctx)
	assert.True(t, dbqueue.IsNoData(err))
}

func TestConnection_SendAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t, openSQLite(t), newFakeClock(), nil)

	var last int64
	for i := 0; i < 5; i++ {
		id, err := conn.Send(ctx, "job", nil, 0)
		require.NoError(t, err)
		assert.Greater(t, id, last, "send %d", i)
		last = id
	}

	msg, err := conn.Find(ctx, last)
	require.NoError(t, err)
	assert.Equal(t, last, msg.ID)
}

func TestConnection_EmptyQueue(t *testing.T) {
	conn := newTestConnection(t, openSQLite(t), newFakeClock(), nil)

	msg, err := conn.Get(context.Background())
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)
}

func TestConnection_Reject(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTestConnection(t, openSQLite(t), clock, nil)

	id, err := conn.Send(ctx, "bad", nil, 0)
	require.NoError(t, err)

	_, err = conn.Get(ctx)
	require.NoError(t, err)

	ok, err := conn.Reject(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// Rejected messages never come back, even after the redeliver timeout
	clock.Advance(2 * time.Hour)
	_, err = conn.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	ok, err = conn.Reject(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnection_SendNegativeDelay(t *testing.T) {
	conn := newTestConnection(t, openSQLite(t), newFakeClock(), nil)

	_, err := conn.Send(context.Background(), "x", nil, -time.Second)
	assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeValidation))
}

func TestConnection_Delay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTestConnection(t, openSQLite(t), clock, nil)

	id, err := conn.Send(ctx, "later", nil, 30*time.Second)
	require.NoError(t, err)

	_, err = conn.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	clock.Advance(29 * time.Second)
	_, err = conn.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	// available_at <= now is inclusive
	clock.Advance(time.Second)
	msg, err := conn.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
}

func TestConnection_Redelivery(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTestConnection(t, openSQLite(t), clock, func(cfg *dbqueue.Configuration) {
		cfg.RedeliverTimeout = time.Minute
	})

	id, err := conn.Send(ctx, "job", nil, 0)
	require.NoError(t, err)

	_, err = conn.Get(ctx)
	require.NoError(t, err)

	// delivered_at < now - timeout is strict
	clock.Advance(time.Minute)
	_, err = conn.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	clock.Advance(time.Millisecond)
	msg, err := conn.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.True(t, msg.DeliveredAt.Time.Equal(clock.Now()))

	// A redelivered message is in flight again
	_, err = conn.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)
}

func TestConnection_Ordering(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTestConnection(t, openSQLite(t), clock, nil)

	lateID, err := conn.Send(ctx, "late", nil, 20*time.Second)
	require.NoError(t, err)
	earlyID, err := conn.Send(ctx, "early", nil, 10*time.Second)
	require.NoError(t, err)
	firstTie, err := conn.Send(ctx, "tie-1", nil, 0)
	require.NoError(t, err)
	secondTie, err := conn.Send(ctx, "tie-2", nil, 0)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	var got []int64
	for i := 0; i < 4; i++ {
		msg, err := conn.Get(ctx)
		require.NoError(t, err)
		got = append(got, msg.ID)
	}

	assert.Equal(t, []int64{firstTie, secondTie, earlyID, lateID}, got)
}

func TestConnection_QueueIsolation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	db := openSQLite(t)

	orders := newTestConnection(t, db, clock, func(cfg *dbqueue.Configuration) { cfg.QueueName = "orders" })
	emails := newTestConnection(t, db, clock, func(cfg *dbqueue.Configuration) { cfg.QueueName = "emails" })

	id, err := orders.Send(ctx, "order-1", nil, 0)
	require.NoError(t, err)

	_, err = emails.Get(ctx)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	_, err = emails.Find(ctx, id)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	count, err := emails.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	msg, err := orders.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders", msg.QueueName)
}

func TestConnection_AutoSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("Enabled creates the table on first use", func(t *testing.T) {
		conn := newTestConnection(t, openSQLite(t), newFakeClock(), func(cfg *dbqueue.Configuration) {
			cfg.TableName = "lazy_messages"
		})

		id, err := conn.Send(ctx, "first", nil, 0)
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))
	})

	t.Run("Enabled on read path", func(t *testing.T) {
		conn := newTestConnection(t, openSQLite(t), newFakeClock(), nil)

		_, err := conn.Get(ctx)
		assert.ErrorIs(t, err, dbqueue.ErrNoData)
	})

	t.Run("Disabled names the missing table", func(t *testing.T) {
		conn := newTestConnection(t, openSQLite(t), newFakeClock(), func(cfg *dbqueue.Configuration) {
			cfg.TableName = "missing_messages"
			cfg.AutoSetup = false
		})

		_, err := conn.Send(ctx, "first", nil, 0)
		require.Error(t, err)
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeTransport))
		assert.Contains(t, err.Error(), "missing_messages")

		_, err = conn.Get(ctx)
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeTransport))
		assert.False(t, dbqueue.IsNoData(err))

		_, err = conn.Ack(ctx, 1)
		assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeTransport))
	})
}

func TestConnection_SetupIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t, openSQLite(t), newFakeClock(), nil)

	require.NoError(t, conn.Setup(ctx))
	id, err := conn.Send(ctx, "kept", nil, 0)
	require.NoError(t, err)

	require.NoError(t, conn.Setup(ctx))

	msg, err := conn.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "kept", msg.Body)
}

func TestConnection_Stats(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTestConnection(t, openSQLite(t), clock, nil)

	firstID, err := conn.Send(ctx, "one", map[string]string{"k": "v"}, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = conn.Send(ctx, "two", nil, 0)
	require.NoError(t, err)
	_, err = conn.Send(ctx, "three", nil, time.Hour)
	require.NoError(t, err)

	count, err := conn.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	all, err := conn.All(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "one", all[0].Body)
	assert.Equal(t, "v", all[0].Headers["k"])

	limited, err := conn.All(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = conn.Get(ctx)
	require.NoError(t, err)

	// The claimed message is no longer counted but can still be found
	count, err = conn.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, err := conn.Find(ctx, firstID)
	require.NoError(t, err)
	assert.True(t, found.IsDelivered())

	_, err = conn.Find(ctx, 9999)
	assert.ErrorIs(t, err, dbqueue.ErrNoData)

	purged, err := conn.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)

	count, err = conn.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConnection_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	const (
		consumers = 8
		messages  = 200
	)
	conn := newTestConnection(t, openSQLitePool(t, consumers), clock, nil)

	for i := 0; i < messages; i++ {
		_, err := conn.Send(ctx, "job", nil, 0)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		errs    []error
		wg      sync.WaitGroup
	)
	for w := 0; w < consumers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := conn.Get(ctx)
				if dbqueue.IsNoData(err) {
					return
				}
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				claimed[msg.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Len(t, claimed, messages)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "message %d claimed more than once", id)
	}

	count, err := conn.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConnection_MalformedHeaders(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	conn := newTestConnection(t, db, newFakeClock(), nil)

	id, err := conn.Send(ctx, "poison", nil, 0)
	require.NoError(t, err)

	_, err = db.Exec("UPDATE messenger_messages SET headers = ? WHERE id = ?", "{not json", id)
	require.NoError(t, err)

	msg, err := conn.Get(ctx)
	require.Error(t, err)
	assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeDecode))
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)

	ok, err := conn.Reject(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsTableNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "Nil", err: nil, expected: false},
		{name: "No rows", err: sql.ErrNoRows, expected: false},
		{name: "MySQL no such table", err: &mysql.MySQLError{Number: 1146, Message: "Table 'app.messenger_messages' doesn't exist"}, expected: true},
		{name: "MySQL duplicate entry", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"}, expected: false},
		{name: "pq undefined table", err: &pq.Error{Code: "42P01", Message: `relation "messenger_messages" does not exist`}, expected: true},
		{name: "pq unique violation", err: &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}, expected: false},
		{name: "pgx undefined table", err: &pgconn.PgError{Code: "42P01", Message: `relation "messenger_messages" does not exist`}, expected: true},
		{name: "pgx lock timeout", err: &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}, expected: false},
		{name: "Wrapped MySQL error", err: fmt.Errorf("claim: %w", &mysql.MySQLError{Number: 1146}), expected: true},
		{name: "Wrapped pgx error", err: fmt.Errorf("claim: %w", &pgconn.PgError{Code: "42P01"}), expected: true},
		{name: "SQLite constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, expected: false},
		{name: "Message fallback sqlite", err: assertError("no such table: messenger_messages"), expected: true},
		{name: "Message fallback postgres", err: assertError(`pq: relation "messenger_messages" does not exist`), expected: true},
		{name: "Message fallback mysql", err: assertError("Error 1146: Table 'db.messenger_messages' doesn't exist"), expected: true},
		{name: "Unrelated message", err: assertError("connection refused"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isTableNotFound(tt.err))
		})
	}
}

func TestIsTableNotFound_SQLiteDriverError(t *testing.T) {
	db := openSQLite(t)

	_, err := db.Exec("DELETE FROM missing_table")
	require.Error(t, err)

	var liteErr sqlite3.Error
	require.ErrorAs(t, err, &liteErr)
	assert.True(t, isTableNotFound(err))
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestNewConnectionFromDSN(t *testing.T) {
	db := openSQLite(t)

	conn, err := NewConnectionFromDSN(db, "sqlite3", "doctrine://default?queue_name=emails&redeliver_timeout=300", nil)
	require.NoError(t, err)
	assert.Equal(t, "emails", conn.Configuration().QueueName)
	assert.Equal(t, 5*time.Minute, conn.Configuration().RedeliverTimeout)

	_, err = NewConnectionFromDSN(db, "sqlite3", "doctrine://default?queue=emails", nil)
	assert.True(t, dbqueue.IsCode(err, dbqueue.ErrCodeConfiguration))
}
