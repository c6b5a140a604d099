package relica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/relica"

	"github.com/coregx/dbqueue"
	"github.com/coregx/dbqueue/model"
	"github.com/coregx/dbqueue/schema"
)

// Compile-time check that Connection implements dbqueue.StatsStore.
var _ dbqueue.StatsStore = (*Connection)(nil)

// claimablePredicate selects rows that are due and not in flight.
// Arguments: redeliver limit, now, queue name.
const claimablePredicate = "(delivered_at IS NULL OR delivered_at < ?) AND available_at <= ? AND queue_name = ?"

// Connection implements dbqueue.StatsStore on a SQL table.
//
// Claims run in a database transaction with an exclusive row lock, so the
// database is the only arbiter between concurrent consumers, whether they
// live in one process or many.
type Connection struct {
	sqlDB   *sql.DB
	db      *relica.DB
	dialect schema.Dialect
	cfg     dbqueue.Configuration
	table   schema.Table
	clock   func() time.Time
	logger  dbqueue.Logger
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection) error

// WithClock replaces the time source. Every operation reads it once.
func WithClock(clock func() time.Time) ConnectionOption {
	return func(c *Connection) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets the logger instance.
func WithLogger(logger dbqueue.Logger) ConnectionOption {
	return func(c *Connection) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// NewConnection creates a queue store on sqlDB.
//
// The driverName should be "mysql", "postgres", "pgx" or "sqlite3". MySQL
// DSNs need parseTime=true so timestamps scan into time.Time.
func NewConnection(sqlDB *sql.DB, driverName string, cfg dbqueue.Configuration, opts ...ConnectionOption) (*Connection, error) {
	if sqlDB == nil {
		return nil, dbqueue.NewError(dbqueue.ErrCodeConfiguration, "sql.DB is required")
	}
	dialect, err := schema.DialectFor(driverName)
	if err != nil {
		return nil, dbqueue.NewErrorWithCause(dbqueue.ErrCodeConfiguration, "failed to resolve dialect", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, dbqueue.NewErrorWithCause(dbqueue.ErrCodeConfiguration, "invalid transport configuration", err)
	}

	c := &Connection{
		sqlDB:   sqlDB,
		db:      relica.WrapDB(sqlDB, dialect.RelicaDriver()),
		dialect: dialect,
		cfg:     cfg,
		table:   schema.Messages(cfg.TableName),
		clock:   time.Now,
		logger:  &dbqueue.NoopLogger{},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, dbqueue.NewErrorWithCause(dbqueue.ErrCodeConfiguration, "failed to apply connection option", err)
		}
	}

	return c, nil
}

// Configuration returns the configuration the connection was built with.
func (c *Connection) Configuration() dbqueue.Configuration {
	return c.cfg
}

// now reads the clock in UTC at the microsecond precision every backend keeps.
func (c *Connection) now() time.Time {
	return c.clock().UTC().Truncate(time.Microsecond)
}

// Send inserts a message that becomes available after delay.
func (c *Connection) Send(ctx context.Context, body string, headers map[string]string, delay time.Duration) (int64, error) {
	if delay < 0 {
		return 0, dbqueue.NewError(dbqueue.ErrCodeValidation, fmt.Sprintf("delay must not be negative, got %v", delay))
	}

	now := c.now()
	var id int64

	err := c.withAutoSetup(ctx, func() error {
		msg := model.NewMessage(c.cfg.QueueName, body, headers, now, delay)
		// Insert using Model() API - auto-populates msg.ID
		if err := c.db.WithContext(ctx).Model(&msg).Table(c.table.Name).Insert(); err != nil {
			return err
		}
		id = msg.ID
		return nil
	})
	if err != nil {
		return 0, c.transportError("failed to send message", err)
	}

	c.logger.Debugf("message %d sent to queue %s (available in %v)", id, c.cfg.QueueName, delay)
	return id, nil
}

// Get claims the oldest claimable message.
//
// Returns dbqueue.ErrNoData when nothing is claimable. If the claimed row has
// malformed headers, the claimed message is returned together with a
// DECODE_ERROR so the caller can reject it.
func (c *Connection) Get(ctx context.Context) (*model.Message, error) {
	var (
		msg        *model.Message
		rawHeaders string
	)

	err := c.withAutoSetup(ctx, func() error {
		var claimErr error
		msg, rawHeaders, claimErr = c.claim(ctx)
		return claimErr
	})
	if err != nil {
		return nil, c.transportError("failed to get message", err)
	}
	if msg == nil {
		return nil, dbqueue.ErrNoData
	}

	headers, err := model.DecodeHeaders(rawHeaders)
	if err != nil {
		return msg, dbqueue.NewErrorWithCause(dbqueue.ErrCodeDecode,
			fmt.Sprintf("message %d has malformed headers", msg.ID), err)
	}
	msg.Headers = headers

	c.logger.Debugf("message %d claimed from queue %s", msg.ID, c.cfg.QueueName)
	return msg, nil
}

// claim selects and marks one row inside a single transaction.
// A nil message with a nil error means nothing was claimable.
//
// The claim runs on a database/sql transaction: relica cannot append a
// row lock to a SELECT, and its Tx exposes neither raw queries nor the
// underlying *sql.Tx, so the locking read and the mark share this one.
func (c *Connection) claim(ctx context.Context) (_ *model.Message, _ string, err error) {
	now := c.now()
	redeliverLimit := now.Add(-c.cfg.RedeliverTimeout)

	tx, err := c.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Errorf("failed to roll back claim on %s: %v", c.table.Name, rbErr)
		}
	}()

	var (
		msg     model.Message
		headers sql.NullString
	)
	err = tx.QueryRowContext(ctx, c.selectClaimableSQL(), redeliverLimit, now, c.cfg.QueueName).Scan(
		&msg.ID, &msg.Body, &headers, &msg.QueueName, &msg.CreatedAt, &msg.AvailableAt, &msg.DeliveredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.Commit()
		return nil, "", err
	}
	if err != nil {
		return nil, "", err
	}

	// The claimable predicate is repeated so a row claimed by a concurrent
	// transaction is never marked twice, even without row lock support.
	res, err := tx.ExecContext(ctx, c.markDeliveredSQL(), now, msg.ID, redeliverLimit)
	if err != nil {
		return nil, "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, "", err
	}
	if err = tx.Commit(); err != nil {
		return nil, "", err
	}
	if affected == 0 {
		c.logger.Debugf("message %d was claimed concurrently", msg.ID)
		return nil, "", nil
	}

	msg.MarkDelivered(now)
	return &msg, headers.String, nil
}

// Ack deletes the message with id.
func (c *Connection) Ack(ctx context.Context, id int64) (bool, error) {
	return c.delete(ctx, id, "ack")
}

// Reject deletes the message with id. Rejected messages are discarded, not retried.
func (c *Connection) Reject(ctx context.Context, id int64) (bool, error) {
	return c.delete(ctx, id, "reject")
}

func (c *Connection) delete(ctx context.Context, id int64, op string) (bool, error) {
	var affected int64

	err := c.withAutoSetup(ctx, func() error {
		res, err := c.db.WithContext(ctx).Delete(c.table.Name).
			Where("id = ?", id).
			Execute()
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, c.transportError(fmt.Sprintf("failed to %s message %d", op, id), err)
	}

	if affected == 0 {
		c.logger.Debugf("%s of message %d: row already gone", op, id)
	}
	return affected > 0, nil
}

// Setup creates the table and indexes. It is a no-op on an existing schema.
func (c *Connection) Setup(ctx context.Context) error {
	for _, stmt := range c.dialect.CreateStatements(c.table) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return dbqueue.NewErrorWithCause(dbqueue.ErrCodeTransport,
				fmt.Sprintf("failed to set up table %q", c.table.Name), err)
		}
	}
	c.logger.Infof("table %s is set up (%s)", c.table.Name, c.dialect)
	return nil
}

// MessageCount returns the number of claimable messages in the queue.
func (c *Connection) MessageCount(ctx context.Context) (int, error) {
	now := c.now()
	var result struct {
		Count int64 `db:"message_count"`
	}

	err := c.withAutoSetup(ctx, func() error {
		return c.db.WithContext(ctx).Select("COUNT(*) AS message_count").
			From(c.table.Name).
			Where(claimablePredicate, now.Add(-c.cfg.RedeliverTimeout), now, c.cfg.QueueName).
			One(&result)
	})
	if err != nil {
		return 0, c.transportError("failed to count messages", err)
	}

	return int(result.Count), nil
}

// Find loads a message of the queue by id.
func (c *Connection) Find(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message

	err := c.withAutoSetup(ctx, func() error {
		return c.db.WithContext(ctx).Select("*").
			From(c.table.Name).
			Where("id = ? AND queue_name = ?", id, c.cfg.QueueName).
			WithContext(ctx).
			One(&msg)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dbqueue.ErrNoData
	}
	if err != nil {
		return nil, c.transportError(fmt.Sprintf("failed to find message %d", id), err)
	}

	return &msg, nil
}

// All lists claimable messages in claim order. A limit <= 0 means no limit.
func (c *Connection) All(ctx context.Context, limit int) ([]model.Message, error) {
	now := c.now()
	var messages []model.Message

	err := c.withAutoSetup(ctx, func() error {
		q := c.db.WithContext(ctx).Select("*").
			From(c.table.Name).
			Where(claimablePredicate, now.Add(-c.cfg.RedeliverTimeout), now, c.cfg.QueueName).
			OrderBy("available_at ASC")
		if limit > 0 {
			return q.Limit(int64(limit)).WithContext(ctx).All(&messages)
		}
		return q.WithContext(ctx).All(&messages)
	})
	if err != nil {
		return nil, c.transportError("failed to list messages", err)
	}

	return messages, nil
}

// Purge deletes every message of the queue, in flight or not.
func (c *Connection) Purge(ctx context.Context) (int, error) {
	var affected int64

	err := c.withAutoSetup(ctx, func() error {
		res, err := c.db.WithContext(ctx).Delete(c.table.Name).
			Where("queue_name = ?", c.cfg.QueueName).
			Execute()
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, c.transportError("failed to purge queue", err)
	}

	c.logger.Infof("purged %d message(s) from queue %s", affected, c.cfg.QueueName)
	return int(affected), nil
}

// withAutoSetup runs op; if it failed because the table is missing and
// auto-setup is enabled, it creates the schema and runs op exactly once more.
func (c *Connection) withAutoSetup(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !isTableNotFound(err) {
		return err
	}
	if !c.cfg.AutoSetup {
		return dbqueue.NewErrorWithCause(dbqueue.ErrCodeTransport,
			fmt.Sprintf("table %q does not exist and auto_setup is disabled", c.table.Name), err)
	}

	c.logger.Infof("table %s does not exist, running setup", c.table.Name)
	if err := c.Setup(ctx); err != nil {
		return err
	}
	return op()
}

// transportError wraps store failures; errors already categorized pass through.
func (c *Connection) transportError(message string, err error) error {
	var qErr *dbqueue.Error
	if errors.As(err, &qErr) {
		return err
	}
	return dbqueue.NewErrorWithCause(dbqueue.ErrCodeTransport, message, err)
}

func (c *Connection) selectClaimableSQL() string {
	return c.dialect.Rebind(
		"SELECT id, body, headers, queue_name, created_at, available_at, delivered_at FROM " + c.table.Name +
			" WHERE " + claimablePredicate +
			" ORDER BY available_at ASC, id ASC LIMIT 1" + c.dialect.LockClause())
}

func (c *Connection) markDeliveredSQL() string {
	return c.dialect.Rebind(
		"UPDATE " + c.table.Name + " SET delivered_at = ?" +
			" WHERE id = ? AND (delivered_at IS NULL OR delivered_at < ?)")
}
