// Package dbqueue provides a durable, multi-consumer message queue stored in a
// relational database table, usable as a library and as a standalone service.
//
// Messages are rows of one table, partitioned into logical queues by name.
// Consumers claim a row inside a transaction with an exclusive row lock and
// mark it delivered; acknowledging or rejecting deletes it. A consumer that
// dies without settling its message leaves the row delivered, and the row
// becomes claimable again once the redeliver timeout has elapsed.
//
// # Features
//
//   - At-least-once delivery with a visibility timeout (no heartbeats)
//   - FIFO by availability time, with per-message delays
//   - Transactional claim: at most one consumer holds a message at a time
//   - Poison messages are rejected so they never block the queue
//   - Automatic table creation on first use (auto_setup)
//   - MySQL, PostgreSQL and SQLite via Relica adapters
//   - Options Pattern for service configuration
//   - Pluggable Logger, Serializer and notification system
//   - Optional consumer Worker with multiplier backoff retries
//
// # Quick Start
//
// Resolve the transport configuration and open a connection:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/dbqueue"
//	    "github.com/coregx/dbqueue/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	db, _ := sql.Open("mysql", "user:pass@tcp(localhost:3306)/app?parseTime=true&loc=UTC")
//
//	cfg, err := dbqueue.ParseDSN("doctrine://default?queue_name=orders", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	conn, err := relica.NewConnection(db, "mysql", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Register message types and build the transport:
//
//	serializer := dbqueue.NewJSONSerializer()
//	_ = serializer.Register("order.created", func() interface{} { return &OrderCreated{} })
//
//	transport, _ := dbqueue.NewTransport(
//	    dbqueue.WithStore(conn),
//	    dbqueue.WithSerializer(serializer),
//	)
//
// Send and receive:
//
//	sent, err := transport.Send(ctx, model.NewEnvelope(&OrderCreated{ID: 42}).WithDelay(time.Minute))
//
//	envs, err := transport.Get(ctx)
//	for _, env := range envs {
//	    // handle env.Message
//	    _ = transport.Ack(ctx, env)
//	}
//
// Or let a Worker drive the loop:
//
//	worker, _ := dbqueue.NewWorker(
//	    dbqueue.WithTransport(transport),
//	    dbqueue.WithHandler(dbqueue.HandlerFunc(handle)),
//	)
//	go worker.Run(ctx)
//
// # Connection String
//
// The transport is configured by a DSN whose host names the database
// connection and whose query string carries the options:
//
//	doctrine://default?table_name=messenger_messages&queue_name=default&redeliver_timeout=3600&auto_setup=true
//
// Any other option key is rejected with a CONFIGURATION_ERROR.
//
// # Message Flow
//
//  1. SEND
//     Sender → Serializer.Encode → INSERT (available_at = now + delay)
//
//  2. RECEIVE
//     Receiver → BEGIN → SELECT ... FOR UPDATE (oldest claimable)
//     → UPDATE delivered_at = now → COMMIT
//     → Serializer.Decode (on failure: reject, then DECODE_ERROR)
//
//  3. SETTLE
//     Ack or Reject → DELETE by id
//     No settle → claimable again after redeliver_timeout
//
// # Database Schema
//
// One table (default messenger_messages):
//
//	id            bigint, auto-increment primary key
//	body          text, not null
//	headers       text, not null (JSON object)
//	queue_name    varchar(190), not null
//	created_at    datetime, not null
//	available_at  datetime, not null
//	delivered_at  datetime, null
//
// with one index each on queue_name, available_at and delivered_at.
// See the schema package for the per-dialect DDL.
package dbqueue
