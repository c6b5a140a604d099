// Package relica provides the SQL queue store using the Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// Connection implements dbqueue.StatsStore on MySQL, PostgreSQL (lib/pq or
// pgx stdlib) and SQLite. Inserts, counts and listings go through Relica; the
// claim runs as one database/sql transaction with a row lock.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/dbqueue"
//	    "github.com/coregx/dbqueue/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Open database connection (parseTime is required for MySQL)
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/app?parseTime=true&loc=UTC")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create the store (driverName should be "mysql", "postgres", "pgx" or "sqlite3")
//	conn, err := relica.NewConnection(db, "mysql", dbqueue.DefaultConfiguration())
//
//	// Create services
//	transport, err := dbqueue.NewTransport(
//	    dbqueue.WithStore(conn),
//	    dbqueue.WithSerializer(serializer),
//	    dbqueue.WithLogger(logger),
//	)
package relica
