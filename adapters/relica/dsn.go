package relica

import (
	"database/sql"

	"github.com/coregx/dbqueue"
)

// NewConnectionFromDSN resolves a transport connection string and options
// (see dbqueue.ParseDSN) and creates a Connection on sqlDB.
//
// The host part of the DSN names the connection; it is informational here,
// since sqlDB already is that connection.
//
// Example:
//
//	conn, err := relica.NewConnectionFromDSN(db, "postgres",
//	    "doctrine://default?queue_name=emails&redeliver_timeout=300", nil)
func NewConnectionFromDSN(
	sqlDB *sql.DB,
	driverName string,
	dsn string,
	options map[string]interface{},
	opts ...ConnectionOption,
) (*Connection, error) {
	cfg, err := dbqueue.ParseDSN(dsn, options)
	if err != nil {
		return nil, err
	}
	return NewConnection(sqlDB, driverName, cfg, opts...)
}
