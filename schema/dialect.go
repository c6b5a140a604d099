package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavor of a backend.
type Dialect string

// Supported dialects.
const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DialectFor maps a database/sql driver name to its dialect.
// Recognized drivers: mysql, postgres, pgx, sqlite3 (and its alias sqlite).
func DialectFor(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driverName)
	}
}

// RelicaDriver returns the driver name the relica query builder expects.
func (d Dialect) RelicaDriver() string {
	return string(d)
}

// LockClause is appended to the claim SELECT to take an exclusive row lock.
// SQLite has no row locks; its writer lock serializes claims instead.
func (d Dialect) LockClause() string {
	switch d {
	case MySQL, Postgres:
		return " FOR UPDATE"
	default:
		return ""
	}
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateStatements renders the DDL creating t and its indexes.
// Every statement is safe to run against an existing schema.
func (d Dialect) CreateStatements(t Table) []string {
	defs := make([]string, 0, len(t.Columns)+len(t.Indexes)+1)
	for _, c := range t.Columns {
		defs = append(defs, c.Name+" "+d.columnType(c, c.Name == t.PrimaryKey))
	}

	switch d {
	case MySQL:
		// MySQL lacks CREATE INDEX IF NOT EXISTS, so indexes live in the table body.
		for _, idx := range t.Indexes {
			defs = append(defs, fmt.Sprintf("INDEX %s (%s)", idx.Name, strings.Join(idx.Columns, ", ")))
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY(%s)", t.PrimaryKey))
		return []string{fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s) DEFAULT CHARACTER SET utf8mb4 COLLATE `utf8mb4_unicode_ci` ENGINE = InnoDB",
			t.Name, strings.Join(defs, ", "),
		)}
	case Postgres:
		defs = append(defs, fmt.Sprintf("PRIMARY KEY(%s)", t.PrimaryKey))
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", "))}
	for _, idx := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.Name, t.Name, strings.Join(idx.Columns, ", ")))
	}
	return stmts
}

func (d Dialect) columnType(c Column, primary bool) string {
	var typ string
	switch c.Type {
	case TypeID:
		switch d {
		case MySQL:
			return "BIGINT AUTO_INCREMENT NOT NULL"
		case Postgres:
			return "BIGSERIAL NOT NULL"
		default:
			// AUTOINCREMENT guarantees ids are never reused.
			return "INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL"
		}
	case TypeText:
		switch d {
		case MySQL:
			typ = "LONGTEXT"
		case Postgres:
			typ = "TEXT"
		default:
			typ = "CLOB"
		}
	case TypeString:
		typ = fmt.Sprintf("VARCHAR(%d)", c.Length)
	case TypeDateTime:
		switch d {
		case MySQL:
			typ = "DATETIME(6)"
		case Postgres:
			typ = "TIMESTAMP(6) WITHOUT TIME ZONE"
		default:
			typ = "DATETIME"
		}
	}
	if primary || !c.Nullable {
		return typ + " NOT NULL"
	}
	return typ + " DEFAULT NULL"
}
