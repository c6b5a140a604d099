// Package schema declares the physical layout of the queue table and renders
// it as idempotent DDL for each supported SQL dialect.
//
// The table is the contract between the transport and out-of-process tooling
// (admin scripts, monitoring queries), so its shape only changes with a
// major version.
package schema

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// ColumnType is the logical type of a column. Each Dialect maps it to a
// concrete SQL type.
type ColumnType int

const (
	// TypeID is an auto-incrementing 64-bit primary key.
	TypeID ColumnType = iota
	// TypeText is unbounded text.
	TypeText
	// TypeString is a bounded varchar; Column.Length holds the bound.
	TypeString
	// TypeDateTime is a timestamp without time zone, microsecond precision.
	TypeDateTime
)

// Column describes one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Length   int
	Nullable bool
}

// Index describes a secondary, non-unique index.
type Index struct {
	Name    string
	Columns []string
}

// Table is a statically declared table description.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey string
	Indexes    []Index
}

// Column names of the queue table.
const (
	ColumnID          = "id"
	ColumnBody        = "body"
	ColumnHeaders     = "headers"
	ColumnQueueName   = "queue_name"
	ColumnCreatedAt   = "created_at"
	ColumnAvailableAt = "available_at"
	ColumnDeliveredAt = "delivered_at"
)

// QueueNameLength bounds queue_name so it stays indexable on MySQL utf8mb4.
const QueueNameLength = 190

// maxIdentifierLength is the PostgreSQL limit; MySQL allows 64.
const maxIdentifierLength = 63

// ColumnNames lists the queue table columns in declaration order.
var ColumnNames = []string{
	ColumnID,
	ColumnBody,
	ColumnHeaders,
	ColumnQueueName,
	ColumnCreatedAt,
	ColumnAvailableAt,
	ColumnDeliveredAt,
}

// Messages returns the description of the queue table named tableName.
//
// The three indexes match exactly the predicates of the claim query
// (queue_name, available_at, delivered_at); without them claiming degrades
// to a full table scan as the table grows.
func Messages(tableName string) Table {
	return Table{
		Name: tableName,
		Columns: []Column{
			{Name: ColumnID, Type: TypeID},
			{Name: ColumnBody, Type: TypeText},
			{Name: ColumnHeaders, Type: TypeText},
			{Name: ColumnQueueName, Type: TypeString, Length: QueueNameLength},
			{Name: ColumnCreatedAt, Type: TypeDateTime},
			{Name: ColumnAvailableAt, Type: TypeDateTime},
			{Name: ColumnDeliveredAt, Type: TypeDateTime, Nullable: true},
		},
		PrimaryKey: ColumnID,
		Indexes: []Index{
			{Name: IndexName(tableName, ColumnQueueName), Columns: []string{ColumnQueueName}},
			{Name: IndexName(tableName, ColumnAvailableAt), Columns: []string{ColumnAvailableAt}},
			{Name: IndexName(tableName, ColumnDeliveredAt), Columns: []string{ColumnDeliveredAt}},
		},
	}
}

// IndexName returns a deterministic index name for table and columns.
// Names longer than the identifier limit are replaced by a hashed form.
func IndexName(tableName string, columns ...string) string {
	base := strings.ReplaceAll(tableName, ".", "_")
	name := "idx_" + base + "_" + strings.Join(columns, "_")
	if len(name) <= maxIdentifierLength {
		return name
	}
	sum := sha1.Sum([]byte(tableName + ":" + strings.Join(columns, ",")))
	return "idx_" + strings.ToLower(hex.EncodeToString(sum[:]))[:20]
}

// Column returns the column named name and whether it exists.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
