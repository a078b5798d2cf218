// Package dialect implements the Dialect Adapter (C1): a uniform catalog
// and query API over PostgreSQL, MySQL, Oracle, and SQLite, so that every
// other component in the core deals with one interface and receives the
// dialect name only to shape prompts and error regexes.
package dialect

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/nl2sql/sqlcore/internal/schema"
)

// Name is one of the four supported dialects.
type Name string

const (
	Postgres Name = "postgresql"
	MySQL    Name = "mysql"
	Oracle   Name = "oracle"
	SQLite   Name = "sqlite"
)

// ConnectionParams identifies one database endpoint. Password is never
// logged; session.Session.Redacted returns a copy with it cleared.
type ConnectionParams struct {
	Dialect  Name
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// File is the SQLite database path; Host/Port/User are unused for SQLite.
	File string
}

// Key identifies a connection pool: dialect, host, port, database, user —
// explicitly excluding password, so two sessions with the same credentials
// share one pool entry (spec §3 ConnectionPool).
func (p ConnectionParams) Key() string {
	if p.Dialect == SQLite {
		return string(SQLite) + "|" + p.File
	}
	port := ""
	if p.Port != 0 {
		port = strconv.Itoa(p.Port)
	}
	return string(p.Dialect) + "|" + p.Host + "|" + port + "|" + p.Database + "|" + p.User
}

// SchemaInfo summarizes one schema for list_schemas.
type SchemaInfo struct {
	SchemaName string
	TableCount int
	ViewCount  int
}

// ConnectionInfo is returned by TestConnection with server/database facts.
type ConnectionInfo struct {
	ServerVersion string
	DatabaseName  string
	SchemaCount   int
	TableCount    int
}

// ExecOptions governs one execute() call.
type ExecOptions struct {
	RowLimit   int
	Timeout    time.Duration
	AllowWrite bool
}

// QueryResult is the tabular result of execute().
type QueryResult struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int
	Elapsed  time.Duration
}

// Adapter is the polymorphic contract over all four dialects (spec §4.1).
type Adapter interface {
	DialectName() Name
	TestConnection(ctx context.Context) (ok bool, message string, info ConnectionInfo, err error)
	ListSchemas(ctx context.Context) ([]SchemaInfo, error)
	Snapshot(ctx context.Context, schemaName string, sampleRowsPerTable int) (*schema.Snapshot, error)
	Execute(ctx context.Context, sqlText string, opts ExecOptions) (*QueryResult, error)
	// QuoteIdentifier renders an identifier using this dialect's quoting rules.
	QuoteIdentifier(name string) string
	Close() error
}

// mutationPattern matches statements that mutate data or schema. It is
// deliberately broad and checked against the first non-whitespace,
// non-comment keyword of the statement.
var mutationPattern = regexp.MustCompile(`(?is)^(?:\s|--[^\n]*(?:\n|$)|/\*.*?\*/)*(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|GRANT|REVOKE|CREATE|MERGE|REPLACE)\b`)

// IsMutation reports whether sqlText matches the mutation denylist. When it
// does, Execute must reject the statement unless opts.AllowWrite is set.
func IsMutation(sqlText string) bool {
	return mutationPattern.MatchString(sqlText)
}
