package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nl2sql/sqlcore/internal/schema"
)

type sqliteAdapter struct {
	db     *sql.DB
	params ConnectionParams
}

// OpenSQLite connects to a SQLite file via modernc.org/sqlite, the
// teacher's pure-Go driver choice (no cgo). SQLite has no schema/user
// concept; list_schemas returns a single synthetic "main" schema.
func OpenSQLite(ctx context.Context, p ConnectionParams) (Adapter, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", p.File)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writes regardless; avoid lock contention
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyGeneric(err)
	}
	return &sqliteAdapter{db: db, params: p}, nil
}

func (a *sqliteAdapter) DialectName() Name { return SQLite }

func (a *sqliteAdapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *sqliteAdapter) Close() error { return a.db.Close() }

func (a *sqliteAdapter) TestConnection(ctx context.Context) (bool, string, ConnectionInfo, error) {
	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	schemas, err := a.ListSchemas(ctx)
	if err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	return true, "connected", ConnectionInfo{ServerVersion: version, DatabaseName: a.params.File, SchemaCount: 1, TableCount: schemas[0].TableCount}, nil
}

const sqliteSchema = "main"

func (a *sqliteAdapter) ListSchemas(ctx context.Context) ([]SchemaInfo, error) {
	var tableCount, viewCount int
	row := a.db.QueryRowContext(ctx, `SELECT
		SUM(type = 'table') AS tables,
		SUM(type = 'view') AS views
	FROM sqlite_master WHERE name NOT LIKE 'sqlite_%'`)
	var t, v sql.NullInt64
	if err := row.Scan(&t, &v); err != nil {
		return nil, classifyGeneric(err)
	}
	tableCount, viewCount = int(t.Int64), int(v.Int64)
	return []SchemaInfo{{SchemaName: sqliteSchema, TableCount: tableCount, ViewCount: viewCount}}, nil
}

func (a *sqliteAdapter) Snapshot(ctx context.Context, schemaName string, sampleRowsPerTable int) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{DatabaseName: a.params.File, SchemaName: sqliteSchema, CapturedAt: time.Now()}

	rows, err := a.db.QueryContext(ctx, `SELECT name, type FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	var tables []schema.Table
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			rows.Close()
			return nil, classifyGeneric(err)
		}
		tables = append(tables, schema.Table{Name: name, QualifiedName: name, IsView: kind == "view"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyGeneric(err)
	}

	for i := range tables {
		cols, pks, fks, err := a.tableInfo(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
		tables[i].PrimaryKeys = pks
		tables[i].ForeignKeys = fks

		if sampleRowsPerTable > 0 && !tables[i].IsView {
			q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", a.QuoteIdentifier(tables[i].Name), sampleRowsPerTable)
			if res, err := a.Execute(ctx, q, ExecOptions{RowLimit: sampleRowsPerTable, Timeout: 5 * time.Second}); err == nil {
				tables[i].SampleRows = res.Rows
			}
		}

		var count int64
		_ = a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", a.QuoteIdentifier(tables[i].Name))).Scan(&count)
		tables[i].ApproxRowCount = count
	}

	snap.Tables = tables
	return snap, nil
}

// tableInfo uses PRAGMA table_info and PRAGMA foreign_key_list, SQLite's
// catalog-introspection mechanism (it has no information_schema).
func (a *sqliteAdapter) tableInfo(ctx context.Context, tableName string) ([]schema.Column, []string, []schema.ForeignKey, error) {
	fkRows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", a.QuoteIdentifier(tableName)))
	if err != nil {
		return nil, nil, nil, classifyGeneric(err)
	}
	fkByCol := map[string]schema.ForeignKey{}
	var fks []schema.ForeignKey
	for fkRows.Next() {
		var id, seq int
		var refTable, fromCol, toCol string
		var onUpdate, onDelete, match sql.NullString
		if err := fkRows.Scan(&id, &seq, &refTable, &fromCol, &toCol, &onUpdate, &onDelete, &match); err != nil {
			fkRows.Close()
			return nil, nil, nil, classifyGeneric(err)
		}
		fk := schema.ForeignKey{FromColumn: fromCol, ToTable: refTable, ToColumn: toCol}
		fkByCol[fromCol] = fk
		fks = append(fks, fk)
	}
	fkRows.Close()
	if err := fkRows.Err(); err != nil {
		return nil, nil, nil, classifyGeneric(err)
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", a.QuoteIdentifier(tableName)))
	if err != nil {
		return nil, nil, nil, classifyGeneric(err)
	}
	defer rows.Close()

	var cols []schema.Column
	var pks []string
	for rows.Next() {
		var cid int
		var name, dtype string
		var notNull, pk int
		var def sql.NullString
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &def, &pk); err != nil {
			return nil, nil, nil, classifyGeneric(err)
		}
		c := schema.Column{
			Name:         name,
			DataType:     dtype,
			Nullable:     notNull == 0,
			Default:      def.String,
			IsPrimaryKey: pk > 0,
		}
		if pk > 0 {
			pks = append(pks, name)
		}
		if fk, ok := fkByCol[name]; ok {
			c.IsForeignKey = true
			fkCopy := fk
			c.References = &fkCopy
		}
		cols = append(cols, c)
	}
	return cols, pks, fks, rows.Err()
}

func (a *sqliteAdapter) Execute(ctx context.Context, sqlText string, opts ExecOptions) (*QueryResult, error) {
	if IsMutation(sqlText) && !opts.AllowWrite {
		return nil, errReadOnlyRejected(sqlText)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := a.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyGeneric(err)
	}

	var out []map[string]any
	for rows.Next() {
		if opts.RowLimit > 0 && len(out) >= opts.RowLimit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyGeneric(err)
		}
		rowMap := make(map[string]any, len(cols))
		for i, c := range cols {
			rowMap[c] = values[i]
		}
		out = append(out, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyGeneric(err)
	}
	return &QueryResult{Columns: cols, Rows: out, RowCount: len(out), Elapsed: time.Since(start)}, nil
}
