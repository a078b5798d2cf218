package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nl2sql/sqlcore/internal/schema"
)

type postgresAdapter struct {
	db     *sql.DB
	params ConnectionParams
}

// OpenPostgres connects to PostgreSQL via pgx's database/sql driver.
func OpenPostgres(ctx context.Context, p ConnectionParams) (Adapter, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer", p.User, p.Password, p.Host, p.Port, p.Database)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyGeneric(err)
	}
	return &postgresAdapter{db: db, params: p}, nil
}

func (a *postgresAdapter) DialectName() Name { return Postgres }

func (a *postgresAdapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *postgresAdapter) Close() error { return a.db.Close() }

func (a *postgresAdapter) TestConnection(ctx context.Context) (bool, string, ConnectionInfo, error) {
	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	schemas, err := a.ListSchemas(ctx)
	if err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	tableCount := 0
	for _, s := range schemas {
		tableCount += s.TableCount
	}
	return true, "connected", ConnectionInfo{
		ServerVersion: version,
		DatabaseName:  a.params.Database,
		SchemaCount:   len(schemas),
		TableCount:    tableCount,
	}, nil
}

func (a *postgresAdapter) ListSchemas(ctx context.Context) ([]SchemaInfo, error) {
	const q = `
SELECT n.nspname,
       count(*) FILTER (WHERE c.relkind = 'r') AS table_count,
       count(*) FILTER (WHERE c.relkind = 'v') AS view_count
FROM pg_namespace n
JOIN pg_class c ON c.relnamespace = n.oid
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND has_schema_privilege(n.nspname, 'USAGE')
GROUP BY n.nspname
ORDER BY n.nspname`
	rows, err := a.db.QueryContext(ctx, q)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	defer rows.Close()

	var out []SchemaInfo
	for rows.Next() {
		var s SchemaInfo
		if err := rows.Scan(&s.SchemaName, &s.TableCount, &s.ViewCount); err != nil {
			return nil, classifyGeneric(err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (a *postgresAdapter) Snapshot(ctx context.Context, schemaName string, sampleRowsPerTable int) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{DatabaseName: a.params.Database, SchemaName: schemaName, CapturedAt: time.Now()}

	const tableQ = `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = $1
ORDER BY table_name`
	rows, err := a.db.QueryContext(ctx, tableQ, schemaName)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	var tables []schema.Table
	for rows.Next() {
		var name, ttype string
		if err := rows.Scan(&name, &ttype); err != nil {
			rows.Close()
			return nil, classifyGeneric(err)
		}
		tables = append(tables, schema.Table{
			Name:          name,
			QualifiedName: schemaName + "." + name,
			IsView:        ttype == "VIEW",
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyGeneric(err)
	}

	pkByTable, err := a.primaryKeys(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	fkByTable, err := a.foreignKeys(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	for i := range tables {
		cols, err := a.columns(ctx, schemaName, tables[i].Name, pkByTable[tables[i].Name], fkByTable[tables[i].Name])
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
		tables[i].PrimaryKeys = pkByTable[tables[i].Name]
		tables[i].ForeignKeys = fkByTable[tables[i].Name]

		if sampleRowsPerTable > 0 && !tables[i].IsView {
			sampleQ := fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", a.QuoteIdentifier(schemaName), a.QuoteIdentifier(tables[i].Name), sampleRowsPerTable)
			if res, err := a.Execute(ctx, sampleQ, ExecOptions{RowLimit: sampleRowsPerTable, Timeout: 5 * time.Second}); err == nil {
				tables[i].SampleRows = res.Rows
			}
		}

		var count int64
		countQ := fmt.Sprintf("SELECT reltuples::bigint FROM pg_class WHERE oid = %s.%s::regclass", quoteLiteral(schemaName), quoteLiteral(tables[i].Name))
		_ = a.db.QueryRowContext(ctx, countQ).Scan(&count)
		tables[i].ApproxRowCount = count
	}

	snap.Tables = tables
	return snap, nil
}

func quoteLiteral(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func (a *postgresAdapter) primaryKeys(ctx context.Context, schemaName string) (map[string][]string, error) {
	const q = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
ORDER BY tc.table_name, kcu.ordinal_position`
	rows, err := a.db.QueryContext(ctx, q, schemaName)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return nil, classifyGeneric(err)
		}
		out[table] = append(out[table], col)
	}
	return out, rows.Err()
}

func (a *postgresAdapter) foreignKeys(ctx context.Context, schemaName string) (map[string][]schema.ForeignKey, error) {
	const q = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`
	rows, err := a.db.QueryContext(ctx, q, schemaName)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	defer rows.Close()
	out := map[string][]schema.ForeignKey{}
	for rows.Next() {
		var fromTable, fromCol, toTable, toCol string
		if err := rows.Scan(&fromTable, &fromCol, &toTable, &toCol); err != nil {
			return nil, classifyGeneric(err)
		}
		out[fromTable] = append(out[fromTable], schema.ForeignKey{FromColumn: fromCol, ToTable: toTable, ToColumn: toCol})
	}
	return out, rows.Err()
}

func (a *postgresAdapter) columns(ctx context.Context, schemaName, tableName string, pks []string, fks []schema.ForeignKey) ([]schema.Column, error) {
	const q = `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
	rows, err := a.db.QueryContext(ctx, q, schemaName, tableName)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	defer rows.Close()

	pkSet := map[string]bool{}
	for _, pk := range pks {
		pkSet[pk] = true
	}
	fkByCol := map[string]schema.ForeignKey{}
	for _, fk := range fks {
		fkByCol[fk.FromColumn] = fk
	}

	var cols []schema.Column
	for rows.Next() {
		var name, dtype, nullable string
		var def sql.NullString
		if err := rows.Scan(&name, &dtype, &nullable, &def); err != nil {
			return nil, classifyGeneric(err)
		}
		c := schema.Column{
			Name:         name,
			DataType:     dtype,
			Nullable:     nullable == "YES",
			Default:      def.String,
			IsPrimaryKey: pkSet[name],
		}
		if fk, ok := fkByCol[name]; ok {
			c.IsForeignKey = true
			fkCopy := fk
			c.References = &fkCopy
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (a *postgresAdapter) Execute(ctx context.Context, sqlText string, opts ExecOptions) (*QueryResult, error) {
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

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		return s[:i]
	}
	return s
}
