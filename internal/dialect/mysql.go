package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/nl2sql/sqlcore/internal/schema"
)

type mysqlAdapter struct {
	db     *sql.DB
	params ConnectionParams
}

// OpenMySQL connects to MySQL via go-sql-driver/mysql.
func OpenMySQL(ctx context.Context, p ConnectionParams) (Adapter, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", p.User, p.Password, p.Host, p.Port, p.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyGeneric(err)
	}
	return &mysqlAdapter{db: db, params: p}, nil
}

func (a *mysqlAdapter) DialectName() Name { return MySQL }

func (a *mysqlAdapter) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (a *mysqlAdapter) Close() error { return a.db.Close() }

func (a *mysqlAdapter) TestConnection(ctx context.Context) (bool, string, ConnectionInfo, error) {
	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	// MySQL has no schema/database distinction: a "schema" here is a database.
	schemas, err := a.ListSchemas(ctx)
	if err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	tableCount := 0
	for _, s := range schemas {
		tableCount += s.TableCount
	}
	return true, "connected", ConnectionInfo{ServerVersion: version, DatabaseName: a.params.Database, SchemaCount: len(schemas), TableCount: tableCount}, nil
}

func (a *mysqlAdapter) ListSchemas(ctx context.Context) ([]SchemaInfo, error) {
	const q = `
SELECT table_schema,
       SUM(table_type = 'BASE TABLE') AS table_count,
       SUM(table_type = 'VIEW') AS view_count
FROM information_schema.tables
WHERE table_schema NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
GROUP BY table_schema
ORDER BY table_schema`
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

func (a *mysqlAdapter) Snapshot(ctx context.Context, schemaName string, sampleRowsPerTable int) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{DatabaseName: schemaName, SchemaName: schemaName, CapturedAt: time.Now()}

	const tableQ = `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = ?
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
		tables = append(tables, schema.Table{Name: name, QualifiedName: schemaName + "." + name, IsView: ttype == "VIEW"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyGeneric(err)
	}

	pkByTable, fkByTable, err := a.keys(ctx, schemaName)
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
			q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", a.QuoteIdentifier(tables[i].Name), sampleRowsPerTable)
			if res, err := a.Execute(ctx, q, ExecOptions{RowLimit: sampleRowsPerTable, Timeout: 5 * time.Second}); err == nil {
				tables[i].SampleRows = res.Rows
			}
		}

		var count sql.NullInt64
		_ = a.db.QueryRowContext(ctx, "SELECT table_rows FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", schemaName, tables[i].Name).Scan(&count)
		tables[i].ApproxRowCount = count.Int64
	}

	snap.Tables = tables
	return snap, nil
}

func (a *mysqlAdapter) keys(ctx context.Context, schemaName string) (map[string][]string, map[string][]schema.ForeignKey, error) {
	const q = `
SELECT table_name, column_name, constraint_name,
       referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`
	rows, err := a.db.QueryContext(ctx, q, schemaName)
	if err != nil {
		return nil, nil, classifyGeneric(err)
	}
	defer rows.Close()

	pk := map[string][]string{}
	fk := map[string][]schema.ForeignKey{}
	for rows.Next() {
		var table, col, constraint string
		var refTable, refCol sql.NullString
		if err := rows.Scan(&table, &col, &constraint, &refTable, &refCol); err != nil {
			return nil, nil, classifyGeneric(err)
		}
		if constraint == "PRIMARY" {
			pk[table] = append(pk[table], col)
		}
		if refTable.Valid {
			fk[table] = append(fk[table], schema.ForeignKey{FromColumn: col, ToTable: refTable.String, ToColumn: refCol.String})
		}
	}
	return pk, fk, rows.Err()
}

func (a *mysqlAdapter) columns(ctx context.Context, schemaName, tableName string, pks []string, fks []schema.ForeignKey) ([]schema.Column, error) {
	const q = `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
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
		c := schema.Column{Name: name, DataType: dtype, Nullable: nullable == "YES", Default: def.String, IsPrimaryKey: pkSet[name]}
		if fk, ok := fkByCol[name]; ok {
			c.IsForeignKey = true
			fkCopy := fk
			c.References = &fkCopy
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (a *mysqlAdapter) Execute(ctx context.Context, sqlText string, opts ExecOptions) (*QueryResult, error) {
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
