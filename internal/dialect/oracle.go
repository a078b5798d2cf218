package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/sijms/go-ora/v2"

	"github.com/nl2sql/sqlcore/internal/schema"
)

type oracleAdapter struct {
	db     *sql.DB
	params ConnectionParams
	owner  string // current schema owner, UPPERCASE; list_schemas never exceeds this (spec open question (b))
}

// OpenOracle connects to Oracle via the pure-Go go-ora/v2 driver and pins
// the adapter to the connecting principal's own schema, per spec §4.1 and
// the Oracle design-note open question: list_schemas always returns
// exactly the current user's schema, never system/audit catalogs, and
// there is no opt-in to broader visibility.
func OpenOracle(ctx context.Context, p ConnectionParams) (Adapter, error) {
	dsn := fmt.Sprintf("oracle://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Database)
	db, err := sql.Open("oracle", dsn)
	if err != nil {
		return nil, classifyGeneric(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyGeneric(err)
	}

	var owner string
	if err := db.QueryRowContext(ctx, "SELECT SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA') FROM DUAL").Scan(&owner); err != nil {
		db.Close()
		return nil, classifyGeneric(err)
	}

	return &oracleAdapter{db: db, params: p, owner: strings.ToUpper(owner)}, nil
}

func (a *oracleAdapter) DialectName() Name { return Oracle }

func (a *oracleAdapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(strings.ToUpper(name), `"`, `""`) + `"`
}

func (a *oracleAdapter) Close() error { return a.db.Close() }

func (a *oracleAdapter) TestConnection(ctx context.Context) (bool, string, ConnectionInfo, error) {
	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT banner FROM v$version WHERE ROWNUM = 1").Scan(&version); err != nil {
		// v$version requires a privilege some accounts lack; degrade gracefully.
		version = "unknown"
	}
	schemas, err := a.ListSchemas(ctx)
	if err != nil {
		return false, err.Error(), ConnectionInfo{}, classifyGeneric(err)
	}
	tableCount := 0
	for _, s := range schemas {
		tableCount += s.TableCount
	}
	return true, "connected", ConnectionInfo{ServerVersion: version, DatabaseName: a.owner, SchemaCount: len(schemas), TableCount: tableCount}, nil
}

// ListSchemas always returns exactly one entry: the connecting user's own
// schema (owner). Oracle has no notion of "schemas I can see" distinct
// from "users/schemas that exist"; exposing every schema in the database
// would leak other tenants' catalogs, which spec §4.1 forbids.
func (a *oracleAdapter) ListSchemas(ctx context.Context) ([]SchemaInfo, error) {
	var tableCount, viewCount int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM all_tables WHERE owner = :1", a.owner).Scan(&tableCount); err != nil {
		return nil, classifyGeneric(err)
	}
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM all_views WHERE owner = :1", a.owner).Scan(&viewCount); err != nil {
		return nil, classifyGeneric(err)
	}
	return []SchemaInfo{{SchemaName: a.owner, TableCount: tableCount, ViewCount: viewCount}}, nil
}

func (a *oracleAdapter) Snapshot(ctx context.Context, schemaName string, sampleRowsPerTable int) (*schema.Snapshot, error) {
	owner := strings.ToUpper(schemaName)
	if owner != a.owner {
		return nil, classifyGeneric(fmt.Errorf("schema %q is outside the connecting principal's own schema %q", schemaName, a.owner))
	}

	snap := &schema.Snapshot{DatabaseName: a.owner, SchemaName: a.owner, CapturedAt: time.Now()}

	rows, err := a.db.QueryContext(ctx, `
SELECT table_name, 'TABLE' FROM all_tables WHERE owner = :1
UNION ALL
SELECT view_name, 'VIEW' FROM all_views WHERE owner = :1
ORDER BY 1`, owner)
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
		tables = append(tables, schema.Table{Name: name, QualifiedName: owner + "." + name, IsView: kind == "VIEW"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyGeneric(err)
	}

	pkByTable, fkByTable, err := a.keys(ctx, owner)
	if err != nil {
		return nil, err
	}

	for i := range tables {
		cols, err := a.columns(ctx, owner, tables[i].Name, pkByTable[tables[i].Name], fkByTable[tables[i].Name])
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
		tables[i].PrimaryKeys = pkByTable[tables[i].Name]
		tables[i].ForeignKeys = fkByTable[tables[i].Name]

		if sampleRowsPerTable > 0 && !tables[i].IsView {
			q := fmt.Sprintf("SELECT * FROM %s WHERE ROWNUM <= %d", a.QuoteIdentifier(tables[i].Name), sampleRowsPerTable)
			if res, err := a.Execute(ctx, q, ExecOptions{RowLimit: sampleRowsPerTable, Timeout: 5 * time.Second}); err == nil {
				tables[i].SampleRows = res.Rows
			}
		}

		var count sql.NullInt64
		_ = a.db.QueryRowContext(ctx, "SELECT num_rows FROM all_tables WHERE owner = :1 AND table_name = :2", owner, tables[i].Name).Scan(&count)
		tables[i].ApproxRowCount = count.Int64
	}

	snap.Tables = tables
	return snap, nil
}

func (a *oracleAdapter) keys(ctx context.Context, owner string) (map[string][]string, map[string][]schema.ForeignKey, error) {
	pk := map[string][]string{}
	pkRows, err := a.db.QueryContext(ctx, `
SELECT cols.table_name, cols.column_name
FROM all_constraints cons
JOIN all_cons_columns cols ON cons.constraint_name = cols.constraint_name AND cons.owner = cols.owner
WHERE cons.constraint_type = 'P' AND cons.owner = :1
ORDER BY cols.table_name, cols.position`, owner)
	if err != nil {
		return nil, nil, classifyGeneric(err)
	}
	for pkRows.Next() {
		var table, col string
		if err := pkRows.Scan(&table, &col); err != nil {
			pkRows.Close()
			return nil, nil, classifyGeneric(err)
		}
		pk[table] = append(pk[table], col)
	}
	pkRows.Close()
	if err := pkRows.Err(); err != nil {
		return nil, nil, classifyGeneric(err)
	}

	fk := map[string][]schema.ForeignKey{}
	fkRows, err := a.db.QueryContext(ctx, `
SELECT a.table_name, a.column_name, r_cols.table_name, r_cols.column_name
FROM all_cons_columns a
JOIN all_constraints c ON a.constraint_name = c.constraint_name AND a.owner = c.owner
JOIN all_cons_columns r_cols ON c.r_constraint_name = r_cols.constraint_name AND c.owner = r_cols.owner
WHERE c.constraint_type = 'R' AND c.owner = :1`, owner)
	if err != nil {
		return nil, nil, classifyGeneric(err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fromTable, fromCol, toTable, toCol string
		if err := fkRows.Scan(&fromTable, &fromCol, &toTable, &toCol); err != nil {
			return nil, nil, classifyGeneric(err)
		}
		fk[fromTable] = append(fk[fromTable], schema.ForeignKey{FromColumn: fromCol, ToTable: toTable, ToColumn: toCol})
	}
	return pk, fk, fkRows.Err()
}

func (a *oracleAdapter) columns(ctx context.Context, owner, tableName string, pks []string, fks []schema.ForeignKey) ([]schema.Column, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT column_name, data_type, nullable, data_default
FROM all_tab_columns
WHERE owner = :1 AND table_name = :2
ORDER BY column_id`, owner, tableName)
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
		c := schema.Column{Name: name, DataType: dtype, Nullable: nullable == "Y", Default: def.String, IsPrimaryKey: pkSet[name]}
		if fk, ok := fkByCol[name]; ok {
			c.IsForeignKey = true
			fkCopy := fk
			c.References = &fkCopy
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (a *oracleAdapter) Execute(ctx context.Context, sqlText string, opts ExecOptions) (*QueryResult, error) {
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
