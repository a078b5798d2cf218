package dialect

import (
	"context"

	"github.com/nl2sql/sqlcore/internal/coreerr"
)

// Connect opens an Adapter for the given dialect, dispatching to the
// concrete per-dialect constructor (spec §4.1 dialect_name() values).
func Connect(ctx context.Context, p ConnectionParams) (Adapter, error) {
	switch p.Dialect {
	case Postgres:
		return OpenPostgres(ctx, p)
	case MySQL:
		return OpenMySQL(ctx, p)
	case Oracle:
		return OpenOracle(ctx, p)
	case SQLite:
		return OpenSQLite(ctx, p)
	default:
		return nil, coreerr.New(coreerr.KindUnsupportedDialect, string(p.Dialect))
	}
}
