package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMutation(t *testing.T) {
	cases := map[string]bool{
		"SELECT * FROM foo":            false,
		"  select * from foo":          false,
		"INSERT INTO foo VALUES (1)":   true,
		"update foo set x = 1":         true,
		"DELETE FROM foo":              true,
		"DROP TABLE foo":               true,
		"  \n  CREATE TABLE foo (x int)": true,
		"WITH cte AS (SELECT 1) SELECT * FROM cte": false,
	}
	for sqlText, want := range cases {
		assert.Equal(t, want, IsMutation(sqlText), "sql=%q", sqlText)
	}
}

func TestConnectionParamsKey(t *testing.T) {
	p1 := ConnectionParams{Dialect: Postgres, Host: "h", Port: 5432, Database: "db", User: "u", Password: "secret"}
	p2 := p1
	p2.Password = "different"
	assert.Equal(t, p1.Key(), p2.Key(), "password must not affect pool key")

	sqlite1 := ConnectionParams{Dialect: SQLite, File: "/tmp/a.db"}
	sqlite2 := ConnectionParams{Dialect: SQLite, File: "/tmp/b.db"}
	assert.NotEqual(t, sqlite1.Key(), sqlite2.Key())

	noPort := ConnectionParams{Dialect: Oracle, Host: "h", Database: "db", User: "u"}
	assert.Equal(t, "oracle|h||db|u", noPort.Key())
}

func TestUnsupportedDialect(t *testing.T) {
	_, err := Connect(nil, ConnectionParams{Dialect: "mssql"}) //nolint:staticcheck // nil ctx ok, fails before use
	assert.Error(t, err)
}
