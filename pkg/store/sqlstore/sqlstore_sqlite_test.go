package sqlstore

import (
	"context"
	"testing"

	"github.com/wilhg/devici-mcp/pkg/store/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, "sqlite:file:"+t.Name()+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, openSQLite(t))
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	st := openSQLite(t)
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in      string
		drv     string
		dialect string
		wantErr bool
	}{
		{in: "sqlite:file:x.db", drv: "sqlite3", dialect: dialectSQLite},
		{in: "sqlite:", drv: "sqlite3", dialect: dialectSQLite},
		{in: "postgres://u:p@localhost:5432/db?sslmode=disable", drv: "pgx", dialect: dialectPostgres},
		{in: "postgresql://localhost/db", drv: "pgx", dialect: dialectPostgres},
		{in: "host=localhost user=u dbname=db", drv: "pgx", dialect: dialectPostgres},
		{in: "mysql://localhost/db", wantErr: true},
		{in: "whatever", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, c := range cases {
		drv, dsn, dialect, err := parseDSN(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if drv != c.drv || dialect != c.dialect || dsn == "" {
			t.Fatalf("%q: drv=%s dialect=%s dsn=%s", c.in, drv, dialect, dsn)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	if got := pg.rebind(`a = ? AND b = ?`); got != `a = $1 AND b = $2` {
		t.Fatalf("rebind=%s", got)
	}
	lite := &Store{dialect: dialectSQLite}
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("rebind=%s", got)
	}
}
