package pgcrud_test

import (
	"context"
	"os"
	"testing"

	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgcrud.Config {
	cfg := pgcrud.DefaultConfig()
	cfg.Pool.PoolSize = 3
	cfg.Pool.MaxOverflow = 2
	cfg.Pool.PoolTimeoutSeconds = 5
	cfg.Connection.ConnectTimeoutSeconds = 10
	return cfg
}

func newTestInstance(t *testing.T, config pgcrud.Config) (*pgcrud.PostgresCrud, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	config.Connection.URL = connStr
	ctx := context.Background()
	p, err := pgcrud.New(ctx, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create PostgresCrud: %v", err)
	}
	t.Cleanup(p.Close)
	return p, connStr
}

// setupSQL runs DDL and fixtures through a transaction. DDL keywords are not
// denied for setup statements.
func setupSQL(t *testing.T, p *pgcrud.PostgresCrud, stmts ...string) {
	t.Helper()
	in := pgcrud.TransactionInput{}
	for _, s := range stmts {
		in.Statements = append(in.Statements, pgcrud.TransactionStatement{SQL: s})
	}
	out := p.ExecuteTransaction(context.Background(), in)
	if !out.Success {
		t.Fatalf("setup failed: %s", out.Error)
	}
}

// newSetupInstance returns an instance with an empty denylist, used to
// create fixtures.
func newSetupInstance(t *testing.T, connStr string) *pgcrud.PostgresCrud {
	t.Helper()
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.Connection.URL = connStr
	cfg.DeniedKeywords = []string{}
	p, err := pgcrud.New(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create setup instance: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

// newFixtureInstance creates fixtures with a permissive instance, then
// returns an instance built from config on the same database.
func newFixtureInstance(t *testing.T, config pgcrud.Config, fixtures ...string) *pgcrud.PostgresCrud {
	t.Helper()
	connStr := acquireTestDB(t)
	setupSQL(t, newSetupInstance(t, connStr), fixtures...)

	ctx := context.Background()
	config.Connection.URL = connStr
	p, err := pgcrud.New(ctx, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create PostgresCrud: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

const usersFixture = `CREATE TABLE users (
	id serial PRIMARY KEY,
	name text NOT NULL,
	email text UNIQUE,
	age integer,
	active boolean DEFAULT true
)`
