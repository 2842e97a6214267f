//go:build integration

package pgcrud_test

import (
	"context"
	"strings"
	"testing"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
)

func describe(t *testing.T, p *pgcrud.PostgresCrud, input pgcrud.GetTableSchemaInput) *pgcrud.TableSchema {
	t.Helper()
	out := p.GetTableSchema(context.Background(), input)
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	return out.Table
}

func TestDescribeTable_Columns(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE TABLE users (id serial PRIMARY KEY, name varchar(100) NOT NULL, email text, age integer DEFAULT 0)")

	ts := describe(t, p, pgcrud.GetTableSchemaInput{Table: "users"})
	if ts.Type != "table" || ts.Schema != "public" {
		t.Fatalf("expected public table, got %s %s", ts.Schema, ts.Type)
	}
	if len(ts.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(ts.Columns))
	}
	for _, col := range ts.Columns {
		switch col.Name {
		case "id":
			if !col.IsPrimaryKey || col.Type != "integer" {
				t.Errorf("unexpected id column: %+v", col)
			}
		case "name":
			if col.Nullable || !strings.Contains(col.Type, "character varying") {
				t.Errorf("unexpected name column: %+v", col)
			}
		case "email":
			if !col.Nullable || col.Type != "text" {
				t.Errorf("unexpected email column: %+v", col)
			}
		case "age":
			if col.Default != "0" {
				t.Errorf("expected age default 0, got %q", col.Default)
			}
		}
	}
	if ts.Definition != "" {
		t.Fatalf("expected no definition for a table, got %q", ts.Definition)
	}
}

func TestDescribeTable_IndexesAndConstraints(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		`CREATE TABLE accounts (
			id serial PRIMARY KEY,
			email text UNIQUE,
			balance integer CHECK (balance >= 0)
		)`,
		"CREATE INDEX accounts_balance_idx ON accounts (balance)")

	ts := describe(t, p, pgcrud.GetTableSchemaInput{Table: "accounts"})

	idx := map[string]pgcrud.IndexInfo{}
	for _, i := range ts.Indexes {
		idx[i.Name] = i
	}
	if !idx["accounts_pkey"].IsPrimary || !idx["accounts_email_key"].IsUnique {
		t.Fatalf("unexpected indexes: %+v", ts.Indexes)
	}
	if !strings.Contains(idx["accounts_balance_idx"].Definition, "btree (balance)") {
		t.Fatalf("unexpected index definition: %q", idx["accounts_balance_idx"].Definition)
	}

	types := map[string]bool{}
	for _, c := range ts.Constraints {
		types[c.Type] = true
	}
	for _, want := range []string{"PRIMARY KEY", "UNIQUE", "CHECK"} {
		if !types[want] {
			t.Fatalf("expected %s constraint, got %+v", want, ts.Constraints)
		}
	}
}

func TestDescribeTable_ForeignKeys(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE TABLE authors (id serial PRIMARY KEY)",
		"CREATE TABLE books (id serial PRIMARY KEY, author_id integer REFERENCES authors(id) ON DELETE CASCADE)")

	ts := describe(t, p, pgcrud.GetTableSchemaInput{Table: "books"})
	if len(ts.ForeignKeys) != 1 {
		t.Fatalf("expected 1 foreign key, got %d", len(ts.ForeignKeys))
	}
	fk := ts.ForeignKeys[0]
	if fk.Columns != "author_id" || fk.ReferencedTable != "authors" || fk.ReferencedColumns != "id" {
		t.Fatalf("unexpected foreign key: %+v", fk)
	}
	if fk.OnDelete != "CASCADE" || fk.OnUpdate != "NO ACTION" {
		t.Fatalf("unexpected actions: %+v", fk)
	}
}

func TestDescribeTable_NotFound(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())

	out := p.GetTableSchema(context.Background(), pgcrud.GetTableSchemaInput{Table: "nonexistent"})
	if out.Success {
		t.Fatal("expected error for nonexistent table")
	}
	if !strings.Contains(out.Error, `relation "public.nonexistent" does not exist`) {
		t.Fatalf("unexpected error: %q", out.Error)
	}
	if !strings.Contains(out.Error, "get_tables") {
		t.Fatalf("expected guidance, got %q", out.Error)
	}
}

func TestDescribeTable_View(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE TABLE users (id serial PRIMARY KEY, name text, active boolean)",
		"CREATE VIEW active_users AS SELECT id, name FROM users WHERE active")

	ts := describe(t, p, pgcrud.GetTableSchemaInput{Table: "active_users"})
	if ts.Type != "view" {
		t.Fatalf("expected view, got %q", ts.Type)
	}
	if !strings.Contains(ts.Definition, "FROM users") {
		t.Fatalf("expected view definition, got %q", ts.Definition)
	}
	if len(ts.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(ts.Columns))
	}
}

func TestDescribeTable_MaterializedView(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE TABLE orders (id serial PRIMARY KEY, total integer)",
		"CREATE MATERIALIZED VIEW order_totals AS SELECT sum(total) AS total FROM orders",
		"CREATE INDEX order_totals_idx ON order_totals (total)")

	ts := describe(t, p, pgcrud.GetTableSchemaInput{Table: "order_totals"})
	if ts.Type != "materialized_view" || ts.Definition == "" {
		t.Fatalf("unexpected materialized view: %+v", ts)
	}
	if len(ts.Indexes) != 1 {
		t.Fatalf("expected 1 index, got %d", len(ts.Indexes))
	}
}

func TestDescribeTable_Partitioned(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE TABLE events (id integer, created date) PARTITION BY RANGE (created)",
		"CREATE TABLE events_2024 PARTITION OF events FOR VALUES FROM ('2024-01-01') TO ('2025-01-01')",
		"CREATE TABLE events_2025 PARTITION OF events FOR VALUES FROM ('2025-01-01') TO ('2026-01-01')")

	parent := describe(t, p, pgcrud.GetTableSchemaInput{Table: "events"})
	if parent.Type != "partitioned_table" || parent.Partition == nil {
		t.Fatalf("unexpected partitioned table: %+v", parent)
	}
	if parent.Partition.Strategy != "range" || parent.Partition.PartitionKey != "created" {
		t.Fatalf("unexpected partition info: %+v", parent.Partition)
	}
	if len(parent.Partition.Partitions) != 2 {
		t.Fatalf("expected 2 partitions, got %v", parent.Partition.Partitions)
	}

	child := describe(t, p, pgcrud.GetTableSchemaInput{Table: "events_2024"})
	if child.Partition == nil || child.Partition.ParentTable != "events" {
		t.Fatalf("expected parent events, got %+v", child.Partition)
	}
}

func TestDescribeTable_SchemaQualified(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE SCHEMA billing",
		"CREATE TABLE billing.invoices (id serial PRIMARY KEY)")

	for _, in := range []pgcrud.GetTableSchemaInput{
		{Table: "billing.invoices"},
		{Table: "invoices", Schema: "billing"},
	} {
		ts := describe(t, p, in)
		if ts.Schema != "billing" || ts.Name != "invoices" {
			t.Fatalf("unexpected relation for %+v: %s.%s", in, ts.Schema, ts.Name)
		}
	}

	out := p.GetTableSchema(context.Background(), pgcrud.GetTableSchemaInput{Table: "billing.invoices", Schema: "public"})
	if out.Success {
		t.Fatal("expected conflicting schema to be rejected")
	}
}

func TestDescribeTable_CaseSensitiveName(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), `CREATE TABLE "Mixed" (id integer)`)

	ts := describe(t, p, pgcrud.GetTableSchemaInput{Table: "Mixed"})
	if ts.Name != "Mixed" {
		t.Fatalf("expected Mixed, got %q", ts.Name)
	}
	if out := p.GetTableSchema(context.Background(), pgcrud.GetTableSchemaInput{Table: "mixed"}); out.Success {
		t.Fatal("expected lower-case name not to resolve")
	}
}

func TestDescribeTable_InvalidName(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())
	before := p.Stats().AcquireCount

	out := p.GetTableSchema(context.Background(), pgcrud.GetTableSchemaInput{Table: "users; SELECT 1"})
	if out.Success || !strings.Contains(out.Error, "invalid table name") {
		t.Fatalf("expected validation error, got %+v", out)
	}
	if p.Stats().AcquireCount != before {
		t.Fatal("expected no connection borrowed")
	}
}
