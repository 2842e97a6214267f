//go:build integration

package pgcrud_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
)

func rowValue(t *testing.T, row pgcrud.Row, col string) string {
	t.Helper()
	v, ok := row.Get(col)
	if !ok {
		t.Fatalf("column %q missing from row %v", col, row)
	}
	return fmt.Sprint(v)
}

func countRows(t *testing.T, p *pgcrud.PostgresCrud, table string, conditions map[string]any) int {
	t.Helper()
	out := p.ReadEntity(context.Background(), pgcrud.ReadEntityInput{Table: table, Conditions: conditions, Aggregate: "COUNT(*)"})
	if !out.Success {
		t.Fatalf("count failed: %s", out.Error)
	}
	n := 0
	fmt.Sscan(rowValue(t, out.Rows[0], "count"), &n)
	return n
}

// --- Entity CRUD ---

func TestCreateEntity(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.CreateEntity(context.Background(), pgcrud.CreateEntityInput{
		Table: "users",
		Data:  map[string]any{"name": "Alice", "email": "a@example.com"},
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.RowsAffected != 1 {
		t.Fatalf("expected rows_affected 1, got %d", out.RowsAffected)
	}
	if len(out.Rows) != 0 {
		t.Fatalf("expected no rows without returning, got %v", out.Rows)
	}
	if n := countRows(t, p, "users", map[string]any{"email": "a@example.com"}); n != 1 {
		t.Fatalf("expected 1 stored row, got %d", n)
	}
}

func TestCreateEntity_Returning(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.CreateEntity(context.Background(), pgcrud.CreateEntityInput{
		Table:     "public.users",
		Data:      map[string]any{"name": "Bob", "age": 41},
		Returning: true,
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Count != 1 || rowValue(t, out.Rows[0], "name") != "Bob" || rowValue(t, out.Rows[0], "active") != "true" {
		t.Fatalf("unexpected returned rows: %v", out.Rows)
	}
	if strings.Join(out.Columns, ",") != "id,name,email,age,active" {
		t.Fatalf("expected table column order, got %v", out.Columns)
	}
}

func TestCreateEntity_UniqueViolation(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name, email) VALUES ('Alice', 'a@example.com')")

	out := p.CreateEntity(context.Background(), pgcrud.CreateEntityInput{
		Table: "users",
		Data:  map[string]any{"name": "Imposter", "email": "a@example.com"},
	})
	if out.Success {
		t.Fatal("expected unique violation")
	}
	if !strings.HasPrefix(out.Error, "create_entity: ") || !strings.Contains(out.Error, "duplicate key") {
		t.Fatalf("expected error naming operation and cause, got %q", out.Error)
	}
}

func TestCreateEntity_UnknownTableGetsGuidance(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())

	out := p.CreateEntity(context.Background(), pgcrud.CreateEntityInput{Table: "nope", Data: map[string]any{"a": 1}})
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Error, "does not exist") || !strings.Contains(out.Error, "get_tables") {
		t.Fatalf("expected error with guidance, got %q", out.Error)
	}
}

func TestReadEntity_ConditionsAndLimit(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name, email, age) SELECT 'user' || g, 'u' || g || '@x.io', g FROM generate_series(1, 30) g")

	out := p.ReadEntity(context.Background(), pgcrud.ReadEntityInput{
		Table:      "users",
		Conditions: map[string]any{"id": 1},
		Limit:      10,
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Count != 1 || rowValue(t, out.Rows[0], "id") != "1" {
		t.Fatalf("expected exactly row id=1, got %v", out.Rows)
	}

	out = p.ReadEntity(context.Background(), pgcrud.ReadEntityInput{
		Table:          "users",
		Columns:        []string{"id", "age"},
		Limit:          10,
		Offset:         5,
		OrderBy:        "age",
		OrderDirection: "DESC",
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Count != 10 {
		t.Fatalf("expected 10 rows, got %d", out.Count)
	}
	if got := rowValue(t, out.Rows[0], "age"); got != "25" {
		t.Fatalf("expected first age 25, got %s", got)
	}
	if len(out.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %v", out.Columns)
	}
}

func TestReadEntity_NullCondition(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name, email) VALUES ('NoAge', 'n@x.io')",
		"INSERT INTO users (name, email, age) VALUES ('Aged', 'a@x.io', 30)")

	out := p.ReadEntity(context.Background(), pgcrud.ReadEntityInput{Table: "users", Conditions: map[string]any{"age": nil}})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Count != 1 || rowValue(t, out.Rows[0], "name") != "NoAge" {
		t.Fatalf("expected only NoAge, got %v", out.Rows)
	}
}

func TestReadEntity_Aggregate(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(),
		"CREATE TABLE orders (id serial PRIMARY KEY, status text, total integer)",
		"INSERT INTO orders (status, total) VALUES ('open', 10), ('open', 5), ('paid', 7)")

	out := p.ReadEntity(context.Background(), pgcrud.ReadEntityInput{
		Table:     "orders",
		Aggregate: "SUM(total)",
		GroupBy:   "status",
		OrderBy:   "status",
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Count != 2 || rowValue(t, out.Rows[0], "sum") != "15" || rowValue(t, out.Rows[1], "sum") != "7" {
		t.Fatalf("unexpected aggregate rows: %v", out.Rows)
	}
}

func TestUpdateEntity(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name, email) VALUES ('Alice', 'a@x.io'), ('Bob', 'b@x.io')")

	out := p.UpdateEntity(context.Background(), pgcrud.UpdateEntityInput{
		Table:      "users",
		Conditions: map[string]any{"email": "b@x.io"},
		Updates:    map[string]any{"name": "Robert", "age": 50},
		Returning:  true,
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.RowsAffected != 1 || rowValue(t, out.Rows[0], "name") != "Robert" {
		t.Fatalf("unexpected update result: %+v", out)
	}
	if n := countRows(t, p, "users", map[string]any{"name": "Alice"}); n != 1 {
		t.Fatalf("expected Alice untouched, got %d", n)
	}
}

func TestUpdateEntity_EmptyConditionsRejected(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name) VALUES ('Alice')")

	out := p.UpdateEntity(context.Background(), pgcrud.UpdateEntityInput{Table: "users", Updates: map[string]any{"name": "x"}})
	if out.Success || !strings.Contains(out.Error, "conditions") {
		t.Fatalf("expected conditions error, got %+v", out)
	}
	if n := countRows(t, p, "users", map[string]any{"name": "Alice"}); n != 1 {
		t.Fatalf("expected row untouched, got %d", n)
	}
}

func TestDeleteEntity(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name) VALUES ('Alice'), ('Bob'), ('Bob')")

	out := p.DeleteEntity(context.Background(), pgcrud.DeleteEntityInput{Table: "users", Conditions: map[string]any{"name": "Bob"}})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.RowsAffected != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", out.RowsAffected)
	}
}

func TestDeleteEntity_InjectedTableNameRejectedBeforeSQL(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name) VALUES ('Alice')")
	before := p.Stats().AcquireCount

	out := p.DeleteEntity(context.Background(), pgcrud.DeleteEntityInput{Table: "users; DROP TABLE users", Conditions: map[string]any{}})
	if out.Success {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out.Error, "invalid table name") {
		t.Fatalf("expected table name validation error, got %q", out.Error)
	}
	if after := p.Stats().AcquireCount; after != before {
		t.Fatalf("expected no connection borrowed, acquire count %d -> %d", before, after)
	}
	if n := countRows(t, p, "users", nil); n != 1 {
		t.Fatalf("expected users intact, got %d rows", n)
	}
}

func TestIdentifierValidation_NoQueryIssued(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())
	ctx := context.Background()
	before := p.Stats().AcquireCount

	for _, bad := range []string{"a;b", "a--b", "a'b", `a"b`} {
		if out := p.CreateEntity(ctx, pgcrud.CreateEntityInput{Table: bad, Data: map[string]any{"x": 1}}); out.Success {
			t.Fatalf("table %q accepted", bad)
		}
		if out := p.CreateEntity(ctx, pgcrud.CreateEntityInput{Table: "t", Data: map[string]any{bad: 1}}); out.Success {
			t.Fatalf("column %q accepted", bad)
		}
		if out := p.ReadEntity(ctx, pgcrud.ReadEntityInput{Table: "t", OrderBy: bad}); out.Success {
			t.Fatalf("order_by %q accepted", bad)
		}
	}
	if after := p.Stats().AcquireCount; after != before {
		t.Fatalf("expected no connection borrowed, acquire count %d -> %d", before, after)
	}
}

func TestParameterValuesStoredLiterally(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)
	ctx := context.Background()
	payload := "'; DROP TABLE x; --"

	out := p.CreateEntity(ctx, pgcrud.CreateEntityInput{Table: "users", Data: map[string]any{"name": payload}})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	read := p.ReadEntity(ctx, pgcrud.ReadEntityInput{Table: "users", Conditions: map[string]any{"name": payload}})
	if !read.Success || read.Count != 1 || rowValue(t, read.Rows[0], "name") != payload {
		t.Fatalf("expected payload stored literally, got %+v", read)
	}

	q := p.ExecuteSQLQuery(ctx, pgcrud.QueryInput{
		Query:  "SELECT count(*) AS n FROM users WHERE name = @name",
		Params: map[string]any{"name": payload},
	})
	if !q.Success || rowValue(t, q.Rows[0], "n") != "1" {
		t.Fatalf("expected literal comparison, got %+v", q)
	}
}

// --- Batch ---

func TestBatchCreateEntities(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.BatchCreateEntities(context.Background(), pgcrud.BatchCreateInput{
		Table: "users",
		DataList: []map[string]any{
			{"name": "A", "email": "a@x.io"},
			{"name": "B", "email": "b@x.io"},
			{"name": "C", "email": "c@x.io"},
		},
	})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.RowsAffected != 3 || out.Count != 3 {
		t.Fatalf("expected 3 rows in 3 statements, got %+v", out)
	}
}

func TestBatchCreateEntities_FailureInsertsNothing(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.BatchCreateEntities(context.Background(), pgcrud.BatchCreateInput{
		Table: "users",
		DataList: []map[string]any{
			{"name": "A", "email": "dup@x.io"},
			{"name": "B", "email": "dup@x.io"},
		},
	})
	if out.Success {
		t.Fatal("expected unique violation")
	}
	if n := countRows(t, p, "users", nil); n != 0 {
		t.Fatalf("expected batch rolled back, found %d rows", n)
	}
}

func TestBatchCreateEntities_MismatchedColumns(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())

	out := p.BatchCreateEntities(context.Background(), pgcrud.BatchCreateInput{
		Table:    "users",
		DataList: []map[string]any{{"name": "A"}, {"email": "b@x.io"}},
	})
	if out.Success {
		t.Fatal("expected validation error")
	}
}

func TestBatchUpdateAndDelete(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"INSERT INTO users (name, email) VALUES ('A', 'a@x.io'), ('B', 'b@x.io'), ('C', 'c@x.io')")
	ctx := context.Background()

	up := p.BatchUpdateEntities(ctx, pgcrud.BatchUpdateInput{
		Table:          "users",
		ConditionsList: []map[string]any{{"name": "A"}, {"name": "B"}},
		UpdatesList:    []map[string]any{{"age": 1}, {"age": 2}},
	})
	if !up.Success || up.RowsAffected != 2 {
		t.Fatalf("unexpected batch update result: %+v", up)
	}

	mismatched := p.BatchUpdateEntities(ctx, pgcrud.BatchUpdateInput{
		Table:          "users",
		ConditionsList: []map[string]any{{"name": "A"}},
		UpdatesList:    []map[string]any{{"age": 1}, {"age": 2}},
	})
	if mismatched.Success {
		t.Fatal("expected length mismatch error")
	}

	del := p.BatchDeleteEntities(ctx, pgcrud.BatchDeleteInput{
		Table:          "users",
		ConditionsList: []map[string]any{{"name": "A"}, {"name": "C"}},
	})
	if !del.Success || del.RowsAffected != 2 {
		t.Fatalf("unexpected batch delete result: %+v", del)
	}
	if n := countRows(t, p, "users", nil); n != 1 {
		t.Fatalf("expected 1 remaining row, got %d", n)
	}
}

// --- Table management ---

func TestTableLifecycle(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())
	ctx := context.Background()

	created := p.CreateTable(ctx, pgcrud.CreateTableInput{
		Table: "products",
		Columns: []pgcrud.ColumnDef{
			{Name: "id", Type: "serial", PrimaryKey: true},
			{Name: "name", Type: "text", Nullable: boolPtr(false)},
			{Name: "price", Type: "numeric(10,2)", Default: strPtr("0")},
		},
	})
	if !created.Success {
		t.Fatalf("create_table failed: %s", created.Error)
	}
	// IF NOT EXISTS by default.
	if again := p.CreateTable(ctx, pgcrud.CreateTableInput{Table: "products", Columns: []pgcrud.ColumnDef{{Name: "id", Type: "int"}}}); !again.Success {
		t.Fatalf("expected repeat create to succeed, got %s", again.Error)
	}

	altered := p.AlterTable(ctx, pgcrud.AlterTableInput{
		Table: "products",
		Operations: []pgcrud.AlterOperation{
			{Type: pgcrud.AlterAddColumn, ColumnName: "sku", DataType: "varchar(32)"},
			{Type: pgcrud.AlterRenameColumn, ColumnName: "name", NewColumnName: "title"},
		},
	})
	if !altered.Success || altered.Count != 2 {
		t.Fatalf("alter_table failed: %+v", altered)
	}

	schema := p.GetTableSchema(ctx, pgcrud.GetTableSchemaInput{Table: "products"})
	if !schema.Success {
		t.Fatalf("get_table_schema failed: %s", schema.Error)
	}
	var names []string
	for _, c := range schema.Table.Columns {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "id,title,price,sku" {
		t.Fatalf("unexpected columns after alter: %v", names)
	}

	dropped := p.DropTable(ctx, pgcrud.DropTableInput{Table: "products"})
	if !dropped.Success {
		t.Fatalf("drop_table failed: %s", dropped.Error)
	}
	if again := p.DropTable(ctx, pgcrud.DropTableInput{Table: "products"}); !again.Success {
		t.Fatalf("expected IF EXISTS drop to succeed, got %s", again.Error)
	}
	if strict := p.DropTable(ctx, pgcrud.DropTableInput{Table: "products", IfExists: boolPtr(false)}); strict.Success {
		t.Fatal("expected strict drop of missing table to fail")
	}
}

func TestAlterTable_FailureAppliesNothing(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)
	ctx := context.Background()

	out := p.AlterTable(ctx, pgcrud.AlterTableInput{
		Table: "users",
		Operations: []pgcrud.AlterOperation{
			{Type: pgcrud.AlterAddColumn, ColumnName: "nickname", DataType: "text"},
			{Type: pgcrud.AlterDropColumn, ColumnName: "missing"},
		},
	})
	if out.Success {
		t.Fatal("expected failure dropping missing column")
	}
	schema := p.GetTableSchema(ctx, pgcrud.GetTableSchemaInput{Table: "users"})
	for _, c := range schema.Table.Columns {
		if c.Name == "nickname" {
			t.Fatal("add_column applied despite failure")
		}
	}
}

func TestReadOnlyMode_RejectsWrites(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.ReadOnly = true
	p := newFixtureInstance(t, config, usersFixture)
	ctx := context.Background()

	if out := p.CreateEntity(ctx, pgcrud.CreateEntityInput{Table: "users", Data: map[string]any{"name": "x"}}); out.Success {
		t.Fatal("expected write to fail in read-only mode")
	}
	if out := p.ExecuteSQLQuery(ctx, pgcrud.QueryInput{Query: "INSERT INTO users (name) VALUES ('x')"}); out.Success {
		t.Fatal("expected free-form write to fail in read-only mode")
	}
	if out := p.ReadEntity(ctx, pgcrud.ReadEntityInput{Table: "users"}); !out.Success {
		t.Fatalf("expected read to succeed, got %s", out.Error)
	}
}

// --- Free-form SQL ---

func TestExecuteSQLQuery_EmptyQuery(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())
	before := p.Stats().AcquireCount

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: ""})
	if out.Success || !strings.Contains(out.Error, "empty query") {
		t.Fatalf("expected empty query error, got %+v", out)
	}
	if after := p.Stats().AcquireCount; after != before {
		t.Fatalf("expected no connection borrowed, acquire count %d -> %d", before, after)
	}
}

func TestExecuteSQLQuery_DeniedKeyword(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "DROP TABLE users"})
	if out.Success || !strings.Contains(out.Error, "DROP") {
		t.Fatalf("expected error naming DROP, got %+v", out)
	}
	if n := countRows(t, p, "users", nil); n != 0 {
		t.Fatalf("users table should still exist and be empty, got %d", n)
	}

	// Keywords inside literals are data.
	ok := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT 'DROP TABLE users' AS s"})
	if !ok.Success {
		t.Fatalf("literal keyword rejected: %s", ok.Error)
	}
}

func TestExecuteSQLQuery_LimitTruncates(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT g FROM generate_series(1, 50) g", Limit: 10})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Count != 10 || !out.Truncated {
		t.Fatalf("expected 10 truncated rows, got count=%d truncated=%v", out.Count, out.Truncated)
	}
}

func TestExecuteSQLQuery_ResultTooLong(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.MaxResultLength = 50
	p, _ := newTestInstance(t, config)

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT repeat('x', 500) AS big"})
	if out.Success || len(out.Rows) != 0 {
		t.Fatalf("expected rows withheld, got %+v", out)
	}
	if !strings.Contains(out.Error, "Result is too long") {
		t.Fatalf("unexpected error: %q", out.Error)
	}
}

func TestExecuteSQLQuery_StatementTimeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.StatementTimeoutSeconds = 1
	p, _ := newTestInstance(t, config)

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT pg_sleep(3)"})
	if out.Success || !strings.Contains(out.Error, "statement timeout") {
		t.Fatalf("expected statement timeout, got %+v", out)
	}
	// The connection stays usable.
	if again := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT 1"}); !again.Success {
		t.Fatalf("follow-up query failed: %s", again.Error)
	}
}

func TestExecuteSQLQuery_Sanitization(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Sanitization = []pgcrud.SanitizationRule{{Pattern: `\d{3}-\d{4}`, Replacement: "***-****", Columns: []string{"phone"}}}
	p, _ := newTestInstance(t, config)

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT '555-1234' AS phone, '555-1234' AS note"})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if rowValue(t, out.Rows[0], "phone") != "***-****" || rowValue(t, out.Rows[0], "note") != "555-1234" {
		t.Fatalf("unexpected sanitization: %v", out.Rows[0])
	}
}

// --- Transactions ---

func TestExecuteTransaction_Commits(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.ExecuteTransaction(context.Background(), pgcrud.TransactionInput{Statements: []pgcrud.TransactionStatement{
		{SQL: "INSERT INTO users (name, email) VALUES (@name, @email)", Params: map[string]any{"name": "A", "email": "a@x.io"}},
		{SQL: "INSERT INTO users (name, email) VALUES (@name, @email)", Params: map[string]any{"name": "B", "email": "b@x.io"}},
		{SQL: "SELECT count(*) AS n FROM users"},
	}})
	if !out.Success {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.State != "committed" || out.TransactionID == "" {
		t.Fatalf("unexpected transaction outcome: %+v", out)
	}
	if len(out.Results) != 3 || out.Results[0].RowsAffected != 1 || rowValue(t, out.Results[2].Rows[0], "n") != "2" {
		t.Fatalf("unexpected results: %+v", out.Results)
	}
	if n := countRows(t, p, "users", nil); n != 2 {
		t.Fatalf("expected 2 committed rows, got %d", n)
	}
}

func TestExecuteTransaction_UniqueViolationRollsBack(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.ExecuteTransaction(context.Background(), pgcrud.TransactionInput{Statements: []pgcrud.TransactionStatement{
		{SQL: "INSERT INTO users (name, email) VALUES ('A', 'same@x.io')"},
		{SQL: "INSERT INTO users (name, email) VALUES ('B', 'same@x.io')"},
	}})
	if out.Success {
		t.Fatal("expected failure")
	}
	if len(out.Results) != 0 {
		t.Fatalf("expected no results on failure, got %v", out.Results)
	}
	if !strings.Contains(out.Error, "statement 2") {
		t.Fatalf("expected error naming statement 2, got %q", out.Error)
	}
	read := p.ReadEntity(context.Background(), pgcrud.ReadEntityInput{Table: "users"})
	if !read.Success || read.Count != 0 {
		t.Fatalf("expected zero rows after rollback, got %+v", read)
	}
}

func TestExecuteTransaction_DeniedStatementRunsNothing(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)

	out := p.ExecuteTransaction(context.Background(), pgcrud.TransactionInput{Statements: []pgcrud.TransactionStatement{
		{SQL: "INSERT INTO users (name) VALUES ('A')"},
		{SQL: "TRUNCATE users"},
	}})
	if out.Success || !strings.Contains(out.Error, "statement 2") || !strings.Contains(out.Error, "TRUNCATE") {
		t.Fatalf("expected statement 2 TRUNCATE rejection, got %+v", out)
	}
	if n := countRows(t, p, "users", nil); n != 0 {
		t.Fatalf("expected nothing inserted, got %d", n)
	}
}

// --- Pool ---

func TestPool_ThirdQueryWaitsForRelease(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Pool.PoolSize = 2
	config.Pool.MaxOverflow = 0
	config.Pool.PoolTimeoutSeconds = 10
	p, _ := newTestInstance(t, config)

	var maxBorrowed atomic.Int64
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if b := p.Stats().Borrowed; b > maxBorrowed.Load() {
				maxBorrowed.Store(b)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT pg_sleep(1)"})
			if !out.Success {
				errs <- out.Error
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-sampled
	close(errs)
	for e := range errs {
		t.Fatalf("query failed: %s", e)
	}

	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Fatalf("expected the third query to wait for a release, all finished in %v", elapsed)
	}
	if m := maxBorrowed.Load(); m > 2 {
		t.Fatalf("borrowed %d connections with a limit of 2", m)
	}
}

func TestPool_ExhaustedAfterPoolTimeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Pool.PoolSize = 1
	config.Pool.MaxOverflow = 0
	config.Pool.PoolTimeoutSeconds = 1
	p, _ := newTestInstance(t, config)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT pg_sleep(3)"})
	}()
	time.Sleep(300 * time.Millisecond)

	out := p.ExecuteSQLQuery(context.Background(), pgcrud.QueryInput{Query: "SELECT 1"})
	if out.Success || !strings.Contains(out.Error, "pool exhausted") {
		t.Fatalf("expected pool exhausted error, got %+v", out)
	}
	<-done
}

// --- Info and health ---

func TestGetDatabaseInfoAndHealth(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture)
	ctx := context.Background()

	info := p.GetDatabaseInfo(ctx)
	if !info.Success {
		t.Fatalf("unexpected error: %s", info.Error)
	}
	if !strings.Contains(info.Info.Version, "PostgreSQL") || info.Info.TableCount < 1 {
		t.Fatalf("unexpected info: %+v", info.Info)
	}
	if info.Info.Pool.MaxConnections != 5 {
		t.Fatalf("expected max connections 5, got %d", info.Info.Pool.MaxConnections)
	}

	health := p.HealthCheck(ctx)
	if !health.Success || health.Status != "healthy" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

// --- Resources ---

func TestResourcesMarkdown(t *testing.T) {
	t.Parallel()
	p := newFixtureInstance(t, defaultConfig(), usersFixture,
		"CREATE INDEX users_age_idx ON users (age)")
	ctx := context.Background()

	tables, err := p.TablesMarkdown(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if !strings.Contains(tables, "| public | users | table |") {
		t.Fatalf("users missing from markdown:\n%s", tables)
	}

	info, err := p.InfoMarkdown(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(info, "# Database Information") || !strings.Contains(info, "PostgreSQL") {
		t.Fatalf("unexpected info markdown:\n%s", info)
	}

	schema, err := p.SchemaMarkdown(ctx, "users")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{"# public.users (table)", "| email | text | yes |", "users_age_idx", "UNIQUE"} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected %q in schema markdown:\n%s", want, schema)
		}
	}

	if _, err := p.SchemaMarkdown(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func boolPtr(b bool) *bool     { return &b }
func strPtr(s string) *string { return &s }

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	p, _ := newTestInstance(t, defaultConfig())

	p.Close()
	p.Close()
	if out := p.HealthCheck(context.Background()); out.Success || out.Status != "unhealthy" {
		t.Fatalf("expected unhealthy after Close, got %+v", out)
	}
}
