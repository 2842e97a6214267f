package pgcrud

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

const listTablesSQL = `
SELECT
    n.nspname AS schema,
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type,
    pg_catalog.pg_get_userbyid(c.relowner) AS owner,
    NOT has_schema_privilege(n.oid, 'USAGE') AS schema_access_limited
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND has_table_privilege(c.oid, 'SELECT')
  AND ($1::text = '' OR n.nspname::text = $1::text)
ORDER BY n.nspname, c.relname;
`

// GetTables lists the tables, views, materialized views and foreign tables
// the current user can select from, optionally limited to one schema.
func (p *PostgresCrud) GetTables(ctx context.Context, input GetTablesInput) *GetTablesOutput {
	startTime := time.Now()
	if input.Schema != "" {
		if err := protection.ValidateIdentifier("schema", input.Schema); err != nil {
			return &GetTablesOutput{Error: p.handleError("get_tables", err)}
		}
	}

	var tables []TableEntry
	err := p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		tables, err = listTables(ctx, tx, input.Schema)
		return err
	})
	if err != nil {
		return &GetTablesOutput{Error: p.handleError("get_tables", err)}
	}

	p.logger.Info().
		Str("tool", "get_tables").
		Str("schema", input.Schema).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("tables listed")
	return &GetTablesOutput{Success: true, Tables: tables}
}

func listTables(ctx context.Context, tx pgx.Tx, schema string) ([]TableEntry, error) {
	rows, err := tx.Query(ctx, listTablesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []TableEntry{}
	for rows.Next() {
		var entry TableEntry
		if err := rows.Scan(&entry.Schema, &entry.Name, &entry.Type, &entry.Owner, &entry.SchemaAccessLimited); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}
