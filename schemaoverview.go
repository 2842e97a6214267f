package pgcrud

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// maxSchemaTables caps how many relations one multi-table call describes.
const maxSchemaTables = 100

// The relationship queries take a text[] of quoted, schema-qualified names.
// to_regclass drops names that do not resolve.

const relationshipsSQL = `
WITH selected AS (
    SELECT to_regclass(t) AS relid FROM unnest($1::text[]) AS t
)
SELECT con.conname,
       con.conrelid::regclass::text,
       (SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
          FROM pg_catalog.pg_attribute a
         WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)),
       con.confrelid::regclass::text,
       (SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.confkey, a.attnum))
          FROM pg_catalog.pg_attribute a
         WHERE a.attrelid = con.confrelid AND a.attnum = ANY(con.confkey)),
       con.confupdtype::text,
       con.confdeltype::text
FROM pg_catalog.pg_constraint con
WHERE con.contype = 'f'
  AND (con.conrelid IN (SELECT relid FROM selected)
       OR con.confrelid IN (SELECT relid FROM selected))
ORDER BY 2, 1;
`

const potentialRelationshipsSQL = `
WITH selected AS (
    SELECT to_regclass(t) AS relid FROM unnest($1::text[]) AS t
)
SELECT a.attrelid::regclass::text,
       a.attname,
       pg_catalog.format_type(a.atttypid, a.atttypmod)
FROM pg_catalog.pg_attribute a
WHERE a.attrelid IN (SELECT relid FROM selected)
  AND a.attnum > 0
  AND NOT a.attisdropped
  AND (lower(a.attname) LIKE '%\_id' OR lower(a.attname) LIKE '%\_code')
  AND NOT EXISTS (
      SELECT 1 FROM pg_catalog.pg_constraint con
      WHERE con.contype = 'f' AND con.conrelid = a.attrelid AND a.attnum = ANY(con.conkey)
  )
ORDER BY 1, a.attnum;
`

const missingTablesSQL = `
SELECT n FROM unnest($1::text[]) WITH ORDINALITY AS u(t, n)
WHERE to_regclass(t) IS NULL
ORDER BY n;
`

const totalSizeSQL = `
SELECT COALESCE(sum(pg_catalog.pg_total_relation_size(to_regclass(t))), 0)::bigint
FROM unnest($1::text[]) AS t;
`

// tableRef is a validated schema and relation name.
type tableRef struct {
	schema string
	name   string
}

func (r tableRef) String() string {
	return r.schema + "." + r.name
}

func (r tableRef) qualified() string {
	return pgx.Identifier{r.schema, r.name}.Sanitize()
}

// resolveTables validates every name, applies the schema default and drops
// duplicates while keeping the input order.
func resolveTables(tables []string, schema string) ([]tableRef, error) {
	if len(tables) == 0 {
		return nil, &ValidationError{Field: "tables", Reason: "at least one table is required"}
	}
	if len(tables) > maxSchemaTables {
		return nil, &ValidationError{Field: "tables", Reason: fmt.Sprintf("at most %d tables per call, got %d", maxSchemaTables, len(tables))}
	}
	refs := make([]tableRef, 0, len(tables))
	seen := make(map[tableRef]bool, len(tables))
	for _, t := range tables {
		s, name, err := resolveTable(t, schema)
		if err != nil {
			return nil, err
		}
		ref := tableRef{schema: s, name: name}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

func qualifiedNames(refs []tableRef) []string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.qualified()
	}
	return names
}

// GetMultipleTableSchemas describes several relations in one read-only
// transaction, together with the relationships between them. A relation that
// cannot be described gets an error entry; the others are still returned.
func (p *PostgresCrud) GetMultipleTableSchemas(ctx context.Context, input MultipleTableSchemasInput) *MultipleTableSchemasOutput {
	const op = "get_multiple_table_schemas"
	startTime := time.Now()
	refs, err := resolveTables(input.Tables, input.Schema)
	if err != nil {
		return &MultipleTableSchemasOutput{Error: p.handleError(op, err)}
	}

	out := &MultipleTableSchemasOutput{Success: true, TotalTables: len(refs)}
	err = p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		out.Tables = describeTables(ctx, tx, refs)
		rel, err := analyzeRelationships(ctx, tx, refs)
		out.Relationships = rel
		return err
	})
	if err != nil {
		return &MultipleTableSchemasOutput{Error: p.handleError(op, err)}
	}
	for _, t := range out.Tables {
		if t.Error == "" {
			out.SuccessfulTables++
		}
	}

	p.logger.Info().
		Str("tool", op).
		Int("table_count", out.TotalTables).
		Int("described", out.SuccessfulTables).
		Dur("duration", time.Since(startTime)).
		Msg("tables described")
	return out
}

// AnalyzeTableRelationships reports the foreign keys from or to the given
// relations, and columns named like keys (*_id, *_code) that no foreign key
// covers.
func (p *PostgresCrud) AnalyzeTableRelationships(ctx context.Context, input AnalyzeTableRelationshipsInput) *RelationshipsOutput {
	const op = "analyze_table_relationships"
	startTime := time.Now()
	refs, err := resolveTables(input.Tables, input.Schema)
	if err != nil {
		return &RelationshipsOutput{Error: p.handleError(op, err)}
	}

	var rel *Relationships
	err = p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		rel, err = analyzeRelationships(ctx, tx, refs)
		return err
	})
	if err != nil {
		return &RelationshipsOutput{Error: p.handleError(op, err)}
	}

	p.logger.Info().
		Str("tool", op).
		Int("table_count", len(refs)).
		Int("foreign_keys", len(rel.ForeignKeys)).
		Dur("duration", time.Since(startTime)).
		Msg("relationships analyzed")
	return &RelationshipsOutput{Success: true, TableCount: len(refs), Relationships: rel}
}

// GenerateSchemaOverview describes the given relations, or every table the
// user can read in the schema when none are given, with their combined size
// and relationships.
func (p *PostgresCrud) GenerateSchemaOverview(ctx context.Context, input SchemaOverviewInput) *SchemaOverviewOutput {
	const op = "generate_schema_overview"
	startTime := time.Now()

	var refs []tableRef
	if len(input.IncludeTables) > 0 {
		var err error
		if refs, err = resolveTables(input.IncludeTables, input.Schema); err != nil {
			return &SchemaOverviewOutput{Error: p.handleError(op, err)}
		}
	} else if input.Schema != "" {
		if err := protection.ValidateIdentifier("schema", input.Schema); err != nil {
			return &SchemaOverviewOutput{Error: p.handleError(op, err)}
		}
	}

	overview := &SchemaOverview{}
	err := p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if refs == nil {
			listed, err := listTables(ctx, tx, input.Schema)
			if err != nil {
				return err
			}
			for _, t := range listed {
				if t.Type != "table" && t.Type != "partitioned_table" {
					continue
				}
				if len(refs) == maxSchemaTables {
					overview.Truncated = true
					break
				}
				refs = append(refs, tableRef{schema: t.Schema, name: t.Name})
			}
		}
		names := qualifiedNames(refs)
		if err := tx.QueryRow(ctx, totalSizeSQL, names).Scan(&overview.TotalSizeBytes); err != nil {
			return fmt.Errorf("sum table sizes: %w", err)
		}
		overview.Tables = describeTables(ctx, tx, refs)
		var err error
		overview.Relationships, err = analyzeRelationships(ctx, tx, refs)
		return err
	})
	if err != nil {
		return &SchemaOverviewOutput{Error: p.handleError(op, err)}
	}
	overview.TableCount = len(overview.Tables)

	p.logger.Info().
		Str("tool", op).
		Str("schema", input.Schema).
		Int("table_count", overview.TableCount).
		Bool("truncated", overview.Truncated).
		Dur("duration", time.Since(startTime)).
		Msg("schema overview generated")
	return &SchemaOverviewOutput{Success: true, Overview: overview}
}

// describeTables runs each description under its own savepoint so one
// failing relation does not abort the rest of the transaction.
func describeTables(ctx context.Context, tx pgx.Tx, refs []tableRef) []TableSchemaResult {
	results := make([]TableSchemaResult, 0, len(refs))
	for _, ref := range refs {
		res := TableSchemaResult{Table: ref.String()}
		sp, err := tx.Begin(ctx)
		if err != nil {
			res.Error = fmt.Sprintf("savepoint: %v", err)
			results = append(results, res)
			continue
		}
		d := newDescriber(sp, ref.schema, ref.name)
		if err := d.run(ctx); err != nil {
			res.Error = err.Error()
			_ = sp.Rollback(ctx)
		} else {
			res.Schema = d.out
			_ = sp.Commit(ctx)
		}
		results = append(results, res)
	}
	return results
}

func analyzeRelationships(ctx context.Context, tx pgx.Tx, refs []tableRef) (*Relationships, error) {
	names := qualifiedNames(refs)
	rel := &Relationships{
		ForeignKeys:            []TableRelationship{},
		PotentialRelationships: []PotentialRelationship{},
		MissingTables:          []string{},
	}

	rows, err := tx.Query(ctx, missingTablesSQL, names)
	if err != nil {
		return nil, fmt.Errorf("resolve tables: %w", err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("resolve tables: %w", err)
	}
	for _, n := range missing {
		rel.MissingTables = append(rel.MissingTables, refs[n-1].String())
	}

	rows, err = tx.Query(ctx, relationshipsSQL, names)
	if err != nil {
		return nil, fmt.Errorf("fetch foreign keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fk TableRelationship
		var onUpdate, onDelete string
		if err := rows.Scan(&fk.Name, &fk.Table, &fk.Columns, &fk.ReferencedTable, &fk.ReferencedColumns, &onUpdate, &onDelete); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fk.OnUpdate = fkActions[onUpdate]
		fk.OnDelete = fkActions[onDelete]
		rel.ForeignKeys = append(rel.ForeignKeys, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch foreign keys: %w", err)
	}
	rows.Close()

	rows, err = tx.Query(ctx, potentialRelationshipsSQL, names)
	if err != nil {
		return nil, fmt.Errorf("fetch key-like columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		pr := PotentialRelationship{Reason: "column named like a foreign key has no foreign key constraint"}
		if err := rows.Scan(&pr.Table, &pr.Column, &pr.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		rel.PotentialRelationships = append(rel.PotentialRelationships, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch key-like columns: %w", err)
	}
	return rel, nil
}
