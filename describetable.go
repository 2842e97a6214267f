package pgcrud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// Catalog queries keyed by regclass, so every lookup resolves the same
// relation the kind lookup found.

const relkindSQL = `
SELECT c.relkind
FROM pg_catalog.pg_class c
WHERE c.oid = to_regclass($1::text);
`

const columnsSQL = `
SELECT a.attname,
       pg_catalog.format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull,
       COALESCE(pg_catalog.pg_get_expr(d.adbin, d.adrelid), ''),
       EXISTS (
           SELECT 1 FROM pg_catalog.pg_index i
           WHERE i.indrelid = a.attrelid AND i.indisprimary AND a.attnum = ANY(i.indkey)
       )
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;
`

const viewDefSQL = `SELECT pg_catalog.pg_get_viewdef($1::regclass, true);`

const indexesSQL = `
SELECT ic.relname,
       pg_catalog.pg_get_indexdef(i.indexrelid),
       i.indisunique,
       i.indisprimary
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
WHERE i.indrelid = $1::regclass
ORDER BY ic.relname;
`

const constraintsSQL = `
SELECT con.conname,
       CASE con.contype
           WHEN 'p' THEN 'PRIMARY KEY'
           WHEN 'f' THEN 'FOREIGN KEY'
           WHEN 'u' THEN 'UNIQUE'
           WHEN 'c' THEN 'CHECK'
           WHEN 'x' THEN 'EXCLUSION'
           ELSE con.contype::text
       END,
       pg_catalog.pg_get_constraintdef(con.oid, true)
FROM pg_catalog.pg_constraint con
WHERE con.conrelid = $1::regclass
ORDER BY con.conname;
`

const foreignKeysSQL = `
SELECT con.conname,
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
  AND con.conrelid = $1::regclass
ORDER BY con.conname;
`

const partitionKeySQL = `
SELECT pg_catalog.pg_get_partkeydef(pt.partrelid), pt.partstrat::text
FROM pg_catalog.pg_partitioned_table pt
WHERE pt.partrelid = $1::regclass;
`

const childPartitionsSQL = `
SELECT i.inhrelid::regclass::text
FROM pg_catalog.pg_inherits i
WHERE i.inhparent = $1::regclass
ORDER BY 1;
`

const parentTableSQL = `
SELECT i.inhparent::regclass::text
FROM pg_catalog.pg_inherits i
JOIN pg_catalog.pg_class pc ON pc.oid = i.inhparent
WHERE i.inhrelid = $1::regclass AND pc.relkind = 'p';
`

var relkindNames = map[string]string{
	"r": "table",
	"v": "view",
	"m": "materialized_view",
	"f": "foreign_table",
	"p": "partitioned_table",
}

var fkActions = map[string]string{
	"a": "NO ACTION",
	"r": "RESTRICT",
	"c": "CASCADE",
	"n": "SET NULL",
	"d": "SET DEFAULT",
}

var partitionStrategies = map[string]string{
	"h": "hash",
	"l": "list",
	"r": "range",
}

// resolveTable splits input.Table (optionally schema-qualified) and applies
// the schema default.
func resolveTable(table, schema string) (string, string, error) {
	ident, err := protection.ParseQualifiedName(table)
	if err != nil {
		return "", "", err
	}
	if len(ident) == 2 {
		if schema != "" && schema != ident[0] {
			return "", "", &ValidationError{Field: "schema", Value: schema, Reason: fmt.Sprintf("conflicts with table %q", table)}
		}
		return ident[0], ident[1], nil
	}
	if schema == "" {
		schema = "public"
	} else if err := protection.ValidateIdentifier("schema", schema); err != nil {
		return "", "", err
	}
	return schema, ident[0], nil
}

// GetTableSchema describes columns, indexes, constraints, foreign keys and
// partitioning of one relation.
func (p *PostgresCrud) GetTableSchema(ctx context.Context, input GetTableSchemaInput) *GetTableSchemaOutput {
	startTime := time.Now()
	schema, table, err := resolveTable(input.Table, input.Schema)
	if err != nil {
		return &GetTableSchemaOutput{Error: p.handleError("get_table_schema", err)}
	}

	ts, err := p.describeTable(ctx, schema, table)
	if err != nil {
		return &GetTableSchemaOutput{Error: p.handleError("get_table_schema", err)}
	}

	p.logger.Info().
		Str("tool", "get_table_schema").
		Str("schema", schema).
		Str("table", table).
		Str("type", ts.Type).
		Int("column_count", len(ts.Columns)).
		Dur("duration", time.Since(startTime)).
		Msg("table described")
	return &GetTableSchemaOutput{Success: true, Table: ts}
}

func (p *PostgresCrud) describeTable(ctx context.Context, schema, table string) (*TableSchema, error) {
	var ts *TableSchema
	err := p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		d := newDescriber(tx, schema, table)
		if err := d.run(ctx); err != nil {
			return err
		}
		ts = d.out
		return nil
	})
	return ts, err
}

// describer runs the catalog lookups of one relation inside one read-only
// transaction.
type describer struct {
	tx       pgx.Tx
	qualName string
	out      *TableSchema
}

func newDescriber(tx pgx.Tx, schema, table string) *describer {
	return &describer{
		tx:       tx,
		qualName: pgx.Identifier{schema, table}.Sanitize(),
		out: &TableSchema{
			Schema:      schema,
			Name:        table,
			Columns:     []ColumnInfo{},
			Indexes:     []IndexInfo{},
			Constraints: []ConstraintInfo{},
			ForeignKeys: []ForeignKeyInfo{},
		},
	}
}

func (d *describer) run(ctx context.Context) error {
	var relkind string
	err := d.tx.QueryRow(ctx, relkindSQL, d.qualName).Scan(&relkind)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(`relation "%s.%s" does not exist`, d.out.Schema, d.out.Name)
	}
	if err != nil {
		return fmt.Errorf("look up relation: %w", err)
	}
	d.out.Type = relkindNames[relkind]
	if d.out.Type == "" {
		d.out.Type = "unknown"
	}

	if err := d.columns(ctx); err != nil {
		return err
	}
	switch relkind {
	case "v", "m":
		if err := d.tx.QueryRow(ctx, viewDefSQL, d.qualName).Scan(&d.out.Definition); err != nil {
			return fmt.Errorf("fetch view definition: %w", err)
		}
	}
	// Plain views have no indexes or constraints.
	if relkind == "v" {
		return nil
	}
	if err := d.indexes(ctx); err != nil {
		return err
	}
	if relkind == "r" || relkind == "p" {
		if err := d.constraints(ctx); err != nil {
			return err
		}
		if err := d.foreignKeys(ctx); err != nil {
			return err
		}
	}
	if relkind == "p" {
		if err := d.partitions(ctx); err != nil {
			return err
		}
	}
	if relkind == "r" || relkind == "p" {
		return d.parent(ctx)
	}
	return nil
}

func (d *describer) columns(ctx context.Context) error {
	rows, err := d.tx.Query(ctx, columnsSQL, d.qualName)
	if err != nil {
		return fmt.Errorf("fetch columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.IsPrimaryKey); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		d.out.Columns = append(d.out.Columns, col)
	}
	return rows.Err()
}

func (d *describer) indexes(ctx context.Context) error {
	rows, err := d.tx.Query(ctx, indexesSQL, d.qualName)
	if err != nil {
		return fmt.Errorf("fetch indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idx IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Definition, &idx.IsUnique, &idx.IsPrimary); err != nil {
			return fmt.Errorf("scan index: %w", err)
		}
		d.out.Indexes = append(d.out.Indexes, idx)
	}
	return rows.Err()
}

func (d *describer) constraints(ctx context.Context) error {
	rows, err := d.tx.Query(ctx, constraintsSQL, d.qualName)
	if err != nil {
		return fmt.Errorf("fetch constraints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var con ConstraintInfo
		if err := rows.Scan(&con.Name, &con.Type, &con.Definition); err != nil {
			return fmt.Errorf("scan constraint: %w", err)
		}
		d.out.Constraints = append(d.out.Constraints, con)
	}
	return rows.Err()
}

func (d *describer) foreignKeys(ctx context.Context) error {
	rows, err := d.tx.Query(ctx, foreignKeysSQL, d.qualName)
	if err != nil {
		return fmt.Errorf("fetch foreign keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fk ForeignKeyInfo
		var onUpdate, onDelete string
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedTable, &fk.ReferencedColumns, &onUpdate, &onDelete); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		fk.OnUpdate = fkActions[onUpdate]
		fk.OnDelete = fkActions[onDelete]
		d.out.ForeignKeys = append(d.out.ForeignKeys, fk)
	}
	return rows.Err()
}

func (d *describer) partitions(ctx context.Context) error {
	var key, strategy string
	err := d.tx.QueryRow(ctx, partitionKeySQL, d.qualName).Scan(&key, &strategy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch partition key: %w", err)
	}
	d.out.Partition = &PartitionInfo{
		Strategy:     partitionStrategies[strategy],
		PartitionKey: key,
	}

	rows, err := d.tx.Query(ctx, childPartitionsSQL, d.qualName)
	if err != nil {
		return fmt.Errorf("fetch child partitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan child partition: %w", err)
		}
		d.out.Partition.Partitions = append(d.out.Partition.Partitions, name)
	}
	return rows.Err()
}

func (d *describer) parent(ctx context.Context) error {
	var parent string
	err := d.tx.QueryRow(ctx, parentTableSQL, d.qualName).Scan(&parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch parent table: %w", err)
	}
	if d.out.Partition == nil {
		d.out.Partition = &PartitionInfo{}
	}
	d.out.Partition.ParentTable = parent
	return nil
}
