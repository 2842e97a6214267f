package pgcrud

import (
	"context"
	"fmt"
	"time"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// CreateTable creates a table from column definitions. Column types and
// defaults are validated; names are quoted.
func (p *PostgresCrud) CreateTable(ctx context.Context, input CreateTableInput) *EntityOutput {
	const op = "create_table"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	ifNotExists := input.IfNotExists == nil || *input.IfNotExists
	sql, err := buildCreateTable(table, input.Columns, ifNotExists)
	if err != nil {
		return p.entityError(op, err)
	}
	return p.runDDL(ctx, op, input.Table, []string{sql}, fmt.Sprintf("table %s created", input.Table))
}

// AlterTable runs the statements of every operation atomically: either all
// operations apply or none do.
func (p *PostgresCrud) AlterTable(ctx context.Context, input AlterTableInput) *EntityOutput {
	const op = "alter_table"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	stmts, err := buildAlterTable(table, input.Operations)
	if err != nil {
		return p.entityError(op, err)
	}
	return p.runDDL(ctx, op, input.Table, stmts, fmt.Sprintf("table %s altered", input.Table))
}

// DropTable drops a table. IfExists defaults to true; Cascade to false.
func (p *PostgresCrud) DropTable(ctx context.Context, input DropTableInput) *EntityOutput {
	const op = "drop_table"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	ifExists := input.IfExists == nil || *input.IfExists
	sql := buildDropTable(table, input.Cascade, ifExists)
	return p.runDDL(ctx, op, input.Table, []string{sql}, fmt.Sprintf("table %s dropped", input.Table))
}

func (p *PostgresCrud) runDDL(ctx context.Context, op, table string, sqls []string, message string) *EntityOutput {
	startTime := time.Now()
	var err error
	if len(sqls) == 1 {
		_, err = p.exec.Execute(ctx, executor.Request{SQL: sqls[0]})
	} else {
		stmts := make([]executor.Statement, len(sqls))
		for i, s := range sqls {
			stmts[i] = executor.Statement{SQL: s}
		}
		_, err = p.exec.ExecuteTransaction(ctx, executor.TxRequest{Statements: stmts})
	}
	if err != nil {
		return p.entityError(op, err)
	}

	p.logger.Info().
		Str("tool", op).
		Str("table", table).
		Int("statement_count", len(sqls)).
		Dur("duration", time.Since(startTime)).
		Msg("table operation executed")
	return &EntityOutput{Success: true, Count: len(sqls), Message: message}
}
