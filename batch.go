package pgcrud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// Batch size limits.
const (
	maxBatchCreate = 1000
	maxBatchUpdate = 100
	maxBatchDelete = 100
)

// BatchCreateEntities inserts every entry of DataList in one transaction.
// All entries must name the same columns.
func (p *PostgresCrud) BatchCreateEntities(ctx context.Context, input BatchCreateInput) *EntityOutput {
	const op = "batch_create_entities"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	if err := checkBatchSize("data_list", len(input.DataList), maxBatchCreate); err != nil {
		return p.entityError(op, err)
	}

	want := columnSet(input.DataList[0])
	stmts := make([]executor.Statement, len(input.DataList))
	for i, data := range input.DataList {
		if got := columnSet(data); got != want {
			return p.entityError(op, &ValidationError{
				Field:  fmt.Sprintf("data_list[%d]", i),
				Reason: fmt.Sprintf("columns (%s) differ from data_list[0] (%s)", got, want),
			})
		}
		stmts[i], err = buildInsert(table, data, false)
		if err != nil {
			return p.entityError(op, err)
		}
	}
	return p.runBatch(ctx, op, input.Table, stmts)
}

// BatchUpdateEntities applies UpdatesList[i] to the rows matching
// ConditionsList[i], all in one transaction.
func (p *PostgresCrud) BatchUpdateEntities(ctx context.Context, input BatchUpdateInput) *EntityOutput {
	const op = "batch_update_entities"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	if len(input.ConditionsList) != len(input.UpdatesList) {
		return p.entityError(op, &ValidationError{
			Field:  "updates_list",
			Reason: fmt.Sprintf("conditions_list and updates_list must have the same length, got %d and %d", len(input.ConditionsList), len(input.UpdatesList)),
		})
	}
	if err := checkBatchSize("conditions_list", len(input.ConditionsList), maxBatchUpdate); err != nil {
		return p.entityError(op, err)
	}

	stmts := make([]executor.Statement, len(input.ConditionsList))
	for i := range input.ConditionsList {
		stmts[i], err = buildUpdate(table, input.ConditionsList[i], input.UpdatesList[i], false)
		if err != nil {
			return p.entityError(op, fmt.Errorf("entry %d: %w", i, err))
		}
	}
	return p.runBatch(ctx, op, input.Table, stmts)
}

// BatchDeleteEntities deletes the rows matching each entry of
// ConditionsList, all in one transaction.
func (p *PostgresCrud) BatchDeleteEntities(ctx context.Context, input BatchDeleteInput) *EntityOutput {
	const op = "batch_delete_entities"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	if err := checkBatchSize("conditions_list", len(input.ConditionsList), maxBatchDelete); err != nil {
		return p.entityError(op, err)
	}

	stmts := make([]executor.Statement, len(input.ConditionsList))
	for i, cond := range input.ConditionsList {
		stmts[i], err = buildDelete(table, cond, false)
		if err != nil {
			return p.entityError(op, fmt.Errorf("entry %d: %w", i, err))
		}
	}
	return p.runBatch(ctx, op, input.Table, stmts)
}

func (p *PostgresCrud) runBatch(ctx context.Context, op, table string, stmts []executor.Statement) *EntityOutput {
	startTime := time.Now()
	res, err := p.exec.ExecuteTransaction(ctx, executor.TxRequest{Statements: stmts})
	if err != nil {
		return p.entityError(op, err)
	}

	var affected int64
	for _, r := range res.Results {
		affected += r.RowsAffected
	}
	p.logger.Info().
		Str("tool", op).
		Str("table", table).
		Str("tx_id", res.ID).
		Int("statement_count", len(stmts)).
		Int64("rows_affected", affected).
		Dur("duration", time.Since(startTime)).
		Msg("batch executed")

	return &EntityOutput{
		Success:      true,
		RowsAffected: affected,
		Count:        len(stmts),
		Message:      fmt.Sprintf("%d statements committed on %s", len(stmts), table),
	}
}

func checkBatchSize(field string, n, max int) error {
	if n == 0 {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if n > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("batch limited to %d entries per operation, got %d", max, n)}
	}
	return nil
}

// columnSet renders the sorted key set of m for comparison and messages.
func columnSet(m map[string]any) string {
	return strings.Join(sortedKeys(m), ", ")
}
