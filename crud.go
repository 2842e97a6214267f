package pgcrud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// CreateEntity inserts one row. Column names are validated before any
// connection is borrowed.
func (p *PostgresCrud) CreateEntity(ctx context.Context, input CreateEntityInput) *EntityOutput {
	const op = "create_entity"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	stmt, err := buildInsert(table, input.Data, input.Returning)
	if err != nil {
		return p.entityError(op, err)
	}
	return p.runEntity(ctx, op, input.Table, executor.Request{SQL: stmt.SQL, Params: stmt.Params})
}

// ReadEntity selects rows matching equality conditions.
func (p *PostgresCrud) ReadEntity(ctx context.Context, input ReadEntityInput) *EntityOutput {
	const op = "read_entity"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	stmt, err := buildSelect(table, input)
	if err != nil {
		return p.entityError(op, err)
	}
	return p.runEntity(ctx, op, input.Table, executor.Request{SQL: stmt.SQL, Params: stmt.Params, ReadOnly: true})
}

// UpdateEntity updates the rows matching conditions. Empty conditions are
// rejected.
func (p *PostgresCrud) UpdateEntity(ctx context.Context, input UpdateEntityInput) *EntityOutput {
	const op = "update_entity"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	stmt, err := buildUpdate(table, input.Conditions, input.Updates, input.Returning)
	if err != nil {
		return p.entityError(op, err)
	}
	return p.runEntity(ctx, op, input.Table, executor.Request{SQL: stmt.SQL, Params: stmt.Params})
}

// DeleteEntity deletes the rows matching conditions. Empty conditions are
// rejected.
func (p *PostgresCrud) DeleteEntity(ctx context.Context, input DeleteEntityInput) *EntityOutput {
	const op = "delete_entity"
	table, err := protection.ParseQualifiedName(input.Table)
	if err != nil {
		return p.entityError(op, err)
	}
	stmt, err := buildDelete(table, input.Conditions, input.Returning)
	if err != nil {
		return p.entityError(op, err)
	}
	return p.runEntity(ctx, op, input.Table, executor.Request{SQL: stmt.SQL, Params: stmt.Params})
}

func (p *PostgresCrud) runEntity(ctx context.Context, op, table string, req executor.Request) *EntityOutput {
	startTime := time.Now()
	res, err := p.exec.Execute(ctx, req)
	if err != nil {
		return p.entityError(op, err)
	}

	out := &EntityOutput{
		Success:      true,
		RowsAffected: res.RowsAffected,
		Truncated:    res.Truncated,
	}
	if res.HasRows() {
		out.Columns = res.Columns
		out.Rows = p.sanitizer.SanitizeRows(res.Rows)
		out.Count = len(out.Rows)
	}
	if msg, tooLong := p.checkResultLength(out.Rows); tooLong {
		out.Rows = nil
		out.Success = false
		out.Error = msg
	}

	p.logger.Info().
		Str("tool", op).
		Str("table", table).
		Str("sql", truncateForLog(req.SQL, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", out.Count).
		Int64("rows_affected", out.RowsAffected).
		Msg("entity operation executed")
	return out
}

func (p *PostgresCrud) entityError(op string, err error) *EntityOutput {
	return &EntityOutput{Error: p.handleError(op, err)}
}

// checkResultLength reports whether rows encode to more than MaxResultLength
// characters, and if so a message carrying the leading part of the payload.
func (p *PostgresCrud) checkResultLength(rows []Row) (string, bool) {
	if len(rows) == 0 {
		return "", false
	}
	jsonBytes, err := json.Marshal(rows)
	if err != nil {
		return fmt.Sprintf("failed to encode result: %v", err), true
	}
	max := p.config.Query.MaxResultLength
	if utf8.RuneCount(jsonBytes) <= max {
		return "", false
	}
	runes := []rune(string(jsonBytes))
	return string(runes[:max]) + "...[truncated] Result is too long! Add a limit or narrower conditions.", true
}

// truncateForLog truncates a string for log output.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
