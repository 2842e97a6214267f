package pgcrud

import (
	"context"
	"fmt"
	"time"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
)

// maxTransactionStatements bounds one execute_transaction call.
const maxTransactionStatements = 100

// ExecuteTransaction runs the statements in order inside one transaction.
// Every statement passes the same checks as ExecuteSQLQuery before a
// connection is borrowed. If any statement fails nothing is committed and
// no per-statement results are returned.
func (p *PostgresCrud) ExecuteTransaction(ctx context.Context, input TransactionInput) *TransactionOutput {
	const op = "execute_transaction"
	startTime := time.Now()

	if len(input.Statements) > maxTransactionStatements {
		return p.txError(op, &ValidationError{Field: "statements", Reason: fmt.Sprintf("limited to %d statements, got %d", maxTransactionStatements, len(input.Statements))})
	}
	stmts := make([]executor.Statement, len(input.Statements))
	for i, s := range input.Statements {
		if len(s.SQL) > p.config.Query.MaxSQLLength {
			return p.txError(op, fmt.Errorf("statement %d: SQL query too long: %d bytes exceeds maximum of %d bytes", i+1, len(s.SQL), p.config.Query.MaxSQLLength))
		}
		if err := checkParamNames(s.Params); err != nil {
			return p.txError(op, fmt.Errorf("statement %d: %w", i+1, err))
		}
		// Empty statements are reported by the executor with their position.
		if s.SQL != "" {
			if err := p.protection.Check(s.SQL); err != nil {
				return p.txError(op, fmt.Errorf("statement %d: %w", i+1, err))
			}
		}
		stmts[i] = executor.Statement{SQL: s.SQL, Params: s.Params}
	}

	res, err := p.exec.ExecuteTransaction(ctx, executor.TxRequest{
		Statements: stmts,
		ReadOnly:   p.config.ReadOnly,
		MaxRows:    defaultQueryLimit,
	})
	if err != nil {
		return p.txError(op, err)
	}

	out := &TransactionOutput{
		Success:       true,
		TransactionID: res.ID,
		State:         res.State.String(),
		Results:       make([]StatementResult, len(res.Results)),
	}
	var allRows []Row
	for i, r := range res.Results {
		sr := StatementResult{RowsAffected: r.RowsAffected, CommandTag: r.CommandTag}
		if r.HasRows() {
			sr.Columns = r.Columns
			sr.Rows = p.sanitizer.SanitizeRows(r.Rows)
			allRows = append(allRows, sr.Rows...)
		}
		out.Results[i] = sr
	}
	if msg, tooLong := p.checkResultLength(allRows); tooLong {
		// The transaction has committed; State still says so. Only the
		// payload is withheld.
		for i := range out.Results {
			out.Results[i].Rows = nil
		}
		out.Success = false
		out.Error = msg
	}

	p.logger.Info().
		Str("tool", op).
		Str("tx_id", res.ID).
		Int("statement_count", len(stmts)).
		Str("state", out.State).
		Dur("duration", time.Since(startTime)).
		Msg("transaction executed")
	return out
}

func (p *PostgresCrud) txError(op string, err error) *TransactionOutput {
	return &TransactionOutput{Results: []StatementResult{}, Error: p.handleError(op, err)}
}
