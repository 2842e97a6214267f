package pgcrud

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// execute_sql_query row cap.
const (
	defaultQueryLimit = 1000
	maxQueryLimit     = 10000
)

var paramNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkParamNames(params map[string]any) error {
	for name := range params {
		if !paramNameRe.MatchString(name) {
			return &ValidationError{Field: "param name", Value: name, Reason: "must match [A-Za-z_][A-Za-z0-9_]*"}
		}
	}
	return nil
}

// ExecuteSQLQuery runs one free-form statement. The pipeline is:
//
//  1. Length check against MaxSQLLength
//  2. Keyword denylist and statement structure checks
//  3. Read-only classification: reads run in a read-only transaction
//     that is rolled back, everything else commits
//  4. Execution with at most Limit rows collected
//  5. Sanitization of result values
//  6. Result length check against MaxResultLength
//
// Values belong in Params and are referenced as @name in the query.
func (p *PostgresCrud) ExecuteSQLQuery(ctx context.Context, input QueryInput) *QueryOutput {
	const op = "execute_sql_query"
	startTime := time.Now()
	sql := input.Query

	if len(sql) > p.config.Query.MaxSQLLength {
		return p.queryError(op, fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), p.config.Query.MaxSQLLength))
	}
	limit := input.Limit
	if limit == 0 {
		limit = defaultQueryLimit
	}
	if limit < 1 || limit > maxQueryLimit {
		return p.queryError(op, &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d, got %d", maxQueryLimit, input.Limit)})
	}
	if err := checkParamNames(input.Params); err != nil {
		return p.queryError(op, err)
	}

	readOnly := false
	if strings.TrimSpace(sql) != "" {
		if err := p.protection.Check(sql); err != nil {
			return p.queryError(op, err)
		}
		readOnly = protection.IsReadOnly(sql)
	}

	res, err := p.exec.Execute(ctx, executor.Request{
		SQL:      sql,
		Params:   input.Params,
		ReadOnly: readOnly,
		MaxRows:  limit,
	})
	if err != nil {
		return p.queryError(op, err)
	}

	out := &QueryOutput{
		Success:      true,
		Columns:      res.Columns,
		Rows:         p.sanitizer.SanitizeRows(res.Rows),
		RowsAffected: res.RowsAffected,
		Truncated:    res.Truncated,
	}
	out.Count = len(out.Rows)
	if msg, tooLong := p.checkResultLength(out.Rows); tooLong {
		out.Rows = nil
		out.Success = false
		out.Error = msg
	}

	_, timeoutRule := p.timeoutMgr.GetTimeoutWithPattern(sql)
	logEvent := p.logger.Info().
		Str("tool", op).
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Bool("read_only", readOnly).
		Int("row_count", out.Count).
		Int64("rows_affected", out.RowsAffected)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if p.sanitizer.HasRules() {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return out
}

func (p *PostgresCrud) queryError(op string, err error) *QueryOutput {
	return &QueryOutput{Error: p.handleError(op, err)}
}
