// Package executor runs parameterized statements on connections borrowed
// from the gateway, one statement per call or an ordered list inside a
// single transaction.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-crud-mcp/internal/gateway"
	"github.com/rickchristie/postgres-crud-mcp/internal/timeout"
)

// Params are named statement parameters, referenced as @name in the SQL.
type Params map[string]any

// Request is one statement to run.
type Request struct {
	SQL    string
	Params Params
	// Timeout overrides the timeout manager when > 0.
	Timeout time.Duration
	// ReadOnly runs the statement in a read-only transaction that is rolled
	// back afterwards.
	ReadOnly bool
	// MaxRows stops row collection after this many rows when > 0.
	MaxRows int
}

// Observer is notified after every statement and transaction.
type Observer func(op string, d time.Duration, err error)

// Executor is safe for concurrent use.
type Executor struct {
	gw       *gateway.Gateway
	timeouts *timeout.Manager
	observe  Observer
	logger   zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver registers fn to receive statement timings.
func WithObserver(fn Observer) Option {
	return func(e *Executor) {
		e.observe = fn
	}
}

func New(gw *gateway.Gateway, timeouts *timeout.Manager, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		gw:       gw,
		timeouts: timeouts,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one statement in its own transaction on one borrowed
// connection. Empty SQL fails without borrowing. Driver failures are returned
// as *QueryError; pool failures are returned as the gateway reports them.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, &QueryError{Op: "execute", Msg: "empty query"}
	}
	params, err := bindParams(req.Params)
	if err != nil {
		return nil, &QueryError{Op: "execute", Err: err}
	}
	req.Params = params
	startTime := time.Now()
	stmtTimeout := e.timeoutFor(req)

	conn, err := e.gw.Borrow(ctx)
	if err != nil {
		e.notify("execute", startTime, err)
		return nil, err
	}
	defer conn.Release()

	result, err := e.execute(ctx, conn, req, stmtTimeout)
	e.notify("execute", startTime, err)
	if err != nil {
		conn.Observe(err)
		e.logger.Debug().
			Err(err).
			Str("sql", truncateForLog(req.SQL, 200)).
			Dur("duration", time.Since(startTime)).
			Msg("statement failed")
		return nil, &QueryError{Op: "execute", Err: err}
	}

	e.logger.Debug().
		Str("sql", truncateForLog(req.SQL, 200)).
		Dur("duration", time.Since(startTime)).
		Dur("statement_timeout", stmtTimeout).
		Int("row_count", len(result.Rows)).
		Int64("rows_affected", result.RowsAffected).
		Msg("statement executed")
	return result, nil
}

func (e *Executor) execute(ctx context.Context, conn *gateway.Conn, req Request, stmtTimeout time.Duration) (*Result, error) {
	opts := pgx.TxOptions{}
	if req.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := conn.Begin(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := setStatementTimeout(ctx, tx, stmtTimeout); err != nil {
		return nil, err
	}
	result, err := runStatement(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	// Read-only work has nothing to keep; the deferred rollback ends it.
	if req.ReadOnly {
		return result, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// View runs fn inside a read-only transaction on one borrowed connection,
// bounded by the default statement timeout. The transaction is always rolled
// back. Errors from fn are returned unchanged.
func (e *Executor) View(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	startTime := time.Now()
	err := e.gw.With(ctx, func(conn *gateway.Conn) error {
		tx, err := conn.Begin(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := setStatementTimeout(ctx, tx, e.timeouts.Default()); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
	e.notify("view", startTime, err)
	return err
}

// Stats reports the pool bookkeeping of the underlying gateway.
func (e *Executor) Stats() gateway.Stats {
	return e.gw.Stats()
}

func (e *Executor) timeoutFor(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return e.timeouts.GetTimeout(req.SQL)
}

func (e *Executor) notify(op string, start time.Time, err error) {
	if e.observe != nil {
		e.observe(op, time.Since(start), err)
	}
}

// setStatementTimeout bounds every following statement of the current
// transaction. set_config with is_local=true is the bindable form of
// SET LOCAL statement_timeout.
func setStatementTimeout(ctx context.Context, tx pgx.Tx, d time.Duration) error {
	ms := d.Milliseconds()
	if ms < 1 {
		// 0 would disable the timeout entirely.
		ms = 1
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('statement_timeout', $1, true)", strconv.FormatInt(ms, 10)); err != nil {
		return fmt.Errorf("set statement_timeout: %w", err)
	}
	return nil
}

func runStatement(ctx context.Context, tx pgx.Tx, req Request) (*Result, error) {
	var args []any
	if len(req.Params) > 0 {
		args = append(args, pgx.NamedArgs(req.Params))
	}
	rows, err := tx.Query(ctx, req.SQL, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, req.MaxRows)
}

// collectRows reads all rows (up to maxRows when > 0) into a Result.
func collectRows(rows pgx.Rows, maxRows int) (*Result, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	result := &Result{Columns: columns, Rows: make([]Row, 0)}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			row[i] = Column{Name: name, Value: convertValue(values[i])}
		}
		result.Rows = append(result.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag := rows.CommandTag()
	result.RowsAffected = tag.RowsAffected()
	result.CommandTag = tag.String()
	return result, nil
}

// truncateForLog truncates a string for log output.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
