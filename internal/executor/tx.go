package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-crud-mcp/internal/gateway"
)

// TxState is the lifecycle position of a transaction.
type TxState int

const (
	TxIdle TxState = iota
	TxInTransaction
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxInTransaction:
		return "in_transaction"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// Statement is one entry of a transaction.
type Statement struct {
	SQL    string
	Params Params
}

// TxRequest is an ordered list of statements that commit or roll back
// together.
type TxRequest struct {
	Statements []Statement
	// Timeout overrides the timeout manager for every statement when > 0.
	Timeout  time.Duration
	ReadOnly bool
	// MaxRows caps the rows collected per statement when > 0.
	MaxRows int
}

// TxResult holds one Result per statement, in submission order.
type TxResult struct {
	ID      string
	State   TxState
	Results []*Result
}

// ExecuteTransaction runs every statement in order on one connection inside
// one transaction. The first failure rolls everything back and no partial
// results are returned. Malformed requests are rejected before a connection
// is borrowed.
func (e *Executor) ExecuteTransaction(ctx context.Context, req TxRequest) (*TxResult, error) {
	if len(req.Statements) == 0 {
		return nil, &QueryError{Op: "transaction", Msg: "empty transaction"}
	}
	for i, stmt := range req.Statements {
		if strings.TrimSpace(stmt.SQL) == "" {
			return nil, &QueryError{Op: "transaction", Statement: i + 1, Msg: "empty query"}
		}
	}
	statements := make([]Statement, len(req.Statements))
	for i, stmt := range req.Statements {
		params, err := bindParams(stmt.Params)
		if err != nil {
			return nil, &QueryError{Op: "transaction", Statement: i + 1, Err: err}
		}
		statements[i] = Statement{SQL: stmt.SQL, Params: params}
	}
	req.Statements = statements

	startTime := time.Now()
	conn, err := e.gw.Borrow(ctx)
	if err != nil {
		e.notify("transaction", startTime, err)
		return nil, err
	}
	defer conn.Release()

	s := &txSession{
		id:     uuid.NewString(),
		conn:   conn,
		state:  TxIdle,
		logger: e.logger,
	}
	s.logger = e.logger.With().Str("tx_id", s.id).Logger()

	results, err := s.run(ctx, e, req)
	e.notify("transaction", startTime, err)
	if err != nil {
		s.logger.Debug().
			Err(err).
			Str("state", s.state.String()).
			Dur("duration", time.Since(startTime)).
			Msg("transaction rolled back")
		return nil, err
	}

	s.logger.Debug().
		Int("statements", len(results)).
		Str("state", s.state.String()).
		Dur("duration", time.Since(startTime)).
		Msg("transaction finished")
	return &TxResult{ID: s.id, State: s.state, Results: results}, nil
}

// txSession drives the Idle -> InTransaction -> Committed|RolledBack state
// machine for one borrowed connection.
type txSession struct {
	id     string
	conn   *gateway.Conn
	tx     pgx.Tx
	state  TxState
	logger zerolog.Logger
}

func (s *txSession) run(ctx context.Context, e *Executor, req TxRequest) ([]*Result, error) {
	opts := pgx.TxOptions{}
	if req.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := s.conn.Begin(ctx, opts)
	if err != nil {
		s.state = TxRolledBack
		return nil, &QueryError{Op: "transaction", Err: s.conn.Observe(fmt.Errorf("begin: %w", err))}
	}
	s.tx = tx
	s.state = TxInTransaction

	results := make([]*Result, 0, len(req.Statements))
	for i, stmt := range req.Statements {
		stmtTimeout := req.Timeout
		if stmtTimeout <= 0 {
			stmtTimeout = e.timeouts.GetTimeout(stmt.SQL)
		}
		if err := setStatementTimeout(ctx, tx, stmtTimeout); err != nil {
			return nil, s.abort(ctx, i+1, err)
		}
		result, err := runStatement(ctx, tx, Request{SQL: stmt.SQL, Params: stmt.Params, MaxRows: req.MaxRows})
		if err != nil {
			return nil, s.abort(ctx, i+1, err)
		}
		results = append(results, result)
	}

	if req.ReadOnly {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.conn.Observe(err)
		}
		s.state = TxRolledBack
		return results, nil
	}
	if err := tx.Commit(ctx); err != nil {
		// A failed COMMIT leaves nothing applied.
		s.state = TxRolledBack
		return nil, &QueryError{Op: "transaction", Err: s.conn.Observe(fmt.Errorf("commit: %w", err))}
	}
	s.state = TxCommitted
	return results, nil
}

// abort rolls back after statement n failed and returns the wrapped cause.
func (s *txSession) abort(ctx context.Context, n int, cause error) error {
	s.conn.Observe(cause)
	// The caller's context may be the reason for the failure.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.conn.Discard(err)
		s.logger.Warn().Err(err).Msg("rollback failed")
	}
	s.state = TxRolledBack
	return &QueryError{Op: "transaction", Statement: n, Err: cause}
}
