package executor

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// QueryError reports a failed statement. Statement is the 1-based position
// inside a transaction, or 0 for single-statement execution.
type QueryError struct {
	Op        string
	Statement int
	Msg       string
	Err       error
}

func (e *QueryError) Error() string {
	cause := e.Msg
	if e.Err != nil {
		if cause != "" {
			cause = cause + ": " + e.Err.Error()
		} else {
			cause = e.Err.Error()
		}
	}
	if e.Statement > 0 {
		return fmt.Sprintf("%s failed at statement %d: %s", e.Op, e.Statement, cause)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, cause)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SQLState returns the PostgreSQL error code, or "" when the failure was not
// reported by the server.
func (e *QueryError) SQLState() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
