package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrClosed is returned by Borrow after CloseAll.
var ErrClosed = errors.New("connection pool is closed")

// ConnectionError reports that the pool could not establish or keep a
// connection to the database.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PoolExhaustedError is returned when no connection became free within the
// configured pool timeout.
type PoolExhaustedError struct {
	Max    int
	Waited time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted: all %d connections are in use, waited %s", e.Max, e.Waited.Round(time.Millisecond))
}

// IsProtocolError reports whether err came from the transport, leaving the
// session in an unknown state. Server-reported errors, context cancellation
// and client-side encode or scan failures keep the session usable. Release
// also closes any connection pgx has already closed itself.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
