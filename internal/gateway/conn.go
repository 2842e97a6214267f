package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const discardCloseTimeout = 5 * time.Second

// Conn is a borrowed connection. It is owned by exactly one caller until
// Release.
type Conn struct {
	g    *Gateway
	conn *pgxpool.Conn

	once   sync.Once
	broken bool
	cause  error
}

// Begin starts a transaction on the borrowed connection.
func (c *Conn) Begin(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

// BackendPID identifies the server session behind this connection.
func (c *Conn) BackendPID() uint32 {
	return c.conn.Conn().PgConn().PID()
}

// Discard marks the connection so Release closes it instead of returning it
// to the pool.
func (c *Conn) Discard(cause error) {
	c.broken = true
	c.cause = cause
}

// Observe discards the connection when err is a protocol error and returns
// err unchanged.
func (c *Conn) Observe(err error) error {
	if IsProtocolError(err) {
		c.Discard(err)
	}
	return err
}

// Release returns the connection to the pool, or closes it when it was
// discarded or the session is already gone. Only the first call has effect.
func (c *Conn) Release() {
	c.once.Do(func() {
		defer c.g.unreserve()

		if !c.broken && !c.conn.Conn().IsClosed() {
			c.conn.Release()
			return
		}

		raw := c.conn.Hijack()
		ctx, cancel := context.WithTimeout(context.Background(), discardCloseTimeout)
		_ = raw.Close(ctx)
		cancel()
		c.g.discarded.Add(1)

		event := c.g.logger.Warn()
		if c.cause != nil {
			event = event.Err(c.cause)
		}
		event.Msg("discarded broken connection")
	})
}
