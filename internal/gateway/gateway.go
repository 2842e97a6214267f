// Package gateway owns the bounded pool of PostgreSQL connections. Callers
// borrow a connection for the duration of one statement or one transaction
// and release it exactly once.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Config is the gateway's own config type.
type Config struct {
	ConnString string

	// PoolSize connections are kept open. MaxOverflow more may be opened
	// under load, so at most PoolSize+MaxOverflow are checked out at once.
	PoolSize    int
	MaxOverflow int

	ConnectTimeout    time.Duration
	PoolTimeout       time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// ReadOnly makes every session default to read-only transactions.
	ReadOnly bool
}

// MaxConns returns the upper bound of simultaneously checked-out connections.
func (c Config) MaxConns() int {
	return c.PoolSize + c.MaxOverflow
}

// Stats is a point-in-time snapshot of pool bookkeeping.
type Stats struct {
	Borrowed     int64 `json:"borrowed"`
	MaxConns     int64 `json:"max_conns"`
	Discarded    int64 `json:"discarded"`
	Exhausted    int64 `json:"exhausted"`
	TotalConns   int32 `json:"total_conns"`
	IdleConns    int32 `json:"idle_conns"`
	AcquireCount int64 `json:"acquire_count"`
}

// Gateway is safe for concurrent use.
type Gateway struct {
	pool           *pgxpool.Pool
	slots          *semaphore.Weighted
	maxConns       int64
	poolTimeout    time.Duration
	connectTimeout time.Duration
	logger         zerolog.Logger

	borrowed  atomic.Int64
	discarded atomic.Int64
	exhausted atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates the pool without dialing. Call Initialize before serving.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Gateway, error) {
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("gateway: pool size must be >= 1, got %d", cfg.PoolSize)
	}
	if cfg.MaxOverflow < 0 {
		return nil, fmt.Errorf("gateway: max overflow must be >= 0, got %d", cfg.MaxOverflow)
	}
	if cfg.PoolTimeout <= 0 {
		return nil, fmt.Errorf("gateway: pool timeout must be > 0")
	}
	if cfg.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("gateway: connect timeout must be > 0")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	maxConns := cfg.MaxConns()
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(cfg.PoolSize)
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	// Extended protocol with server-described parameter types: one statement
	// per round trip, and bound values are encoded for the column's real type.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	if cfg.ReadOnly {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
				return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Gateway{
		pool:           pool,
		slots:          semaphore.NewWeighted(int64(maxConns)),
		maxConns:       int64(maxConns),
		poolTimeout:    cfg.PoolTimeout,
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// Initialize runs one liveness check within the connect timeout. On failure
// the pool is closed and a *ConnectionError is returned.
func (g *Gateway) Initialize(ctx context.Context) error {
	startTime := time.Now()
	initCtx, cancel := context.WithTimeout(ctx, g.connectTimeout)
	defer cancel()

	if err := g.ping(initCtx); err != nil {
		g.CloseAll()
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return &ConnectionError{Op: "initialize", Err: err}
	}

	g.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int64("max_conns", g.maxConns).
		Msg("connection pool ready")
	return nil
}

// Ping borrows a connection and runs SELECT 1.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.ping(ctx)
}

func (g *Gateway) ping(ctx context.Context) error {
	return g.With(ctx, func(c *Conn) error {
		var one int
		if err := c.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("liveness check failed: %w", err)
		}
		return nil
	})
}

// Borrow blocks until a connection is free or the pool timeout elapses. The
// returned Conn must be released exactly once; extra Release calls are no-ops.
func (g *Gateway) Borrow(ctx context.Context) (*Conn, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	if err := g.reserve(ctx); err != nil {
		return nil, err
	}

	pc, err := g.pool.Acquire(ctx)
	if err != nil {
		g.unreserve()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("borrow cancelled: %w", ctx.Err())
		}
		if g.closed.Load() {
			return nil, ErrClosed
		}
		return nil, &ConnectionError{Op: "borrow", Err: err}
	}
	return &Conn{g: g, conn: pc}, nil
}

// With borrows a connection for the duration of fn. The connection is
// released even if fn panics, and discarded if fn returns a protocol error.
func (g *Gateway) With(ctx context.Context, fn func(*Conn) error) error {
	c, err := g.Borrow(ctx)
	if err != nil {
		return err
	}
	defer c.Release()
	return c.Observe(fn(c))
}

// reserve takes one checkout slot, waiting at most the pool timeout.
func (g *Gateway) reserve(ctx context.Context) error {
	waitStart := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, g.poolTimeout)
	defer cancel()

	if err := g.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("borrow cancelled: %w", ctx.Err())
		}
		g.exhausted.Add(1)
		waited := time.Since(waitStart)
		g.logger.Warn().
			Dur("waited", waited).
			Int64("max_conns", g.maxConns).
			Msg("connection pool exhausted")
		return &PoolExhaustedError{Max: int(g.maxConns), Waited: waited}
	}
	g.borrowed.Add(1)
	return nil
}

func (g *Gateway) unreserve() {
	g.borrowed.Add(-1)
	g.slots.Release(1)
}

// CloseAll closes every connection. Safe to call more than once. Blocks
// until borrowed connections are released.
func (g *Gateway) CloseAll() {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.pool.Close()
		g.logger.Info().Msg("connection pool closed")
	})
}

// Stats returns a snapshot of the pool bookkeeping.
func (g *Gateway) Stats() Stats {
	ps := g.pool.Stat()
	return Stats{
		Borrowed:     g.borrowed.Load(),
		MaxConns:     g.maxConns,
		Discarded:    g.discarded.Load(),
		Exhausted:    g.exhausted.Load(),
		TotalConns:   ps.TotalConns(),
		IdleConns:    ps.IdleConns(),
		AcquireCount: ps.AcquireCount(),
	}
}
