package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// unreachableConnString points at a port nothing listens on, so dialing
// fails fast without a database.
const unreachableConnString = "host=127.0.0.1 port=1 user=nobody dbname=nothing sslmode=disable"

func unreachableConfig(poolSize, overflow int, poolTimeout time.Duration) Config {
	return Config{
		ConnString:     unreachableConnString,
		PoolSize:       poolSize,
		MaxOverflow:    overflow,
		ConnectTimeout: time.Second,
		PoolTimeout:    poolTimeout,
	}
}

func newUnreachable(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	g, err := New(context.Background(), cfg, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(g.CloseAll)
	return g
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero pool size", func(c *Config) { c.PoolSize = 0 }, "pool size must be >= 1"},
		{"negative overflow", func(c *Config) { c.MaxOverflow = -1 }, "max overflow must be >= 0"},
		{"zero pool timeout", func(c *Config) { c.PoolTimeout = 0 }, "pool timeout must be > 0"},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect timeout must be > 0"},
		{"bad conn string", func(c *Config) { c.ConnString = "host=localhost port=notaport" }, "failed to parse connection string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := unreachableConfig(2, 0, time.Second)
			tt.mutate(&cfg)
			g, err := New(context.Background(), cfg, zerolog.Nop())
			if err == nil {
				g.CloseAll()
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfig_MaxConns(t *testing.T) {
	t.Parallel()
	cfg := Config{PoolSize: 5, MaxOverflow: 10}
	if got := cfg.MaxConns(); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
}

func TestReserve_NeverExceedsMaxConns(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(2, 1, 10*time.Second))

	const goroutines = 30
	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.reserve(context.Background()); err != nil {
				t.Errorf("reserve failed: %v", err)
				return
			}
			cur := current.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			if borrowed := g.Stats().Borrowed; borrowed > 3 {
				t.Errorf("borrowed count %d exceeds max 3", borrowed)
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			g.unreserve()
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Fatalf("peak concurrent checkouts %d exceeds max 3", peak.Load())
	}
	if got := g.Stats().Borrowed; got != 0 {
		t.Fatalf("expected 0 borrowed after all released, got %d", got)
	}
}

func TestReserve_ExhaustedAfterPoolTimeout(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(1, 0, 50*time.Millisecond))

	if err := g.reserve(context.Background()); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	defer g.unreserve()

	start := time.Now()
	err := g.reserve(context.Background())
	var exhausted *PoolExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *PoolExhaustedError, got %T: %v", err, err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("expected reserve to wait for the pool timeout, returned after %v", time.Since(start))
	}
	if exhausted.Max != 1 {
		t.Fatalf("expected Max 1, got %d", exhausted.Max)
	}
	if !strings.Contains(err.Error(), "all 1 connections are in use") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if got := g.Stats().Exhausted; got != 1 {
		t.Fatalf("expected exhausted count 1, got %d", got)
	}
	if got := g.Stats().Borrowed; got != 1 {
		t.Fatalf("expected borrowed count 1, got %d", got)
	}
}

func TestReserve_WaiterProceedsAfterRelease(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(1, 0, 5*time.Second))

	if err := g.reserve(context.Background()); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.reserve(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("second reserve should block, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	g.unreserve()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second reserve failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second reserve did not proceed after release")
	}
	g.unreserve()
}

func TestReserve_ParentContextCancelled(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(1, 0, 5*time.Second))

	if err := g.reserve(context.Background()); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	defer g.unreserve()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.reserve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
	var exhausted *PoolExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("parent cancellation must not be reported as pool exhaustion")
	}
}

func TestBorrow_UnreachableDatabase(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(2, 0, time.Second))

	_, err := g.Borrow(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if connErr.Op != "borrow" {
		t.Fatalf("expected op borrow, got %q", connErr.Op)
	}
	if got := g.Stats().Borrowed; got != 0 {
		t.Fatalf("failed borrow must free its slot, borrowed=%d", got)
	}
}

func TestInitialize_UnreachableDatabase(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(1, 0, time.Second))

	err := g.Initialize(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}

	// Initialize closes the pool on failure.
	if _, err := g.Borrow(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after failed initialize, got %v", err)
	}
}

func TestCloseAll_Idempotent(t *testing.T) {
	t.Parallel()
	g := newUnreachable(t, unreachableConfig(1, 0, time.Second))
	g.CloseAll()
	g.CloseAll()
	if _, err := g.Borrow(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestIsProtocolError(t *testing.T) {
	t.Parallel()
	m := pgtype.NewMap()
	encodeErr := func(oid uint32, v any) error {
		_, err := m.Encode(oid, pgtype.BinaryFormatCode, v, nil)
		if err == nil {
			t.Fatalf("expected encoding %#v to fail", v)
		}
		return fmt.Errorf("failed to encode args[0]: %w", err)
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"wrapped server error", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "42P01"}), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"no rows", pgx.ErrNoRows, false},
		{"tx closed", pgx.ErrTxClosed, false},
		{"encode object into int4", encodeErr(pgtype.Int4OID, map[string]any{"a": 1}), false},
		{"encode list into int4", encodeErr(pgtype.Int4OID, []any{1, 2}), false},
		{"encode text into bool", encodeErr(pgtype.BoolOID, "yes please"), false},
		{"conn busy", errors.New("conn busy"), false},
		{"io failure", io.ErrUnexpectedEOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"network", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, true},
		{"connect", &pgconn.ConnectError{Config: &pgconn.Config{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsProtocolError(tt.err); got != tt.want {
				t.Fatalf("IsProtocolError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPoolExhaustedError_Message(t *testing.T) {
	t.Parallel()
	err := &PoolExhaustedError{Max: 3, Waited: 1500 * time.Millisecond}
	want := "connection pool exhausted: all 3 connections are in use, waited 1.5s"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
