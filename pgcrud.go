package pgcrud

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-crud-mcp/internal/errprompt"
	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/gateway"
	"github.com/rickchristie/postgres-crud-mcp/internal/metrics"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
	"github.com/rickchristie/postgres-crud-mcp/internal/sanitize"
	"github.com/rickchristie/postgres-crud-mcp/internal/timeout"
)

// PostgresCrud is the engine behind every tool and resource. All exported
// methods are safe for concurrent use from multiple goroutines.
type PostgresCrud struct {
	config     Config
	gw         *gateway.Gateway
	exec       *executor.Executor
	protection *protection.Checker
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New validates config, opens the pool and checks connectivity with SELECT 1
// within the connect timeout. A database that cannot be reached yields a
// *ConnectionError; invalid config yields a *ConfigurationError.
func New(ctx context.Context, config Config, logger zerolog.Logger) (*PostgresCrud, error) {
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	gwConfig := gateway.Config{
		ConnString:     config.Connection.ConnString(),
		PoolSize:       config.Pool.PoolSize,
		MaxOverflow:    config.Pool.MaxOverflow,
		ConnectTimeout: time.Duration(config.Connection.ConnectTimeoutSeconds) * time.Second,
		PoolTimeout:    time.Duration(config.Pool.PoolTimeoutSeconds) * time.Second,
		ReadOnly:       config.ReadOnly,
	}
	var err error
	if gwConfig.MaxConnLifetime, err = parseOptionalDuration("pool.max_conn_lifetime", config.Pool.MaxConnLifetime); err != nil {
		return nil, err
	}
	if gwConfig.MaxConnIdleTime, err = parseOptionalDuration("pool.max_conn_idle_time", config.Pool.MaxConnIdleTime); err != nil {
		return nil, err
	}
	if gwConfig.HealthCheckPeriod, err = parseOptionalDuration("pool.health_check_period", config.Pool.HealthCheckPeriod); err != nil {
		return nil, err
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.StatementTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		return nil, configErr("query.timeout_rules", "%v", err)
	}
	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		return nil, configErr("sanitization", "%v", err)
	}
	matcher, err := errprompt.NewMatcher(append(mapErrorPromptRules(config.ErrorPrompts), errprompt.DefaultRules()...))
	if err != nil {
		return nil, configErr("error_prompts", "%v", err)
	}

	gw, err := gateway.New(ctx, gwConfig, logger)
	if err != nil {
		return nil, configErr("connection", "%v", err)
	}
	if err := gw.Initialize(ctx); err != nil {
		return nil, err
	}

	m := metrics.New(gw)
	p := &PostgresCrud{
		config: config,
		gw:     gw,
		exec:   executor.New(gw, tmgr, logger, executor.WithObserver(m.ObserveStatement)),
		protection: protection.NewChecker(protection.Config{
			DeniedKeywords: config.DeniedKeywords,
			ReadOnly:       config.ReadOnly,
		}),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		metrics:    m,
		logger:     logger,
	}

	logger.Info().
		Str("host", config.Connection.Host).
		Str("database", config.Connection.DBName).
		Int("pool_size", config.Pool.PoolSize).
		Int("max_overflow", config.Pool.MaxOverflow).
		Bool("read_only", config.ReadOnly).
		Msg("database pool initialized")
	return p, nil
}

func validateConfig(config *Config) error {
	if config.Connection.URL == "" {
		if config.Connection.Host == "" {
			return configErr("connection.host", "must not be empty")
		}
		if config.Connection.Port < 1 || config.Connection.Port > 65535 {
			return configErr("connection.port", "must be between 1 and 65535, got %d", config.Connection.Port)
		}
	}
	if config.Pool.PoolSize < 1 {
		return configErr("pool.pool_size", "must be >= 1, got %d", config.Pool.PoolSize)
	}
	if config.Pool.MaxOverflow < 0 {
		return configErr("pool.max_overflow", "must be >= 0, got %d", config.Pool.MaxOverflow)
	}
	if config.Connection.ConnectTimeoutSeconds <= 0 {
		return configErr("connection.connect_timeout_seconds", "must be > 0")
	}
	if config.Pool.PoolTimeoutSeconds <= 0 {
		return configErr("pool.pool_timeout_seconds", "must be > 0")
	}
	if config.Query.StatementTimeoutSeconds <= 0 {
		return configErr("query.statement_timeout_seconds", "must be > 0")
	}

	// Zero selects the default.
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		return configErr("query.max_sql_length", "must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		return configErr("query.max_result_length", "must be > 0")
	}
	return nil
}

func parseOptionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, configErr(field, "invalid duration %q: %v", s, err)
	}
	return d, nil
}

// Close closes every pooled connection. Safe to call more than once.
func (p *PostgresCrud) Close() {
	p.gw.CloseAll()
}

// Ping runs SELECT 1 on a borrowed connection.
func (p *PostgresCrud) Ping(ctx context.Context) error {
	return p.gw.Ping(ctx)
}

// Stats returns pool bookkeeping.
func (p *PostgresCrud) Stats() gateway.Stats {
	return p.gw.Stats()
}

// ReadOnly reports whether write tools are disabled.
func (p *PostgresCrud) ReadOnly() bool {
	return p.config.ReadOnly
}

// MetricsHandler serves the engine's Prometheus registry.
func (p *PostgresCrud) MetricsHandler() http.Handler {
	return p.metrics.Handler()
}

// handleError converts err into the message returned to the caller, with any
// matching guidance appended after a blank line.
func (p *PostgresCrud) handleError(op string, err error) string {
	msg := fmt.Sprintf("%s: %v", op, err)
	annotated := p.errPrompts.Annotate(msg)
	if annotated != msg {
		p.logger.Debug().
			Str("op", op).
			Strs("error_prompts", p.errPrompts.MatchedPatterns(msg)).
			Msg("error prompt matched")
	}
	p.logger.Warn().
		Str("op", op).
		Err(err).
		Msg("operation failed")
	return annotated
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Columns:     r.Columns,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
