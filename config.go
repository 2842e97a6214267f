package pgcrud

import (
	"fmt"
	"strings"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Connection     ConnectionConfig   `json:"connection"`
	Pool           PoolConfig         `json:"pool"`
	Query          QueryConfig        `json:"query"`
	DeniedKeywords []string           `json:"denied_keywords"`
	ErrorPrompts   []ErrorPromptRule  `json:"error_prompts"`
	Sanitization   []SanitizationRule `json:"sanitization"`
	ReadOnly       bool               `json:"read_only"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Server    ServerSettings `json:"server"`
	Logging   LoggingConfig  `json:"logging"`
	RulesFile string         `json:"rules_file"`
}

// ConnectionConfig holds database connection parameters.
type ConnectionConfig struct {
	// URL, when set, is used as the connection string and the fields below
	// are ignored. Library mode only; the environment loader never sets it.
	URL string `json:"-"`

	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	DBName                string `json:"dbname"`
	User                  string `json:"user"`
	Password              string `json:"-"`
	SSLMode               string `json:"sslmode"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	ApplicationName       string `json:"application_name"`
}

// PoolConfig holds connection pool settings. At most PoolSize+MaxOverflow
// connections are checked out at once.
type PoolConfig struct {
	PoolSize           int    `json:"pool_size"`
	MaxOverflow        int    `json:"max_overflow"`
	PoolTimeoutSeconds int    `json:"pool_timeout_seconds"`
	MaxConnLifetime    string `json:"max_conn_lifetime"`
	MaxConnIdleTime    string `json:"max_conn_idle_time"`
	HealthCheckPeriod  string `json:"health_check_period"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport       string `json:"transport"` // stdio, http
	Port            int    `json:"port"`
	HealthCheckPath string `json:"health_check_path"`
	MetricsPath     string `json:"metrics_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stderr, stdout, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	StatementTimeoutSeconds int           `json:"statement_timeout_seconds"`
	MaxSQLLength            int           `json:"max_sql_length"`
	MaxResultLength         int           `json:"max_result_length"`
	TimeoutRules            []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific statement timeout.
type TimeoutRule struct {
	Pattern        string `json:"pattern" mapstructure:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern" mapstructure:"pattern"`
	Message string `json:"message" mapstructure:"message"`
}

// SanitizationRule defines a regex-based value sanitization rule. Columns
// limits the rule to the named result columns.
type SanitizationRule struct {
	Pattern     string   `json:"pattern" mapstructure:"pattern"`
	Replacement string   `json:"replacement" mapstructure:"replacement"`
	Columns     []string `json:"columns" mapstructure:"columns"`
	Description string   `json:"description" mapstructure:"description"`
}

// DefaultConfig returns the library defaults, matching the environment
// defaults of the CLI.
func DefaultConfig() Config {
	return Config{
		Connection: ConnectionConfig{
			Host:                  "localhost",
			Port:                  5432,
			DBName:                "postgres",
			User:                  "postgres",
			SSLMode:               "prefer",
			ConnectTimeoutSeconds: 30,
			ApplicationName:       "pgcrudmcp",
		},
		Pool: PoolConfig{
			PoolSize:           5,
			MaxOverflow:        10,
			PoolTimeoutSeconds: 30,
		},
		Query: QueryConfig{
			StatementTimeoutSeconds: 30,
			MaxSQLLength:            100000,
			MaxResultLength:         100000,
		},
	}
}

// ConnString renders a libpq keyword/value connection string. Empty values
// are left out; the rest are single-quoted when they contain whitespace,
// quotes or backslashes.
func (c ConnectionConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	var parts []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		parts = append(parts, key+"="+quoteConnValue(value))
	}
	add("host", c.Host)
	if c.Port > 0 {
		add("port", fmt.Sprint(c.Port))
	}
	add("dbname", c.DBName)
	add("user", c.User)
	add("password", c.Password)
	add("sslmode", c.SSLMode)
	if c.ConnectTimeoutSeconds > 0 {
		add("connect_timeout", fmt.Sprint(c.ConnectTimeoutSeconds))
	}
	add("application_name", c.ApplicationName)
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, " '\\\t\n") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
