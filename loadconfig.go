package pgcrud

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

var envDefaults = []struct {
	key string
	def any
}{
	{"POSTGRES_HOST", "localhost"},
	{"POSTGRES_PORT", 5432},
	{"POSTGRES_DB", "postgres"},
	{"POSTGRES_USER", "postgres"},
	{"POSTGRES_PASSWORD", ""},
	{"POSTGRES_SSL_MODE", "prefer"},
	{"POSTGRES_POOL_SIZE", 5},
	{"POSTGRES_MAX_OVERFLOW", 10},
	{"POSTGRES_CONNECT_TIMEOUT", 30},
	{"POSTGRES_POOL_TIMEOUT", 30},
	{"POSTGRES_STATEMENT_TIMEOUT", 30},
	{"POSTGRES_APPLICATION_NAME", "pgcrudmcp"},
	{"MCP_TRANSPORT", "stdio"},
	{"MCP_HTTP_PORT", 8080},
	{"MCP_HEALTH_CHECK_PATH", "/healthz"},
	{"MCP_METRICS_PATH", "/metrics"},
	{"MCP_READ_ONLY", false},
	{"MCP_MAX_SQL_LENGTH", 100000},
	{"MCP_MAX_RESULT_LENGTH", 100000},
	{"MCP_LOG_LEVEL", "info"},
	{"MCP_LOG_FORMAT", "json"},
	{"MCP_LOG_OUTPUT", "stderr"},
	{"MCP_RULES_FILE", ""},
}

// EnvKeys lists every environment variable the loader reads, in validation
// order.
func EnvKeys() []string {
	keys := make([]string, len(envDefaults))
	for i, d := range envDefaults {
		keys[i] = d.key
	}
	return keys
}

// EnvDefault returns the default of an environment variable as a string.
func EnvDefault(key string) string {
	for _, d := range envDefaults {
		if d.key == key {
			return cast.ToString(d.def)
		}
	}
	return ""
}

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// LoadConfig reads the process environment, then the .env file in the working
// directory of fs, then the defaults, and validates the result. The first
// invalid field is reported as a *ConfigurationError.
func LoadConfig(fs afero.Fs) (*ServerConfig, error) {
	v := viper.New()
	v.SetFs(fs)
	for _, d := range envDefaults {
		key := strings.ToLower(d.key)
		v.SetDefault(key, d.def)
		if err := v.BindEnv(key, d.key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", d.key, err)
		}
	}

	exists, err := afero.Exists(fs, DotEnvFile)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", DotEnvFile, err)
	}
	if exists {
		v.SetConfigFile(DotEnvFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, configErr(DotEnvFile, "%v", err)
		}
	}

	l := &loader{v: v}
	cfg := &ServerConfig{}
	cfg.Connection = ConnectionConfig{
		Host:     l.nonEmpty("POSTGRES_HOST"),
		Port:     l.intRange("POSTGRES_PORT", 1, 65535),
		DBName:   l.nonEmpty("POSTGRES_DB"),
		User:     l.nonEmpty("POSTGRES_USER"),
		Password: l.str("POSTGRES_PASSWORD"),
		SSLMode:  l.oneOf("POSTGRES_SSL_MODE", validSSLModes...),
	}
	cfg.Pool = PoolConfig{
		PoolSize:    l.intMin("POSTGRES_POOL_SIZE", 1),
		MaxOverflow: l.intMin("POSTGRES_MAX_OVERFLOW", 0),
	}
	cfg.Connection.ConnectTimeoutSeconds = l.intMin("POSTGRES_CONNECT_TIMEOUT", 1)
	cfg.Pool.PoolTimeoutSeconds = l.intMin("POSTGRES_POOL_TIMEOUT", 1)
	cfg.Query.StatementTimeoutSeconds = l.intMin("POSTGRES_STATEMENT_TIMEOUT", 1)
	cfg.Connection.ApplicationName = l.str("POSTGRES_APPLICATION_NAME")

	cfg.Server = ServerSettings{
		Transport:       l.oneOf("MCP_TRANSPORT", "stdio", "http"),
		Port:            l.intRange("MCP_HTTP_PORT", 1, 65535),
		HealthCheckPath: l.path("MCP_HEALTH_CHECK_PATH", false),
		MetricsPath:     l.path("MCP_METRICS_PATH", true),
	}
	cfg.ReadOnly = l.boolean("MCP_READ_ONLY")
	cfg.Query.MaxSQLLength = l.intMin("MCP_MAX_SQL_LENGTH", 1)
	cfg.Query.MaxResultLength = l.intMin("MCP_MAX_RESULT_LENGTH", 1)
	cfg.Logging = LoggingConfig{
		Level:  l.oneOf("MCP_LOG_LEVEL", "debug", "info", "warn", "error"),
		Format: l.oneOf("MCP_LOG_FORMAT", "json", "text"),
		Output: l.nonEmpty("MCP_LOG_OUTPUT"),
	}
	cfg.RulesFile = l.str("MCP_RULES_FILE")
	if l.err != nil {
		return nil, l.err
	}

	if cfg.Server.Transport == "stdio" && cfg.Logging.Output == "stdout" {
		return nil, configErr("MCP_LOG_OUTPUT", "stdout is reserved for the stdio transport")
	}

	if cfg.RulesFile != "" {
		if err := loadRules(fs, cfg.RulesFile, &cfg.Config); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loader reads typed values and keeps the first error.
type loader struct {
	v   *viper.Viper
	err *ConfigurationError
}

func (l *loader) raw(key string) any {
	return l.v.Get(strings.ToLower(key))
}

func (l *loader) fail(key, format string, args ...any) {
	if l.err == nil {
		l.err = configErr(key, format, args...)
	}
}

func (l *loader) str(key string) string {
	return strings.TrimSpace(cast.ToString(l.raw(key)))
}

func (l *loader) nonEmpty(key string) string {
	s := l.str(key)
	if s == "" {
		l.fail(key, "must not be empty")
	}
	return s
}

func (l *loader) oneOf(key string, allowed ...string) string {
	s := strings.ToLower(l.str(key))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	l.fail(key, "%q is not one of %s", s, strings.Join(allowed, ", "))
	return s
}

func (l *loader) integer(key string) (int, bool) {
	raw := l.raw(key)
	if s, ok := raw.(string); ok {
		raw = strings.TrimSpace(s)
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		l.fail(key, "%q is not an integer", cast.ToString(raw))
		return 0, false
	}
	return n, true
}

func (l *loader) intMin(key string, min int) int {
	n, ok := l.integer(key)
	if ok && n < min {
		l.fail(key, "must be >= %d, got %d", min, n)
	}
	return n
}

func (l *loader) intRange(key string, min, max int) int {
	n, ok := l.integer(key)
	if ok && (n < min || n > max) {
		l.fail(key, "must be between %d and %d, got %d", min, max, n)
	}
	return n
}

func (l *loader) boolean(key string) bool {
	b, err := cast.ToBoolE(l.raw(key))
	if err != nil {
		l.fail(key, "%q is not a boolean", cast.ToString(l.raw(key)))
	}
	return b
}

func (l *loader) path(key string, allowEmpty bool) string {
	s := l.str(key)
	if s == "" && allowEmpty {
		return s
	}
	if !strings.HasPrefix(s, "/") {
		l.fail(key, "must start with /")
	}
	return s
}

// rulesFile is the shape of MCP_RULES_FILE.
type rulesFile struct {
	DeniedKeywords []string           `mapstructure:"denied_keywords"`
	TimeoutRules   []TimeoutRule      `mapstructure:"timeout_rules"`
	ErrorPrompts   []ErrorPromptRule  `mapstructure:"error_prompts"`
	Sanitization   []SanitizationRule `mapstructure:"sanitization"`
}

func loadRules(fs afero.Fs, path string, cfg *Config) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yaml", "yml", "json":
	default:
		return configErr("MCP_RULES_FILE", "unsupported extension %q: use .yaml, .yml or .json", ext)
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType(ext)
	if err := v.ReadInConfig(); err != nil {
		return configErr("MCP_RULES_FILE", "%v", err)
	}
	var rules rulesFile
	if err := v.Unmarshal(&rules); err != nil {
		return configErr("MCP_RULES_FILE", "%v", err)
	}

	if v.IsSet("denied_keywords") {
		cfg.DeniedKeywords = rules.DeniedKeywords
		if cfg.DeniedKeywords == nil {
			cfg.DeniedKeywords = []string{}
		}
	}
	for i, r := range rules.TimeoutRules {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return configErr(fmt.Sprintf("timeout_rules[%d].pattern", i), "%v", err)
		}
		if r.TimeoutSeconds <= 0 {
			return configErr(fmt.Sprintf("timeout_rules[%d].timeout_seconds", i), "must be > 0")
		}
	}
	for i, r := range rules.ErrorPrompts {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return configErr(fmt.Sprintf("error_prompts[%d].pattern", i), "%v", err)
		}
		if strings.TrimSpace(r.Message) == "" {
			return configErr(fmt.Sprintf("error_prompts[%d].message", i), "must not be empty")
		}
	}
	for i, r := range rules.Sanitization {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return configErr(fmt.Sprintf("sanitization[%d].pattern", i), "%v", err)
		}
	}
	cfg.Query.TimeoutRules = rules.TimeoutRules
	cfg.ErrorPrompts = rules.ErrorPrompts
	cfg.Sanitization = rules.Sanitization
	return nil
}
