// Package timeout resolves the statement timeout applied to each query.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule is the timeout manager's own rule type.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement timeouts based on SQL pattern matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex patterns
// or non-positive durations.
func NewManager(config Config) (*Manager, error) {
	if config.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("timeout: default timeout must be > 0")
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		if r.Timeout <= 0 {
			return nil, fmt.Errorf("timeout: rule %q must have a timeout > 0", r.Pattern)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// GetTimeout returns the timeout for the given SQL.
// First matching rule wins. Falls back to default.
func (m *Manager) GetTimeout(sql string) time.Duration {
	d, _ := m.GetTimeoutWithPattern(sql)
	return d
}

// GetTimeoutWithPattern is GetTimeout that also reports which rule pattern
// matched. The pattern is empty when the default applied.
func (m *Manager) GetTimeoutWithPattern(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// Default returns the fallback timeout.
func (m *Manager) Default() time.Duration {
	return m.defaultTimeout
}
