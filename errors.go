package pgcrud

import (
	"fmt"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/gateway"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// ConfigurationError names the first invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Error types returned by the engine, usable with errors.As.
type (
	ConnectionError    = gateway.ConnectionError
	PoolExhaustedError = gateway.PoolExhaustedError
	QueryError         = executor.QueryError
	ValidationError    = protection.ValidationError
)

// Row is an ordered list of (column, value) pairs.
type Row = executor.Row
