// Package sanitize masks sensitive values in result rows before they leave
// the server.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
)

// Rule replaces every match of Pattern with Replacement. When Columns is
// non-empty the rule only touches those columns (case-insensitive).
type Rule struct {
	Pattern     string
	Replacement string
	Columns     []string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	columns     map[string]struct{}
}

func (r compiledRule) appliesTo(column string) bool {
	if len(r.columns) == 0 {
		return true
	}
	_, ok := r.columns[strings.ToLower(column)]
	return ok
}

// Sanitizer applies regex-based sanitization to result row values.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		var cols map[string]struct{}
		if len(r.Columns) > 0 {
			cols = make(map[string]struct{}, len(r.Columns))
			for _, c := range r.Columns {
				cols[strings.ToLower(c)] = struct{}{}
			}
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement, columns: cols}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows rewrites string values in place, descending into JSON objects
// and arrays. Column order is untouched.
func (s *Sanitizer) SanitizeRows(rows []executor.Row) []executor.Row {
	if !s.HasRules() {
		return rows
	}
	for _, row := range rows {
		for i := range row {
			row[i].Value = s.sanitizeValue(row[i].Name, row[i].Value)
		}
	}
	return rows
}

func (s *Sanitizer) sanitizeValue(column string, v any) any {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range s.rules {
			if rule.appliesTo(column) {
				result = rule.pattern.ReplaceAllString(result, rule.replacement)
			}
		}
		return result
	case map[string]any:
		for k, item := range val {
			val[k] = s.sanitizeValue(column, item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = s.sanitizeValue(column, item)
		}
		return val
	default:
		// json.Number has string as its underlying type but is its own type,
		// so it lands here untouched.
		return v
	}
}
