// Package errprompt appends guidance for the calling assistant to error
// messages that match configured patterns.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs an error-message pattern with guidance text.
type Rule struct {
	Pattern string
	Message string
}

// DefaultRules cover the failures assistants hit most often. They run after
// any configured rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern: `(?i)relation "[^"]+" does not exist`,
			Message: "The table does not exist. Call get_tables to list available tables, and qualify the name as schema.table when it is not in the search path.",
		},
		{
			Pattern: `(?i)column "[^"]+" (of relation "[^"]+" )?does not exist`,
			Message: "The column does not exist. Call get_table_schema to see the table's columns.",
		},
		{
			Pattern: `(?i)duplicate key value violates unique constraint`,
			Message: "A row with the same unique key already exists. Read the existing row with read_entity, or update it with update_entity instead of inserting.",
		},
		{
			Pattern: `(?i)connection pool exhausted`,
			Message: "The server is busy. Retry after the running queries finish.",
		},
	}
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules in order. Returns an error on invalid regex
// patterns or empty guidance.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		if strings.TrimSpace(r.Message) == "" {
			return nil, fmt.Errorf("errprompt: rule %q has no message", r.Pattern)
		}
		compiled = append(compiled, compiledRule{pattern: re, message: r.Message})
	}
	return &Matcher{rules: compiled}, nil
}

// Match returns the guidance of every matching rule, top to bottom, joined
// by newlines. Identical guidance is included once. Returns "" when nothing
// matches.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	seen := make(map[string]struct{})
	for _, rule := range m.rules {
		if !rule.pattern.MatchString(errMsg) {
			continue
		}
		if _, dup := seen[rule.message]; dup {
			continue
		}
		seen[rule.message] = struct{}{}
		matches = append(matches, rule.message)
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the patterns that matched errMsg, for logging.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}

// Annotate returns errMsg followed by a blank line and the matching guidance,
// or errMsg unchanged when nothing matches.
func (m *Matcher) Annotate(errMsg string) string {
	if guidance := m.Match(errMsg); guidance != "" {
		return errMsg + "\n\n" + guidance
	}
	return errMsg
}
