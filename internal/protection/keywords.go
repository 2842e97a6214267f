package protection

import (
	"strings"
	"unicode"
)

// DefaultDeniedKeywords are refused in free-form SQL.
var DefaultDeniedKeywords = []string{"DROP", "TRUNCATE", "ALTER", "CREATE", "GRANT", "REVOKE"}

// CheckKeywords scans sql case-insensitively for whole-word occurrences of
// the denied keywords. Text inside single-quoted literals, double-quoted
// identifiers and comments is skipped. Dollar-quoted bodies are scanned, so
// this over-rejects there; it is a guard, not a parser.
func (c *Checker) CheckKeywords(sql string) error {
	for _, word := range words(stripLiterals(sql)) {
		upper := strings.ToUpper(word)
		if _, ok := c.denied[upper]; ok {
			return &ValidationError{Field: "query", Reason: "keyword " + upper + " is not allowed"}
		}
	}
	return nil
}

// containsWord reports whether any of keywords appears as a whole word
// outside literals and comments.
func containsWord(sql string, keywords ...string) bool {
	for _, word := range words(stripLiterals(sql)) {
		for _, k := range keywords {
			if strings.EqualFold(word, k) {
				return true
			}
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$')
	})
}

// stripLiterals blanks out quoted text and comments, keeping everything else.
func stripLiterals(sql string) string {
	var sb strings.Builder
	sb.Grow(len(sql))
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"':
			// Doubled quotes escape themselves, so skipping to the next quote
			// and continuing the outer loop handles them too.
			j := strings.IndexByte(sql[i+1:], ch)
			if j < 0 {
				return sb.String()
			}
			i += j + 1
			sb.WriteByte(' ')
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				return sb.String()
			}
			i += j
			sb.WriteByte(' ')
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				return sb.String()
			}
			i += j + 3
			sb.WriteByte(' ')
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
