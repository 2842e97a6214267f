package sanitize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
)

var phoneRule = Rule{
	Pattern:     `(\+\d{2})\d+(\d{3})`,
	Replacement: "${1}xxx${2}",
}

var emailRule = Rule{
	Pattern:     `^[^@]+@`,
	Replacement: "***@",
	Columns:     []string{"Email"},
}

func mustSanitizer(t *testing.T, rules ...Rule) *Sanitizer {
	t.Helper()
	s, err := NewSanitizer(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestSanitizeValue_Phone(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t, phoneRule)
	if got := s.sanitizeValue("phone", "+62821233447"); got != "+62xxx447" {
		t.Fatalf("expected +62xxx447, got %v", got)
	}
	if got := s.sanitizeValue("phone", "hello world"); got != "hello world" {
		t.Fatalf("expected hello world, got %v", got)
	}
}

func TestSanitizeValue_RulesApplyInOrder(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t, phoneRule, Rule{Pattern: `xxx`, Replacement: "***"})
	if got := s.sanitizeValue("phone", "+62821233447"); got != "+62***447" {
		t.Fatalf("expected +62***447, got %v", got)
	}
}

func TestSanitizeValue_ColumnScopedRule(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t, emailRule)
	if got := s.sanitizeValue("email", "alice@example.com"); got != "***@example.com" {
		t.Fatalf("expected masked email, got %v", got)
	}
	if got := s.sanitizeValue("note", "alice@example.com"); got != "alice@example.com" {
		t.Fatalf("expected other columns untouched, got %v", got)
	}
}

func TestSanitizeValue_NestedJSON(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t, phoneRule)
	v := map[string]any{
		"contact": map[string]any{"phone": "+62821233447"},
		"phones":  []any{"+62821233447", 42.0, nil, true},
	}
	got := s.sanitizeValue("profile", v).(map[string]any)
	if inner := got["contact"].(map[string]any)["phone"]; inner != "+62xxx447" {
		t.Errorf("expected nested phone masked, got %v", inner)
	}
	list := got["phones"].([]any)
	if list[0] != "+62xxx447" || list[1] != 42.0 || list[2] != nil || list[3] != true {
		t.Errorf("unexpected array result: %v", list)
	}
}

func TestSanitizeValue_NonStrings(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t, Rule{Pattern: `\d+`, Replacement: "N"})
	for _, v := range []any{nil, int64(123), 1.5, false, json.Number("12345")} {
		if got := s.sanitizeValue("c", v); got != v {
			t.Errorf("expected %#v untouched, got %#v", v, got)
		}
	}
}

func TestSanitizeRows_KeepsColumnOrder(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t, phoneRule, emailRule)
	rows := []executor.Row{
		{{Name: "id", Value: int64(1)}, {Name: "phone", Value: "+62821233447"}, {Name: "email", Value: "a@x.io"}},
		{{Name: "id", Value: int64(2)}, {Name: "phone", Value: nil}, {Name: "email", Value: "b@x.io"}},
	}
	got := s.SanitizeRows(rows)
	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"id":1,"phone":"+62xxx447","email":"***@x.io"},{"id":2,"phone":null,"email":"***@x.io"}]`
	if string(b) != want {
		t.Fatalf("expected %s, got %s", want, b)
	}
}

func TestSanitizeRows_NoRules(t *testing.T) {
	t.Parallel()
	s := mustSanitizer(t)
	if s.HasRules() {
		t.Fatal("expected no rules")
	}
	rows := []executor.Row{{{Name: "phone", Value: "+62821233447"}}}
	if got := s.SanitizeRows(rows); got[0][0].Value != "+62821233447" {
		t.Fatalf("expected unchanged value, got %v", got[0][0].Value)
	}
}

func TestNewSanitizer_InvalidRegex(t *testing.T) {
	t.Parallel()
	_, err := NewSanitizer([]Rule{{Pattern: `[invalid`, Replacement: "x"}})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	if !strings.Contains(err.Error(), `invalid regex pattern "[invalid"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}
