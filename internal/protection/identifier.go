package protection

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// PostgreSQL truncates identifiers longer than NAMEDATALEN-1 bytes.
const maxIdentifierLength = 63

var forbiddenSequences = []string{";", "'", "\"", "`", "--", "/*", "*/"}

// ValidateIdentifier rejects names that could change statement structure when
// placed in SQL text. kind names the argument in the error ("table",
// "column", ...).
func ValidateIdentifier(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid(kind+" name", "", "must not be empty")
	}
	for _, seq := range forbiddenSequences {
		if strings.Contains(name, seq) {
			return invalid(kind+" name", name, "must not contain %q", seq)
		}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return invalid(kind+" name", name, "must not contain control characters")
		}
	}
	if len(name) > maxIdentifierLength {
		return invalid(kind+" name", name, "longer than %d bytes", maxIdentifierLength)
	}
	return nil
}

// ParseQualifiedName splits "table" or "schema.table" into an identifier
// whose Sanitize method quotes each part.
func ParseQualifiedName(name string) (pgx.Identifier, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid("table name", "", "must not be empty")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return nil, invalid("table name", name, "expected table or schema.table")
	}
	for i, p := range parts {
		kind := "table"
		if len(parts) == 2 && i == 0 {
			kind = "schema"
		}
		if err := ValidateIdentifier(kind, p); err != nil {
			return nil, err
		}
	}
	return pgx.Identifier(parts), nil
}

// QuoteIdentifier validates and quotes a single identifier.
func QuoteIdentifier(kind, name string) (string, error) {
	if err := ValidateIdentifier(kind, name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

var typeNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+(\s*,\s*\d+)?\s*\))?(\[\])*$`)

// ValidateTypeName accepts column types such as "integer", "varchar(255)",
// "numeric(10, 2)", "timestamp with time zone" and "text[]".
func ValidateTypeName(t string) error {
	t = strings.TrimSpace(t)
	if t == "" {
		return invalid("data type", "", "must not be empty")
	}
	if !typeNamePattern.MatchString(t) {
		return invalid("data type", t, "not a plain type name")
	}
	return nil
}

// ValidateDefaultExpr accepts a single scalar expression usable in a DEFAULT
// clause, e.g. "0", "'pending'", "now()" or "gen_random_uuid()".
func ValidateDefaultExpr(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return invalid("default", "", "must not be empty")
	}
	if strings.Contains(expr, ";") {
		return invalid("default", expr, "must not contain %q", ";")
	}
	result, err := pg_query.Parse("SELECT " + expr)
	if err != nil {
		return invalid("default", expr, "not a valid expression: %v", err)
	}
	if len(result.Stmts) != 1 {
		return invalid("default", expr, "must be a single expression")
	}
	sel, ok := result.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok || len(sel.SelectStmt.TargetList) != 1 || sel.SelectStmt.FromClause != nil ||
		sel.SelectStmt.WhereClause != nil || sel.SelectStmt.GroupClause != nil ||
		sel.SelectStmt.LimitCount != nil || sel.SelectStmt.SortClause != nil {
		return invalid("default", expr, "must be a single expression")
	}
	if containsSubLink(sel.SelectStmt.TargetList[0]) || containsWord(expr, "SELECT", "VALUES") {
		return invalid("default", expr, "must not contain a sub-select")
	}
	return nil
}

func containsSubLink(node *pg_query.Node) bool {
	if node == nil {
		return false
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		return true
	case *pg_query.Node_ResTarget:
		return containsSubLink(n.ResTarget.Val)
	case *pg_query.Node_FuncCall:
		for _, arg := range n.FuncCall.Args {
			if containsSubLink(arg) {
				return true
			}
		}
	case *pg_query.Node_AExpr:
		return containsSubLink(n.AExpr.Lexpr) || containsSubLink(n.AExpr.Rexpr)
	case *pg_query.Node_TypeCast:
		return containsSubLink(n.TypeCast.Arg)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			if containsSubLink(arg) {
				return true
			}
		}
	case *pg_query.Node_CoalesceExpr:
		for _, arg := range n.CoalesceExpr.Args {
			if containsSubLink(arg) {
				return true
			}
		}
	case *pg_query.Node_CaseExpr:
		for _, w := range n.CaseExpr.Args {
			if containsSubLink(w) {
				return true
			}
		}
		return containsSubLink(n.CaseExpr.Arg) || containsSubLink(n.CaseExpr.Defresult)
	case *pg_query.Node_CaseWhen:
		return containsSubLink(n.CaseWhen.Expr) || containsSubLink(n.CaseWhen.Result)
	case *pg_query.Node_AArrayExpr:
		for _, el := range n.AArrayExpr.Elements {
			if containsSubLink(el) {
				return true
			}
		}
	}
	return false
}
