// Package protection validates identifiers and free-form SQL before anything
// reaches the database.
package protection

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Config is the protection checker's own config type.
type Config struct {
	// DeniedKeywords replaces DefaultDeniedKeywords when non-nil.
	DeniedKeywords []string
	// ReadOnly admits only SELECT, EXPLAIN, SHOW and VALUES.
	ReadOnly bool
}

// Checker validates SQL statements against protection rules.
type Checker struct {
	denied   map[string]struct{}
	readOnly bool
}

// NewChecker creates a new Checker with the given config.
func NewChecker(config Config) *Checker {
	keywords := config.DeniedKeywords
	if keywords == nil {
		keywords = DefaultDeniedKeywords
	}
	denied := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			denied[k] = struct{}{}
		}
	}
	return &Checker{denied: denied, readOnly: config.ReadOnly}
}

// DeniedKeywords returns the active denylist in no particular order.
func (c *Checker) DeniedKeywords() []string {
	out := make([]string, 0, len(c.denied))
	for k := range c.denied {
		out = append(out, k)
	}
	return out
}

// Check runs the keyword scan, then parses SQL with pg_query_go and walks the
// AST. Returns nil if allowed, descriptive error if blocked.
func (c *Checker) Check(sql string) error {
	if err := c.CheckKeywords(sql); err != nil {
		return err
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("SQL parse error: %w", err)
	}
	if len(result.Stmts) == 0 {
		return fmt.Errorf("SQL parse error: empty query")
	}
	if len(result.Stmts) > 1 {
		return fmt.Errorf("multi-statement queries are not allowed: found %d statements", len(result.Stmts))
	}
	return c.checkNode(result.Stmts[0].Stmt)
}

// checkNode checks a single AST node and its CTEs.
func (c *Checker) checkNode(node *pg_query.Node) error {
	if node == nil {
		return nil
	}
	if err := c.checkCTEs(node); err != nil {
		return err
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_TransactionStmt:
		return fmt.Errorf("transaction control statements are not allowed: use execute_transaction to run statements atomically")
	case *pg_query.Node_DoStmt:
		return fmt.Errorf("DO blocks are not allowed: they run arbitrary procedural code")
	case *pg_query.Node_CopyStmt:
		if n.CopyStmt.IsFrom {
			return fmt.Errorf("COPY FROM is not allowed")
		}
		return fmt.Errorf("COPY TO is not allowed")
	case *pg_query.Node_VariableSetStmt:
		if n.VariableSetStmt.Kind == pg_query.VariableSetKind_VAR_RESET ||
			n.VariableSetStmt.Kind == pg_query.VariableSetKind_VAR_RESET_ALL {
			return fmt.Errorf("RESET statements are not allowed")
		}
		return fmt.Errorf("SET statements are not allowed: SET %s", n.VariableSetStmt.Name)
	case *pg_query.Node_PrepareStmt, *pg_query.Node_ExecuteStmt, *pg_query.Node_DeallocateStmt:
		return fmt.Errorf("PREPARE, EXECUTE and DEALLOCATE are not allowed")
	case *pg_query.Node_ListenStmt, *pg_query.Node_UnlistenStmt, *pg_query.Node_NotifyStmt:
		return fmt.Errorf("LISTEN and NOTIFY are not allowed")
	case *pg_query.Node_LockStmt:
		return fmt.Errorf("LOCK TABLE is not allowed")
	case *pg_query.Node_ExplainStmt:
		return c.checkNode(n.ExplainStmt.Query)
	}

	if c.readOnly && !isReadOnlyNode(node) {
		return fmt.Errorf("only SELECT, EXPLAIN, SHOW and VALUES are allowed in read-only mode")
	}
	return nil
}

// checkCTEs checks each CTE subquery of node, if any.
func (c *Checker) checkCTEs(node *pg_query.Node) error {
	var withClause *pg_query.WithClause
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		withClause = n.SelectStmt.WithClause
	case *pg_query.Node_InsertStmt:
		withClause = n.InsertStmt.WithClause
	case *pg_query.Node_UpdateStmt:
		withClause = n.UpdateStmt.WithClause
	case *pg_query.Node_DeleteStmt:
		withClause = n.DeleteStmt.WithClause
	case *pg_query.Node_MergeStmt:
		withClause = n.MergeStmt.WithClause
	}
	if withClause == nil {
		return nil
	}
	for _, cte := range withClause.Ctes {
		cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		if err := c.checkNode(cteNode.CommonTableExpr.Ctequery); err != nil {
			return err
		}
	}
	return nil
}

// IsReadOnly reports whether sql is a single statement that cannot modify
// data. Unparseable SQL is not read-only.
func IsReadOnly(sql string) bool {
	result, err := pg_query.Parse(sql)
	if err != nil || len(result.Stmts) != 1 {
		return false
	}
	return isReadOnlyNode(result.Stmts[0].Stmt)
}

func isReadOnlyNode(node *pg_query.Node) bool {
	if node == nil {
		return false
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		sel := n.SelectStmt
		// SELECT ... INTO creates a table.
		if sel.IntoClause != nil {
			return false
		}
		if sel.WithClause != nil {
			for _, cte := range sel.WithClause.Ctes {
				cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
				if ok && !isReadOnlyNode(cteNode.CommonTableExpr.Ctequery) {
					return false
				}
			}
		}
		// Row-locking clauses need write access.
		return len(sel.LockingClause) == 0
	case *pg_query.Node_ExplainStmt:
		// EXPLAIN ANALYZE executes the statement.
		for _, opt := range n.ExplainStmt.Options {
			if def, ok := opt.Node.(*pg_query.Node_DefElem); ok && strings.EqualFold(def.DefElem.Defname, "analyze") {
				return isReadOnlyNode(n.ExplainStmt.Query)
			}
		}
		return true
	case *pg_query.Node_VariableShowStmt:
		return true
	}
	return false
}
