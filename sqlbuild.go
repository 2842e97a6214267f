package pgcrud

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/postgres-crud-mcp/internal/executor"
	"github.com/rickchristie/postgres-crud-mcp/internal/protection"
)

// read_entity bounds.
const (
	defaultReadLimit = 100
	maxReadLimit     = 1000
)

// Statements built here reference values only through named parameters
// (@v0, @w0, @s0, ...). Identifiers are validated and then quoted with
// pgx.Identifier. Column maps are rendered in sorted key order so the same
// input always produces the same SQL.

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteColumn(name string) (string, error) {
	if err := protection.ValidateIdentifier("column", name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// whereClause renders conditions as "col" = @<prefix>N joined with AND. A nil
// value becomes IS NULL. Returns "" for no conditions.
func whereClause(conditions map[string]any, prefix string, params executor.Params) (string, error) {
	if len(conditions) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(conditions))
	for i, col := range sortedKeys(conditions) {
		quoted, err := quoteColumn(col)
		if err != nil {
			return "", err
		}
		v := conditions[col]
		if v == nil {
			parts = append(parts, quoted+" IS NULL")
			continue
		}
		name := prefix + strconv.Itoa(i)
		params[name] = v
		parts = append(parts, quoted+" = @"+name)
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func returningClause(returning bool) string {
	if returning {
		return " RETURNING *"
	}
	return ""
}

func buildInsert(table pgx.Identifier, data map[string]any, returning bool) (executor.Statement, error) {
	if len(data) == 0 {
		return executor.Statement{}, &ValidationError{Field: "data", Reason: "no data provided for creation"}
	}
	params := make(executor.Params, len(data))
	cols := make([]string, 0, len(data))
	placeholders := make([]string, 0, len(data))
	for i, col := range sortedKeys(data) {
		quoted, err := quoteColumn(col)
		if err != nil {
			return executor.Statement{}, err
		}
		name := "v" + strconv.Itoa(i)
		params[name] = data[col]
		cols = append(cols, quoted)
		placeholders = append(placeholders, "@"+name)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s",
		table.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "), returningClause(returning))
	return executor.Statement{SQL: sql, Params: params}, nil
}

func buildUpdate(table pgx.Identifier, conditions, updates map[string]any, returning bool) (executor.Statement, error) {
	if len(updates) == 0 {
		return executor.Statement{}, &ValidationError{Field: "updates", Reason: "no updates provided"}
	}
	if len(conditions) == 0 {
		return executor.Statement{}, &ValidationError{Field: "conditions", Reason: "must not be empty: updating every row is not allowed"}
	}
	params := make(executor.Params, len(conditions)+len(updates))
	sets := make([]string, 0, len(updates))
	for i, col := range sortedKeys(updates) {
		quoted, err := quoteColumn(col)
		if err != nil {
			return executor.Statement{}, err
		}
		name := "s" + strconv.Itoa(i)
		params[name] = updates[col]
		sets = append(sets, quoted+" = @"+name)
	}
	where, err := whereClause(conditions, "w", params)
	if err != nil {
		return executor.Statement{}, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s%s%s",
		table.Sanitize(), strings.Join(sets, ", "), where, returningClause(returning))
	return executor.Statement{SQL: sql, Params: params}, nil
}

func buildDelete(table pgx.Identifier, conditions map[string]any, returning bool) (executor.Statement, error) {
	if len(conditions) == 0 {
		return executor.Statement{}, &ValidationError{Field: "conditions", Reason: "must not be empty: deleting every row is not allowed"}
	}
	params := make(executor.Params, len(conditions))
	where, err := whereClause(conditions, "w", params)
	if err != nil {
		return executor.Statement{}, err
	}
	sql := fmt.Sprintf("DELETE FROM %s%s%s", table.Sanitize(), where, returningClause(returning))
	return executor.Statement{SQL: sql, Params: params}, nil
}

var aggregateRe = regexp.MustCompile(`(?i)^\s*(COUNT|SUM|AVG|MIN|MAX)\s*\(\s*([^()]*?)\s*\)\s*$`)

// parseAggregate turns "COUNT(*)" or "sum(amount)" into a quoted select
// expression aliased to the lower-cased function name.
func parseAggregate(expr string) (string, error) {
	m := aggregateRe.FindStringSubmatch(expr)
	if m == nil {
		return "", &ValidationError{Field: "aggregate", Value: expr, Reason: "expected COUNT, SUM, AVG, MIN or MAX over * or a column"}
	}
	fn := strings.ToUpper(m[1])
	arg := m[2]
	if arg == "*" {
		if fn != "COUNT" {
			return "", &ValidationError{Field: "aggregate", Value: expr, Reason: fn + "(*) is not valid"}
		}
	} else {
		quoted, err := quoteColumn(arg)
		if err != nil {
			return "", err
		}
		arg = quoted
	}
	return fmt.Sprintf("%s(%s) AS %s", fn, arg, strings.ToLower(fn)), nil
}

func buildSelect(table pgx.Identifier, in ReadEntityInput) (executor.Statement, error) {
	limit := in.Limit
	if limit == 0 {
		limit = defaultReadLimit
	}
	if limit < 1 || limit > maxReadLimit {
		return executor.Statement{}, &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d, got %d", maxReadLimit, in.Limit)}
	}
	if in.Offset < 0 {
		return executor.Statement{}, &ValidationError{Field: "offset", Reason: fmt.Sprintf("must be >= 0, got %d", in.Offset)}
	}

	var selectList []string
	var groupBy string
	if in.GroupBy != "" {
		quoted, err := quoteColumn(in.GroupBy)
		if err != nil {
			return executor.Statement{}, err
		}
		groupBy = quoted
		if in.Aggregate == "" {
			return executor.Statement{}, &ValidationError{Field: "group_by", Reason: "requires aggregate"}
		}
		selectList = append(selectList, quoted)
	}
	switch {
	case in.Aggregate != "":
		agg, err := parseAggregate(in.Aggregate)
		if err != nil {
			return executor.Statement{}, err
		}
		selectList = append(selectList, agg)
	case len(in.Columns) > 0:
		for _, col := range in.Columns {
			quoted, err := quoteColumn(col)
			if err != nil {
				return executor.Statement{}, err
			}
			selectList = append(selectList, quoted)
		}
	default:
		selectList = []string{"*"}
	}

	params := executor.Params{}
	where, err := whereClause(in.Conditions, "w", params)
	if err != nil {
		return executor.Statement{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", strings.Join(selectList, ", "), table.Sanitize(), where)
	if groupBy != "" {
		sb.WriteString(" GROUP BY " + groupBy)
	}
	if in.OrderBy != "" {
		quoted, err := quoteColumn(in.OrderBy)
		if err != nil {
			return executor.Statement{}, err
		}
		dir := strings.ToUpper(strings.TrimSpace(in.OrderDirection))
		switch dir {
		case "":
			dir = "ASC"
		case "ASC", "DESC":
		default:
			return executor.Statement{}, &ValidationError{Field: "order_direction", Value: in.OrderDirection, Reason: "must be ASC or DESC"}
		}
		sb.WriteString(" ORDER BY " + quoted + " " + dir)
	}
	sb.WriteString(" LIMIT @limit OFFSET @offset")
	params["limit"] = limit
	params["offset"] = in.Offset
	return executor.Statement{SQL: sb.String(), Params: params}, nil
}

// columnDefinition renders one column of CREATE TABLE or ADD COLUMN.
func columnDefinition(name, dataType string, nullable *bool, primaryKey, unique bool, def *string) (string, error) {
	quoted, err := quoteColumn(name)
	if err != nil {
		return "", err
	}
	if err := protection.ValidateTypeName(dataType); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(quoted + " " + strings.TrimSpace(dataType))
	if nullable != nil && !*nullable {
		sb.WriteString(" NOT NULL")
	}
	if primaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if unique {
		sb.WriteString(" UNIQUE")
	}
	if def != nil {
		if err := protection.ValidateDefaultExpr(*def); err != nil {
			return "", err
		}
		sb.WriteString(" DEFAULT " + strings.TrimSpace(*def))
	}
	return sb.String(), nil
}

func buildCreateTable(table pgx.Identifier, columns []ColumnDef, ifNotExists bool) (string, error) {
	if len(columns) == 0 {
		return "", &ValidationError{Field: "columns", Reason: "no columns provided for table creation"}
	}
	seen := make(map[string]bool, len(columns))
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		if seen[c.Name] {
			return "", &ValidationError{Field: "column name", Value: c.Name, Reason: "duplicate column"}
		}
		seen[c.Name] = true
		def, err := columnDefinition(c.Name, c.Type, c.Nullable, c.PrimaryKey, c.Unique, c.Default)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	clause := ""
	if ifNotExists {
		clause = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s)", clause, table.Sanitize(), strings.Join(defs, ", ")), nil
}

// buildAlterTable expands operations into the fixed statement sequence run
// in one transaction.
func buildAlterTable(table pgx.Identifier, ops []AlterOperation) ([]string, error) {
	if len(ops) == 0 {
		return nil, &ValidationError{Field: "operations", Reason: "no operations provided for table alteration"}
	}
	prefix := "ALTER TABLE " + table.Sanitize()
	var stmts []string
	for i, op := range ops {
		col, err := quoteColumn(op.ColumnName)
		if err != nil {
			return nil, err
		}
		switch op.Type {
		case AlterAddColumn:
			def, err := columnDefinition(op.ColumnName, op.DataType, op.Nullable, false, false, op.Default)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, prefix+" ADD COLUMN "+def)

		case AlterDropColumn:
			stmts = append(stmts, prefix+" DROP COLUMN "+col)

		case AlterAlterColumn:
			if op.DataType == "" && op.Nullable == nil && op.Default == nil {
				return nil, &ValidationError{Field: fmt.Sprintf("operations[%d]", i), Reason: "alter_column needs data_type, nullable or default"}
			}
			if op.DataType != "" {
				if err := protection.ValidateTypeName(op.DataType); err != nil {
					return nil, err
				}
				stmts = append(stmts, prefix+" ALTER COLUMN "+col+" TYPE "+strings.TrimSpace(op.DataType))
			}
			if op.Nullable != nil {
				if *op.Nullable {
					stmts = append(stmts, prefix+" ALTER COLUMN "+col+" DROP NOT NULL")
				} else {
					stmts = append(stmts, prefix+" ALTER COLUMN "+col+" SET NOT NULL")
				}
			}
			if op.Default != nil {
				if strings.TrimSpace(*op.Default) == "" {
					stmts = append(stmts, prefix+" ALTER COLUMN "+col+" DROP DEFAULT")
				} else {
					if err := protection.ValidateDefaultExpr(*op.Default); err != nil {
						return nil, err
					}
					stmts = append(stmts, prefix+" ALTER COLUMN "+col+" SET DEFAULT "+strings.TrimSpace(*op.Default))
				}
			}

		case AlterRenameColumn:
			newCol, err := quoteColumn(op.NewColumnName)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, prefix+" RENAME COLUMN "+col+" TO "+newCol)

		default:
			return nil, &ValidationError{
				Field:  fmt.Sprintf("operations[%d].type", i),
				Value:  op.Type,
				Reason: "must be add_column, drop_column, alter_column or rename_column",
			}
		}
	}
	return stmts, nil
}

func buildDropTable(table pgx.Identifier, cascade, ifExists bool) string {
	var sb strings.Builder
	sb.WriteString("DROP TABLE ")
	if ifExists {
		sb.WriteString("IF EXISTS ")
	}
	sb.WriteString(table.Sanitize())
	if cascade {
		sb.WriteString(" CASCADE")
	}
	return sb.String()
}
