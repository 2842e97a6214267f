package pgcrud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"
)

// toolOutput is implemented by every tool output struct.
type toolOutput interface {
	succeeded() bool
}

func (o *EntityOutput) succeeded() bool         { return o.Success }
func (o *QueryOutput) succeeded() bool          { return o.Success }
func (o *TransactionOutput) succeeded() bool    { return o.Success }
func (o *GetTablesOutput) succeeded() bool      { return o.Success }
func (o *GetTableSchemaOutput) succeeded() bool { return o.Success }
func (o *DatabaseInfoOutput) succeeded() bool   { return o.Success }
func (o *HealthOutput) succeeded() bool         { return o.Success }

func (o *MultipleTableSchemasOutput) succeeded() bool { return o.Success }
func (o *RelationshipsOutput) succeeded() bool        { return o.Success }
func (o *SchemaOverviewOutput) succeeded() bool       { return o.Success }

var objectItems = map[string]any{"type": "object", "additionalProperties": true}

// RegisterMCPTools registers every tool on mcpServer. In read-only mode the
// tools that write rows or change tables are left out.
func RegisterMCPTools(mcpServer *server.MCPServer, p *PostgresCrud) {
	// Read tools
	mcpServer.AddTool(mcp.NewTool("read_entity",
		mcp.WithDescription("Read rows from a table with optional equality conditions, column list, pagination, ordering, and an aggregate with group-by."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithObject("conditions", mcp.Description("WHERE conditions as column: value pairs, combined with AND. null matches IS NULL")),
		mcp.WithArray("columns", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Columns to return (default: all)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of rows to return (default: 100)"), mcp.Min(1), mcp.Max(maxReadLimit)),
		mcp.WithNumber("offset", mcp.Description("Number of rows to skip (default: 0)"), mcp.Min(0)),
		mcp.WithString("order_by", mcp.Description("Column to order by")),
		mcp.WithString("order_direction", mcp.Enum("ASC", "DESC"), mcp.Description("Order direction (default: ASC)")),
		mcp.WithString("aggregate", mcp.Description("Aggregate such as COUNT(*), SUM(column), AVG(column), MIN(column), MAX(column)")),
		mcp.WithString("group_by", mcp.Description("Column to group by; requires aggregate")),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "read_entity", p.ReadEntity))

	mcpServer.AddTool(mcp.NewTool("get_tables",
		mcp.WithDescription("List tables, views, materialized views, and foreign tables the current user can read."),
		mcp.WithString("schema", mcp.Description("Only list this schema (default: all non-system schemas)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "get_tables", p.GetTables))

	mcpServer.AddTool(mcp.NewTool("get_table_schema",
		mcp.WithDescription("Describe a table: columns, types, indexes, constraints, foreign keys, and partitioning."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithString("schema", mcp.Description("Schema name (default: public)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "get_table_schema", p.GetTableSchema))

	tableNames := mcp.Items(map[string]any{"type": "string"})
	mcpServer.AddTool(mcp.NewTool("get_multiple_table_schemas",
		mcp.WithDescription("Describe several tables at once, with the foreign keys between them."),
		mcp.WithArray("tables", mcp.Required(), tableNames, mcp.Description("Table names, optionally schema-qualified (at most 100)")),
		mcp.WithString("schema", mcp.Description("Schema for unqualified names (default: public)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "get_multiple_table_schemas", p.GetMultipleTableSchemas))

	mcpServer.AddTool(mcp.NewTool("analyze_table_relationships",
		mcp.WithDescription("List foreign keys from or to the given tables, and *_id or *_code columns that have no foreign key."),
		mcp.WithArray("tables", mcp.Required(), tableNames, mcp.Description("Table names, optionally schema-qualified (at most 100)")),
		mcp.WithString("schema", mcp.Description("Schema for unqualified names (default: public)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "analyze_table_relationships", p.AnalyzeTableRelationships))

	mcpServer.AddTool(mcp.NewTool("generate_schema_overview",
		mcp.WithDescription("Describe every table (or the listed ones) with total size and relationships."),
		mcp.WithArray("include_tables", tableNames, mcp.Description("Tables to include (default: every readable table, at most 100)")),
		mcp.WithString("schema", mcp.Description("Only cover this schema (default: all non-system schemas, or public for unqualified include_tables)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "generate_schema_overview", p.GenerateSchemaOverview))

	mcpServer.AddTool(mcp.NewTool("get_database_info",
		mcp.WithDescription("Show the PostgreSQL version, database, user, size, table count, and connection pool state."),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "get_database_info", func(ctx context.Context, _ struct{}) *DatabaseInfoOutput {
		return p.GetDatabaseInfo(ctx)
	}))

	mcpServer.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription("Check database connectivity and report connection pool state."),
		mcp.WithReadOnlyHintAnnotation(true),
	), toolHandler(p, "health_check", func(ctx context.Context, _ struct{}) *HealthOutput {
		return p.HealthCheck(ctx)
	}))

	queryDesc := "Execute one SQL statement. Pass values in params and reference them as @name. DROP, TRUNCATE, ALTER, CREATE, GRANT and REVOKE are rejected."
	if p.ReadOnly() {
		queryDesc = "Execute one read-only SQL statement (SELECT, EXPLAIN, SHOW, VALUES). Pass values in params and reference them as @name."
	}
	mcpServer.AddTool(mcp.NewTool("execute_sql_query",
		mcp.WithDescription(queryDesc),
		mcp.WithString("query", mcp.Required(), mcp.Description("The SQL statement")),
		mcp.WithObject("params", mcp.Description("Named parameters, referenced as @name in the query")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of rows to return (default: 1000)"), mcp.Min(1), mcp.Max(maxQueryLimit)),
	), toolHandler(p, "execute_sql_query", p.ExecuteSQLQuery))

	mcpServer.AddTool(mcp.NewTool("execute_transaction",
		mcp.WithDescription("Execute SQL statements in order inside one transaction. If any statement fails, all of them are rolled back."),
		mcp.WithArray("statements", mcp.Required(),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sql":    map[string]any{"type": "string"},
					"params": map[string]any{"type": "object"},
				},
				"required": []string{"sql"},
			}),
			mcp.Description("Statements as {sql, params}"),
		),
	), toolHandler(p, "execute_transaction", p.ExecuteTransaction))

	if p.ReadOnly() {
		return
	}

	// Write tools
	mcpServer.AddTool(mcp.NewTool("create_entity",
		mcp.WithDescription("Insert one row into a table."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithObject("data", mcp.Required(), mcp.Description("Column: value pairs to insert")),
		mcp.WithBoolean("returning", mcp.Description("Return the inserted row (default: false)")),
	), toolHandler(p, "create_entity", p.CreateEntity))

	mcpServer.AddTool(mcp.NewTool("update_entity",
		mcp.WithDescription("Update the rows matching equality conditions. Conditions must not be empty."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithObject("conditions", mcp.Required(), mcp.Description("WHERE conditions as column: value pairs")),
		mcp.WithObject("updates", mcp.Required(), mcp.Description("Column: value pairs to set")),
		mcp.WithBoolean("returning", mcp.Description("Return the updated rows (default: false)")),
	), toolHandler(p, "update_entity", p.UpdateEntity))

	mcpServer.AddTool(mcp.NewTool("delete_entity",
		mcp.WithDescription("Delete the rows matching equality conditions. Conditions must not be empty."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithObject("conditions", mcp.Required(), mcp.Description("WHERE conditions as column: value pairs")),
		mcp.WithBoolean("returning", mcp.Description("Return the deleted rows (default: false)")),
		mcp.WithDestructiveHintAnnotation(true),
	), toolHandler(p, "delete_entity", p.DeleteEntity))

	mcpServer.AddTool(mcp.NewTool("batch_create_entities",
		mcp.WithDescription(fmt.Sprintf("Insert up to %d rows in one transaction. Every row must name the same columns.", maxBatchCreate)),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithArray("data_list", mcp.Required(), mcp.Items(objectItems), mcp.Description("Rows as column: value objects")),
	), toolHandler(p, "batch_create_entities", p.BatchCreateEntities))

	mcpServer.AddTool(mcp.NewTool("batch_update_entities",
		mcp.WithDescription(fmt.Sprintf("Apply up to %d updates in one transaction; updates_list[i] applies to rows matching conditions_list[i].", maxBatchUpdate)),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithArray("conditions_list", mcp.Required(), mcp.Items(objectItems), mcp.Description("WHERE conditions per update")),
		mcp.WithArray("updates_list", mcp.Required(), mcp.Items(objectItems), mcp.Description("Column: value pairs per update")),
	), toolHandler(p, "batch_update_entities", p.BatchUpdateEntities))

	mcpServer.AddTool(mcp.NewTool("batch_delete_entities",
		mcp.WithDescription(fmt.Sprintf("Apply up to %d deletes in one transaction.", maxBatchDelete)),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithArray("conditions_list", mcp.Required(), mcp.Items(objectItems), mcp.Description("WHERE conditions per delete")),
		mcp.WithDestructiveHintAnnotation(true),
	), toolHandler(p, "batch_delete_entities", p.BatchDeleteEntities))

	mcpServer.AddTool(mcp.NewTool("create_table",
		mcp.WithDescription("Create a table from column definitions."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithArray("columns", mcp.Required(),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"nullable":    map[string]any{"type": "boolean"},
					"primary_key": map[string]any{"type": "boolean"},
					"unique":      map[string]any{"type": "boolean"},
					"default":     map[string]any{"type": "string"},
				},
				"required": []string{"name", "type"},
			}),
			mcp.Description("Column definitions"),
		),
		mcp.WithBoolean("if_not_exists", mcp.Description("Do nothing when the table exists (default: true)")),
	), toolHandler(p, "create_table", p.CreateTable))

	mcpServer.AddTool(mcp.NewTool("alter_table",
		mcp.WithDescription("Add, drop, alter, or rename columns. All operations apply atomically."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithArray("operations", mcp.Required(),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":            map[string]any{"type": "string", "enum": []string{AlterAddColumn, AlterDropColumn, AlterAlterColumn, AlterRenameColumn}},
					"column_name":     map[string]any{"type": "string"},
					"data_type":       map[string]any{"type": "string"},
					"nullable":        map[string]any{"type": "boolean"},
					"default":         map[string]any{"type": "string"},
					"new_column_name": map[string]any{"type": "string"},
				},
				"required": []string{"type", "column_name"},
			}),
			mcp.Description("Operations applied in order"),
		),
		mcp.WithDestructiveHintAnnotation(true),
	), toolHandler(p, "alter_table", p.AlterTable))

	mcpServer.AddTool(mcp.NewTool("drop_table",
		mcp.WithDescription("Drop a table."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (schema.table)")),
		mcp.WithBoolean("cascade", mcp.Description("Also drop dependent objects (default: false)")),
		mcp.WithBoolean("if_exists", mcp.Description("Do nothing when the table does not exist (default: true)")),
		mcp.WithDestructiveHintAnnotation(true),
	), toolHandler(p, "drop_table", p.DropTable))
}

// toolHandler decodes the argument map into In, runs fn and encodes the
// output as JSON text. Failed outputs are flagged with IsError.
func toolHandler[In any, Out toolOutput](p *PostgresCrud, tool string, fn func(context.Context, In) Out) server.ToolHandlerFunc {
	return p.loggedToolHandler(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input In
		if err := decodeArguments(req.GetArguments(), &input); err != nil {
			return errorResult(p.handleError(tool, err)), nil
		}
		return jsonResult(fn(ctx, input)), nil
	})
}

// decodeArguments rejects unknown argument names so typos surface as errors
// instead of being ignored.
func decodeArguments(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "mapstructure",
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(out toolOutput) *mcp.CallToolResult {
	b, err := json.Marshal(out)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(b))},
		IsError: !out.succeeded(),
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	b, _ := json.Marshal(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Error: msg})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(b))},
		IsError: true,
	}
}

// loggedToolHandler wraps a tool handler to log and count every call.
func (p *PostgresCrud) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		startTime := time.Now()
		requestID := uuid.NewString()
		result, err := handler(ctx, req)
		failed := err != nil || result == nil || result.IsError
		p.metrics.ObserveTool(tool, time.Since(startTime), failed)
		p.logger.Info().
			Str("tool", tool).
			Str("request_id", requestID).
			Int("request_bytes", requestLength(req)).
			Int("response_bytes", resultLength(result)).
			Bool("failed", failed).
			Dur("duration", time.Since(startTime)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
