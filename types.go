package pgcrud

// Tool inputs carry both json and mapstructure tags: mapstructure decodes the
// MCP argument map, json documents the wire names.

// CreateEntityInput is the input for the create_entity tool.
type CreateEntityInput struct {
	Table     string         `json:"table" mapstructure:"table"`
	Data      map[string]any `json:"data" mapstructure:"data"`
	Returning bool           `json:"returning" mapstructure:"returning"`
}

// ReadEntityInput is the input for the read_entity tool. Limit 0 means the
// default of 100.
type ReadEntityInput struct {
	Table          string         `json:"table" mapstructure:"table"`
	Conditions     map[string]any `json:"conditions" mapstructure:"conditions"`
	Columns        []string       `json:"columns" mapstructure:"columns"`
	Limit          int            `json:"limit" mapstructure:"limit"`
	Offset         int            `json:"offset" mapstructure:"offset"`
	OrderBy        string         `json:"order_by" mapstructure:"order_by"`
	OrderDirection string         `json:"order_direction" mapstructure:"order_direction"`
	Aggregate      string         `json:"aggregate" mapstructure:"aggregate"`
	GroupBy        string         `json:"group_by" mapstructure:"group_by"`
}

// UpdateEntityInput is the input for the update_entity tool.
type UpdateEntityInput struct {
	Table      string         `json:"table" mapstructure:"table"`
	Conditions map[string]any `json:"conditions" mapstructure:"conditions"`
	Updates    map[string]any `json:"updates" mapstructure:"updates"`
	Returning  bool           `json:"returning" mapstructure:"returning"`
}

// DeleteEntityInput is the input for the delete_entity tool.
type DeleteEntityInput struct {
	Table      string         `json:"table" mapstructure:"table"`
	Conditions map[string]any `json:"conditions" mapstructure:"conditions"`
	Returning  bool           `json:"returning" mapstructure:"returning"`
}

// BatchCreateInput is the input for the batch_create_entities tool.
type BatchCreateInput struct {
	Table    string           `json:"table" mapstructure:"table"`
	DataList []map[string]any `json:"data_list" mapstructure:"data_list"`
}

// BatchUpdateInput is the input for the batch_update_entities tool.
// ConditionsList[i] selects the rows that UpdatesList[i] is applied to.
type BatchUpdateInput struct {
	Table          string           `json:"table" mapstructure:"table"`
	ConditionsList []map[string]any `json:"conditions_list" mapstructure:"conditions_list"`
	UpdatesList    []map[string]any `json:"updates_list" mapstructure:"updates_list"`
}

// BatchDeleteInput is the input for the batch_delete_entities tool.
type BatchDeleteInput struct {
	Table          string           `json:"table" mapstructure:"table"`
	ConditionsList []map[string]any `json:"conditions_list" mapstructure:"conditions_list"`
}

// EntityOutput is the output of the entity and table-management tools. All
// errors (validation, Postgres, pool) are placed in Error.
type EntityOutput struct {
	Success      bool     `json:"success"`
	RowsAffected int64    `json:"rows_affected"`
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	Count        int      `json:"count"`
	Truncated    bool     `json:"truncated,omitempty"`
	Message      string   `json:"message,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// ColumnDef is one column of a create_table call.
type ColumnDef struct {
	Name       string  `json:"name" mapstructure:"name"`
	Type       string  `json:"type" mapstructure:"type"`
	Nullable   *bool   `json:"nullable" mapstructure:"nullable"`
	PrimaryKey bool    `json:"primary_key" mapstructure:"primary_key"`
	Unique     bool    `json:"unique" mapstructure:"unique"`
	Default    *string `json:"default" mapstructure:"default"`
}

// CreateTableInput is the input for the create_table tool. IfNotExists
// defaults to true when nil.
type CreateTableInput struct {
	Table       string      `json:"table" mapstructure:"table"`
	Columns     []ColumnDef `json:"columns" mapstructure:"columns"`
	IfNotExists *bool       `json:"if_not_exists" mapstructure:"if_not_exists"`
}

// Alter operation types.
const (
	AlterAddColumn    = "add_column"
	AlterDropColumn   = "drop_column"
	AlterAlterColumn  = "alter_column"
	AlterRenameColumn = "rename_column"
)

// AlterOperation is one step of an alter_table call. For alter_column, a nil
// Nullable or Default leaves that property unchanged and an empty Default
// drops the default.
type AlterOperation struct {
	Type          string  `json:"type" mapstructure:"type"`
	ColumnName    string  `json:"column_name" mapstructure:"column_name"`
	DataType      string  `json:"data_type" mapstructure:"data_type"`
	Nullable      *bool   `json:"nullable" mapstructure:"nullable"`
	Default       *string `json:"default" mapstructure:"default"`
	NewColumnName string  `json:"new_column_name" mapstructure:"new_column_name"`
}

// AlterTableInput is the input for the alter_table tool.
type AlterTableInput struct {
	Table      string           `json:"table" mapstructure:"table"`
	Operations []AlterOperation `json:"operations" mapstructure:"operations"`
}

// DropTableInput is the input for the drop_table tool. IfExists defaults to
// true when nil.
type DropTableInput struct {
	Table    string `json:"table" mapstructure:"table"`
	Cascade  bool   `json:"cascade" mapstructure:"cascade"`
	IfExists *bool  `json:"if_exists" mapstructure:"if_exists"`
}

// QueryInput is the input for the execute_sql_query tool. Limit 0 means the
// default of 1000 rows.
type QueryInput struct {
	Query  string         `json:"query" mapstructure:"query"`
	Params map[string]any `json:"params" mapstructure:"params"`
	Limit  int            `json:"limit" mapstructure:"limit"`
}

// QueryOutput is the output of the execute_sql_query tool. The error message
// is evaluated against error_prompts and matching prompt messages are
// appended.
type QueryOutput struct {
	Success      bool     `json:"success"`
	Columns      []string `json:"columns"`
	Rows         []Row    `json:"rows"`
	RowsAffected int64    `json:"rows_affected"`
	Count        int      `json:"count"`
	Truncated    bool     `json:"truncated,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// TransactionStatement is one statement of an execute_transaction call.
type TransactionStatement struct {
	SQL    string         `json:"sql" mapstructure:"sql"`
	Params map[string]any `json:"params" mapstructure:"params"`
}

// TransactionInput is the input for the execute_transaction tool.
type TransactionInput struct {
	Statements []TransactionStatement `json:"statements" mapstructure:"statements"`
}

// StatementResult is the outcome of one committed statement.
type StatementResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
	CommandTag   string   `json:"command_tag"`
}

// TransactionOutput is the output of the execute_transaction tool. Results
// is empty whenever Success is false.
type TransactionOutput struct {
	Success       bool              `json:"success"`
	TransactionID string            `json:"transaction_id,omitempty"`
	State         string            `json:"state,omitempty"`
	Results       []StatementResult `json:"results"`
	Error         string            `json:"error,omitempty"`
}

// GetTablesInput is the input for the get_tables tool. An empty Schema lists
// every non-system schema.
type GetTablesInput struct {
	Schema string `json:"schema" mapstructure:"schema"`
}

// TableEntry represents a single table/view in the get_tables output.
type TableEntry struct {
	Schema              string `json:"schema"`
	Name                string `json:"name"`
	Type                string `json:"type"` // "table", "view", "materialized_view", "foreign_table", "partitioned_table"
	Owner               string `json:"owner"`
	SchemaAccessLimited bool   `json:"schema_access_limited,omitempty"`
}

// GetTablesOutput is the output of the get_tables tool.
type GetTablesOutput struct {
	Success bool         `json:"success"`
	Tables  []TableEntry `json:"tables"`
	Error   string       `json:"error,omitempty"`
}

// GetTableSchemaInput is the input for the get_table_schema tool. Table may
// be schema-qualified; Schema defaults to public.
type GetTableSchemaInput struct {
	Table  string `json:"table" mapstructure:"table"`
	Schema string `json:"schema" mapstructure:"schema"`
}

// ColumnInfo describes a single column.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// ConstraintInfo describes a single constraint.
type ConstraintInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // PRIMARY KEY, FOREIGN KEY, UNIQUE, CHECK, EXCLUSION
	Definition string `json:"definition"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// PartitionInfo describes partition metadata.
type PartitionInfo struct {
	Strategy     string   `json:"strategy,omitempty"`
	PartitionKey string   `json:"partition_key,omitempty"`
	Partitions   []string `json:"partitions,omitempty"`
	ParentTable  string   `json:"parent_table,omitempty"`
}

// TableSchema is the description of one relation.
type TableSchema struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Definition  string           `json:"definition,omitempty"` // view/matview SQL definition
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	Constraints []ConstraintInfo `json:"constraints"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
	Partition   *PartitionInfo   `json:"partition,omitempty"`
}

// GetTableSchemaOutput is the output of the get_table_schema tool.
type GetTableSchemaOutput struct {
	Success bool         `json:"success"`
	Table   *TableSchema `json:"table,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// MultipleTableSchemasInput is the input for the get_multiple_table_schemas
// tool. Unqualified names use Schema, which defaults to public.
type MultipleTableSchemasInput struct {
	Tables []string `json:"tables" mapstructure:"tables"`
	Schema string   `json:"schema" mapstructure:"schema"`
}

// AnalyzeTableRelationshipsInput is the input for the
// analyze_table_relationships tool.
type AnalyzeTableRelationshipsInput struct {
	Tables []string `json:"tables" mapstructure:"tables"`
	Schema string   `json:"schema" mapstructure:"schema"`
}

// SchemaOverviewInput is the input for the generate_schema_overview tool. An
// empty IncludeTables covers every readable table of Schema, or of every
// non-system schema when Schema is empty.
type SchemaOverviewInput struct {
	IncludeTables []string `json:"include_tables" mapstructure:"include_tables"`
	Schema        string   `json:"schema" mapstructure:"schema"`
}

// TableSchemaResult is the description of one requested relation, or why it
// could not be described.
type TableSchemaResult struct {
	Table  string       `json:"table"`
	Schema *TableSchema `json:"schema,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// TableRelationship is a foreign key from Table to ReferencedTable.
type TableRelationship struct {
	Name              string `json:"name"`
	Table             string `json:"table"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// PotentialRelationship is a key-like column without a foreign key.
type PotentialRelationship struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Relationships groups the relationship findings for a set of relations.
type Relationships struct {
	ForeignKeys            []TableRelationship     `json:"foreign_keys"`
	PotentialRelationships []PotentialRelationship `json:"potential_relationships"`
	MissingTables          []string                `json:"missing_tables"`
}

// MultipleTableSchemasOutput is the output of the get_multiple_table_schemas
// tool.
type MultipleTableSchemasOutput struct {
	Success          bool                `json:"success"`
	Tables           []TableSchemaResult `json:"tables,omitempty"`
	Relationships    *Relationships      `json:"relationships,omitempty"`
	TotalTables      int                 `json:"total_tables"`
	SuccessfulTables int                 `json:"successful_tables"`
	Error            string              `json:"error,omitempty"`
}

// RelationshipsOutput is the output of the analyze_table_relationships tool.
type RelationshipsOutput struct {
	Success       bool           `json:"success"`
	TableCount    int            `json:"table_count"`
	Relationships *Relationships `json:"relationships,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// SchemaOverview is the body of generate_schema_overview. Truncated is set
// when more tables exist than one overview describes.
type SchemaOverview struct {
	TableCount     int                 `json:"table_count"`
	TotalSizeBytes int64               `json:"total_size_bytes"`
	Truncated      bool                `json:"truncated,omitempty"`
	Tables         []TableSchemaResult `json:"tables"`
	Relationships  *Relationships      `json:"relationships"`
}

// SchemaOverviewOutput is the output of the generate_schema_overview tool.
type SchemaOverviewOutput struct {
	Success  bool            `json:"success"`
	Overview *SchemaOverview `json:"overview,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// PoolInfo is the pool section of database info and health output.
type PoolInfo struct {
	Borrowed       int64 `json:"borrowed"`
	MaxConnections int64 `json:"max_connections"`
	Total          int32 `json:"total"`
	Idle           int32 `json:"idle"`
	Discarded      int64 `json:"discarded"`
	Exhausted      int64 `json:"exhausted"`
}

// DatabaseInfo describes the connected database.
type DatabaseInfo struct {
	Version    string   `json:"version"`
	Database   string   `json:"database"`
	User       string   `json:"user"`
	Size       string   `json:"size"`
	TableCount int64    `json:"table_count"`
	ReadOnly   bool     `json:"read_only"`
	Pool       PoolInfo `json:"pool"`
}

// DatabaseInfoOutput is the output of the get_database_info tool.
type DatabaseInfoOutput struct {
	Success bool          `json:"success"`
	Info    *DatabaseInfo `json:"info,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// HealthOutput is the output of the health_check tool and the HTTP health
// endpoint.
type HealthOutput struct {
	Success   bool     `json:"success"`
	Status    string   `json:"status"` // healthy, unhealthy
	Database  string   `json:"database"`
	LatencyMS int64    `json:"latency_ms"`
	Pool      PoolInfo `json:"pool"`
	Error     string   `json:"error,omitempty"`
}
