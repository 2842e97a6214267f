package pgcrud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Resource URIs.
const (
	TablesResourceURI      = "database://tables"
	InfoResourceURI        = "database://info"
	SchemaResourceTemplate = "database://schema/{table}"

	schemaResourcePrefix = "database://schema/"
	markdownMIME         = "text/markdown"
)

// RegisterMCPResources registers the read-only markdown resources.
func RegisterMCPResources(mcpServer *server.MCPServer, p *PostgresCrud) {
	mcpServer.AddResource(mcp.NewResource(TablesResourceURI, "Database tables",
		mcp.WithResourceDescription("Tables, views and materialized views the current user can read"),
		mcp.WithMIMEType(markdownMIME),
	), p.resourceHandler("tables", func(ctx context.Context, _ string) (string, error) {
		return p.TablesMarkdown(ctx)
	}))

	mcpServer.AddResource(mcp.NewResource(InfoResourceURI, "Database info",
		mcp.WithResourceDescription("PostgreSQL version, database, user, size and pool state"),
		mcp.WithMIMEType(markdownMIME),
	), p.resourceHandler("info", func(ctx context.Context, _ string) (string, error) {
		return p.InfoMarkdown(ctx)
	}))

	mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(SchemaResourceTemplate, "Table schema",
		mcp.WithTemplateDescription("Columns, indexes and constraints of a table (table or schema.table)"),
		mcp.WithTemplateMIMEType(markdownMIME),
	), server.ResourceTemplateHandlerFunc(p.resourceHandler("schema", func(ctx context.Context, uri string) (string, error) {
		table := strings.TrimPrefix(uri, schemaResourcePrefix)
		if table == uri || table == "" {
			return "", fmt.Errorf("expected %s", SchemaResourceTemplate)
		}
		return p.SchemaMarkdown(ctx, table)
	})))
}

func (p *PostgresCrud) resourceHandler(name string, render func(ctx context.Context, uri string) (string, error)) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		startTime := time.Now()
		uri := req.Params.URI
		text, err := render(ctx, uri)
		p.metrics.ObserveTool("resource_"+name, time.Since(startTime), err != nil)
		if err != nil {
			p.logger.Warn().Str("uri", uri).Err(err).Msg("resource read failed")
			return nil, fmt.Errorf("read resource %s: %w", uri, err)
		}
		p.logger.Info().
			Str("uri", uri).
			Int("response_bytes", len(text)).
			Dur("duration", time.Since(startTime)).
			Msg("resource read")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: markdownMIME, Text: text},
		}, nil
	}
}

// TablesMarkdown renders the table listing as a markdown table.
func (p *PostgresCrud) TablesMarkdown(ctx context.Context) (string, error) {
	var tables []TableEntry
	err := p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		tables, err = listTables(ctx, tx, "")
		return err
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Database Tables\n\n")
	if len(tables) == 0 {
		sb.WriteString("No tables found.\n")
		return sb.String(), nil
	}
	sb.WriteString("| Schema | Name | Type | Owner |\n|---|---|---|---|\n")
	for _, t := range tables {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", mdCell(t.Schema), mdCell(t.Name), t.Type, mdCell(t.Owner))
	}
	fmt.Fprintf(&sb, "\nTotal: %d\n", len(tables))
	return sb.String(), nil
}

// InfoMarkdown renders database info as markdown.
func (p *PostgresCrud) InfoMarkdown(ctx context.Context) (string, error) {
	info, err := p.databaseInfo(ctx)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("# Database Information\n\n")
	fmt.Fprintf(&sb, "- **Version**: %s\n", info.Version)
	fmt.Fprintf(&sb, "- **Database**: %s\n", info.Database)
	fmt.Fprintf(&sb, "- **User**: %s\n", info.User)
	fmt.Fprintf(&sb, "- **Size**: %s\n", info.Size)
	fmt.Fprintf(&sb, "- **Tables**: %d\n", info.TableCount)
	fmt.Fprintf(&sb, "- **Read-only mode**: %t\n", info.ReadOnly)
	sb.WriteString("\n## Connection Pool\n\n")
	fmt.Fprintf(&sb, "- **Borrowed**: %d of %d\n", info.Pool.Borrowed, info.Pool.MaxConnections)
	fmt.Fprintf(&sb, "- **Open**: %d (%d idle)\n", info.Pool.Total, info.Pool.Idle)
	fmt.Fprintf(&sb, "- **Discarded**: %d\n", info.Pool.Discarded)
	fmt.Fprintf(&sb, "- **Exhausted waits**: %d\n", info.Pool.Exhausted)
	return sb.String(), nil
}

// SchemaMarkdown renders the description of table (table or schema.table)
// as markdown.
func (p *PostgresCrud) SchemaMarkdown(ctx context.Context, table string) (string, error) {
	schema, name, err := resolveTable(table, "")
	if err != nil {
		return "", err
	}
	ts, err := p.describeTable(ctx, schema, name)
	if err != nil {
		return "", err
	}
	return renderSchemaMarkdown(ts), nil
}

func renderSchemaMarkdown(ts *TableSchema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s.%s (%s)\n\n", ts.Schema, ts.Name, ts.Type)

	sb.WriteString("## Columns\n\n| Name | Type | Nullable | Default | Primary Key |\n|---|---|---|---|---|\n")
	for _, c := range ts.Columns {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			mdCell(c.Name), mdCell(c.Type), yesNo(c.Nullable), mdCell(c.Default), yesNo(c.IsPrimaryKey))
	}

	if len(ts.Indexes) > 0 {
		sb.WriteString("\n## Indexes\n\n")
		for _, idx := range ts.Indexes {
			fmt.Fprintf(&sb, "- **%s**: `%s`\n", idx.Name, idx.Definition)
		}
	}
	if len(ts.Constraints) > 0 {
		sb.WriteString("\n## Constraints\n\n")
		for _, con := range ts.Constraints {
			fmt.Fprintf(&sb, "- **%s** (%s): `%s`\n", con.Name, con.Type, con.Definition)
		}
	}
	if len(ts.ForeignKeys) > 0 {
		sb.WriteString("\n## Foreign Keys\n\n")
		for _, fk := range ts.ForeignKeys {
			fmt.Fprintf(&sb, "- **%s**: (%s) references %s (%s), on update %s, on delete %s\n",
				fk.Name, fk.Columns, fk.ReferencedTable, fk.ReferencedColumns, fk.OnUpdate, fk.OnDelete)
		}
	}
	if ts.Partition != nil {
		sb.WriteString("\n## Partitioning\n\n")
		if ts.Partition.PartitionKey != "" {
			fmt.Fprintf(&sb, "- **Key**: %s (%s)\n", ts.Partition.PartitionKey, ts.Partition.Strategy)
		}
		if len(ts.Partition.Partitions) > 0 {
			fmt.Fprintf(&sb, "- **Partitions**: %s\n", strings.Join(ts.Partition.Partitions, ", "))
		}
		if ts.Partition.ParentTable != "" {
			fmt.Fprintf(&sb, "- **Parent**: %s\n", ts.Partition.ParentTable)
		}
	}
	if ts.Definition != "" {
		fmt.Fprintf(&sb, "\n## Definition\n\n```sql\n%s\n```\n", strings.TrimSpace(ts.Definition))
	}
	return sb.String()
}

func mdCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
