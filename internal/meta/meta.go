// Package meta holds build metadata for the pgcrudmcp binary.
package meta

// Version is overridden at build time with
// -ldflags "-X github.com/rickchristie/postgres-crud-mcp/internal/meta.Version=v1.2.3".
var Version = "dev"

// ServerName is the MCP server name advertised during initialize.
const ServerName = "pgcrudmcp"
