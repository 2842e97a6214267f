package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickchristie/postgres-crud-mcp/internal/meta"
)

// newRootCommand builds the command tree. Running the root command without a
// subcommand starts the server.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgcrudmcp",
		Short: "PostgreSQL CRUD MCP server",
		Long: `pgcrudmcp exposes one PostgreSQL database to MCP clients: entity CRUD,
batch operations, schema inspection, table management, parameterized SQL and
transactions.

Settings are read from the environment, then from a .env file in the working
directory, then from built-in defaults.

Get started with:
  pgcrudmcp configure   # Write a .env file
  pgcrudmcp doctor      # Check it and print client snippets
  pgcrudmcp serve       # Start the server`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flag errors still print usage; errors from running do not.
			cmd.SilenceUsage = true
			return nil
		},
		RunE: runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the MCP server",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "configure",
			Short: "Run the interactive configuration wizard",
			Args:  cobra.NoArgs,
			RunE:  runConfigure,
		},
		newDoctorCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", meta.ServerName, meta.Version)
			},
		},
	)
	return root
}
