package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
	"github.com/rickchristie/postgres-crud-mcp/internal/configure"
)

func runConfigure(cmd *cobra.Command, _ []string) error {
	printBanner(os.Stderr, isTTY(os.Stderr.Fd()))

	var readPassword func() (string, error)
	if isTTY(os.Stdin.Fd()) {
		readPassword = func() (string, error) {
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr) // newline after password input
			return string(password), err
		}
	}

	return configure.Run(configure.Options{
		Fs:           afero.NewOsFs(),
		Path:         pgcrud.DotEnvFile,
		In:           os.Stdin,
		Out:          os.Stderr,
		ReadPassword: readPassword,
	})
}
