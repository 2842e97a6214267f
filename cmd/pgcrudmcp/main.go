// pgcrudmcp serves CRUD, schema and table management tools for one
// PostgreSQL database over the Model Context Protocol.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
