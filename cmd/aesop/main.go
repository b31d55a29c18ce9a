// Command aesop is the CLI and HTTP entrypoint for the corrective-RAG
// biomedical evidence synthesis engine.
package main

import (
	"fmt"
	"os"

	"github.com/ppiankov/aesop/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
