// Command ffiboundary inspects and exercises the cffi boundary: it prints
// the shared layouts and the C header, runs scenarios and opens an
// interactive inspector.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(exitCommandError)
	}
}
