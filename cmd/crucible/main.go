package main

import (
	"fmt"
	"os"

	"github.com/blackwell-systems/crucible/internal/app"
	"github.com/blackwell-systems/crucible/internal/errs"
)

func main() {
	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}
