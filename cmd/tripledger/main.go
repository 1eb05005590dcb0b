/*
main.go - Application entry point

PURPOSE:
  Runs the tripledger command line. All wiring lives in the cli package.

EXAMPLES:
  # Serve with a file database
  TRIPLEDGER_DB_DRIVER=sqlite tripledger serve

  # Serve against PostgreSQL (River runs the background jobs)
  DATABASE_URL=postgres://localhost/tripledger TRIPLEDGER_DB_DRIVER=postgres tripledger serve

  # One-off due scan as of a given day
  tripledger scan --today 2025-06-04

SEE ALSO:
  - cli/serve.go: Server startup and graceful shutdown
  - config/config.go: Configuration file and environment
*/
package main

import (
	"fmt"
	"os"

	"github.com/warp/trip-ledger/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
