package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mfshop/devfleet/fleet/service"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up":
		if err := runUp(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "devfleet up: %v\n", err)
			os.Exit(exitCode(err))
		}
	case "check":
		if err := runCheck(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "devfleet check: %v\n", err)
			os.Exit(1)
		}
	case "logs":
		if err := runLogs(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "devfleet logs: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "devfleet: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// exitCode maps a run failure to the process exit code. A service that
// exited non-zero propagates its own code; everything else is 1.
func exitCode(err error) int {
	var exitErr *service.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: devfleet <command> [flags]

Commands:
  up    [-f fleet.json]  Start the fleet and run until it exits
  check [-f fleet.json]  Validate a fleet definition without starting it
  logs  <file.jsonl>     View service logs from a recorded run

Run 'devfleet <command> --help' for command-specific flags.
`)
}
