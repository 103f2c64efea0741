package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitAuthError    = 3
	ExitStorageError = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runRun(cmdArgs)
	case "teams":
		return runTeams(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: clickup-images <command> [options]

Commands:
  run     Walk the workspace and download every image attachment
  teams   List the workspaces visible to the API token
  status  Show resume state: processed tasks, downloads, failures

Credentials come from CLICKUP_API_TOKEN and CLICKUP_TEAM_ID (a .env
file in the working directory is honored).

Run 'clickup-images <command> -h' for command-specific help.`)
}
