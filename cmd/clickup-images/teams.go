package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/clickup"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/config"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/ratelimit"
)

func runTeams(args []string) int {
	fs := flag.NewFlagSet("teams", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: clickup-images teams

List the workspaces (teams) the API token can see, one per line as
"id<TAB>name". Use the id as CLICKUP_TEAM_ID for the run command.`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	cfg := config.Default()
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "Error: API token is required (CLICKUP_API_TOKEN)")
		return ExitInvalidArgs
	}

	client := clickup.NewClient(clickup.Options{
		Token:   cfg.Token,
		BaseURL: cfg.APIURL,
		Timeout: cfg.Timeout,
		Limiter: ratelimit.New(cfg.RatePerMinute),
	})

	teams, err := client.Teams(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, clickup.ErrUnauthorized) {
			return ExitAuthError
		}
		return ExitGeneralError
	}

	if len(teams) == 0 {
		fmt.Fprintln(os.Stderr, "[clickup-images] No workspaces visible to this token")
		return ExitSuccess
	}
	for _, team := range teams {
		fmt.Printf("%s\t%s\n", team.ID, team.Name)
	}
	return ExitSuccess
}
