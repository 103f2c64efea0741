package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/progress"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/state"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	stateDir := fs.String("state", ".clickup-images", "State directory for resume files")
	showFailures := fs.Int("failures", 5, "Number of recent failures to show (0 = none)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: clickup-images status [options]

Summarize the resume state of a previous run without touching the API:
how many tasks are processed, how many files were downloaded, and what
failed permanently.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	store, err := state.Open(*stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	tasks, _, _ := store.Counts()

	var okCount int
	var totalBytes int64
	for _, rec := range store.Downloads() {
		if rec.Status == state.StatusOK {
			okCount++
			totalBytes += rec.Size
		}
	}
	failures := store.Failures()

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("State directory: %s\n", *stateDir)
	fmt.Printf("Processed tasks: %d\n", tasks)
	fmt.Printf("Downloads:       %s\n", green(fmt.Sprintf("%d files, %s", okCount, progress.FormatBytes(totalBytes))))
	fmt.Printf("Failures:        %s\n", red(fmt.Sprint(len(failures))))

	if *showFailures > 0 && len(failures) > 0 {
		fmt.Println("\nRecent failures:")
		start := len(failures) - *showFailures
		if start < 0 {
			start = 0
		}
		for _, f := range failures[start:] {
			fmt.Printf("  %s  %-10s  %s\n", f.FailedAt.Format("2006-01-02 15:04:05"), f.Kind, f.Error)
		}
	}
	return ExitSuccess
}
