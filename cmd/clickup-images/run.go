package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/clickup"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/config"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/fetch"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/progress"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/ratelimit"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/retry"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/state"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/walker"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	output := fs.String("output", "", "Output directory or bucket URL (s3://, gs://)")
	stateDir := fs.String("state", "", "State directory for resume files")
	teamID := fs.String("team", "", "Workspace (team) ID")
	workers := fs.Int("workers", 0, "Number of parallel download workers")
	ratePerMin := fs.Int("rate", 0, "API request budget per minute")
	forceRescan := fs.Bool("force-rescan", false, "Re-enumerate all tasks, keeping download records")
	verbose := fs.Bool("verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: clickup-images run [options]

Walk every space, list and task of the workspace and download all image
attachments into a <space>/<list>/ tree under the output root. The run
is resumable: interrupt it and run again, and already processed tasks
and downloaded files are skipped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, code := loadConfig(*configPath, config.Config{
		Output:        *output,
		StateDir:      *stateDir,
		TeamID:        *teamID,
		Workers:       *workers,
		RatePerMinute: *ratePerMin,
	})
	if code != ExitSuccess {
		return code
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[clickup-images] Received interrupt, finishing in-flight downloads...")
		cancel()
	}()

	store, err := state.Open(cfg.StateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	if *forceRescan {
		if err := store.ResetTasks(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		fmt.Fprintln(os.Stderr, "[clickup-images] Cleared processed task set, full rescan")
	}

	bucket, err := openBucket(ctx, cfg.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening output: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	client := clickup.NewClient(clickup.Options{
		Token:   cfg.Token,
		BaseURL: cfg.APIURL,
		Timeout: cfg.Timeout,
		Limiter: ratelimit.New(cfg.RatePerMinute),
	})
	policy := retry.Policy{
		Attempts:   cfg.Retry.Attempts,
		Backoff:    cfg.Retry.Backoff,
		MaxBackoff: cfg.Retry.MaxBackoff,
	}

	reporter := progress.NewReporter(progress.Options{})
	reporter.Start()

	w := &walker.Walker{
		Client: client,
		Store:  store,
		TeamID: cfg.TeamID,
		Retry:  policy,
		Log:    log,
	}

	batches := make(chan walker.Batch)
	var wstats walker.Stats
	walkDone := make(chan error, 1)
	go func() {
		var werr error
		wstats, werr = w.Walk(ctx, batches)
		close(batches)
		walkDone <- werr
	}()

	stats, err := fetch.Run(ctx, client, store, bucket, batches, fetch.Options{
		Workers:  cfg.Workers,
		Retry:    policy,
		Progress: reporter,
		Log:      log,
	})
	walkErr := <-walkDone
	snap := reporter.Snapshot()
	reporter.Stop()

	printSummary(stats, wstats, snap, cfg.StateDir)

	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	case walkErr != nil && ctx.Err() == nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", walkErr)
		if errors.Is(walkErr, clickup.ErrUnauthorized) {
			return ExitAuthError
		}
		return ExitGeneralError
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "[clickup-images] Interrupted, run again to resume")
		return ExitGeneralError
	case stats.Failed > 0:
		return ExitGeneralError
	}
	return ExitSuccess
}

// loadConfig layers defaults, the optional YAML file, the environment
// and flag overrides, then validates.
func loadConfig(path string, overrides config.Config) (config.Config, int) {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, ExitGeneralError
	}

	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return config.Config{}, ExitInvalidArgs
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, ExitInvalidArgs
	}
	cfg = cfg.Merge(overrides)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, ExitInvalidArgs
	}
	return cfg, ExitSuccess
}

// openBucket opens the output root. Anything with a URL scheme goes
// through the registered blob drivers; a bare path becomes a local
// directory tree.
func openBucket(ctx context.Context, output string) (*blob.Bucket, error) {
	if strings.Contains(output, "://") {
		return blob.OpenBucket(ctx, output)
	}
	return fileblob.OpenBucket(output, &fileblob.Options{CreateDir: true})
}

func printSummary(stats fetch.Stats, wstats walker.Stats, snap progress.Snapshot, stateDir string) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "[clickup-images] Done in %s\n", progress.FormatDuration(snap.Elapsed))
	fmt.Fprintf(os.Stderr, "  Spaces: %d  Lists: %d  Tasks: %d (%d already done)\n",
		wstats.Spaces, wstats.Lists, wstats.TasksSeen, wstats.TasksSkipped)
	fmt.Fprintf(os.Stderr, "  %s  %s  %s\n",
		green(fmt.Sprintf("%d downloaded (%s)", stats.Downloaded, progress.FormatBytes(snap.Bytes))),
		yellow(fmt.Sprintf("%d skipped", stats.Skipped)),
		red(fmt.Sprintf("%d failed", stats.Failed)))
	if wstats.BranchFailures > 0 {
		fmt.Fprintf(os.Stderr, "  %s\n",
			red(fmt.Sprintf("%d branches abandoned, run again to retry them", wstats.BranchFailures)))
	}
	if stats.Failed > 0 {
		fmt.Fprintf(os.Stderr, "  See %s/failures.json for details\n", stateDir)
	}
}
