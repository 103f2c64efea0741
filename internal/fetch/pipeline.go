package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"

	"gocloud.dev/blob"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/clickup"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/progress"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/retry"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/state"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/walker"
)

// Options configures the download pipeline.
type Options struct {
	// Workers is the number of parallel download workers.
	// Default: 4
	Workers int

	// Retry applies to each attachment fetch. Zero value uses the
	// default policy.
	Retry retry.Policy

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Log receives per-item failure events. Defaults to slog.Default().
	Log *slog.Logger
}

// Stats summarizes a pipeline run.
type Stats struct {
	Seen           int64
	Downloaded     int64
	Skipped        int64
	Failed         int64
	Bytes          int64
	TasksProcessed int64
}

// storageError marks a failure to write to the destination bucket.
// Unlike a bad attachment, this means the output root itself is broken,
// which aborts the whole run.
type storageError struct {
	err error
}

func (e *storageError) Error() string { return "write output: " + e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

type job struct {
	att  walker.Attachment
	dir  string
	task *taskRef
}

// taskRef counts an enumerated task's unresolved attachments. The task
// enters the processed set only when the count reaches zero, i.e. every
// attachment was downloaded, skipped as a duplicate, or permanently
// failed. A drained (cancelled) run leaves it unresolved on purpose.
type taskRef struct {
	id      string
	pending atomic.Int64
}

type pipeline struct {
	client *clickup.Client
	store  *state.Store
	bucket *blob.Bucket
	namer  *namer
	opts   Options
	log    *slog.Logger

	seen           atomic.Int64
	downloaded     atomic.Int64
	skipped        atomic.Int64
	failed         atomic.Int64
	bytes          atomic.Int64
	tasksProcessed atomic.Int64

	cancel    context.CancelFunc
	fatalOnce sync.Once
	fatalErr  error
}

// Run consumes walker batches and downloads every attachment that has
// no successful record yet. It returns once the batch channel is closed
// and all in-flight work has resolved, or after a fatal error (bad
// output root, unwritable state).
//
// Cancelling ctx puts the run into a draining state: no new work is
// dispatched, but in-flight downloads run to their natural completion
// so nothing is left half-recorded.
func Run(ctx context.Context, client *clickup.Client, store *state.Store, bucket *blob.Bucket, batches <-chan walker.Batch, opts Options) (Stats, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Default()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &pipeline{
		client: client,
		store:  store,
		bucket: bucket,
		namer:  newNamer(bucket),
		opts:   opts,
		log:    log,
		cancel: cancel,
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(runCtx, jobs)
		}()
	}

	p.dispatch(runCtx, batches, jobs)
	close(jobs)
	wg.Wait()

	stats := Stats{
		Seen:           p.seen.Load(),
		Downloaded:     p.downloaded.Load(),
		Skipped:        p.skipped.Load(),
		Failed:         p.failed.Load(),
		Bytes:          p.bytes.Load(),
		TasksProcessed: p.tasksProcessed.Load(),
	}
	return stats, p.fatalErr
}

// fail records the first fatal error and stops dispatching.
func (p *pipeline) fail(err error) {
	p.fatalOnce.Do(func() {
		p.fatalErr = err
		p.cancel()
	})
}

// dispatch feeds worker jobs from incoming batches, filtering out
// attachments that already have a successful record.
func (p *pipeline) dispatch(ctx context.Context, batches <-chan walker.Batch, jobs chan<- job) {
	for {
		var batch walker.Batch
		var ok bool
		select {
		case <-ctx.Done():
			return
		case batch, ok = <-batches:
			if !ok {
				return
			}
		}

		p.seen.Add(int64(len(batch.Attachments)))
		if p.opts.Progress != nil {
			p.opts.Progress.Seen(len(batch.Attachments))
		}

		if len(batch.Attachments) == 0 {
			p.markProcessed(batch.TaskID)
			continue
		}

		t := &taskRef{id: batch.TaskID}
		t.pending.Store(int64(len(batch.Attachments)))
		dir := path.Join(sanitizeComponent(batch.Space), sanitizeComponent(batch.List))

		for _, att := range batch.Attachments {
			if p.store.IsDownloaded(att.ID) {
				p.skipped.Add(1)
				if p.opts.Progress != nil {
					p.opts.Progress.Skipped()
				}
				p.resolve(t)
				continue
			}

			select {
			case jobs <- job{att: att, dir: dir, task: t}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// resolve marks one of a task's attachments as dispatched and done;
// the last one marks the task processed.
func (p *pipeline) resolve(t *taskRef) {
	if t.pending.Add(-1) == 0 {
		p.markProcessed(t.id)
	}
}

func (p *pipeline) markProcessed(taskID string) {
	if err := p.store.MarkTaskProcessed(taskID); err != nil {
		p.fail(fmt.Errorf("persist processed task %s: %w", taskID, err))
		return
	}
	p.tasksProcessed.Add(1)
}

// worker downloads jobs until the channel closes. An item picked up
// before cancellation is finished under a detached context so a stop
// request never aborts a byte stream mid-write.
func (p *pipeline) worker(ctx context.Context, jobs <-chan job) {
	for j := range jobs {
		p.process(context.WithoutCancel(ctx), j)
	}
}

func (p *pipeline) process(ctx context.Context, j job) {
	defer p.resolve(j.task)

	key, err := p.namer.reserve(ctx, j.dir, sanitizeComponent(j.att.Name))
	if err != nil {
		p.fail(&storageError{err: err})
		return
	}
	defer p.namer.release(key)

	size, checksum, err := p.download(ctx, j.att, key)
	if err != nil {
		var se *storageError
		if errors.As(err, &se) {
			p.fail(err)
			return
		}

		p.log.Warn("download failed",
			slog.String("attachment", j.att.ID),
			slog.String("url", j.att.URL),
			slog.String("error", err.Error()))

		entry := state.FailureEntry{
			AttachmentID: j.att.ID,
			URL:          j.att.URL,
			Kind:         state.KindPermanent,
			Error:        err.Error(),
		}
		if serr := p.store.RecordFailure(entry); serr != nil {
			p.fail(fmt.Errorf("persist failure record: %w", serr))
			return
		}
		p.failed.Add(1)
		if p.opts.Progress != nil {
			p.opts.Progress.Failed()
		}
		return
	}

	rec := state.DownloadRecord{
		AttachmentID: j.att.ID,
		TaskID:       j.att.TaskID,
		Path:         key,
		Size:         size,
		Checksum:     checksum,
	}
	if err := p.store.RecordDownload(rec); err != nil {
		p.fail(fmt.Errorf("persist download record: %w", err))
		return
	}
	p.downloaded.Add(1)
	p.bytes.Add(size)
	if p.opts.Progress != nil {
		p.opts.Progress.Downloaded(size)
	}
}

// download fetches one attachment and streams it to the destination
// key, retrying transient failures. The bucket writer stages to a
// temporary location and only commits on Close, so an aborted or
// crashed attempt never leaves a partial object at the final key.
func (p *pipeline) download(ctx context.Context, att walker.Attachment, key string) (size int64, checksum string, err error) {
	err = p.opts.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := p.client.Fetch(ctx, att.URL)
		if err != nil {
			if clickup.Transient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		wctx, abort := context.WithCancel(ctx)
		defer abort()

		w, err := p.bucket.NewWriter(wctx, key, nil)
		if err != nil {
			return retry.Permanent(&storageError{err: err})
		}

		hash := sha256.New()
		n, err := io.Copy(io.MultiWriter(w, hash), resp.Body)
		if err != nil {
			abort()
			w.Close()
			return fmt.Errorf("read attachment body: %w", err)
		}
		if resp.ContentLength >= 0 && n != resp.ContentLength {
			abort()
			w.Close()
			return fmt.Errorf("size mismatch: declared %d, received %d", resp.ContentLength, n)
		}

		if err := w.Close(); err != nil {
			return retry.Permanent(&storageError{err: err})
		}

		size = n
		checksum = hex.EncodeToString(hash.Sum(nil))
		return nil
	})
	return size, checksum, err
}
