package walker

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/clickup"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/retry"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/state"
)

// Attachment is one image attachment reference produced by the walk.
type Attachment struct {
	ID     string
	TaskID string
	URL    string
	Name   string
	Size   int64
}

// Batch is the full set of image attachments of one enumerated task.
// Tasks without image attachments produce an empty batch, so the
// orchestrator can still mark them processed.
type Batch struct {
	TaskID      string
	Space       string
	List        string
	Attachments []Attachment
}

// Stats summarizes a completed walk.
type Stats struct {
	Spaces         int
	Lists          int
	TasksSeen      int
	TasksSkipped   int // already in the processed set, no API calls spent
	BranchFailures int // abandoned hierarchy branches
}

// Walker traverses spaces, lists and task pages of one workspace,
// emitting one Batch per task that still needs processing. The walk is
// single-threaded; listing calls are rate-limited by the client and
// rare compared to downloads.
type Walker struct {
	Client *clickup.Client
	Store  *state.Store
	TeamID string

	// Retry applies to each listing call. Zero value uses the default
	// policy.
	Retry retry.Policy

	// Log receives structural failure and progress events. Defaults to
	// slog.Default().
	Log *slog.Logger
}

// Walk enumerates the hierarchy and sends batches on out. It always
// re-walks from the top; resumability comes from the processed-task set,
// which short-circuits already-enumerated tasks before any per-task API
// call. A branch whose listing calls keep failing is abandoned and
// logged; its tasks stay unprocessed so a future run retries them.
//
// Walk does not close out; that is the caller's job once Walk returns.
// The returned error is nil unless the walk could not start at all
// (spaces listing failed or credentials were rejected) or the context
// was cancelled.
func (w *Walker) Walk(ctx context.Context, out chan<- Batch) (Stats, error) {
	log := w.Log
	if log == nil {
		log = slog.Default()
	}
	policy := w.Retry
	if policy.Attempts == 0 {
		policy = retry.Default()
	}

	var stats Stats

	var spaces []clickup.Space
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		spaces, err = w.Client.Spaces(ctx, w.TeamID)
		return classify(err)
	})
	if err != nil {
		// Nothing was walked; this is fatal for the run. Unauthorized in
		// particular means a bad token.
		return stats, fmt.Errorf("list spaces for team %s: %w", w.TeamID, err)
	}
	stats.Spaces = len(spaces)

	for _, space := range spaces {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		var lists []clickup.List
		err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			lists, err = w.Client.Lists(ctx, space.ID)
			return classify(err)
		})
		if err != nil {
			stats.BranchFailures++
			w.abandon(log, "space", space.ID, space.Name, err)
			continue
		}
		stats.Lists += len(lists)

		for _, list := range lists {
			if err := w.walkList(ctx, policy, log, space, list, out, &stats); err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				stats.BranchFailures++
				w.abandon(log, "list", list.ID, list.Name, err)
			}
		}
	}

	return stats, ctx.Err()
}

// walkList paginates one list's tasks and emits a batch per task.
func (w *Walker) walkList(ctx context.Context, policy retry.Policy, log *slog.Logger, space clickup.Space, list clickup.List, out chan<- Batch, stats *Stats) error {
	for page := 0; ; page++ {
		var tasks *clickup.TaskPage
		err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			tasks, err = w.Client.Tasks(ctx, list.ID, page)
			return classify(err)
		})
		if err != nil {
			return fmt.Errorf("list tasks page %d: %w", page, err)
		}

		for _, task := range tasks.Tasks {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.TasksSeen++

			if w.Store.IsTaskProcessed(task.ID) {
				stats.TasksSkipped++
				continue
			}

			batch, err := w.enumerateTask(ctx, policy, space, list, task.ID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Per-task structural failure: the task stays
				// unprocessed, siblings continue.
				stats.BranchFailures++
				w.abandon(log, "task", task.ID, task.Name, err)
				continue
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if tasks.LastPage || len(tasks.Tasks) == 0 {
			return nil
		}
	}
}

// enumerateTask fetches a task's attachment metadata and filters it
// down to images.
func (w *Walker) enumerateTask(ctx context.Context, policy retry.Policy, space clickup.Space, list clickup.List, taskID string) (Batch, error) {
	var detail *clickup.TaskDetail
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		detail, err = w.Client.Task(ctx, taskID)
		return classify(err)
	})
	if err != nil {
		return Batch{}, fmt.Errorf("fetch task detail: %w", err)
	}

	batch := Batch{
		TaskID: taskID,
		Space:  space.Name,
		List:   list.Name,
	}
	for _, att := range detail.Attachments {
		if !IsImage(att) {
			continue
		}
		batch.Attachments = append(batch.Attachments, Attachment{
			ID:     att.ID,
			TaskID: taskID,
			URL:    att.URL,
			Name:   att.Name(),
			Size:   att.Size,
		})
	}
	return batch, nil
}

func (w *Walker) abandon(log *slog.Logger, kind, id, name string, err error) {
	log.Warn("abandoning branch after retries",
		slog.String("kind", kind),
		slog.String("id", id),
		slog.String("name", name),
		slog.String("error", err.Error()))

	// Structural failures also land in the failure log so they are
	// enumerable after the run.
	entry := state.FailureEntry{
		URL:   kind + "/" + id,
		Kind:  state.KindStructural,
		Error: err.Error(),
	}
	if serr := w.Store.RecordFailure(entry); serr != nil {
		log.Error("failed to record structural failure", slog.String("error", serr.Error()))
	}
}

// classify translates client errors for the retry policy: only 5xx and
// transport failures are retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if clickup.Transient(err) {
		return err
	}
	return retry.Permanent(err)
}

// imageExtensions covers the attachment types kept when the API omits
// the mimetype.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".svg":  true,
	".tiff": true,
	".heic": true,
}

// IsImage reports whether the attachment is an image, by MIME type
// first and file extension as a fallback.
func IsImage(att clickup.Attachment) bool {
	if att.MimeType != "" {
		return strings.HasPrefix(att.MimeType, "image/")
	}
	return imageExtensions[strings.ToLower(path.Ext(att.Name()))]
}
