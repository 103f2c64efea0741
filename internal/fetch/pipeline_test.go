package fetch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/clickup"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/ratelimit"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/retry"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/state"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/testutils"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/walker"
)

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func newClient(server *testutils.Server) *clickup.Client {
	return clickup.NewClient(clickup.Options{
		Token:   "pk_test",
		BaseURL: server.BaseURL(),
		Limiter: ratelimit.New(60000),
	})
}

// runPipeline walks the fake workspace and downloads everything,
// mirroring how the run command wires walker and pipeline together.
func runPipeline(t *testing.T, server *testutils.Server, store *state.Store, bucket *blob.Bucket) (Stats, walker.Stats) {
	t.Helper()
	return runPipelineCtx(t, context.Background(), server, store, bucket)
}

func runPipelineCtx(t *testing.T, ctx context.Context, server *testutils.Server, store *state.Store, bucket *blob.Bucket) (Stats, walker.Stats) {
	t.Helper()

	client := newClient(server)
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	w := &walker.Walker{
		Client: client,
		Store:  store,
		TeamID: "team1",
		Retry:  fastRetry(),
		Log:    log,
	}

	batches := make(chan walker.Batch)
	var wstats walker.Stats
	walkDone := make(chan error, 1)
	go func() {
		var err error
		wstats, err = w.Walk(ctx, batches)
		close(batches)
		walkDone <- err
	}()

	stats, err := Run(ctx, client, store, bucket, batches, Options{
		Workers: 4,
		Retry:   fastRetry(),
		Log:     log,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if werr := <-walkDone; werr != nil && ctx.Err() == nil {
		t.Fatalf("Walk: %v", werr)
	}
	return stats, wstats
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func twoTaskWorkspace() testutils.Workspace {
	return testutils.Workspace{
		TeamID: "team1",
		Spaces: []testutils.Space{{
			ID:   "s1",
			Name: "Design",
			Lists: []testutils.List{{
				ID:   "l1",
				Name: "Inbox",
				Tasks: []testutils.Task{
					{ID: "t1", Attachments: []testutils.Attachment{
						{ID: "a1", Title: "one.png", MimeType: "image/png", Data: []byte("image-one")},
					}},
					{ID: "t2", Attachments: []testutils.Attachment{
						{ID: "a2", Title: "two.png", MimeType: "image/png", Data: []byte("image-two-bytes")},
					}},
				},
			}},
		}},
	}
}

func TestRunDownloadsEverything(t *testing.T) {
	server := testutils.NewServer(t, twoTaskWorkspace())
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	stats, _ := runPipeline(t, server, store, bucket)

	if stats.Downloaded != 2 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.TasksProcessed != 2 {
		t.Errorf("expected 2 processed tasks, got %d", stats.TasksProcessed)
	}

	for _, taskID := range []string{"t1", "t2"} {
		if !store.IsTaskProcessed(taskID) {
			t.Errorf("%s should be processed", taskID)
		}
	}

	// Files land in the mirrored space/list tree.
	data, err := bucket.ReadAll(context.Background(), "Design/Inbox/one.png")
	if err != nil {
		t.Fatalf("read one.png: %v", err)
	}
	if string(data) != "image-one" {
		t.Errorf("unexpected content %q", data)
	}

	rec, ok := store.Lookup("a2")
	if !ok || rec.Path != "Design/Inbox/two.png" || rec.Size != int64(len("image-two-bytes")) {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Checksum == "" {
		t.Error("expected a checksum on the record")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	server := testutils.NewServer(t, twoTaskWorkspace())
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	runPipeline(t, server, store, bucket)

	server.ResetRequests()
	stats, wstats := runPipeline(t, server, store, bucket)

	if stats.Downloaded != 0 {
		t.Errorf("second run should download nothing, got %d", stats.Downloaded)
	}
	if wstats.TasksSkipped != 2 {
		t.Errorf("expected both tasks skipped, got %d", wstats.TasksSkipped)
	}
	if server.FetchCount("a1") != 1 || server.FetchCount("a2") != 1 {
		t.Error("attachment bytes must be fetched at most once across runs")
	}
	// Processed tasks cost no per-task detail calls on resume.
	if n := server.CountRequests("/api/v2/task/"); n != 0 {
		t.Errorf("expected 0 task detail calls on resume, got %d", n)
	}
}

func TestRunResumesAfterInterruption(t *testing.T) {
	server := testutils.NewServer(t, twoTaskWorkspace())
	dir := t.TempDir()
	store, err := state.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	// First run is cut short: only task t1's batch reaches the
	// pipeline before the feed closes, as if the process died between
	// tasks.
	client := newClient(server)
	batches := make(chan walker.Batch, 1)
	batches <- walker.Batch{
		TaskID: "t1",
		Space:  "Design",
		List:   "Inbox",
		Attachments: []walker.Attachment{{
			ID: "a1", TaskID: "t1", URL: server.AttachmentURL("a1"), Name: "one.png",
		}},
	}
	close(batches)
	if _, err := Run(context.Background(), client, store, bucket, batches, Options{Retry: fastRetry()}); err != nil {
		t.Fatalf("partial run: %v", err)
	}

	// A new process resumes with the same state directory.
	store2, err := state.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	stats, _ := runPipeline(t, server, store2, bucket)

	if stats.Downloaded != 1 {
		t.Errorf("resume should fetch only t2's attachment, got %d downloads", stats.Downloaded)
	}
	if server.FetchCount("a1") != 1 {
		t.Errorf("a1 must not be re-downloaded, fetched %d times", server.FetchCount("a1"))
	}
	if !store2.IsTaskProcessed("t1") || !store2.IsTaskProcessed("t2") {
		t.Error("both tasks should be processed after resume")
	}
}

func TestRunRecordsPermanentFailure(t *testing.T) {
	ws := twoTaskWorkspace()
	ws.Spaces[0].Lists[0].Tasks[0].Attachments[0].Status = 403
	server := testutils.NewServer(t, ws)
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	stats, _ := runPipeline(t, server, store, bucket)

	if stats.Failed != 1 || stats.Downloaded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// 403 is permanent: exactly one fetch, no retries.
	if n := server.FetchCount("a1"); n != 1 {
		t.Errorf("expected 1 fetch of the forbidden attachment, got %d", n)
	}

	failures := store.Failures()
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure entry, got %d", len(failures))
	}
	if failures[0].AttachmentID != "a1" || failures[0].Kind != state.KindPermanent {
		t.Errorf("unexpected failure entry: %+v", failures[0])
	}
	if store.IsDownloaded("a1") {
		t.Error("failed attachment must not count as downloaded")
	}

	// The task still resolves: a permanent failure is a dispatched
	// outcome, so the task is not re-enumerated forever.
	if !store.IsTaskProcessed("t1") {
		t.Error("t1 should be processed despite the failed attachment")
	}

	// No object at the final path.
	exists, err := bucket.Exists(context.Background(), "Design/Inbox/one.png")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("failed download must not leave an object at the destination")
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	ws := twoTaskWorkspace()
	ws.Spaces[0].Lists[0].Tasks[0].Attachments[0].FailFirst = 2
	server := testutils.NewServer(t, ws)
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	stats, _ := runPipeline(t, server, store, bucket)

	if stats.Downloaded != 2 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if n := server.FetchCount("a1"); n != 3 {
		t.Errorf("expected 3 attempts on the flaky attachment, got %d", n)
	}
}

func TestRunIntegrityFailure(t *testing.T) {
	ws := twoTaskWorkspace()
	ws.Spaces[0].Lists[0].Tasks[0].Attachments[0].Truncate = true
	server := testutils.NewServer(t, ws)
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	stats, _ := runPipeline(t, server, store, bucket)

	if stats.Failed != 1 {
		t.Errorf("truncated attachment should fail, stats: %+v", stats)
	}
	// Retried the full budget before downgrading to permanent.
	if n := server.FetchCount("a1"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	// The aborted writes never committed anything at the final key.
	exists, err := bucket.Exists(context.Background(), "Design/Inbox/one.png")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("aborted download must not leave an object at the destination")
	}
}

func TestRunCollisionSuffixing(t *testing.T) {
	ws := testutils.Workspace{
		TeamID: "team1",
		Spaces: []testutils.Space{{
			ID:   "s1",
			Name: "Design",
			Lists: []testutils.List{{
				ID:   "l1",
				Name: "Inbox",
				Tasks: []testutils.Task{
					{ID: "t1", Attachments: []testutils.Attachment{
						{ID: "a1", Title: "mock.png", MimeType: "image/png", Data: []byte("first")},
					}},
					{ID: "t2", Attachments: []testutils.Attachment{
						{ID: "a2", Title: "mock.png", MimeType: "image/png", Data: []byte("second")},
					}},
					{ID: "t3", Attachments: []testutils.Attachment{
						{ID: "a3", Title: "mock.png", MimeType: "image/png", Data: []byte("third")},
					}},
				},
			}},
		}},
	}
	server := testutils.NewServer(t, ws)
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bucket := newBucket(t)

	stats, _ := runPipeline(t, server, store, bucket)

	if stats.Downloaded != 3 {
		t.Fatalf("expected 3 downloads, got %+v", stats)
	}

	// All three are on disk under distinct names.
	keys := map[string]bool{}
	for _, id := range []string{"a1", "a2", "a3"} {
		rec, ok := store.Lookup(id)
		if !ok || rec.Status != state.StatusOK {
			t.Fatalf("missing record for %s", id)
		}
		if keys[rec.Path] {
			t.Errorf("duplicate destination path %s", rec.Path)
		}
		keys[rec.Path] = true

		exists, err := bucket.Exists(context.Background(), rec.Path)
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if !exists {
			t.Errorf("object missing at %s", rec.Path)
		}
	}
	for _, want := range []string{"Design/Inbox/mock.png", "Design/Inbox/mock_001.png", "Design/Inbox/mock_002.png"} {
		if !keys[want] {
			t.Errorf("expected destination %s, got %v", want, keys)
		}
	}
}

func TestRunMarksAttachmentlessTasks(t *testing.T) {
	ws := testutils.Workspace{
		TeamID: "team1",
		Spaces: []testutils.Space{{
			ID:   "s1",
			Name: "Design",
			Lists: []testutils.List{{
				ID:    "l1",
				Name:  "Inbox",
				Tasks: []testutils.Task{{ID: "t1"}},
			}},
		}},
	}
	server := testutils.NewServer(t, ws)
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	stats, _ := runPipeline(t, server, store, newBucket(t))

	if stats.TasksProcessed != 1 {
		t.Errorf("attachment-less task should be marked processed, stats: %+v", stats)
	}
	if !store.IsTaskProcessed("t1") {
		t.Error("t1 should be in the processed set")
	}
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Design", "Design"},
		{"a/b", "a_b"},
		{"a\\b:c", "a_b_c"},
		{"  spaced  ", "spaced"},
		{"", "untitled"},
		{"...", "untitled"},
	}
	for _, tt := range tests {
		if got := sanitizeComponent(tt.in); got != tt.want {
			t.Errorf("sanitizeComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
