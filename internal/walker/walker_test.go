package walker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/clickup"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/ratelimit"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/retry"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/state"
	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/testutils"
)

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newWalker(t *testing.T, server *testutils.Server) (*Walker, *state.Store) {
	t.Helper()

	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	client := clickup.NewClient(clickup.Options{
		Token:   "pk_test",
		BaseURL: server.BaseURL(),
		Limiter: ratelimit.New(60000),
	})

	return &Walker{
		Client: client,
		Store:  store,
		TeamID: "team1",
		Retry:  fastRetry(),
		Log:    slog.New(slog.NewTextHandler(testWriter{t}, nil)),
	}, store
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// collect runs a walk to completion and returns the emitted batches.
func collect(t *testing.T, w *Walker) ([]Batch, Stats) {
	t.Helper()

	out := make(chan Batch, 64)
	stats, err := w.Walk(context.Background(), out)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	close(out)

	var batches []Batch
	for b := range out {
		batches = append(batches, b)
	}
	return batches, stats
}

func basicWorkspace() testutils.Workspace {
	return testutils.Workspace{
		TeamID: "team1",
		Spaces: []testutils.Space{{
			ID:   "s1",
			Name: "Design",
			Lists: []testutils.List{{
				ID:   "l1",
				Name: "Inbox",
				Tasks: []testutils.Task{
					{ID: "t1", Name: "one", Attachments: []testutils.Attachment{
						{ID: "a1", Title: "mock.png", MimeType: "image/png", Data: []byte("png-bytes")},
						{ID: "a2", Title: "notes.pdf", MimeType: "application/pdf", Data: []byte("pdf")},
					}},
					{ID: "t2", Name: "two"},
				},
			}},
		}},
	}
}

func TestWalkEmitsImageBatches(t *testing.T) {
	server := testutils.NewServer(t, basicWorkspace())
	w, _ := newWalker(t, server)

	batches, stats := collect(t, w)

	if stats.Spaces != 1 || stats.Lists != 1 || stats.TasksSeen != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(batches) != 2 {
		t.Fatalf("expected a batch per task, got %d", len(batches))
	}

	first := batches[0]
	if first.TaskID != "t1" || first.Space != "Design" || first.List != "Inbox" {
		t.Errorf("unexpected batch: %+v", first)
	}
	if len(first.Attachments) != 1 || first.Attachments[0].ID != "a1" {
		t.Errorf("expected only the image attachment, got %+v", first.Attachments)
	}
	if first.Attachments[0].Name != "mock.png" {
		t.Errorf("unexpected attachment name %q", first.Attachments[0].Name)
	}

	// Attachment-less tasks still produce an (empty) batch so the
	// orchestrator can mark them processed.
	if batches[1].TaskID != "t2" || len(batches[1].Attachments) != 0 {
		t.Errorf("unexpected batch for t2: %+v", batches[1])
	}
}

func TestWalkSkipsProcessedTasksWithoutAPICalls(t *testing.T) {
	server := testutils.NewServer(t, basicWorkspace())
	w, store := newWalker(t, server)

	if err := store.MarkTaskProcessed("t1"); err != nil {
		t.Fatalf("MarkTaskProcessed: %v", err)
	}

	batches, stats := collect(t, w)

	if stats.TasksSkipped != 1 {
		t.Errorf("expected 1 skipped task, got %d", stats.TasksSkipped)
	}
	if len(batches) != 1 || batches[0].TaskID != "t2" {
		t.Errorf("expected only t2, got %+v", batches)
	}
	if n := server.CountRequests("/api/v2/task/t1"); n != 0 {
		t.Errorf("processed task t1 should cost zero detail calls, got %d", n)
	}
}

func TestWalkPaginates(t *testing.T) {
	ws := basicWorkspace()
	ws.Spaces[0].Lists[0].PageSize = 1
	server := testutils.NewServer(t, ws)
	w, _ := newWalker(t, server)

	batches, _ := collect(t, w)

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches across pages, got %d", len(batches))
	}
	if n := server.CountRequests("/api/v2/list/l1/task"); n != 2 {
		t.Errorf("expected 2 page fetches, got %d", n)
	}
}

func TestWalkFolderedLists(t *testing.T) {
	ws := testutils.Workspace{
		TeamID: "team1",
		Spaces: []testutils.Space{{
			ID:   "s1",
			Name: "Design",
			FolderLists: []testutils.List{{
				ID:   "l9",
				Name: "Sprint 1",
				Tasks: []testutils.Task{
					{ID: "t9", Attachments: []testutils.Attachment{
						{ID: "a9", Title: "shot.jpg", MimeType: "image/jpeg", Data: []byte("jpg")},
					}},
				},
			}},
		}},
	}
	server := testutils.NewServer(t, ws)
	w, _ := newWalker(t, server)

	batches, _ := collect(t, w)
	if len(batches) != 1 || batches[0].List != "Sprint 1" {
		t.Fatalf("expected the foldered list to be walked, got %+v", batches)
	}
}

func TestWalkAbandonsFailingBranch(t *testing.T) {
	ws := basicWorkspace()
	ws.Spaces[0].Lists = append(ws.Spaces[0].Lists, testutils.List{
		ID:          "l2",
		Name:        "Broken",
		FailListing: true,
		Tasks:       []testutils.Task{{ID: "t3"}},
	})
	server := testutils.NewServer(t, ws)
	w, store := newWalker(t, server)

	batches, stats := collect(t, w)

	// The healthy sibling list is still fully walked.
	if len(batches) != 2 {
		t.Errorf("expected 2 batches from healthy list, got %d", len(batches))
	}
	if stats.BranchFailures != 1 {
		t.Errorf("expected 1 branch failure, got %d", stats.BranchFailures)
	}

	// The broken branch's task was never marked processed, so a future
	// run retries it.
	if store.IsTaskProcessed("t3") {
		t.Error("t3 must stay unprocessed after a structural failure")
	}

	failures := store.Failures()
	if len(failures) != 1 || failures[0].Kind != state.KindStructural {
		t.Errorf("expected one structural failure entry, got %+v", failures)
	}

	// Retried the bounded number of times before giving up.
	if n := server.CountRequests("/api/v2/list/l2/task"); n != 3 {
		t.Errorf("expected 3 attempts on the failing branch, got %d", n)
	}
}

func TestWalkBadTokenIsFatal(t *testing.T) {
	server := testutils.NewServer(t, basicWorkspace())
	server.Token = "pk_other"
	w, _ := newWalker(t, server)

	out := make(chan Batch, 1)
	_, err := w.Walk(context.Background(), out)
	if err == nil {
		t.Fatal("expected walk to fail with bad credentials")
	}
	if !errors.Is(err, clickup.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestIsImage(t *testing.T) {
	tests := []struct {
		att  clickup.Attachment
		want bool
	}{
		{clickup.Attachment{MimeType: "image/png"}, true},
		{clickup.Attachment{MimeType: "image/jpeg"}, true},
		{clickup.Attachment{MimeType: "application/pdf"}, false},
		{clickup.Attachment{Title: "photo.JPG"}, true},
		{clickup.Attachment{Title: "notes.txt"}, false},
		{clickup.Attachment{Title: "noextension"}, false},
	}
	for _, tt := range tests {
		if got := IsImage(tt.att); got != tt.want {
			t.Errorf("IsImage(%+v) = %v, want %v", tt.att, got, tt.want)
		}
	}
}
