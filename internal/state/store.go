package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// File names within the state directory.
const (
	tasksFile     = "processed_tasks.json"
	downloadsFile = "downloads.json"
	failuresFile  = "failures.json"
)

// DownloadStatus marks the outcome recorded for an attachment.
type DownloadStatus string

const (
	StatusOK     DownloadStatus = "ok"
	StatusFailed DownloadStatus = "failed"
)

// DownloadRecord is the durable record of one download attempt. Records
// are keyed by the remote attachment id; the local path is incidental,
// so renaming or collision suffixing never causes a re-download.
type DownloadRecord struct {
	AttachmentID string         `json:"attachment_id"`
	TaskID       string         `json:"task_id,omitempty"`
	Path         string         `json:"path"`
	Size         int64          `json:"size"`
	Checksum     string         `json:"checksum,omitempty"`
	Status       DownloadStatus `json:"status"`
	DownloadedAt time.Time      `json:"downloaded_at"`
}

// FailureEntry is one entry of the append-only failure log.
type FailureEntry struct {
	AttachmentID string    `json:"attachment_id,omitempty"`
	URL          string    `json:"url"`
	Kind         string    `json:"kind"` // "permanent" or "structural"
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
}

// Failure kinds.
const (
	KindPermanent  = "permanent"
	KindStructural = "structural"
)

// Store is the durable resume state of a run: the set of fully
// enumerated tasks, the download records keyed by attachment id, and
// the failure log. Every mutation is flushed to disk before it returns,
// so a crash right after a call leaves the on-disk state consistent
// with "this call completed". Reads are concurrent, writes serialized.
type Store struct {
	dir string

	mu        sync.RWMutex
	tasks     map[string]struct{}
	downloads map[string]DownloadRecord
	failures  []FailureEntry
}

// Open loads (or initializes) the store in dir, creating the directory
// if needed. Corrupt state files are an error: the files are written
// atomically, so corruption means something outside this program
// touched them.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		tasks:     make(map[string]struct{}),
		downloads: make(map[string]DownloadRecord),
	}

	var taskIDs []string
	if err := readJSON(filepath.Join(dir, tasksFile), &taskIDs); err != nil {
		return nil, err
	}
	for _, id := range taskIDs {
		s.tasks[id] = struct{}{}
	}

	var records []DownloadRecord
	if err := readJSON(filepath.Join(dir, downloadsFile), &records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		s.downloads[rec.AttachmentID] = rec
	}

	if err := readJSON(filepath.Join(dir, failuresFile), &s.failures); err != nil {
		return nil, err
	}

	return s, nil
}

// IsTaskProcessed reports whether the task was fully enumerated in a
// previous run.
func (s *Store) IsTaskProcessed(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[taskID]
	return ok
}

// MarkTaskProcessed durably adds the task to the processed set. Call
// only after every attachment of the task has been dispatched and
// resolved; partial enumeration must not be marked.
func (s *Store) MarkTaskProcessed(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[taskID] = struct{}{}
	return s.saveTasks()
}

// ResetTasks durably clears the processed-task set. Download records
// are kept, so a subsequent re-walk still skips completed attachments.
func (s *Store) ResetTasks() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]struct{})
	return s.saveTasks()
}

// IsDownloaded reports whether the attachment has a successful download
// record. Failed records do not count: those attachments are retried on
// the next run.
func (s *Store) IsDownloaded(attachmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.downloads[attachmentID]
	return ok && rec.Status == StatusOK
}

// Lookup returns the download record for an attachment id, if any.
func (s *Store) Lookup(attachmentID string) (DownloadRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.downloads[attachmentID]
	return rec, ok
}

// RecordDownload durably stores a successful download.
func (s *Store) RecordDownload(rec DownloadRecord) error {
	if rec.Status == "" {
		rec.Status = StatusOK
	}
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.downloads[rec.AttachmentID] = rec
	return s.saveDownloads()
}

// RecordFailure durably appends to the failure log and stores a failed
// download record so the attempt shows up in reporting. The failure log
// is never pruned.
func (s *Store) RecordFailure(entry FailureEntry) error {
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, entry)
	if err := s.saveFailures(); err != nil {
		return err
	}

	if entry.AttachmentID != "" {
		s.downloads[entry.AttachmentID] = DownloadRecord{
			AttachmentID: entry.AttachmentID,
			Status:       StatusFailed,
			DownloadedAt: entry.FailedAt,
		}
		return s.saveDownloads()
	}
	return nil
}

// Downloads returns a copy of all download records.
func (s *Store) Downloads() []DownloadRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]DownloadRecord, 0, len(s.downloads))
	for _, rec := range s.downloads {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AttachmentID < records[j].AttachmentID
	})
	return records
}

// Failures returns a copy of the failure log, oldest first.
func (s *Store) Failures() []FailureEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FailureEntry, len(s.failures))
	copy(out, s.failures)
	return out
}

// Counts returns the number of processed tasks, successful downloads
// and logged failures.
func (s *Store) Counts() (tasks, downloads, failures int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.downloads {
		if rec.Status == StatusOK {
			downloads++
		}
	}
	return len(s.tasks), downloads, len(s.failures)
}

// saveTasks persists the processed-task set. Must be called with s.mu
// held.
func (s *Store) saveTasks() error {
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return writeJSON(filepath.Join(s.dir, tasksFile), ids)
}

func (s *Store) saveDownloads() error {
	records := make([]DownloadRecord, 0, len(s.downloads))
	for _, rec := range s.downloads {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AttachmentID < records[j].AttachmentID
	})
	return writeJSON(filepath.Join(s.dir, downloadsFile), records)
}

func (s *Store) saveFailures() error {
	return writeJSON(filepath.Join(s.dir, failuresFile), s.failures)
}

// readJSON loads path into v. A missing file is not an error.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON persists v to path atomically: marshal, write to a temp
// file in the same directory, fsync, rename. The file on disk is valid
// JSON at every instant.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
