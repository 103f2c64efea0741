// Package state persists the resume state of a download run as three
// JSON files: the processed-task set, the download records and the
// failure log.
//
// Writes are synchronous and atomic (temp file + rename), so the files
// survive a crash at any point and a completed call is never lost. The
// dedup identity is always the remote attachment id, never the local
// filename.
package state
