// Package progress provides progress reporting for a download run.
//
// The reporter keeps atomic counters of attachments seen, downloaded,
// skipped and failed, and periodically prints a single status line:
//
//	[clickup-images] 42 downloaded | 7 skipped | 1 failed | 50 seen | 13.52 MB | 1.20 MB/s | 38s
package progress
