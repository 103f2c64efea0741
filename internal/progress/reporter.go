package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 1s
	UpdateInterval time.Duration
}

// Snapshot is a point-in-time view of the run counters.
type Snapshot struct {
	Seen       int64
	Downloaded int64
	Skipped    int64
	Failed     int64
	Bytes      int64
	Elapsed    time.Duration
}

// Reporter outputs human-readable progress information while the
// pipeline runs: counts of downloaded, skipped and failed attachments,
// bytes transferred and the current transfer rate.
type Reporter struct {
	opts Options

	seen       atomic.Int64
	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64

	mu        sync.Mutex
	startTime time.Time
	lastBytes int64
	lastTime  time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastTime = r.startTime
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.doneCh)
		r.updateLoop()
	}()
}

// Stop stops the progress reporter. It returns only after the final
// line has been written, so callers can print their own output right
// after without interleaving.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// Seen records n newly discovered attachments.
func (r *Reporter) Seen(n int) {
	r.seen.Add(int64(n))
}

// Downloaded records one completed download of size bytes.
func (r *Reporter) Downloaded(size int64) {
	r.downloaded.Add(1)
	r.bytes.Add(size)
}

// Skipped records one attachment skipped as a duplicate.
func (r *Reporter) Skipped() {
	r.skipped.Add(1)
}

// Failed records one permanently failed attachment.
func (r *Reporter) Failed() {
	r.failed.Add(1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	start := r.startTime
	r.mu.Unlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}
	return Snapshot{
		Seen:       r.seen.Load(),
		Downloaded: r.downloaded.Load(),
		Skipped:    r.skipped.Load(),
		Failed:     r.failed.Load(),
		Bytes:      r.bytes.Load(),
		Elapsed:    elapsed,
	}
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinal()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress line.
func (r *Reporter) printProgress() {
	now := time.Now()
	bytes := r.bytes.Load()

	r.mu.Lock()
	elapsed := now.Sub(r.lastTime).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(bytes-r.lastBytes) / elapsed
	r.lastTime = now
	r.lastBytes = bytes
	start := r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "\r[clickup-images] %d downloaded | %d skipped | %d failed | %d seen | %s | %s/s | %s    ",
		r.downloaded.Load(),
		r.skipped.Load(),
		r.failed.Load(),
		r.seen.Load(),
		FormatBytes(bytes),
		FormatBytes(int64(speed)),
		FormatDuration(time.Since(start)),
	)
}

// printFinal outputs the final status line.
func (r *Reporter) printFinal() {
	r.mu.Lock()
	start := r.startTime
	r.mu.Unlock()

	duration := time.Since(start)
	bytes := r.bytes.Load()
	avgSpeed := float64(bytes) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[clickup-images] %d downloaded | %d skipped | %d failed | %d seen | %s | avg %s/s | %s    \n",
		r.downloaded.Load(),
		r.skipped.Load(),
		r.failed.Load(),
		r.seen.Load(),
		FormatBytes(bytes),
		FormatBytes(int64(avgSpeed)),
		FormatDuration(duration),
	)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatDuration formats a duration as a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
