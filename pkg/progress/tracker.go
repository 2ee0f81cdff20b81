// Package progress reports how far a long-running pack or unpack has got.
//
// A Tracker counts processed bytes against a known total and, while an
// operation runs, logs the running position, rate and ETA at a fixed
// interval. A nil *Tracker is valid and does nothing, so callers never need
// to check whether progress reporting is enabled.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultInterval is the reporting period used when none is given.
const DefaultInterval = time.Second

// Tracker counts bytes for one operation at a time.
type Tracker struct {
	logger   *slog.Logger
	interval time.Duration

	processed atomic.Uint64

	mu      sync.Mutex
	label   string
	total   uint64
	start   time.Time
	done    chan struct{}
	stopped chan struct{}
}

// NewTracker returns a tracker logging to logger every interval.
func NewTracker(logger *slog.Logger, interval time.Duration) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{logger: logger, interval: interval}
}

// Begin resets the counter and starts periodic reporting for an operation
// of total bytes. A Begin while another operation is running ends it first.
func (t *Tracker) Begin(label string, total uint64) {
	if t == nil {
		return
	}
	t.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed.Store(0)
	t.label = label
	t.total = total
	t.start = time.Now()
	t.done = make(chan struct{})
	t.stopped = make(chan struct{})

	t.logger.Info("started", "operation", label, "total", humanize.IBytes(total))
	go t.report(t.done, t.stopped)
}

// Add counts n processed bytes.
func (t *Tracker) Add(n uint64) {
	if t == nil || n == 0 {
		return
	}
	t.processed.Add(n)
}

// Processed returns the bytes counted since the last Begin.
func (t *Tracker) Processed() uint64 {
	if t == nil {
		return 0
	}
	return t.processed.Load()
}

// End stops reporting and logs a summary. It is safe to call when nothing
// is running.
func (t *Tracker) End() {
	if t == nil {
		return
	}
	t.mu.Lock()
	done, stopped := t.done, t.stopped
	t.done, t.stopped = nil, nil
	t.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	<-stopped
}

func (t *Tracker) report(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.mu.Lock()
	label, total, start := t.label, t.total, t.start
	t.mu.Unlock()

	var previous uint64
	for {
		select {
		case <-ticker.C:
			current := t.processed.Load()
			rate := uint64(float64(current-previous) / t.interval.Seconds())
			previous = current

			attrs := []any{
				"operation", label,
				"processed", humanize.IBytes(current),
				"rate", humanize.IBytes(rate) + "/s",
			}
			if total > 0 {
				attrs = append(attrs,
					"total", humanize.IBytes(total),
					"percent", fmt.Sprintf("%.1f", percent(current, total)),
					"eta", eta(current, total, rate),
				)
			}
			t.logger.Info("progress", attrs...)

		case <-done:
			elapsed := time.Since(start)
			processed := t.processed.Load()
			seconds := elapsed.Seconds()
			if seconds < 0.001 {
				seconds = 0.001
			}
			t.logger.Info("completed",
				"operation", label,
				"processed", humanize.IBytes(processed),
				"elapsed", elapsed.Round(time.Millisecond),
				"rate", humanize.IBytes(uint64(float64(processed)/seconds))+"/s",
			)
			return
		}
	}
}

func percent(current, total uint64) float64 {
	if total == 0 {
		return 100
	}
	return float64(current) / float64(total) * 100
}

// eta formats the remaining time at the current rate.
func eta(current, total, rate uint64) string {
	if current >= total {
		return "0s"
	}
	if rate == 0 {
		return "calculating"
	}
	remaining := time.Duration(float64(total-current) / float64(rate) * float64(time.Second))
	if remaining < time.Hour {
		return remaining.Round(time.Second).String()
	}
	return remaining.Round(time.Minute).String()
}

// Writer counts every byte written through it.
type Writer struct {
	W       io.Writer
	Tracker *Tracker
}

// Write implements io.Writer and counts the bytes accepted by W.
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.W.Write(p)
	if n > 0 {
		pw.Tracker.Add(uint64(n))
	}
	return
}

// Reader counts every byte read through it.
type Reader struct {
	R       io.Reader
	Tracker *Tracker
}

// Read implements io.Reader and counts the bytes returned by R.
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.R.Read(p)
	if n > 0 {
		pr.Tracker.Add(uint64(n))
	}
	return
}
