// Package debounce suppresses redundant filesystem change notifications.
// The OS watcher fires several events per logical write (truncate, write,
// close); without suppression the pipeline would process the same file
// multiple times concurrently.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the span within which repeat events for a path are
// ignored.
const DefaultWindow = 2 * time.Second

// Debouncer tracks the last observed event time per path. Entries are
// never expired proactively; they are checked lazily on the next event for
// the same path, so memory is bounded by the number of distinct paths
// touched.
type Debouncer struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// New creates a Debouncer. A non-positive window falls back to
// DefaultWindow.
func New(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// ShouldSuppress reports whether an event for path observed at now falls
// inside the suppression window of the previously recorded event. A
// suppressed event does not refresh the recorded timestamp, so a steady
// stream of events cannot starve the path forever.
func (d *Debouncer) ShouldSuppress(path string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[path]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[path] = now
	return false
}

// Len returns the number of tracked paths.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
