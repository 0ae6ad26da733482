package preview

import (
	"time"

	"github.com/koios/trmnl-server/internal/clock"
)

// Debouncer lets through at most one event per window. It is owned by a
// single loop and is not safe for concurrent use.
type Debouncer struct {
	clock    clock.Clock
	window   time.Duration
	lastEmit time.Time
}

// NewDebouncer creates a debouncer that has never emitted
func NewDebouncer(clk clock.Clock, window time.Duration) *Debouncer {
	return &Debouncer{clock: clk, window: window}
}

// Allow reports whether an event observed now should be acted on, and
// records the emit time when it should.
func (d *Debouncer) Allow() bool {
	now := d.clock.Now()
	if !d.lastEmit.IsZero() && now.Sub(d.lastEmit) < d.window {
		return false
	}
	d.lastEmit = now
	return true
}
