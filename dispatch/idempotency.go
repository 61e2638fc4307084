package dispatch

import (
	"sync"
	"time"

	"github.com/dbfleet/dbfleet/types"
)

// dedupState is one idempotency-key slot.
type dedupState struct {
	startedAt time.Time
	done      bool
	result    *types.OperationResult
}

// Deduper suppresses duplicate dispatches: an identical
// (instance, operation, idempotency key) inside the window either
// conflicts (first call still in flight) or replays the first result.
type Deduper struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]*dedupState

	now func() time.Time
}

// NewDeduper creates a deduper with the given window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window:  window,
		entries: make(map[string]*dedupState),
		now:     time.Now,
	}
}

// Outcome of a Begin call.
type Outcome int

const (
	// Proceed: this caller owns the dispatch.
	Proceed Outcome = iota
	// InFlight: another identical call has not finished yet.
	InFlight
	// Replay: an identical call finished inside the window.
	Replay
)

// Begin claims a key. Entries older than the window are discarded.
func (d *Deduper) Begin(key string) (Outcome, *types.OperationResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune()

	state, ok := d.entries[key]
	if !ok {
		d.entries[key] = &dedupState{startedAt: d.now()}
		return Proceed, nil
	}
	if !state.done {
		return InFlight, nil
	}
	return Replay, state.result
}

// Finish records the result for a key so later duplicates replay it.
func (d *Deduper) Finish(key string, result *types.OperationResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, ok := d.entries[key]; ok {
		state.done = true
		state.result = result
	}
}

// Abandon releases a key without a result, e.g. when validation
// failed before dispatch. Validation failures are never deduplicated.
func (d *Deduper) Abandon(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

// Seed restores a completed entry, used when replaying the WAL after
// a restart.
func (d *Deduper) Seed(key string, startedAt time.Time, result *types.OperationResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.now().Sub(startedAt) > d.window {
		return
	}
	d.entries[key] = &dedupState{startedAt: startedAt, done: true, result: result}
}

// prune drops entries outside the window. Caller holds the lock.
func (d *Deduper) prune() {
	cutoff := d.now().Add(-d.window)
	for key, state := range d.entries {
		if state.startedAt.Before(cutoff) {
			delete(d.entries, key)
		}
	}
}
