package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Buffering indicator defaults.
const (
	DefaultBufferingDebounce = 650 * time.Millisecond
	DefaultBufferingStall    = 700 * time.Millisecond
)

// bufferWatch decides when a buffering condition is shown. The player may
// report short rebuffer blips constantly; the indicator only turns on after
// buffering has lasted for the debounce window and the position has not
// advanced for the stall window.
type bufferWatch struct {
	clock    clockwork.Clock
	debounce time.Duration
	stall    time.Duration

	mu           sync.Mutex
	buffering    bool
	visible      bool
	lastPos      int64
	lastProgress time.Time
	timer        clockwork.Timer
	// epoch invalidates checks scheduled before the last Start/Stop.
	epoch uint64
}

func newBufferWatch(clock clockwork.Clock, debounce, stall time.Duration) *bufferWatch {
	if debounce <= 0 {
		debounce = DefaultBufferingDebounce
	}
	if stall <= 0 {
		stall = DefaultBufferingStall
	}
	return &bufferWatch{clock: clock, debounce: debounce, stall: stall}
}

// Progress records the reported position. Movement hides the indicator;
// while buffering it re-arms the stall check.
func (b *bufferWatch) Progress(pos int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pos == b.lastPos && !b.lastProgress.IsZero() {
		return
	}
	now := b.clock.Now()
	b.lastPos = pos
	b.lastProgress = now
	b.visible = false
	if b.buffering {
		// Still stalled: show the indicator again if progress stops.
		b.schedule(now.Add(b.stall), now)
	}
}

// Start marks the player as buffering.
func (b *bufferWatch) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buffering {
		return
	}
	b.buffering = true
	b.epoch++
	now := b.clock.Now()
	b.schedule(now.Add(b.debounce), now)
}

// Stop marks buffering as over and hides the indicator.
func (b *bufferWatch) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffering = false
	b.visible = false
	b.epoch++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Visible reports whether the buffering indicator is shown.
func (b *bufferWatch) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// schedule arms a check for time at, as seen from now. Callers hold mu.
func (b *bufferWatch) schedule(at, now time.Time) {
	if b.timer != nil {
		b.timer.Stop()
	}
	epoch := b.epoch
	b.timer = b.clock.AfterFunc(at.Sub(now), func() { b.check(epoch, at) })
}

// check runs at time at. at is passed in rather than read from the clock so
// a check never depends on how late its timer fired.
func (b *bufferWatch) check(epoch uint64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if epoch != b.epoch || !b.buffering {
		return
	}
	if b.lastProgress.IsZero() || at.Sub(b.lastProgress) >= b.stall {
		b.visible = true
		b.timer = nil
		return
	}
	b.schedule(b.lastProgress.Add(b.stall), at)
}
