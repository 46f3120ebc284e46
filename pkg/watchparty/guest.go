package watchparty

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/types"
)

// Player is the guest's local playback surface.
type Player interface {
	PositionMillis() int64
	DurationMillis() int64
	Seek(positionMillis int64)
	Play()
	Pause()
	SetWaiting(waiting bool)
}

// Guest applies the host clock to a local player. Only strictly newer
// states are accepted; without a video or while the party is closed the
// newest accepted state waits until it can be applied.
type Guest struct {
	player Player
	clock  clockwork.Clock
	opts   Options
	log    *logging.Logger

	mu       sync.Mutex
	lastSeen int64
	pending  *types.PlaybackClockState
	hasVideo bool
	closed   bool
	applied  int
}

// NewGuest creates a Guest. It starts without a video and open.
func NewGuest(player Player, clock clockwork.Clock, opts Options, log *logging.Logger) *Guest {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guest{
		player: player,
		clock:  clock,
		opts:   opts.withDefaults(),
		log:    log.WithComponent("watchparty-guest"),
	}
}

// Receive handles a remote clock state. It reports whether the state was
// accepted; stale and duplicate states are dropped.
func (g *Guest) Receive(state types.PlaybackClockState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state.UpdatedAtMillis <= g.lastSeen {
		metrics.RecordPartyEvent("stale")
		return false
	}
	g.lastSeen = state.UpdatedAtMillis

	if !g.hasVideo || g.closed {
		g.pending = &state
		metrics.RecordPartyEvent("queued")
		return true
	}
	g.apply(state)
	return true
}

// SetVideoAvailable reports whether the local player has a video loaded.
func (g *Guest) SetVideoAvailable(available bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.hasVideo = available
	g.flush()
}

// SetClosed follows the party's closed flag. Closing pauses the player and
// shows the waiting state until the host returns.
func (g *Guest) SetClosed(closed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed == closed {
		return
	}
	g.closed = closed
	if closed {
		if g.hasVideo {
			g.player.Pause()
		}
		g.player.SetWaiting(true)
		return
	}
	g.player.SetWaiting(false)
	g.flush()
}

// Applied returns how many states were applied to the player.
func (g *Guest) Applied() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applied
}

// flush applies a queued state once possible. Callers hold mu.
func (g *Guest) flush() {
	if g.pending == nil || !g.hasVideo || g.closed {
		return
	}
	state := *g.pending
	g.pending = nil
	g.apply(state)
}

// apply seeks when drift exceeds the threshold, then matches play state.
// Callers hold mu.
func (g *Guest) apply(state types.PlaybackClockState) {
	target := Project(state, g.clock.Now().UnixMilli(), g.player.DurationMillis())
	local := g.player.PositionMillis()
	if abs64(target-local) > g.opts.SeekThreshold.Milliseconds() {
		g.log.Debug("seeking to host clock", "from", local, "to", target)
		g.player.Seek(target)
	}
	if state.IsPlaying {
		g.player.Play()
	} else {
		g.player.Pause()
	}
	g.applied++
	metrics.RecordPartyEvent("apply")
}
