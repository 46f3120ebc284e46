package watchparty

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/types"
)

// Host publishes the local playback clock. Routine position reports are
// throttled; play, pause and seek publish immediately.
type Host struct {
	pub   Publisher
	clock clockwork.Clock
	opts  Options
	log   *logging.Logger

	mu     sync.Mutex
	last   *types.PlaybackClockState
	lastAt time.Time
}

// NewHost creates a Host. A nil clock uses the real clock.
func NewHost(pub Publisher, clock clockwork.Clock, opts Options, log *logging.Logger) *Host {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Host{
		pub:   pub,
		clock: clock,
		opts:  opts.withDefaults(),
		log:   log.WithComponent("watchparty-host"),
	}
}

// Observe reports the local clock and publishes it if the throttle allows:
// while playing at most every PlayingInterval and only past PlayingDrift,
// while paused at most every PausedInterval and only past PausedDrift. A
// change of play state always publishes.
func (h *Host) Observe(ctx context.Context, playing bool, positionMillis int64) (bool, error) {
	h.mu.Lock()
	now := h.clock.Now()
	if h.last != nil && h.last.IsPlaying == playing {
		interval, drift := h.opts.PausedInterval, h.opts.PausedDrift
		if playing {
			interval, drift = h.opts.PlayingInterval, h.opts.PlayingDrift
		}
		if now.Sub(h.lastAt) < interval || abs64(positionMillis-h.last.PositionMillis) <= drift.Milliseconds() {
			h.mu.Unlock()
			return false, nil
		}
	}
	state := h.stamp(playing, positionMillis, now)
	h.mu.Unlock()

	return true, h.publish(ctx, state, "observe")
}

// Force publishes immediately. Use it for play, pause and seek.
func (h *Host) Force(ctx context.Context, playing bool, positionMillis int64) error {
	h.mu.Lock()
	state := h.stamp(playing, positionMillis, h.clock.Now())
	h.mu.Unlock()

	return h.publish(ctx, state, "force")
}

// Last returns the last published state, if any.
func (h *Host) Last() (types.PlaybackClockState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return types.PlaybackClockState{}, false
	}
	return *h.last, true
}

// stamp records a new state. Timestamps strictly increase even when the
// clock does not. Callers hold mu.
func (h *Host) stamp(playing bool, positionMillis int64, now time.Time) types.PlaybackClockState {
	updated := now.UnixMilli()
	if h.last != nil && updated <= h.last.UpdatedAtMillis {
		updated = h.last.UpdatedAtMillis + 1
	}
	state := types.PlaybackClockState{
		IsPlaying:       playing,
		PositionMillis:  max(positionMillis, 0),
		UpdatedAtMillis: updated,
	}
	h.last = &state
	h.lastAt = now
	return state
}

func (h *Host) publish(ctx context.Context, state types.PlaybackClockState, reason string) error {
	if err := h.pub.Publish(ctx, state); err != nil {
		h.log.Debug("failed to publish clock", "reason", reason, "error", err)
		return fmt.Errorf("failed to publish clock: %w", err)
	}
	metrics.RecordPartyEvent("publish")
	return nil
}
