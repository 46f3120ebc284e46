// Package watchparty keeps viewers of a shared session on one playback
// clock. A single host owns the clock and publishes it through a Document;
// guests apply what they receive, newest first, and tolerate small drift.
package watchparty

import (
	"context"
	"errors"
	"time"

	"media-resolver-go/pkg/types"
)

// ErrPartyNotFound is returned for an unknown party id.
var ErrPartyNotFound = errors.New("watch party not found")

// Role is a participant's role in a party.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Snapshot is the shared document content. State is nil until the host
// first publishes.
type Snapshot struct {
	State  *types.PlaybackClockState `json:"state,omitempty"`
	Closed bool                      `json:"closed"`
}

// Document is the shared party record. Only the host writes the clock.
type Document interface {
	// Create allocates a new party and returns its id. A new party is
	// closed until its host joins.
	Create(ctx context.Context) (string, error)

	// Get returns the current snapshot.
	Get(ctx context.Context, partyID string) (Snapshot, error)

	// Publish replaces the shared clock.
	Publish(ctx context.Context, partyID string, state types.PlaybackClockState) error

	// SetClosed marks the party closed when the host leaves and open when
	// it returns.
	SetClosed(ctx context.Context, partyID string, closed bool) error

	// Subscribe streams snapshots, starting with the current one. The
	// returned func releases the subscription and closes the channel.
	Subscribe(ctx context.Context, partyID string) (<-chan Snapshot, func(), error)
}

// Publisher writes the host clock for one party.
type Publisher interface {
	Publish(ctx context.Context, state types.PlaybackClockState) error
}

// Options are the synchronizer thresholds.
type Options struct {
	PlayingInterval time.Duration
	PlayingDrift    time.Duration
	PausedInterval  time.Duration
	PausedDrift     time.Duration
	SeekThreshold   time.Duration
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		PlayingInterval: 900 * time.Millisecond,
		PlayingDrift:    900 * time.Millisecond,
		PausedInterval:  5 * time.Second,
		PausedDrift:     1200 * time.Millisecond,
		SeekThreshold:   1500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PlayingInterval <= 0 {
		o.PlayingInterval = d.PlayingInterval
	}
	if o.PlayingDrift <= 0 {
		o.PlayingDrift = d.PlayingDrift
	}
	if o.PausedInterval <= 0 {
		o.PausedInterval = d.PausedInterval
	}
	if o.PausedDrift <= 0 {
		o.PausedDrift = d.PausedDrift
	}
	if o.SeekThreshold <= 0 {
		o.SeekThreshold = d.SeekThreshold
	}
	return o
}

// Bind returns a Publisher writing to one party of doc.
func Bind(doc Document, partyID string) Publisher {
	return boundParty{doc: doc, id: partyID}
}

type boundParty struct {
	doc Document
	id  string
}

func (b boundParty) Publish(ctx context.Context, state types.PlaybackClockState) error {
	return b.doc.Publish(ctx, b.id, state)
}

// Project returns where a clock state's position is at nowMillis: advanced
// by the elapsed time when the host was playing, clamped to
// [0, durationMillis). A non-positive duration only clamps at zero.
func Project(state types.PlaybackClockState, nowMillis, durationMillis int64) int64 {
	pos := state.PositionMillis
	if state.IsPlaying {
		if elapsed := nowMillis - state.UpdatedAtMillis; elapsed > 0 {
			pos += elapsed
		}
	}
	if durationMillis > 0 && pos >= durationMillis {
		pos = durationMillis - 1
	}
	return max(pos, 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
