// Package session drives one playback attempt per viewer: resolving a
// source, analyzing its manifest, switching quality, recovering from
// playback errors and reporting progress.
package session

import (
	"errors"
	"fmt"
)

// State is a playback session state.
type State string

const (
	StateIdle             State = "idle"
	StateResolving        State = "resolving"
	StateReady            State = "ready"
	StatePlaying          State = "playing"
	StatePaused           State = "paused"
	StateQualitySwitching State = "quality_switching"
	StateEnded            State = "ended"
	StateFailed           State = "failed"
)

// EventKind names what drives a transition.
type EventKind string

const (
	EvLoad          EventKind = "load"
	EvResolved      EventKind = "resolved"
	EvResolveFailed EventKind = "resolve_failed"
	EvPlay          EventKind = "play"
	EvPause         EventKind = "pause"
	EvSwitchQuality EventKind = "switch_quality"
	EvSwitchDone    EventKind = "switch_done"
	EvPlaybackError EventKind = "playback_error"
	EvStepDown      EventKind = "step_down"
	EvEnded         EventKind = "ended"
)

var (
	// ErrInvalidTransition is returned for an event the current state does not accept.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrVariantUnavailable means a quality switch failed its preload. The
	// session stays where it was.
	ErrVariantUnavailable = errors.New("quality variant unavailable")
	// ErrSwitchSuperseded means a quality switch finished its preload after
	// a playback error, another switch or a new load took over.
	ErrSwitchSuperseded = errors.New("quality switch superseded")
	// ErrPlaybackFailed is terminal: the player failed and no untried
	// variant could take over.
	ErrPlaybackFailed = errors.New("playback failed")
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrUnknownTrack is returned when selecting a track the source does not offer.
	ErrUnknownTrack = errors.New("unknown track")
)

// Transition is a single allowed edge. A transition with ToPrior set
// returns to the state recorded when QualitySwitching was entered.
type Transition struct {
	From    State
	Event   EventKind
	To      State
	ToPrior bool
}

var transitionsTable = []Transition{
	// Load path; EvLoad also covers episode changes and retries
	{From: StateIdle, Event: EvLoad, To: StateResolving},
	{From: StateReady, Event: EvLoad, To: StateResolving},
	{From: StatePlaying, Event: EvLoad, To: StateResolving},
	{From: StatePaused, Event: EvLoad, To: StateResolving},
	{From: StateEnded, Event: EvLoad, To: StateResolving},
	{From: StateFailed, Event: EvLoad, To: StateResolving},
	{From: StateResolving, Event: EvLoad, To: StateResolving},
	{From: StateQualitySwitching, Event: EvLoad, To: StateResolving},
	{From: StateResolving, Event: EvResolved, To: StateReady},
	{From: StateResolving, Event: EvResolveFailed, To: StateFailed},

	// Play/pause
	{From: StateReady, Event: EvPlay, To: StatePlaying},
	{From: StatePaused, Event: EvPlay, To: StatePlaying},
	{From: StatePlaying, Event: EvPause, To: StatePaused},
	{From: StateReady, Event: EvPause, To: StatePaused},

	// Quality switching
	{From: StateReady, Event: EvSwitchQuality, To: StateQualitySwitching},
	{From: StatePlaying, Event: EvSwitchQuality, To: StateQualitySwitching},
	{From: StatePaused, Event: EvSwitchQuality, To: StateQualitySwitching},
	{From: StateQualitySwitching, Event: EvSwitchDone, ToPrior: true},

	// Native playback errors and automatic step-down
	{From: StatePlaying, Event: EvPlaybackError, To: StateFailed},
	{From: StatePaused, Event: EvPlaybackError, To: StateFailed},
	{From: StateReady, Event: EvPlaybackError, To: StateFailed},
	{From: StateQualitySwitching, Event: EvPlaybackError, To: StateFailed},
	{From: StateFailed, Event: EvStepDown, To: StateQualitySwitching},

	// Natural end of stream
	{From: StateReady, Event: EvEnded, To: StateEnded},
	{From: StatePlaying, Event: EvEnded, To: StateEnded},
	{From: StatePaused, Event: EvEnded, To: StateEnded},
	{From: StateQualitySwitching, Event: EvEnded, To: StateEnded},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// playable reports whether a source is loaded and can be driven.
func (s State) playable() bool {
	switch s {
	case StateReady, StatePlaying, StatePaused, StateQualitySwitching:
		return true
	}
	return false
}

// IsTerminal reports whether no further playback happens without a new load.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

func invalidTransition(from State, ev EventKind) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, from)
}
