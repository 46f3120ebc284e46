package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"media-resolver-go/pkg/captions"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/manifest"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/watchparty"
)

// AutoVariant selects the master playlist and lets the player adapt.
const AutoVariant = "auto"

// ManifestLoader analyzes manifests and preloads variants before a switch.
type ManifestLoader interface {
	Load(ctx context.Context, uri string, hdrs map[string]string) (manifest.Analysis, error)
	Preload(ctx context.Context, variant types.QualityVariant, hdrs map[string]string) error
}

// Options tunes a session.
type Options struct {
	// ConstrainedTarget starts adaptive sources on the most compatible
	// variant instead of the master playlist.
	ConstrainedTarget bool
	BufferingDebounce time.Duration
	BufferingStall    time.Duration
	ManifestTimeout   time.Duration
	PreloadTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ManifestTimeout <= 0 {
		o.ManifestTimeout = 10 * time.Second
	}
	if o.PreloadTimeout <= 0 {
		o.PreloadTimeout = 10 * time.Second
	}
	return o
}

// Deps are the collaborators a session drives.
type Deps struct {
	Resolver  interfaces.StreamResolver
	Manifests ManifestLoader
	Clock     clockwork.Clock
	// Parties backs Manager.JoinParty. Nil disables watch parties.
	Parties watchparty.Document
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID              string                   `json:"id"`
	State           State                    `json:"state"`
	Media           types.MediaReference     `json:"media"`
	Source          *types.PlaybackSource    `json:"source,omitempty"`
	ActiveURI       string                   `json:"active_uri,omitempty"`
	ActiveVariantID string                   `json:"active_variant_id,omitempty"`
	Variants        []types.QualityVariant   `json:"variants,omitempty"`
	AudioTracks     []types.AudioTrackOption `json:"audio_tracks,omitempty"`
	AudioTrackID    string                   `json:"audio_track_id,omitempty"`
	CaptionTrackID  string                   `json:"caption_track_id,omitempty"`
	PositionMillis  int64                    `json:"position"`
	DurationMillis  int64                    `json:"duration"`
	Buffering       bool                     `json:"buffering"`
	Notice          string                   `json:"notice,omitempty"`
	Error           string                   `json:"error,omitempty"`
	Generation      uint64                   `json:"generation"`
	ShowAds         bool                     `json:"show_ads"`
	Party           *PartyStatus             `json:"party,omitempty"`
}

// Session is one viewer's playback attempt. A new Load replaces the source
// wholesale; work started for an older source is discarded when it returns.
type Session struct {
	id        string
	resolver  interfaces.StreamResolver
	manifests ManifestLoader
	clock     clockwork.Clock
	opts      Options
	log       *logging.Logger
	buffer    *bufferWatch

	mu           sync.Mutex
	state        State
	prior        State
	media        types.MediaReference
	source       *types.PlaybackSource
	generation   uint64
	switchSeq    uint64
	analysis     manifest.Analysis
	ranked       []types.QualityVariant
	active       *types.QualityVariant
	tried        map[string]bool
	audioID      string
	captionID    string
	position     int64
	duration     int64
	notice       string
	err          error
	lastActivity time.Time
}

// New creates an idle session.
func New(id string, deps Deps, opts Options, log *logging.Logger) *Session {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	opts = opts.withDefaults()
	return &Session{
		id:           id,
		resolver:     deps.Resolver,
		manifests:    deps.Manifests,
		clock:        clock,
		opts:         opts,
		log:          log.WithComponent("session").With("session_id", id),
		buffer:       newBufferWatch(clock, opts.BufferingDebounce, opts.BufferingStall),
		state:        StateIdle,
		tried:        make(map[string]bool),
		lastActivity: clock.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns when the session last received an event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// apply performs a table transition. Callers hold mu.
func (s *Session) apply(ev EventKind) error {
	tr, ok := TransitionFor(s.state, ev)
	if !ok {
		return invalidTransition(s.state, ev)
	}

	from := s.state
	switch {
	case tr.ToPrior:
		s.state = s.prior
	case ev == EvSwitchQuality:
		s.prior = s.state
		s.state = tr.To
	case ev == EvPlaybackError && from != StateQualitySwitching:
		s.prior = s.state
		s.state = tr.To
	default:
		s.state = tr.To
	}
	if s.state == StateQualitySwitching {
		s.switchSeq++
	}

	s.lastActivity = s.clock.Now()
	s.log.Debug("session transition", "from", from, "event", ev, "to", s.state)
	return nil
}

// Load resolves media and prepares it for playback. It is also how an
// episode change or a retry after failure starts.
func (s *Session) Load(ctx context.Context, media types.MediaReference) error {
	if err := media.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.apply(EvLoad); err != nil {
		s.mu.Unlock()
		return err
	}
	s.generation++
	gen := s.generation
	s.media = media
	s.source = nil
	s.analysis = manifest.Analysis{}
	s.ranked = nil
	s.active = nil
	s.tried = make(map[string]bool)
	s.audioID = ""
	s.captionID = ""
	s.position = 0
	s.duration = 0
	s.notice = ""
	s.err = nil
	s.buffer.Stop()
	s.mu.Unlock()

	src, err := s.resolver.Resolve(ctx, media, types.ResolveOptions{DebugTag: s.id})

	var analysis manifest.Analysis
	if err == nil && src.IsAdaptive() && s.manifests != nil {
		mctx, cancel := context.WithTimeout(ctx, s.opts.ManifestTimeout)
		a, merr := s.manifests.Load(mctx, src.URI, src.Headers)
		cancel()
		if merr != nil {
			s.log.Debug("manifest analysis failed, adaptive features disabled", "error", merr)
		} else {
			analysis = a
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return nil
	}
	if err != nil {
		s.err = err
		_ = s.apply(EvResolveFailed)
		return fmt.Errorf("failed to resolve %s: %w", media.Key(), err)
	}

	s.source = src
	s.analysis = analysis
	s.ranked = manifest.RankByCompatibility(analysis.Variants)
	if s.opts.ConstrainedTarget && len(s.ranked) > 0 {
		v := s.ranked[0]
		s.active = &v
		s.tried[v.ID] = true
	}
	for i, t := range analysis.AudioTracks {
		if t.IsDefault || i == 0 {
			s.audioID = t.ID
		}
		if t.IsDefault {
			break
		}
	}
	return s.apply(EvResolved)
}

// Play records play intent. During a quality switch it updates the state
// the switch returns to.
func (s *Session) Play() error {
	return s.intent(EvPlay, StatePlaying)
}

// Pause records pause intent.
func (s *Session) Pause() error {
	return s.intent(EvPause, StatePaused)
}

func (s *Session) intent(ev EventKind, target State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateQualitySwitching {
		s.prior = target
		s.lastActivity = s.clock.Now()
		return nil
	}
	if s.state == target {
		return nil
	}
	if ev == EvPause {
		s.buffer.Stop()
	}
	return s.apply(ev)
}

// End marks natural end of stream.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return nil
	}
	s.buffer.Stop()
	return s.apply(EvEnded)
}

// UpdatePosition records the player position and, when known, duration.
func (s *Session) UpdatePosition(positionMillis, durationMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if positionMillis >= 0 {
		s.position = positionMillis
	}
	if durationMillis > 0 {
		s.duration = durationMillis
	}
	s.lastActivity = s.clock.Now()
	s.buffer.Progress(positionMillis)
}

// Seek moves the position without counting as playback progress.
func (s *Session) Seek(positionMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = max(positionMillis, 0)
	if s.duration > 0 && s.position >= s.duration {
		s.position = s.duration - 1
	}
	s.lastActivity = s.clock.Now()
}

// SetBuffering records whether the player is stalled.
func (s *Session) SetBuffering(buffering bool) {
	if buffering {
		s.buffer.Start()
	} else {
		s.buffer.Stop()
	}
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// SelectQuality switches to a variant after preloading it. On preload
// failure the session stays in its prior state and ErrVariantUnavailable is
// returned. If a load, step-down or later switch takes over while the
// preload runs, the result is dropped and ErrSwitchSuperseded is returned.
// AutoVariant returns to the master playlist.
func (s *Session) SelectQuality(ctx context.Context, variantID string) error {
	s.mu.Lock()

	if variantID == "" || variantID == AutoVariant {
		defer s.mu.Unlock()
		switch s.state {
		case StateReady, StatePlaying, StatePaused:
			s.active = nil
			s.notice = ""
			s.lastActivity = s.clock.Now()
			return nil
		}
		return invalidTransition(s.state, EvSwitchQuality)
	}

	idx := slices.IndexFunc(s.analysis.Variants, func(v types.QualityVariant) bool { return v.ID == variantID })
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: unknown variant %q", ErrVariantUnavailable, variantID)
	}
	variant := s.analysis.Variants[idx]

	if err := s.apply(EvSwitchQuality); err != nil {
		s.mu.Unlock()
		return err
	}
	gen, seq := s.generation, s.switchSeq
	hdrs := s.source.Headers
	s.mu.Unlock()

	err := s.preload(ctx, variant, hdrs)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The source changed or another switch took over; this result is stale.
	if gen != s.generation || seq != s.switchSeq || s.state != StateQualitySwitching {
		return fmt.Errorf("%w: %s", ErrSwitchSuperseded, variant.Label)
	}
	s.tried[variant.ID] = true
	if err != nil {
		s.log.Debug("variant preload failed", "variant", variant.ID, "error", err)
		s.notice = variant.Label + " is unavailable"
		_ = s.apply(EvSwitchDone)
		return fmt.Errorf("%w: %s", ErrVariantUnavailable, variant.Label)
	}

	s.active = &variant
	s.notice = ""
	return s.apply(EvSwitchDone)
}

// ReportPlaybackError handles a native player error. Adaptive sources step
// down through untried variants in compatibility order, preloading each;
// the first that loads takes over and the session returns to its prior
// state. With nothing left to try the session stays Failed and
// ErrPlaybackFailed is returned.
func (s *Session) ReportPlaybackError(ctx context.Context, cause string) error {
	s.mu.Lock()
	if err := s.apply(EvPlaybackError); err != nil {
		s.mu.Unlock()
		return err
	}
	s.buffer.Stop()
	if s.active != nil {
		s.tried[s.active.ID] = true
	}
	gen := s.generation
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return nil
		}

		variant, ok := s.nextUntried()
		if !ok {
			if s.state == StateQualitySwitching {
				_ = s.apply(EvPlaybackError)
			}
			s.err = fmt.Errorf("%w: %s", ErrPlaybackFailed, cause)
			err := s.err
			s.mu.Unlock()
			s.log.Info("playback failed with no variants left", "cause", cause)
			return err
		}
		s.tried[variant.ID] = true
		if s.state == StateFailed {
			if err := s.apply(EvStepDown); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		seq := s.switchSeq
		hdrs := s.source.Headers
		s.mu.Unlock()

		err := s.preload(ctx, variant, hdrs)

		s.mu.Lock()
		if gen != s.generation || seq != s.switchSeq || s.state != StateQualitySwitching {
			s.mu.Unlock()
			return nil
		}
		if err == nil {
			s.active = &variant
			s.notice = "switched to " + variant.Label
			applyErr := s.apply(EvSwitchDone)
			s.mu.Unlock()
			s.log.Info("stepped down after playback error", "variant", variant.ID, "cause", cause)
			return applyErr
		}
		s.log.Debug("step-down variant failed", "variant", variant.ID, "error", err)
		s.mu.Unlock()
	}
}

// nextUntried returns the most compatible variant not yet tried. Callers hold mu.
func (s *Session) nextUntried() (types.QualityVariant, bool) {
	for _, v := range s.ranked {
		if !s.tried[v.ID] {
			return v, true
		}
	}
	return types.QualityVariant{}, false
}

func (s *Session) preload(ctx context.Context, v types.QualityVariant, hdrs map[string]string) error {
	if s.manifests == nil {
		return fmt.Errorf("no manifest loader")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.PreloadTimeout)
	defer cancel()
	return s.manifests.Preload(ctx, v, hdrs)
}

// SelectAudio picks an audio track. An empty id restores the default.
func (s *Session) SelectAudio(trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trackID == "" {
		s.audioID = ""
		for _, t := range s.analysis.AudioTracks {
			if t.IsDefault {
				s.audioID = t.ID
			}
		}
		return nil
	}
	if !slices.ContainsFunc(s.analysis.AudioTracks, func(t types.AudioTrackOption) bool { return t.ID == trackID }) {
		return fmt.Errorf("%w: audio %q", ErrUnknownTrack, trackID)
	}
	s.audioID = trackID
	s.lastActivity = s.clock.Now()
	return nil
}

// SelectCaption picks a caption track. An empty id turns captions off.
func (s *Session) SelectCaption(trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trackID != "" {
		if s.source == nil {
			return fmt.Errorf("%w: caption %q", ErrUnknownTrack, trackID)
		}
		if _, ok := captions.FindByID(s.source.Captions, trackID); !ok {
			return fmt.Errorf("%w: caption %q", ErrUnknownTrack, trackID)
		}
	}
	s.captionID = trackID
	s.lastActivity = s.clock.Now()
	return nil
}

// Close stops timers and discards in-flight work.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.buffer.Stop()
}

// Snapshot returns a copy of the visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:             s.id,
		State:          s.state,
		Media:          s.media,
		Source:         s.source,
		Variants:       slices.Clone(s.analysis.Variants),
		AudioTracks:    slices.Clone(s.analysis.AudioTracks),
		AudioTrackID:   s.audioID,
		CaptionTrackID: s.captionID,
		PositionMillis: s.position,
		DurationMillis: s.duration,
		Buffering:      s.buffer.Visible(),
		Notice:         s.notice,
		Generation:     s.generation,
	}
	if s.source != nil {
		snap.ActiveURI = s.source.URI
	}
	if s.active != nil {
		snap.ActiveURI = s.active.URI
		snap.ActiveVariantID = s.active.ID
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
