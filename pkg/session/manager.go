package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/prefetch"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/watchparty"
)

// Event types accepted by Manager.Dispatch.
const (
	EventPlay      = "play"
	EventPause     = "pause"
	EventPosition  = "position"
	EventSeek      = "seek"
	EventBuffering = "buffering"
	EventError     = "error"
	EventEnded     = "ended"
	EventQuality   = "quality"
	EventAudio     = "audio"
	EventCaption   = "caption"
	EventEpisode   = "episode"
	EventRetry     = "retry"
)

// ErrUnknownEvent is returned for an unrecognized event type.
var ErrUnknownEvent = errors.New("unknown session event")

const notifyTimeout = 10 * time.Second

// Event is one player report or viewer action.
type Event struct {
	Type           string                `json:"type"`
	PositionMillis int64                 `json:"position,omitempty"`
	DurationMillis int64                 `json:"duration,omitempty"`
	Buffering      bool                  `json:"buffering,omitempty"`
	Cause          string                `json:"cause,omitempty"`
	VariantID      string                `json:"variant_id,omitempty"`
	TrackID        string                `json:"track_id,omitempty"`
	Media          *types.MediaReference `json:"media,omitempty"`
}

// Prefetcher warms segments of the active rendition.
type Prefetcher interface {
	Prefetch(ctx context.Context, req prefetch.Request) prefetch.Result
}

// ManagerOptions tunes a Manager.
type ManagerOptions struct {
	Session          Options
	ProgressInterval time.Duration
	PrefetchInterval time.Duration
	PrefetchSeenCap  int
	Party            watchparty.Options
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 10 * time.Second
	}
	if o.PrefetchInterval <= 0 {
		o.PrefetchInterval = 30 * time.Second
	}
	return o
}

// managed wraps a session with the background work the manager owns for it.
type managed struct {
	*Session

	mu           sync.Mutex
	showAds      bool
	lastNotified int64
	prefetchURI  string
	stopPrefetch context.CancelFunc
	party        *partyLink
}

// Manager owns sessions by id and runs their progress and prefetch tasks.
type Manager struct {
	deps       Deps
	prefetcher Prefetcher
	notifier   interfaces.ProgressNotifier
	plans      interfaces.PlanTierLookup
	opts       ManagerOptions
	base       *logging.Logger
	log        *logging.Logger

	mu       sync.Mutex
	sessions map[string]*managed
	wg       sync.WaitGroup
}

// NewManager creates a Manager. prefetcher, notifier and plans may be nil.
func NewManager(deps Deps, prefetcher Prefetcher, notifier interfaces.ProgressNotifier, plans interfaces.PlanTierLookup, opts ManagerOptions, log *logging.Logger) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		deps:       deps,
		prefetcher: prefetcher,
		notifier:   notifier,
		plans:      plans,
		opts:       opts.withDefaults(),
		base:       log,
		log:        log.WithComponent("session-manager"),
		sessions:   make(map[string]*managed),
	}
}

// Create starts a session and loads media into it. The session is kept
// even when loading fails so the viewer can retry.
func (m *Manager) Create(ctx context.Context, media types.MediaReference) (Snapshot, error) {
	if err := media.Validate(); err != nil {
		return Snapshot{}, err
	}

	id := uuid.NewString()
	ms := &managed{
		Session: New(id, m.deps, m.opts.Session, m.base),
		showAds: true,
	}
	if m.plans != nil {
		ms.showAds = m.plans.PlanTier(ctx).ShowsAds()
	}

	m.mu.Lock()
	m.sessions[id] = ms
	metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	m.log.Info("session created", "session_id", id, "media_key", media.Key())

	err := ms.Load(ctx, media)
	m.syncPrefetch(ms)
	return m.snapshot(ms), err
}

// Get returns a session snapshot by id.
func (m *Manager) Get(id string) (Snapshot, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(ms), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id string) (*managed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ms, nil
}

// Dispatch applies an event to a session and returns its new snapshot.
func (m *Manager) Dispatch(ctx context.Context, id string, ev Event) (Snapshot, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	switch ev.Type {
	case EventPlay:
		err = ms.Play()
	case EventPause:
		if err = ms.Pause(); err == nil {
			m.notify(ms, false)
		}
	case EventPosition:
		ms.UpdatePosition(ev.PositionMillis, ev.DurationMillis)
		m.maybeNotify(ms)
	case EventSeek:
		ms.Seek(ev.PositionMillis)
	case EventBuffering:
		ms.SetBuffering(ev.Buffering)
	case EventError:
		err = ms.ReportPlaybackError(ctx, ev.Cause)
	case EventEnded:
		if err = ms.End(); err == nil {
			m.notify(ms, true)
		}
	case EventQuality:
		err = ms.SelectQuality(ctx, ev.VariantID)
	case EventAudio:
		err = ms.SelectAudio(ev.TrackID)
	case EventCaption:
		err = ms.SelectCaption(ev.TrackID)
	case EventEpisode:
		if ev.Media == nil {
			return m.snapshot(ms), fmt.Errorf("episode event requires media")
		}
		err = m.reload(ctx, ms, *ev.Media)
	case EventRetry:
		err = m.reload(ctx, ms, ms.Snapshot().Media)
	default:
		return m.snapshot(ms), fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	if err == nil {
		m.syncParty(ctx, ms, ev)
	}
	m.syncPrefetch(ms)
	return m.snapshot(ms), err
}

// reload tears down per-source tasks and loads media.
func (m *Manager) reload(ctx context.Context, ms *managed, media types.MediaReference) error {
	m.stopPrefetchLocked(ms)
	ms.mu.Lock()
	ms.lastNotified = 0
	ms.mu.Unlock()
	return ms.Load(ctx, media)
}

func (m *Manager) snapshot(ms *managed) Snapshot {
	snap := ms.Snapshot()
	snap.Party = m.partyStatus(ms)
	ms.mu.Lock()
	snap.ShowAds = ms.showAds
	ms.mu.Unlock()
	return snap
}

// maybeNotify reports progress once the position moved a full interval
// away from the last report.
func (m *Manager) maybeNotify(ms *managed) {
	snap := ms.Snapshot()
	ms.mu.Lock()
	delta := snap.PositionMillis - ms.lastNotified
	ms.mu.Unlock()
	if delta < 0 {
		delta = -delta
	}
	if delta >= m.opts.ProgressInterval.Milliseconds() {
		m.notify(ms, false)
	}
}

func (m *Manager) notify(ms *managed, ended bool) {
	if m.notifier == nil {
		return
	}
	snap := ms.Snapshot()
	if snap.Media.TMDBID == "" {
		return
	}

	ms.mu.Lock()
	ms.lastNotified = snap.PositionMillis
	ms.mu.Unlock()

	update := types.ProgressUpdate{
		Key:            snap.Media.Key(),
		PositionMillis: snap.PositionMillis,
		DurationMillis: snap.DurationMillis,
		Ended:          ended,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.log.Warn("progress notifier panicked", "session_id", snap.ID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		m.notifier.NotifyProgress(ctx, update)
	}()
}

// syncPrefetch keeps one refresh task running against the active
// rendition of a playable adaptive source, restarting it when the
// rendition changes.
func (m *Manager) syncPrefetch(ms *managed) {
	if m.prefetcher == nil {
		return
	}

	snap := ms.Snapshot()
	want := ""
	if snap.Source.IsAdaptive() && snap.State.playable() {
		want = snap.ActiveURI
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if want == ms.prefetchURI {
		return
	}
	if ms.stopPrefetch != nil {
		ms.stopPrefetch()
		ms.stopPrefetch = nil
	}
	ms.prefetchURI = want
	if want == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ms.stopPrefetch = cancel
	hdrs := snap.Source.Headers

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.prefetchLoop(ctx, ms, want, hdrs)
	}()
}

func (m *Manager) prefetchLoop(ctx context.Context, ms *managed, uri string, hdrs map[string]string) {
	seen := prefetch.NewSeenSet(m.opts.PrefetchSeenCap)
	ticker := ms.clock.NewTicker(m.opts.PrefetchInterval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		pos := time.Duration(ms.Snapshot().PositionMillis) * time.Millisecond
		res := m.prefetcher.Prefetch(ctx, prefetch.Request{
			ManifestURI: uri,
			Headers:     hdrs,
			Position:    pos,
			Seen:        seen,
		})
		m.log.Debug("prefetch pass", "session_id", ms.ID(), "planned", res.Planned, "fetched", res.Fetched, "failed", res.Failed)

		select {
		case <-ctx.Done():
		case <-ticker.Chan():
		}
	}
}

func (m *Manager) stopPrefetchLocked(ms *managed) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.stopPrefetch != nil {
		ms.stopPrefetch()
		ms.stopPrefetch = nil
	}
	ms.prefetchURI = ""
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if ok {
		m.leaveParty(ms)
		m.stopPrefetchLocked(ms)
		ms.Close()
	}
	return ok
}

// SweepIdle removes sessions without activity for maxIdle and returns how
// many were removed.
func (m *Manager) SweepIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	now := m.deps.Clock.Now()

	m.mu.Lock()
	var stale []string
	for id, ms := range m.sessions {
		if now.Sub(ms.LastActivity()) > maxIdle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Remove(id)
	}
	if len(stale) > 0 {
		m.log.Info("swept idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Close removes every session and waits for background tasks.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Remove(id)
	}
	m.wg.Wait()
	return nil
}
