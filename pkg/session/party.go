package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"media-resolver-go/pkg/watchparty"
)

var (
	// ErrPartiesDisabled is returned when the manager has no party document.
	ErrPartiesDisabled = errors.New("watch parties disabled")
	// ErrInvalidPartyRole is returned for a role other than host or guest.
	ErrInvalidPartyRole = errors.New("invalid party role")
)

// PartyStatus is a session's watch party membership. Waiting is set on a
// guest while the party has no host.
type PartyStatus struct {
	ID      string          `json:"id"`
	Role    watchparty.Role `json:"role"`
	Waiting bool            `json:"waiting,omitempty"`
}

// partyLink ties a session to one party. Exactly one of host and guest is set.
type partyLink struct {
	id      string
	role    watchparty.Role
	host    *watchparty.Host
	guest   *watchparty.Guest
	stop    func()
	waiting atomic.Bool
}

// sessionPlayer drives a session from the host clock.
type sessionPlayer struct {
	s    *Session
	link *partyLink
}

var _ watchparty.Player = sessionPlayer{}

func (p sessionPlayer) PositionMillis() int64 {
	_, pos, _ := p.s.clockState()
	return pos
}

func (p sessionPlayer) DurationMillis() int64 {
	_, _, dur := p.s.clockState()
	return dur
}

func (p sessionPlayer) Seek(positionMillis int64) {
	p.s.Seek(positionMillis)
}

func (p sessionPlayer) Play() {
	if err := p.s.Play(); err != nil {
		p.s.log.Debug("party play rejected", "party_id", p.link.id, "error", err)
	}
}

func (p sessionPlayer) Pause() {
	if err := p.s.Pause(); err != nil {
		p.s.log.Debug("party pause rejected", "party_id", p.link.id, "error", err)
	}
}

func (p sessionPlayer) SetWaiting(waiting bool) {
	p.link.waiting.Store(waiting)
}

// clockState returns whether playback is running, counting a quality
// switch entered from Playing, with the position and duration.
func (s *Session) clockState() (playing bool, positionMillis, durationMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	playing = s.state == StatePlaying || (s.state == StateQualitySwitching && s.prior == StatePlaying)
	return playing, s.position, s.duration
}

// JoinParty attaches a session to a watch party. A host publishes the
// session's clock; a guest follows the host's. Joining replaces any party
// the session was already in.
func (m *Manager) JoinParty(ctx context.Context, id, partyID string, role watchparty.Role) (Snapshot, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if m.deps.Parties == nil {
		return m.snapshot(ms), ErrPartiesDisabled
	}
	if role != watchparty.RoleHost && role != watchparty.RoleGuest {
		return m.snapshot(ms), fmt.Errorf("%w: %q", ErrInvalidPartyRole, role)
	}
	if _, err := m.deps.Parties.Get(ctx, partyID); err != nil {
		return m.snapshot(ms), err
	}
	m.leaveParty(ms)

	doc := m.deps.Parties
	log := m.base.With("session_id", ms.ID(), "party_id", partyID)
	link := &partyLink{id: partyID, role: role}

	if role == watchparty.RoleHost {
		link.host = watchparty.NewHost(watchparty.Bind(doc, partyID), ms.clock, m.opts.Party, log)
		if err := doc.SetClosed(ctx, partyID, false); err != nil {
			return m.snapshot(ms), fmt.Errorf("failed to open party: %w", err)
		}
		ms.mu.Lock()
		ms.party = link
		ms.mu.Unlock()

		playing, pos, _ := ms.clockState()
		if err := link.host.Force(ctx, playing, pos); err != nil {
			m.log.Debug("failed to publish initial party clock", "session_id", ms.ID(), "party_id", partyID, "error", err)
		}
	} else {
		link.guest = watchparty.NewGuest(sessionPlayer{s: ms.Session, link: link}, ms.clock, m.opts.Party, log)
		updates, unsubscribe, err := doc.Subscribe(context.Background(), partyID)
		if err != nil {
			return m.snapshot(ms), fmt.Errorf("failed to follow party: %w", err)
		}
		link.stop = unsubscribe
		ms.mu.Lock()
		ms.party = link
		ms.mu.Unlock()

		link.guest.SetVideoAvailable(ms.State().playable())
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			followParty(link.guest, updates)
		}()
	}

	m.log.Info("session joined party", "session_id", ms.ID(), "party_id", partyID, "role", role)
	return m.snapshot(ms), nil
}

// LeaveParty detaches a session from its party. A leaving host closes the
// party so guests wait for it.
func (m *Manager) LeaveParty(id string) (Snapshot, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	m.leaveParty(ms)
	return m.snapshot(ms), nil
}

func (m *Manager) leaveParty(ms *managed) {
	ms.mu.Lock()
	link := ms.party
	ms.party = nil
	ms.mu.Unlock()
	if link == nil {
		return
	}

	if link.stop != nil {
		link.stop()
	}
	if link.host != nil {
		if err := m.deps.Parties.SetClosed(context.Background(), link.id, true); err != nil {
			m.log.Debug("failed to close party", "party_id", link.id, "error", err)
		}
	}
	m.log.Info("session left party", "session_id", ms.ID(), "party_id", link.id, "role", link.role)
}

// syncParty forwards an applied event to the session's party. Hosts
// publish play, pause, seek and source changes at once and throttle
// routine position reports; guests learn whether a video is loaded.
func (m *Manager) syncParty(ctx context.Context, ms *managed, ev Event) {
	ms.mu.Lock()
	link := ms.party
	ms.mu.Unlock()
	if link == nil {
		return
	}

	if link.guest != nil {
		link.guest.SetVideoAvailable(ms.State().playable())
		return
	}

	playing, pos, _ := ms.clockState()
	var err error
	switch ev.Type {
	case EventPlay, EventPause, EventSeek, EventEnded, EventEpisode, EventRetry:
		err = link.host.Force(ctx, playing, pos)
	case EventPosition:
		_, err = link.host.Observe(ctx, playing, pos)
	}
	if err != nil {
		m.log.Debug("failed to publish party clock", "session_id", ms.ID(), "party_id", link.id, "error", err)
	}
}

func (m *Manager) partyStatus(ms *managed) *PartyStatus {
	ms.mu.Lock()
	link := ms.party
	ms.mu.Unlock()
	if link == nil {
		return nil
	}
	return &PartyStatus{ID: link.id, Role: link.role, Waiting: link.waiting.Load()}
}

// followParty applies shared snapshots to a guest until the subscription
// is released.
func followParty(g *watchparty.Guest, updates <-chan watchparty.Snapshot) {
	for snap := range updates {
		g.SetClosed(snap.Closed)
		if snap.State != nil {
			g.Receive(*snap.State)
		}
	}
}
