package watchparty

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"media-resolver-go/pkg/types"
)

// MemoryDocument is a process-local Document.
type MemoryDocument struct {
	mu      sync.Mutex
	parties map[string]*memoryParty
}

type memoryParty struct {
	snap   Snapshot
	nextID int
	subs   map[int]chan Snapshot
}

var _ Document = (*MemoryDocument)(nil)

// NewMemoryDocument creates an empty MemoryDocument.
func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{parties: make(map[string]*memoryParty)}
}

// Create allocates a closed party.
func (d *MemoryDocument) Create(_ context.Context) (string, error) {
	id := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parties[id] = &memoryParty{
		snap: Snapshot{Closed: true},
		subs: make(map[int]chan Snapshot),
	}
	return id, nil
}

func (d *MemoryDocument) party(id string) (*memoryParty, error) {
	p, ok := d.parties[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartyNotFound, id)
	}
	return p, nil
}

// Get returns the current snapshot.
func (d *MemoryDocument) Get(_ context.Context, partyID string) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.party(partyID)
	if err != nil {
		return Snapshot{}, err
	}
	return p.snap.clone(), nil
}

// Publish replaces the clock and notifies subscribers.
func (d *MemoryDocument) Publish(_ context.Context, partyID string, state types.PlaybackClockState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.party(partyID)
	if err != nil {
		return err
	}
	p.snap.State = &state
	p.broadcast()
	return nil
}

// SetClosed updates the closed flag and notifies subscribers.
func (d *MemoryDocument) SetClosed(_ context.Context, partyID string, closed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.party(partyID)
	if err != nil {
		return err
	}
	if p.snap.Closed == closed {
		return nil
	}
	p.snap.Closed = closed
	p.broadcast()
	return nil
}

// Subscribe streams snapshots. A slow subscriber only sees the latest one.
func (d *MemoryDocument) Subscribe(_ context.Context, partyID string) (<-chan Snapshot, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.party(partyID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Snapshot, 1)
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	ch <- p.snap.clone()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Delete drops a party. Subscribers see it closed.
func (d *MemoryDocument) Delete(partyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.parties[partyID]
	if !ok {
		return
	}
	delete(d.parties, partyID)
	p.snap.Closed = true
	p.broadcast()
}

// Len returns the number of parties.
func (d *MemoryDocument) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.parties)
}

// broadcast delivers the snapshot, replacing any undelivered one. Callers hold mu.
func (p *memoryParty) broadcast() {
	snap := p.snap.clone()
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s Snapshot) clone() Snapshot {
	if s.State != nil {
		st := *s.State
		s.State = &st
	}
	return s
}
