package runtime

import (
	"chat-presence/domain"
	"log/slog"
	"slices"
	"sync"
)

// PresenceChange is emitted once per online/offline transition of a user.
type PresenceChange struct {
	UserID domain.UserID
	Status domain.Status
}

type PresenceListener func(PresenceChange)

// Presence derives online status from live connection counts. Transitions are
// recorded by the Registry under its own lock and delivered by flush, outside of it,
// in the order they happened.
type Presence struct {
	mu        sync.Mutex
	flushMu   sync.Mutex
	counts    map[domain.UserID]int
	pending   []PresenceChange
	listeners []PresenceListener
	log       *slog.Logger
}

func NewPresence(log *slog.Logger) *Presence {
	return &Presence{
		counts: make(map[domain.UserID]int),
		log:    log,
	}
}

// OnChange registers a listener for status transitions.
func (p *Presence) OnChange(l PresenceListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Presence) connectionOpened(userID domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	if p.counts[userID] == 1 {
		p.pending = append(p.pending, PresenceChange{UserID: userID, Status: domain.StatusOnline})
	}
}

func (p *Presence) connectionClosed(userID domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return
	}
	if n <= 1 {
		delete(p.counts, userID)
		p.pending = append(p.pending, PresenceChange{UserID: userID, Status: domain.StatusOffline})
		return
	}
	p.counts[userID] = n - 1
}

// flush hands pending transitions to listeners. flushMu keeps two concurrent
// flushes from reordering events for the same user.
func (p *Presence) flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, change := range pending {
		p.log.Debug("Presence changed", "user_id", change.UserID, "status", change.Status)
		for _, l := range listeners {
			l(change)
		}
	}
}

// IsOnline is true iff the user holds at least one live connection.
func (p *Presence) IsOnline(userID domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

// OnlineUsers returns the online users sorted by id.
func (p *Presence) OnlineUsers() []domain.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]domain.UserID, 0, len(p.counts))
	for userID := range p.counts {
		res = append(res, userID)
	}
	slices.Sort(res)
	return res
}
