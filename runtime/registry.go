package runtime

import (
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Registry maps a user to its live connections. A user may hold several at once
// (tabs, devices), each one registered and unregistered on its own.
type Registry struct {
	mu       sync.RWMutex
	byID     map[domain.ConnectionID]*Connection
	byUser   map[domain.UserID]map[domain.ConnectionID]*Connection
	rooms    *Membership
	presence *Presence
	log      *slog.Logger
	now      func() time.Time
	onLeft   func(conn *Connection, rooms []domain.RoomID)
}

func NewRegistry(log *slog.Logger, rooms *Membership, presence *Presence) *Registry {
	return &Registry{
		byID:     make(map[domain.ConnectionID]*Connection),
		byUser:   make(map[domain.UserID]map[domain.ConnectionID]*Connection),
		rooms:    rooms,
		presence: presence,
		log:      log,
		now:      time.Now,
	}
}

// OnRoomsLeft is called after a connection teardown with the rooms its user
// stopped being a subscriber of.
func (r *Registry) OnRoomsLeft(fn func(conn *Connection, rooms []domain.RoomID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeft = fn
}

// Register adds a connection for an already authenticated user.
// The first live connection of a user turns them online.
func (r *Registry) Register(userID domain.UserID, displayName string, sink contract.EventSink) (*Connection, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty user identity", errors.ErrAuthentication)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", errors.ErrInvalidPayload)
	}
	conn := newConnection(userID, displayName, sink, r.now().UTC())

	r.mu.Lock()
	r.byID[conn.ID] = conn
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[domain.ConnectionID]*Connection)
		r.byUser[userID] = conns
	}
	conns[conn.ID] = conn
	// Recorded under the lock so transitions keep the registration order.
	r.presence.connectionOpened(userID)
	live := len(conns)
	r.mu.Unlock()

	r.presence.flush()
	r.log.Debug("Connection registered", "connection_id", conn.ID, "user_id", userID, "live", live)
	return conn, nil
}

// Unregister tears a connection down. Calling it twice, or for an unknown handle, is a no-op.
// The connection leaves all its rooms before it is dropped from the registry.
func (r *Registry) Unregister(id domain.ConnectionID) {
	conn, ok := r.Lookup(id)
	if !ok || !conn.closed.CompareAndSwap(false, true) {
		return
	}

	left := r.rooms.LeaveAll(conn)

	r.mu.Lock()
	delete(r.byID, id)
	if conns, ok := r.byUser[conn.UserID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	r.presence.connectionClosed(conn.UserID)
	onLeft := r.onLeft
	r.mu.Unlock()

	r.presence.flush()
	conn.sink.Close()
	r.log.Debug("Connection unregistered", "connection_id", id, "user_id", conn.UserID, "rooms_left", len(left))

	if onLeft != nil && len(left) > 0 {
		onLeft(conn, left)
	}
}

// ConnectionsFor returns the live connections of a user, possibly none.
func (r *Registry) ConnectionsFor(userID domain.UserID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return liveOnly(lo.Values(r.byUser[userID]))
}

func (r *Registry) Lookup(id domain.ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// All returns every live connection, used by global presence broadcasts.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return liveOnly(lo.Values(r.byID))
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close unregisters every connection, used on shutdown.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := lo.Keys(r.byID)
	r.mu.RUnlock()
	for _, id := range ids {
		r.Unregister(id)
	}
}

func liveOnly(conns []*Connection) []*Connection {
	return lo.Filter(conns, func(c *Connection, _ int) bool { return !c.Closed() })
}
