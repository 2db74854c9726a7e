package runtime

import (
	"chat-presence/domain"
	"chat-presence/errors"
	"sync"

	"github.com/samber/lo"
)

// RoomSnapshot is a consistent view of one room taken under a single lock.
type RoomSnapshot struct {
	Subscribers map[domain.UserID][]domain.ConnectionID
	Active      map[domain.UserID]bool
}

// Membership indexes which connections are subscribed to which rooms and
// which room each connection is actively viewing.
// A connection is active in at most one room and is always joined to it.
type Membership struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[domain.UserID]map[domain.ConnectionID]struct{}
	joined map[domain.ConnectionID]map[domain.RoomID]struct{}
	active map[domain.ConnectionID]domain.RoomID
	owner  map[domain.ConnectionID]domain.UserID
}

func NewMembership() *Membership {
	return &Membership{
		rooms:  make(map[domain.RoomID]map[domain.UserID]map[domain.ConnectionID]struct{}),
		joined: make(map[domain.ConnectionID]map[domain.RoomID]struct{}),
		active: make(map[domain.ConnectionID]domain.RoomID),
		owner:  make(map[domain.ConnectionID]domain.UserID),
	}
}

// Join subscribes the connection to the room. Joining twice is a no-op.
// It reports whether the user was not a subscriber before.
func (m *Membership) Join(conn *Connection, room domain.RoomID) (bool, error) {
	if room.IsZero() {
		return false, errors.ErrInvalidPayload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinLocked(conn, room)
}

func (m *Membership) joinLocked(conn *Connection, room domain.RoomID) (bool, error) {
	// Checked under the lock so a teardown racing with a join leaves nothing behind.
	if conn.Closed() {
		return false, errors.ErrConnectionClosed
	}
	users, ok := m.rooms[room]
	if !ok {
		users = make(map[domain.UserID]map[domain.ConnectionID]struct{})
		m.rooms[room] = users
	}
	conns, ok := users[conn.UserID]
	newUser := !ok
	if !ok {
		conns = make(map[domain.ConnectionID]struct{})
		users[conn.UserID] = conns
	}
	conns[conn.ID] = struct{}{}

	rooms, ok := m.joined[conn.ID]
	if !ok {
		rooms = make(map[domain.RoomID]struct{})
		m.joined[conn.ID] = rooms
	}
	rooms[room] = struct{}{}
	m.owner[conn.ID] = conn.UserID
	return newUser, nil
}

// Leave unsubscribes the connection from the room. It reports whether the user
// has no remaining connection in that room.
func (m *Membership) Leave(conn *Connection, room domain.RoomID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.joined[conn.ID][room]; !ok {
		return false, errors.ErrNotSubscribed
	}
	return m.leaveLocked(conn.ID, conn.UserID, room), nil
}

func (m *Membership) leaveLocked(id domain.ConnectionID, userID domain.UserID, room domain.RoomID) bool {
	if rooms, ok := m.joined[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(m.joined, id)
			delete(m.owner, id)
		}
	}
	if active, ok := m.active[id]; ok && active == room {
		delete(m.active, id)
	}
	users, ok := m.rooms[room]
	if !ok {
		return true
	}
	conns := users[userID]
	delete(conns, id)
	if len(conns) > 0 {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.rooms, room)
	}
	return true
}

// LeaveAll removes the connection from every room it joined and returns
// the rooms where its user has no connection left.
func (m *Membership) LeaveAll(conn *Connection) []domain.RoomID {
	return m.Purge(conn.ID)
}

// Purge drops every trace of a connection id. It is also used to heal the index
// when a fan-out finds a subscriber the registry no longer knows.
func (m *Membership) Purge(id domain.ConnectionID) []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.owner[id]
	if !ok {
		delete(m.active, id)
		return nil
	}
	var gone []domain.RoomID
	for room := range m.joined[id] {
		if m.leaveLocked(id, userID, room) {
			gone = append(gone, room)
		}
	}
	delete(m.active, id)
	delete(m.joined, id)
	delete(m.owner, id)
	return gone
}

// SubscribersOf returns the users with at least one connection joined to the room.
func (m *Membership) SubscribersOf(room domain.RoomID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.rooms[room])
}

func (m *Membership) IsJoined(conn *Connection, room domain.RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.joined[conn.ID][room]
	return ok
}

// RoomsOf lists the rooms a connection is joined to.
func (m *Membership) RoomsOf(conn *Connection) []domain.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.joined[conn.ID])
}

// SetActive marks the room as the one the connection is looking at.
// The connection joins the room if it had not already. Any previous active room is replaced.
func (m *Membership) SetActive(conn *Connection, room domain.RoomID) error {
	if room.IsZero() {
		return errors.ErrInvalidPayload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.joinLocked(conn, room); err != nil {
		return err
	}
	m.active[conn.ID] = room
	return nil
}

func (m *Membership) ClearActive(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, conn.ID)
}

// ActiveRoom returns the room the connection is viewing, if any.
func (m *Membership) ActiveRoom(conn *Connection) (domain.RoomID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.active[conn.ID]
	return room, ok
}

// ActiveViewers returns the users with at least one connection viewing the room.
func (m *Membership) ActiveViewers(room domain.RoomID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.activeLocked(room))
}

func (m *Membership) activeLocked(room domain.RoomID) map[domain.UserID]bool {
	res := make(map[domain.UserID]bool)
	for id, r := range m.active {
		if r == room {
			res[m.owner[id]] = true
		}
	}
	return res
}

// Snapshot copies subscribers and active viewers of a room in one critical section,
// so a fan-out never sees a half-applied join or leave.
func (m *Membership) Snapshot(room domain.RoomID) RoomSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := make(map[domain.UserID][]domain.ConnectionID, len(m.rooms[room]))
	for userID, conns := range m.rooms[room] {
		subs[userID] = lo.Keys(conns)
	}
	return RoomSnapshot{Subscribers: subs, Active: m.activeLocked(room)}
}
