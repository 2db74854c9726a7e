package runtime

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	closed bool
	err    error
	panics bool
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	if s.panics {
		panic("broken transport")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrConnectionClosed
	}
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) named(name event.Name) []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []event.DomainEvent
	for _, e := range s.events {
		if e.Name() == name {
			res = append(res, e)
		}
	}
	return res
}

type recordedBroadcast struct {
	room    domain.RoomID
	evt     event.DomainEvent
	exclude domain.UserID
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []recordedBroadcast
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, room domain.RoomID, evt event.DomainEvent, exclude domain.UserID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, recordedBroadcast{room: room, evt: evt, exclude: exclude})
	return 1
}

func (b *recordingBroadcaster) named(name event.Name) []recordedBroadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	var res []recordedBroadcast
	for _, c := range b.calls {
		if c.evt.Name() == name {
			res = append(res, c)
		}
	}
	return res
}

type statusRecorder struct {
	mu      sync.Mutex
	changes []PresenceChange
}

func (r *statusRecorder) listen(c PresenceChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *statusRecorder) get() []PresenceChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PresenceChange(nil), r.changes...)
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func newTestRegistry() (*Registry, *Membership, *Presence) {
	log := testLogger()
	rooms := NewMembership()
	presence := NewPresence(log)
	return NewRegistry(log, rooms, presence), rooms, presence
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustRegister(t *testing.T, r *Registry, userID domain.UserID) (*Connection, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	conn, err := r.Register(userID, string(userID), sink)
	if err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	return conn, sink
}
