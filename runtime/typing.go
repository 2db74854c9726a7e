package runtime

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultTypingWindow = 3 * time.Second

type roomBroadcaster interface {
	Broadcast(ctx context.Context, room domain.RoomID, evt event.DomainEvent, exclude domain.UserID) int
}

type typingKey struct {
	room domain.RoomID
	user domain.UserID
}

type typingEntry struct {
	displayName string
	expiresAt   time.Time
}

// Typing keeps one ephemeral entry per (room, user). Entries disappear on an explicit
// stop or when Sweep finds them past their expiry.
type Typing struct {
	mu          sync.Mutex
	entries     map[typingKey]typingEntry
	window      time.Duration
	broadcaster roomBroadcaster
	now         func() time.Time
	log         *slog.Logger
}

func NewTyping(log *slog.Logger, broadcaster roomBroadcaster, window time.Duration) *Typing {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Typing{
		entries:     make(map[typingKey]typingEntry),
		window:      window,
		broadcaster: broadcaster,
		now:         time.Now,
		log:         log,
	}
}

// Start creates or refreshes the entry. Only the idle to typing transition is
// broadcast, so it returns true once per typing burst.
// An expired entry the sweep has not reached yet is refreshed silently: its stop was never sent.
func (t *Typing) Start(ctx context.Context, room domain.RoomID, userID domain.UserID, displayName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{room: room, user: userID}
	_, typing := t.entries[key]
	t.entries[key] = typingEntry{displayName: displayName, expiresAt: t.now().Add(t.window)}
	if typing {
		return false
	}
	// Broadcast under the lock: a concurrent Stop cannot overtake this start.
	t.broadcaster.Broadcast(ctx, room, event.UserTyping{
		UserID:   userID,
		UserName: displayName,
		ChatID:   room,
	}, userID)
	return true
}

// Stop removes the entry and broadcasts the stop if there was one.
func (t *Typing) Stop(ctx context.Context, room domain.RoomID, userID domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{room: room, user: userID}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	delete(t.entries, key)
	t.broadcastStop(ctx, key, entry)
	return true
}

// Sweep clears every entry expired at now and broadcasts one stop per entry.
func (t *Typing) Sweep(ctx context.Context, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	expired := 0
	for key, entry := range t.entries {
		if now.Before(entry.expiresAt) {
			continue
		}
		delete(t.entries, key)
		t.broadcastStop(ctx, key, entry)
		expired++
	}
	if expired > 0 {
		t.log.Debug("Typing entries expired", "count", expired)
	}
	return expired
}

// IsTyping reports whether an entry exists, expired or not.
func (t *Typing) IsTyping(room domain.RoomID, userID domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{room: room, user: userID}]
	return ok
}

func (t *Typing) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Typing) broadcastStop(ctx context.Context, key typingKey, entry typingEntry) {
	t.broadcaster.Broadcast(ctx, key.room, event.UserStoppedTyping{
		UserID:   key.user,
		UserName: entry.displayName,
		ChatID:   key.room,
	}, key.user)
}
