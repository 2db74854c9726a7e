package runtime

import (
	"chat-presence/domain"
	"context"
	"maps"
	"sync"

	"github.com/samber/lo"
)

// MemoryUnreadStore is the process-local unread counter store.
// Counters live as long as the process does.
type MemoryUnreadStore struct {
	mu     sync.Mutex
	counts map[domain.UserID]map[domain.RoomID]int
}

func NewMemoryUnreadStore() *MemoryUnreadStore {
	return &MemoryUnreadStore{counts: make(map[domain.UserID]map[domain.RoomID]int)}
}

func (s *MemoryUnreadStore) Increment(_ context.Context, userID domain.UserID, roomID domain.RoomID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, ok := s.counts[userID]
	if !ok {
		rooms = make(map[domain.RoomID]int)
		s.counts[userID] = rooms
	}
	rooms[roomID]++
	return rooms[roomID], nil
}

// MarkRead resets the counter to zero. Unknown keys are fine.
func (s *MemoryUnreadStore) MarkRead(_ context.Context, userID domain.UserID, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, ok := s.counts[userID]
	if !ok {
		return nil
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(s.counts, userID)
	}
	return nil
}

func (s *MemoryUnreadStore) Get(_ context.Context, userID domain.UserID, roomID domain.RoomID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID][roomID], nil
}

func (s *MemoryUnreadStore) TotalFor(_ context.Context, userID domain.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Sum(lo.Values(s.counts[userID])), nil
}

func (s *MemoryUnreadStore) All(_ context.Context, userID domain.UserID) (map[domain.RoomID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[domain.RoomID]int, len(s.counts[userID]))
	maps.Copy(res, s.counts[userID])
	return res, nil
}

func (s *MemoryUnreadStore) Clear(_ context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, userID)
	return nil
}
