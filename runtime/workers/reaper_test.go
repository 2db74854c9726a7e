package workers

import (
	"chat-presence/domain"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedIDs struct {
	mu  sync.Mutex
	ids []domain.ConnectionID
}

func (r *recordedIDs) add(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordedIDs) get() []domain.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionID(nil), r.ids...)
}

func TestConnectionReaper_Run_Unregisters_Scheduled(t *testing.T) {
	req := require.New(t)
	rec := &recordedIDs{}
	reaper := NewConnectionReaper(slog.Default(), 4, rec.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = reaper.Run(ctx) }()

	// When two connections are scheduled for cleanup
	reaper.Schedule("c1")
	reaper.Schedule("c2")

	// Then both are unregistered in order
	req.Eventually(func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)
	req.Equal([]domain.ConnectionID{"c1", "c2"}, rec.get())
}

func TestConnectionReaper_Schedule_Never_Blocks(t *testing.T) {
	req := require.New(t)
	rec := &recordedIDs{}
	// Given a reaper with a single slot and no running loop
	reaper := NewConnectionReaper(slog.Default(), 1, rec.add)
	reaper.Schedule("c1")

	// When the queue is full
	reaper.Schedule("c2")

	// Then the overflow is unregistered in the background
	req.Eventually(func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal([]domain.ConnectionID{"c2"}, rec.get())

	// And the queued one is handled once the worker drains on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.NoError(reaper.Run(ctx))
	req.ElementsMatch([]domain.ConnectionID{"c1", "c2"}, rec.get())
}
