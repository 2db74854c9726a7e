package runtime

import (
	"chat-presence/domain/event"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTyping() (*Typing, *recordingBroadcaster, *fakeClock) {
	broadcaster := &recordingBroadcaster{}
	clock := newFakeClock()
	typing := NewTyping(testLogger(), broadcaster, 3*time.Second)
	typing.now = clock.Now
	return typing, broadcaster, clock
}

func TestTyping_Start_Twice_Broadcasts_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	typing, broadcaster, _ := newTestTyping()

	// When the user starts typing twice in a row
	req.True(typing.Start(ctx, "r1", "alice", "Alice"))
	req.False(typing.Start(ctx, "r1", "alice", "Alice"))

	// Then a single user_typing went out, excluding the typer
	calls := broadcaster.named(event.UserTypingName)
	req.Len(calls, 1)
	req.Equal(recordedBroadcast{
		room:    "r1",
		evt:     event.UserTyping{UserID: "alice", UserName: "Alice", ChatID: "r1"},
		exclude: "alice",
	}, calls[0])
}

func TestTyping_Stop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	typing, broadcaster, _ := newTestTyping()

	// Given an idle user, stop is a no-op
	req.False(typing.Stop(ctx, "r1", "alice"))
	req.Empty(broadcaster.named(event.UserStoppedTypingName))

	// When a typing user stops
	typing.Start(ctx, "r1", "alice", "Alice")
	req.True(typing.Stop(ctx, "r1", "alice"))

	// Then one stop is broadcast and the state is idle again
	req.Len(broadcaster.named(event.UserStoppedTypingName), 1)
	req.False(typing.IsTyping("r1", "alice"))

	// And a new burst broadcasts again
	req.True(typing.Start(ctx, "r1", "alice", "Alice"))
	req.Len(broadcaster.named(event.UserTypingName), 2)
}

func TestTyping_Sweep_Clears_Expired_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	typing, broadcaster, clock := newTestTyping()
	typing.Start(ctx, "r1", "alice", "Alice")
	typing.Start(ctx, "r1", "bob", "Bob")

	// When a sweep runs before the window elapsed
	req.Zero(typing.Sweep(ctx, clock.Now().Add(time.Second)))
	req.Empty(broadcaster.named(event.UserStoppedTypingName))

	// When bob refreshes and a sweep runs at alice's expiry
	clock.Advance(2 * time.Second)
	typing.Start(ctx, "r1", "bob", "Bob")
	req.Equal(1, typing.Sweep(ctx, clock.Now().Add(time.Second)))

	// Then only alice got a stop, exactly once
	stops := broadcaster.named(event.UserStoppedTypingName)
	req.Len(stops, 1)
	req.Equal(event.UserStoppedTyping{UserID: "alice", UserName: "Alice", ChatID: "r1"}, stops[0].evt)
	req.Zero(typing.Sweep(ctx, clock.Now().Add(time.Second)))
	req.True(typing.IsTyping("r1", "bob"))

	// And bob expires on a later sweep
	req.Equal(1, typing.Sweep(ctx, clock.Now().Add(3*time.Second)))
	req.Zero(typing.Len())
	req.Len(broadcaster.named(event.UserStoppedTypingName), 2)
}

func TestTyping_Rooms_Are_Independent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	typing, broadcaster, _ := newTestTyping()

	req.True(typing.Start(ctx, "r1", "alice", "Alice"))
	req.True(typing.Start(ctx, "r2", "alice", "Alice"))
	req.True(typing.Stop(ctx, "r1", "alice"))

	req.Len(broadcaster.named(event.UserTypingName), 2)
	req.True(typing.IsTyping("r2", "alice"))
}
