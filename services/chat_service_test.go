package services

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"chat-presence/mocks"
	"chat-presence/runtime"
	"chat-presence/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type memorySink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *memorySink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) Close() {}

func (s *memorySink) received(name event.Name) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Name() == name {
			n++
		}
	}
	return n
}

var general = domain.Chat{ID: "general", Name: "General", IsGroup: true, Members: []domain.UserID{"alice", "bob"}}

func newTestService(t *testing.T) (*ChatService, *runtime.Hub, *mocks.MockChatRepository, *runtime.MemoryUnreadStore) {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	chats := mocks.NewMockChatRepository(ctrl)
	unread := runtime.NewMemoryUnreadStore()
	hub := runtime.NewHub(log, workers.NewSupervisor(log), chats, unread, runtime.HubConfig{})
	return NewChatService(log, hub, chats, unread), hub, chats, unread
}

func TestChatService_PostMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist then dispatch when sender is a member", func(t *testing.T) {
		req := require.New(t)
		svc, hub, chats, unread := newTestService(t)
		bobSink := &memorySink{}
		bob, err := hub.Connect(ctx, domain.Identity{UserID: "bob"}, bobSink)
		req.NoError(err)
		chats.EXPECT().GetChat(gomock.Any(), domain.RoomID("general")).Return(general, nil).AnyTimes()
		req.NoError(svc.JoinRoom(ctx, bob, "general"))

		stored := domain.Message{ID: uuid.New(), RoomID: "general", SenderID: "alice", Content: "hello", CreatedAt: time.Now().UTC()}
		chats.EXPECT().
			CreateMessage(gomock.Any(), domain.NewMessage{RoomID: "general", SenderID: "alice", SenderName: "Alice", Content: "hello"}).
			Return(stored, nil).
			Times(1)
		chats.EXPECT().ChatMembersOf(gomock.Any(), domain.RoomID("general")).Return(general.Members, nil).Times(1)

		message, err := svc.PostMessage(ctx, domain.PostMessageCommand{
			RoomID: "general", SenderID: "alice", SenderName: "Alice", Content: "  hello  ",
		})

		req.NoError(err)
		req.Equal(stored, message)
		req.Equal(1, bobSink.received(event.MessageReceivedName))
		n, _ := unread.Get(ctx, "bob", "general")
		req.Equal(1, n)
	})

	t.Run("should fail when content is blank or too long", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.PostMessage(ctx, domain.PostMessageCommand{RoomID: "general", SenderID: "alice", Content: "   "})
		req.ErrorIs(err, errors.ErrInvalidPayload)

		_, err = svc.PostMessage(ctx, domain.PostMessageCommand{
			RoomID: "general", SenderID: "alice", Content: strings.Repeat("é", domain.MaxContentLength+1),
		})
		req.ErrorIs(err, errors.ErrInvalidPayload)
	})

	t.Run("should accept a message of exactly the max length in runes", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().GetChat(gomock.Any(), gomock.Any()).Return(general, nil)
		chats.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(domain.Message{RoomID: "general"}, nil)
		chats.EXPECT().ChatMembersOf(gomock.Any(), gomock.Any()).Return(general.Members, nil)

		_, err := svc.PostMessage(ctx, domain.PostMessageCommand{
			RoomID: "general", SenderID: "alice", Content: strings.Repeat("é", domain.MaxContentLength),
		})

		req.NoError(err)
	})

	t.Run("should fail when sender is not a member", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().GetChat(gomock.Any(), gomock.Any()).Return(general, nil)
		chats.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.PostMessage(ctx, domain.PostMessageCommand{RoomID: "general", SenderID: "mallory", Content: "hi"})

		req.ErrorIs(err, errors.ErrNotChatMember)
	})

	t.Run("should fail when chat does not exist", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().GetChat(gomock.Any(), gomock.Any()).Return(domain.Chat{}, errors.ErrChatNotFound)

		_, err := svc.PostMessage(ctx, domain.PostMessageCommand{RoomID: "nope", SenderID: "alice", Content: "hi"})

		req.ErrorIs(err, errors.ErrChatNotFound)
	})

	t.Run("should not dispatch when persistence fails", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().GetChat(gomock.Any(), gomock.Any()).Return(general, nil)
		chats.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(domain.Message{}, fmt.Errorf("disk full"))
		chats.EXPECT().ChatMembersOf(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.PostMessage(ctx, domain.PostMessageCommand{RoomID: "general", SenderID: "alice", Content: "hi"})

		req.Error(err)
	})
}

func TestChatService_JoinRoom_Requires_Membership(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, hub, chats, _ := newTestService(t)
	conn, _ := hub.Connect(ctx, domain.Identity{UserID: "mallory"}, &memorySink{})
	chats.EXPECT().GetChat(gomock.Any(), gomock.Any()).Return(general, nil).Times(2)

	req.ErrorIs(svc.JoinRoom(ctx, conn, "general"), errors.ErrNotChatMember)
	req.ErrorIs(svc.ViewRoom(ctx, conn, "general"), errors.ErrNotChatMember)
	req.ErrorIs(svc.JoinRoom(ctx, conn, ""), errors.ErrInvalidPayload)
}

func TestChatService_SaveChat(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a new chat", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().GetChat(gomock.Any(), general.ID).Return(domain.Chat{}, errors.ErrChatNotFound)
		chats.EXPECT().SaveChat(gomock.Any(), general).Return(nil).Times(1)

		req.NoError(svc.SaveChat(ctx, domain.SaveChatCommand{Chat: general, RequesterID: "alice"}))
	})

	t.Run("should refuse a requester outside the chat", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		chats.EXPECT().SaveChat(gomock.Any(), gomock.Any()).Times(0)

		err := svc.SaveChat(ctx, domain.SaveChatCommand{Chat: general, RequesterID: "mallory"})

		req.ErrorIs(err, errors.ErrNotChatMember)
	})

	t.Run("should refuse to take over an existing chat", func(t *testing.T) {
		req := require.New(t)
		svc, _, chats, _ := newTestService(t)
		takeover := domain.Chat{ID: "general", Members: []domain.UserID{"mallory"}}
		chats.EXPECT().GetChat(gomock.Any(), general.ID).Return(general, nil)
		chats.EXPECT().SaveChat(gomock.Any(), gomock.Any()).Times(0)

		err := svc.SaveChat(ctx, domain.SaveChatCommand{Chat: takeover, RequesterID: "mallory"})

		req.ErrorIs(err, errors.ErrNotChatMember)
	})
}

func TestChatService_Unread(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _, _, unread := newTestService(t)
	_, _ = unread.Increment(ctx, "alice", "general")
	_, _ = unread.Increment(ctx, "alice", "general")
	_, _ = unread.Increment(ctx, "alice", "random")

	all, total, err := svc.Unread(ctx, "alice")
	req.NoError(err)
	req.Equal(3, total)
	req.Equal(map[domain.RoomID]int{"general": 2, "random": 1}, all)

	total, err = svc.MarkRead(ctx, "alice", "general")
	req.NoError(err)
	req.Equal(1, total)

	req.NoError(svc.ClearUnread(ctx, "alice"))
	_, total, err = svc.Unread(ctx, "alice")
	req.NoError(err)
	req.Zero(total)
}
