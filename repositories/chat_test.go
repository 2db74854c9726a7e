package repositories

import (
	"chat-presence/domain"
	"chat-presence/errors"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatRepository_Save_And_Get(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewChatRepository(openTestDB(t), slog.Default(), 50)
	chat := domain.Chat{ID: "general:1", Name: "General", IsGroup: true, Members: []domain.UserID{"alice", "bob"}}

	req.NoError(repository.SaveChat(ctx, chat))

	fetched, err := repository.GetChat(ctx, "general:1")
	req.NoError(err)
	req.Equal(chat, fetched)
	members, err := repository.ChatMembersOf(ctx, "general:1")
	req.NoError(err)
	req.Equal([]domain.UserID{"alice", "bob"}, members)
}

func TestChatRepository_Unknown_Chat(t *testing.T) {
	req := require.New(t)
	repository := NewChatRepository(openTestDB(t), slog.Default(), 50)

	_, err := repository.ChatMembersOf(context.Background(), "nope")

	req.ErrorIs(err, errors.ErrChatNotFound)
}

func TestChatRepository_Save_Rejects_Empty_ID(t *testing.T) {
	req := require.New(t)
	repository := NewChatRepository(openTestDB(t), slog.Default(), 50)

	err := repository.SaveChat(context.Background(), domain.Chat{Name: "no id"})

	req.ErrorIs(err, errors.ErrInvalidPayload)
}
