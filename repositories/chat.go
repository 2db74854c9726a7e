package repositories

import (
	"chat-presence/domain"
	"chat-presence/errors"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dgraph-io/badger/v4"
)

// ChatRepository persists chats, their members and their messages in BadgerDB.
type ChatRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages int
}

func NewChatRepository(db *badger.DB, log *slog.Logger, limitMessages int) *ChatRepository {
	return &ChatRepository{db: db, log: log, limitMessages: limitMessages}
}

type diskChat struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	IsGroup bool     `json:"isGroup"`
	Members []string `json:"members"`
}

func chatKey(id domain.RoomID) []byte {
	return []byte("chat:" + url.QueryEscape(string(id)))
}

// SaveChat creates or replaces a chat and its member list.
func (r *ChatRepository) SaveChat(_ context.Context, chat domain.Chat) error {
	if chat.ID.IsZero() {
		return fmt.Errorf("%w: empty chat id", errors.ErrInvalidPayload)
	}
	members := make([]string, 0, len(chat.Members))
	for _, m := range chat.Members {
		members = append(members, string(m))
	}
	data, err := json.Marshal(diskChat{ID: string(chat.ID), Name: chat.Name, IsGroup: chat.IsGroup, Members: members})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chatKey(chat.ID), data)
	})
}

func (r *ChatRepository) GetChat(_ context.Context, roomID domain.RoomID) (domain.Chat, error) {
	var dc diskChat
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chatKey(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dc)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Chat{}, fmt.Errorf("%w: %s", errors.ErrChatNotFound, roomID)
	}
	if err != nil {
		return domain.Chat{}, err
	}
	return toChat(dc), nil
}

// ChatMembersOf returns the members of a chat, or an ErrChatNotFound.
func (r *ChatRepository) ChatMembersOf(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	chat, err := r.GetChat(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return chat.Members, nil
}

func toChat(dc diskChat) domain.Chat {
	members := make([]domain.UserID, 0, len(dc.Members))
	for _, m := range dc.Members {
		members = append(members, domain.UserID(m))
	}
	return domain.Chat{
		ID:      domain.RoomID(dc.ID),
		Name:    dc.Name,
		IsGroup: dc.IsGroup,
		Members: members,
	}
}
