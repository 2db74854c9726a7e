package services

import (
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"chat-presence/runtime"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
)

// ChatService is the entry point of client actions. It checks chat membership
// against the persistence collaborator before touching the hub.
type ChatService struct {
	log    *slog.Logger
	hub    *runtime.Hub
	chats  contract.ChatRepository
	unread contract.UnreadStore
}

func NewChatService(log *slog.Logger, hub *runtime.Hub, chats contract.ChatRepository, unread contract.UnreadStore) *ChatService {
	return &ChatService{log: log, hub: hub, chats: chats, unread: unread}
}

// PostMessage persists the message, then fans it out to the room.
func (s *ChatService) PostMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	cmd, err := ValidatePostMessage(cmd)
	if err != nil {
		return domain.Message{}, err
	}
	if _, err := s.requireMember(ctx, cmd.RoomID, cmd.SenderID); err != nil {
		return domain.Message{}, err
	}
	message, err := s.chats.CreateMessage(ctx, domain.NewMessage{
		RoomID:     cmd.RoomID,
		SenderID:   cmd.SenderID,
		SenderName: cmd.SenderName,
		Content:    cmd.Content,
		CreatedAt:  cmd.CreatedAt,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	res := s.hub.Dispatch(ctx, cmd.RoomID, event.MessageReceived{Message: message, ChatID: cmd.RoomID}, cmd.SenderID)
	s.log.Debug("Message dispatched",
		"room", cmd.RoomID, "delivered", res.Delivered, "failed", res.Failed, "unread", len(res.Unread))
	return message, nil
}

func (s *ChatService) GetMessages(ctx context.Context, cmd domain.GetMessagesCommand) ([]domain.Message, *string, error) {
	if _, err := s.requireMember(ctx, cmd.RoomID, cmd.RequesterID); err != nil {
		return nil, nil, err
	}
	return s.chats.GetMessages(ctx, cmd.RoomID, cmd.Cursor, cmd.Limit)
}

// SaveChat creates or updates a chat. The requester must be part of the member list,
// and of the existing one when the chat already exists.
func (s *ChatService) SaveChat(ctx context.Context, cmd domain.SaveChatCommand) error {
	if cmd.Chat.ID.IsZero() || len(cmd.Chat.Members) == 0 {
		return fmt.Errorf("%w: chat needs an id and members", errors.ErrInvalidPayload)
	}
	if !cmd.Chat.HasMember(cmd.RequesterID) {
		return errors.ErrNotChatMember
	}
	existing, err := s.chats.GetChat(ctx, cmd.Chat.ID)
	switch {
	case err == nil && !existing.HasMember(cmd.RequesterID):
		return errors.ErrNotChatMember
	case err != nil && !stderrors.Is(err, errors.ErrChatNotFound):
		return err
	}
	return s.chats.SaveChat(ctx, cmd.Chat)
}

// JoinRoom subscribes a live connection to a chat its user belongs to.
func (s *ChatService) JoinRoom(ctx context.Context, conn *runtime.Connection, room domain.RoomID) error {
	if _, err := s.requireMember(ctx, room, conn.UserID); err != nil {
		return err
	}
	return s.hub.JoinRoom(ctx, conn, room)
}

func (s *ChatService) LeaveRoom(ctx context.Context, conn *runtime.Connection, room domain.RoomID) error {
	return s.hub.LeaveRoom(ctx, conn, room)
}

// ViewRoom marks the chat as the one on screen for this connection.
func (s *ChatService) ViewRoom(ctx context.Context, conn *runtime.Connection, room domain.RoomID) error {
	if _, err := s.requireMember(ctx, room, conn.UserID); err != nil {
		return err
	}
	return s.hub.ViewRoom(ctx, conn, room)
}

func (s *ChatService) ClearView(conn *runtime.Connection) {
	s.hub.ClearView(conn)
}

func (s *ChatService) MarkRead(ctx context.Context, userID domain.UserID, room domain.RoomID) (int, error) {
	return s.hub.MarkRead(ctx, userID, room)
}

func (s *ChatService) StartTyping(ctx context.Context, conn *runtime.Connection, room domain.RoomID) error {
	return s.hub.StartTyping(ctx, conn, room)
}

func (s *ChatService) StopTyping(ctx context.Context, conn *runtime.Connection, room domain.RoomID) error {
	return s.hub.StopTyping(ctx, conn, room)
}

// Unread returns every counter of the user and their sum.
func (s *ChatService) Unread(ctx context.Context, userID domain.UserID) (map[domain.RoomID]int, int, error) {
	all, err := s.unread.All(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	for _, n := range all {
		total += n
	}
	return all, total, nil
}

func (s *ChatService) ClearUnread(ctx context.Context, userID domain.UserID) error {
	return s.unread.Clear(ctx, userID)
}

func (s *ChatService) IsOnline(userID domain.UserID) bool {
	return s.hub.IsOnline(userID)
}

func (s *ChatService) requireMember(ctx context.Context, room domain.RoomID, userID domain.UserID) (domain.Chat, error) {
	if room.IsZero() {
		return domain.Chat{}, fmt.Errorf("%w: missing chat id", errors.ErrInvalidPayload)
	}
	chat, err := s.chats.GetChat(ctx, room)
	if err != nil {
		return domain.Chat{}, err
	}
	if !chat.HasMember(userID) {
		return domain.Chat{}, fmt.Errorf("%w: %s in %s", errors.ErrNotChatMember, userID, room)
	}
	return chat, nil
}
