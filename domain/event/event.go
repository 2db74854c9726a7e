// Package event defines everything a live connection can receive.
// The Name of an event is the name of the frame on the wire.
package event

import (
	"chat-presence/domain"
	"time"
)

type Name string

const (
	MessageReceivedName   Name = "message_received"
	UserTypingName        Name = "user_typing"
	UserStoppedTypingName Name = "user_stopped_typing"
	UserStatusName        Name = "user_status"
	UnreadUpdatedName     Name = "unread_updated"
	PresenceSnapshotName  Name = "presence_snapshot"

	MessageDeliveredName Name = "message_delivered"
)

type DomainEvent interface {
	Name() Name
}

// MessageReceived carries a message that the persistence collaborator already stored.
type MessageReceived struct {
	Message domain.Message `json:"message"`
	ChatID  domain.RoomID  `json:"chatId"`
}

func (MessageReceived) Name() Name { return MessageReceivedName }

type UserTyping struct {
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
	ChatID   domain.RoomID `json:"chatId"`
}

func (UserTyping) Name() Name { return UserTypingName }

type UserStoppedTyping struct {
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
	ChatID   domain.RoomID `json:"chatId"`
}

func (UserStoppedTyping) Name() Name { return UserStoppedTypingName }

type UserStatus struct {
	UserID domain.UserID `json:"userId"`
	Status domain.Status `json:"status"`
}

func (UserStatus) Name() Name { return UserStatusName }

// UnreadUpdated is pushed to every connection of a user whose counter moved.
type UnreadUpdated struct {
	ChatID domain.RoomID `json:"chatId"`
	Count  int           `json:"count"`
	Total  int           `json:"total"`
}

func (UnreadUpdated) Name() Name { return UnreadUpdatedName }

// PresenceSnapshot is sent once to a freshly registered connection.
type PresenceSnapshot struct {
	Online []domain.UserID `json:"online"`
}

func (PresenceSnapshot) Name() Name { return PresenceSnapshotName }

// MessageDelivered is handed to delivery hooks after a message dispatch. It never goes on the wire.
type MessageDelivered struct {
	Message     domain.Message
	Connections int
	Failures    int
	UnreadFor   []domain.UserID
	At          time.Time
}

func (MessageDelivered) Name() Name { return MessageDeliveredName }
