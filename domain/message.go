// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once persisted.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxContentLength bounds a message body, counted in runes.
const MaxContentLength = 1000

// Message represents an immutable, already persisted chat message.
type Message struct {
	ID         uuid.UUID `json:"id"`
	RoomID     RoomID    `json:"chatId"`
	SenderID   UserID    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessage is what the persistence collaborator turns into a Message.
type NewMessage struct {
	RoomID     RoomID
	SenderID   UserID
	SenderName string
	Content    string
	CreatedAt  time.Time
}
