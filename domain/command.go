package domain

import (
	"time"
)

type Command interface {
	Room() RoomID
}

type PostMessageCommand struct {
	RoomID     RoomID `validate:"required"`
	SenderID   UserID `validate:"required"`
	SenderName string
	Content    string `validate:"required,max=1000"`
	CreatedAt  time.Time
}

func (p PostMessageCommand) Room() RoomID {
	return p.RoomID
}

type GetMessagesCommand struct {
	RoomID      RoomID
	RequesterID UserID
	Cursor      *string
	Limit       int
}

func (p GetMessagesCommand) Room() RoomID {
	return p.RoomID
}

type SaveChatCommand struct {
	Chat        Chat
	RequesterID UserID
}

func (p SaveChatCommand) Room() RoomID {
	return p.Chat.ID
}
