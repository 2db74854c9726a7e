package domain

import (
	"strings"

	"github.com/samber/lo"
)

// RoomID identifies a chat, direct or group. Its member list is persisted outside the core.
type RoomID string

func (r RoomID) String() string { return string(r) }

func (r RoomID) IsZero() bool { return strings.TrimSpace(string(r)) == "" }

// Chat is the persisted view of a room.
type Chat struct {
	ID      RoomID   `json:"id"`
	Name    string   `json:"name"`
	IsGroup bool     `json:"isGroup"`
	Members []UserID `json:"members"`
}

func (c Chat) HasMember(userID UserID) bool {
	return lo.Contains(c.Members, userID)
}
