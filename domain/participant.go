// Package domain contains core concepts of the chat system.
// This file defines participant identities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

// UserID identifies an authenticated user across every connection they hold.
type UserID string

// ConnectionID identifies one live transport session.
type ConnectionID string

// Identity is what the authentication collaborator resolves a token into.
type Identity struct {
	UserID UserID
	Name   string
}

func (u UserID) String() string { return string(u) }

func (u UserID) IsZero() bool { return strings.TrimSpace(string(u)) == "" }

func (c ConnectionID) String() string { return string(c) }

// Status is the coarse presence of a user: online iff at least one live connection.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)
