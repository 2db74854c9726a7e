//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one live connection.
// Consume must never block: a full or closed sink returns an error instead.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
	Close()
}

// Authenticator resolves an opaque identity token, once per connection handshake.
type Authenticator interface {
	VerifyIdentity(ctx context.Context, token string) (domain.Identity, error)
}

// ChatRepository is the persistence collaborator: chats, their members and messages.
type ChatRepository interface {
	ChatMembersOf(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error)
	GetChat(ctx context.Context, roomID domain.RoomID) (domain.Chat, error)
	SaveChat(ctx context.Context, chat domain.Chat) error
	CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	GetMessages(ctx context.Context, roomID domain.RoomID, cursor *string, limit int) ([]domain.Message, *string, error)
}

// UnreadStore keeps per-user unread counters per room.
// Counters are only incremented by the dispatcher and reset by read acknowledgements.
type UnreadStore interface {
	Increment(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (int, error)
	MarkRead(ctx context.Context, userID domain.UserID, roomID domain.RoomID) error
	Get(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (int, error)
	TotalFor(ctx context.Context, userID domain.UserID) (int, error)
	All(ctx context.Context, userID domain.UserID) (map[domain.RoomID]int, error)
	Clear(ctx context.Context, userID domain.UserID) error
}
