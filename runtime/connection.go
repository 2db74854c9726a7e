package runtime

import (
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection is one live transport session of a user.
// Only the Registry creates and destroys it; the sink never leaves this type.
type Connection struct {
	ID          domain.ConnectionID
	UserID      domain.UserID
	DisplayName string
	CreatedAt   time.Time
	sink        contract.EventSink
	closed      atomic.Bool
}

func newConnection(userID domain.UserID, displayName string, sink contract.EventSink, now time.Time) *Connection {
	return &Connection{
		ID:          domain.ConnectionID(uuid.NewString()),
		UserID:      userID,
		DisplayName: displayName,
		CreatedAt:   now,
		sink:        sink,
	}
}

// Closed reports whether teardown has started. A closed connection receives nothing.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// deliver hands the event to the sink. A panicking sink is turned into an error
// so one broken transport cannot take a whole fan-out down.
func (c *Connection) deliver(ctx context.Context, evt event.DomainEvent) (err error) {
	if c.Closed() {
		return errors.ErrConnectionClosed
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return c.sink.Consume(ctx, evt)
}
