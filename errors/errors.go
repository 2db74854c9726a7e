package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrAuthentication   = fmt.Errorf("authentication error")
	ErrNotSubscribed    = fmt.Errorf("connection is not subscribed to this room")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrSlowConsumer     = fmt.Errorf("connection outbound queue is full")
	ErrInvalidPayload   = fmt.Errorf("invalid payload")
	ErrChatNotFound     = fmt.Errorf("chat not found")
	ErrNotChatMember    = fmt.Errorf("user is not a member of this chat")
	ErrInvalidConfig    = fmt.Errorf("invalid configuration")
)

// DeliveryFailure is a transport-level send failure for a single connection.
// It is recovered locally and never propagated to the sender.
type DeliveryFailure struct {
	ConnectionID string
	UserID       string
	Cause        error
}

func (d *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to connection %s (user %s) failed: %v", d.ConnectionID, d.UserID, d.Cause)
}

func (d *DeliveryFailure) Unwrap() error { return d.Cause }
