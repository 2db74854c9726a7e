package sink

import (
	"chat-presence/domain/event"
	"chat-presence/errors"
	"context"
	"sync"
)

// ConnectionSink buffers the outbound events of one connection until its
// transport writer picks them up. It never blocks the producer.
type ConnectionSink struct {
	mu     sync.RWMutex
	events chan event.DomainEvent
	done   chan struct{}
	closed bool
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	return &ConnectionSink{
		events: make(chan event.DomainEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume enqueues the event. A full buffer means the client stopped reading:
// the event is refused with ErrSlowConsumer and the caller decides what to do with the connection.
func (s *ConnectionSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrConnectionClosed
	}
	select {
	case s.events <- e:
		return nil
	default:
		return errors.ErrSlowConsumer
	}
}

// Events is drained by the transport writer.
func (s *ConnectionSink) Events() <-chan event.DomainEvent {
	return s.events
}

// Done is closed once the sink is closed.
func (s *ConnectionSink) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent. Events already buffered stay readable.
func (s *ConnectionSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *ConnectionSink) Len() int {
	return len(s.events)
}
