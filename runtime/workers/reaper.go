package workers

import (
	"chat-presence/domain"
	"context"
	"log/slog"
)

// ConnectionReaper tears down connections whose sink failed. Fan-out schedules the
// cleanup and moves on; the teardown itself happens here, outside any room lock.
type ConnectionReaper struct {
	log        *slog.Logger
	queue      chan domain.ConnectionID
	unregister func(domain.ConnectionID)
}

func NewConnectionReaper(log *slog.Logger, bufferSize int, unregister func(domain.ConnectionID)) *ConnectionReaper {
	return &ConnectionReaper{
		log:        log,
		queue:      make(chan domain.ConnectionID, bufferSize),
		unregister: unregister,
	}
}

// Schedule never blocks. With a full queue the teardown runs in its own goroutine.
func (r *ConnectionReaper) Schedule(id domain.ConnectionID) {
	select {
	case r.queue <- id:
	default:
		r.log.Debug("Reaper queue full, unregistering inline", "connection_id", id)
		go r.unregister(id)
	}
}

func (r *ConnectionReaper) Run(ctx context.Context) error {
	for {
		select {
		case id := <-r.queue:
			r.unregister(id)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *ConnectionReaper) drain() {
	for {
		select {
		case id := <-r.queue:
			r.unregister(id)
		default:
			return
		}
	}
}
