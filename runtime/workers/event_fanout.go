package workers

import (
	"chat-presence/contract"
	"chat-presence/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventFanout hands hub side effects (presence changes, delivery reports) to
// out-of-process sinks such as a Redis mirror or a NATS subject.
//
// Publish never blocks the caller: when the queue is full the event is dropped.
// Delivery to those sinks is best effort, with no retry and a per-sink timeout.
type EventFanout struct {
	log         *slog.Logger
	events      chan event.DomainEvent
	sinkTimeout time.Duration
	mu          sync.RWMutex
	sinks       []contract.EventSink
}

func NewEventFanout(log *slog.Logger, bufferSize int, sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{
		log:         log,
		events:      make(chan event.DomainEvent, bufferSize),
		sinkTimeout: sinkTimeout,
	}
}

func (w *EventFanout) Add(sinks ...contract.EventSink) *EventFanout {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinks = append(w.sinks, sinks...)
	return w
}

// Publish queues the event for the sinks.
func (w *EventFanout) Publish(evt event.DomainEvent) bool {
	select {
	case w.events <- evt:
		return true
	default:
		w.log.Debug("Side effect queue full, event lost", "event", evt.Name())
		return false
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-w.events:
			if ctx.Err() != nil {
				w.Fanout(context.WithoutCancel(ctx), evt)
				continue
			}
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx))
			w.log.Debug("Context done, stopping side effect fanout")
			return nil
		}
	}
}

// drain hands what is still queued to the sinks, so the last presence changes
// (every user going offline on shutdown) are not lost.
func (w *EventFanout) drain(ctx context.Context) {
	for {
		select {
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		default:
			return
		}
	}
}

// Fanout gives the event to every sink, one after the other.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	w.mu.RLock()
	sinks := append([]contract.EventSink(nil), w.sinks...)
	w.mu.RUnlock()
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Warn("Side effect sink failed", "event", evt.Name(), "error", err)
		}
		cancel()
	}
}

// Close closes every sink once the worker stopped.
func (w *EventFanout) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sink := range w.sinks {
		sink.Close()
	}
	w.sinks = nil
}
