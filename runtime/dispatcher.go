package runtime

import (
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

const dispatchStripes = 64

// DispatchResult summarizes one fan-out.
type DispatchResult struct {
	Delivered int
	Failed    int
	Unread    []domain.UserID
}

type DeliveryHook func(ctx context.Context, delivered event.MessageDelivered)

// Dispatcher delivers room events to every joined connection and maintains unread counters.
// Fan-outs to the same room are serialized by a striped lock, which gives each subscriber
// connection the events of a room in dispatch order.
type Dispatcher struct {
	stripes  [dispatchStripes]sync.Mutex
	registry *Registry
	rooms    *Membership
	chats    contract.ChatRepository
	unread   contract.UnreadStore
	log      *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	cleanup func(domain.ConnectionID)
	hooks   []DeliveryHook
}

func NewDispatcher(log *slog.Logger, registry *Registry, rooms *Membership,
	chats contract.ChatRepository, unread contract.UnreadStore) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		rooms:    rooms,
		chats:    chats,
		unread:   unread,
		log:      log,
		now:      time.Now,
	}
	// Teardown re-enters the dispatcher through typing stops, it never runs inline.
	d.cleanup = func(id domain.ConnectionID) { go registry.Unregister(id) }
	return d
}

// OnDeliveryFailure replaces the cleanup scheduled for a connection whose sink failed.
// fn must not unregister synchronously.
func (d *Dispatcher) OnDeliveryFailure(fn func(domain.ConnectionID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanup = fn
}

// OnMessageDelivered registers a hook run after each message fan-out.
func (d *Dispatcher) OnMessageDelivered(hook DeliveryHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, hook)
}

// Dispatch delivers evt to every connection joined to the room, the sender's included.
// For a new message it then bumps the unread counter of every chat member who is
// neither the sender nor actively viewing the room, and pushes the new count to them.
func (d *Dispatcher) Dispatch(ctx context.Context, room domain.RoomID, evt event.DomainEvent, sender domain.UserID) DispatchResult {
	lock := d.stripe(room)
	lock.Lock()
	defer lock.Unlock()

	snap := d.rooms.Snapshot(room)
	res := DispatchResult{}
	for _, ids := range snap.Subscribers {
		for _, id := range ids {
			switch err := d.deliverTo(ctx, id, evt); {
			case err == nil:
				res.Delivered++
			case stderrors.Is(err, errors.ErrConnectionClosed):
			default:
				res.Failed++
			}
		}
	}

	msg, ok := evt.(event.MessageReceived)
	if !ok {
		return res
	}
	res.Unread = d.incrementUnread(ctx, room, sender, snap)
	d.notify(ctx, event.MessageDelivered{
		Message:     msg.Message,
		Connections: res.Delivered,
		Failures:    res.Failed,
		UnreadFor:   res.Unread,
		At:          d.now().UTC(),
	})
	return res
}

func (d *Dispatcher) incrementUnread(ctx context.Context, room domain.RoomID, sender domain.UserID, snap RoomSnapshot) []domain.UserID {
	targets, err := d.chats.ChatMembersOf(ctx, room)
	if err != nil {
		d.log.Warn("Unable to resolve chat members, falling back to subscribers", "room", room, "error", err)
		targets = lo.Keys(snap.Subscribers)
	}
	targets = lo.Uniq(targets)
	slices.Sort(targets)

	var bumped []domain.UserID
	for _, userID := range targets {
		if userID == sender || snap.Active[userID] {
			continue
		}
		count, err := d.unread.Increment(ctx, userID, room)
		if err != nil {
			d.log.Error("Unread increment failed", "user_id", userID, "room", room, "error", err)
			continue
		}
		bumped = append(bumped, userID)
		total, err := d.unread.TotalFor(ctx, userID)
		if err != nil {
			d.log.Warn("Unread total failed", "user_id", userID, "error", err)
			total = count
		}
		d.SendTo(ctx, userID, event.UnreadUpdated{ChatID: room, Count: count, Total: total})
	}
	return bumped
}

// MarkRead resets the user's counter of the room and pushes the new totals to every
// connection of the user. It holds the room stripe so a concurrent Dispatch can not
// push a count older than the reset.
func (d *Dispatcher) MarkRead(ctx context.Context, userID domain.UserID, room domain.RoomID) (int, error) {
	lock := d.stripe(room)
	lock.Lock()
	defer lock.Unlock()

	if err := d.unread.MarkRead(ctx, userID, room); err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	total, err := d.unread.TotalFor(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread total: %w", err)
	}
	d.SendTo(ctx, userID, event.UnreadUpdated{ChatID: room, Count: 0, Total: total})
	return total, nil
}

// Broadcast delivers evt to the room subscribers except every connection of exclude.
// It returns the number of successful deliveries.
func (d *Dispatcher) Broadcast(ctx context.Context, room domain.RoomID, evt event.DomainEvent, exclude domain.UserID) int {
	lock := d.stripe(room)
	lock.Lock()
	defer lock.Unlock()

	delivered := 0
	for userID, ids := range d.rooms.Snapshot(room).Subscribers {
		if userID == exclude {
			continue
		}
		for _, id := range ids {
			if d.deliverTo(ctx, id, evt) == nil {
				delivered++
			}
		}
	}
	return delivered
}

// BroadcastGlobal delivers evt to every live connection except those of exclude.
func (d *Dispatcher) BroadcastGlobal(ctx context.Context, evt event.DomainEvent, exclude domain.UserID) int {
	delivered := 0
	for _, conn := range d.registry.All() {
		if conn.UserID == exclude {
			continue
		}
		if d.deliver(ctx, conn, evt) == nil {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers evt to every live connection of one user.
func (d *Dispatcher) SendTo(ctx context.Context, userID domain.UserID, evt event.DomainEvent) int {
	delivered := 0
	for _, conn := range d.registry.ConnectionsFor(userID) {
		if d.deliver(ctx, conn, evt) == nil {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) deliverTo(ctx context.Context, id domain.ConnectionID, evt event.DomainEvent) error {
	conn, ok := d.registry.Lookup(id)
	if !ok {
		// The index outlived the registry entry: heal it and move on.
		d.rooms.Purge(id)
		return errors.ErrConnectionClosed
	}
	return d.deliver(ctx, conn, evt)
}

func (d *Dispatcher) deliver(ctx context.Context, conn *Connection, evt event.DomainEvent) error {
	err := conn.deliver(ctx, evt)
	if err == nil || stderrors.Is(err, errors.ErrConnectionClosed) {
		return err
	}
	failure := &errors.DeliveryFailure{
		ConnectionID: string(conn.ID),
		UserID:       string(conn.UserID),
		Cause:        err,
	}
	d.log.Warn("Delivery dropped, scheduling connection cleanup", "event", evt.Name(), "error", failure)
	d.mu.RLock()
	cleanup := d.cleanup
	d.mu.RUnlock()
	cleanup(conn.ID)
	return failure
}

func (d *Dispatcher) notify(ctx context.Context, delivered event.MessageDelivered) {
	d.mu.RLock()
	hooks := slices.Clone(d.hooks)
	d.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, delivered)
	}
}

func (d *Dispatcher) stripe(room domain.RoomID) *sync.Mutex {
	return &d.stripes[xxhash.Sum64String(string(room))%dispatchStripes]
}
