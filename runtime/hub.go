// Package runtime is the real-time core: who is connected, which rooms they joined,
// who is typing, and how room events reach every live connection.
// It holds no business rule about chats beyond membership lookups.
package runtime

import (
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"chat-presence/runtime/workers"
	"context"
	"log/slog"
	"time"
)

type HubConfig struct {
	TypingWindow         time.Duration
	TypingSweepInterval  time.Duration
	HeartbeatInterval    time.Duration
	CleanupBufferSize    int
	SideEffectBufferSize int
	SideEffectTimeout    time.Duration
}

// Hub wires the registry, the membership index, presence, typing and the dispatcher
// together, and owns the background workers keeping them clean.
type Hub struct {
	log        *slog.Logger
	supervisor contract.ISupervisor
	registry   *Registry
	rooms      *Membership
	presence   *Presence
	typing     *Typing
	dispatcher *Dispatcher
	reaper     *workers.ConnectionReaper
	sideEffect *workers.EventFanout
	cfg        HubConfig
}

func NewHub(log *slog.Logger, supervisor contract.ISupervisor,
	chats contract.ChatRepository, unread contract.UnreadStore, cfg HubConfig) *Hub {
	if cfg.TypingWindow <= 0 {
		cfg.TypingWindow = DefaultTypingWindow
	}
	if cfg.TypingSweepInterval <= 0 || cfg.TypingSweepInterval > cfg.TypingWindow {
		cfg.TypingSweepInterval = cfg.TypingWindow / 3
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.CleanupBufferSize <= 0 {
		cfg.CleanupBufferSize = 256
	}
	if cfg.SideEffectBufferSize <= 0 {
		cfg.SideEffectBufferSize = 1024
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 2 * time.Second
	}

	rooms := NewMembership()
	presence := NewPresence(log)
	registry := NewRegistry(log, rooms, presence)
	dispatcher := NewDispatcher(log, registry, rooms, chats, unread)
	h := &Hub{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		rooms:      rooms,
		presence:   presence,
		typing:     NewTyping(log, dispatcher, cfg.TypingWindow),
		dispatcher: dispatcher,
		reaper:     workers.NewConnectionReaper(log, cfg.CleanupBufferSize, registry.Unregister),
		sideEffect: workers.NewEventFanout(log, cfg.SideEffectBufferSize, cfg.SideEffectTimeout),
		cfg:        cfg,
	}

	dispatcher.OnDeliveryFailure(h.reaper.Schedule)
	registry.OnRoomsLeft(h.roomsLeft)
	presence.OnChange(h.broadcastStatus)
	dispatcher.OnMessageDelivered(func(_ context.Context, delivered event.MessageDelivered) {
		h.sideEffect.Publish(delivered)
	})
	return h
}

// Connect registers an authenticated connection and sends it the current presence snapshot.
func (h *Hub) Connect(ctx context.Context, identity domain.Identity, sink contract.EventSink) (*Connection, error) {
	conn, err := h.registry.Register(identity.UserID, identity.Name, sink)
	if err != nil {
		return nil, err
	}
	snapshot := event.PresenceSnapshot{Online: h.presence.OnlineUsers()}
	if err := h.dispatcher.deliver(ctx, conn, snapshot); err != nil {
		h.log.Debug("Presence snapshot not delivered", "connection_id", conn.ID, "error", err)
	}
	return conn, nil
}

// Disconnect is idempotent.
func (h *Hub) Disconnect(id domain.ConnectionID) {
	h.registry.Unregister(id)
}

func (h *Hub) JoinRoom(_ context.Context, conn *Connection, room domain.RoomID) error {
	if _, err := h.rooms.Join(conn, room); err != nil {
		return err
	}
	h.log.Debug("Room joined", "connection_id", conn.ID, "room", room)
	return nil
}

// LeaveRoom unsubscribes the connection. When the user has no connection left
// in the room, their typing indicator there is cleared.
func (h *Hub) LeaveRoom(ctx context.Context, conn *Connection, room domain.RoomID) error {
	gone, err := h.rooms.Leave(conn, room)
	if err != nil {
		return err
	}
	if gone {
		h.typing.Stop(ctx, room, conn.UserID)
	}
	return nil
}

// ViewRoom makes the room the connection's active one and marks it read.
func (h *Hub) ViewRoom(ctx context.Context, conn *Connection, room domain.RoomID) error {
	if err := h.rooms.SetActive(conn, room); err != nil {
		return err
	}
	_, err := h.MarkRead(ctx, conn.UserID, room)
	return err
}

// ClearView leaves the connection with no active room, so new messages count as unread again.
func (h *Hub) ClearView(conn *Connection) {
	h.rooms.ClearActive(conn)
}

// MarkRead resets the counter and pushes the new totals to every connection of the user.
func (h *Hub) MarkRead(ctx context.Context, userID domain.UserID, room domain.RoomID) (int, error) {
	return h.dispatcher.MarkRead(ctx, userID, room)
}

func (h *Hub) StartTyping(ctx context.Context, conn *Connection, room domain.RoomID) error {
	if !h.rooms.IsJoined(conn, room) {
		return errors.ErrNotSubscribed
	}
	h.typing.Start(ctx, room, conn.UserID, conn.DisplayName)
	return nil
}

func (h *Hub) StopTyping(ctx context.Context, conn *Connection, room domain.RoomID) error {
	if !h.rooms.IsJoined(conn, room) {
		return errors.ErrNotSubscribed
	}
	h.typing.Stop(ctx, room, conn.UserID)
	return nil
}

// Dispatch fans a room event out. See Dispatcher.Dispatch.
func (h *Hub) Dispatch(ctx context.Context, room domain.RoomID, evt event.DomainEvent, sender domain.UserID) DispatchResult {
	return h.dispatcher.Dispatch(ctx, room, evt, sender)
}

func (h *Hub) OnPresenceChange(l PresenceListener) {
	h.presence.OnChange(l)
}

func (h *Hub) OnMessageDelivered(hook DeliveryHook) {
	h.dispatcher.OnMessageDelivered(hook)
}

// AddSideEffects plugs out-of-process sinks. They receive UserStatus and
// MessageDelivered events asynchronously.
func (h *Hub) AddSideEffects(sinks ...contract.EventSink) {
	h.sideEffect.Add(sinks...)
}

func (h *Hub) IsOnline(userID domain.UserID) bool {
	return h.presence.IsOnline(userID)
}

func (h *Hub) OnlineUsers() []domain.UserID {
	return h.presence.OnlineUsers()
}

func (h *Hub) ConnectionCount() int { return h.registry.Count() }

func (h *Hub) OnlineCount() int { return len(h.presence.OnlineUsers()) }

func (h *Hub) TypingCount() int { return h.typing.Len() }

// Start runs the background workers and blocks until Stop or ctx cancellation.
func (h *Hub) Start(ctx context.Context) {
	h.supervisor.Add(
		h.reaper,
		h.sideEffect,
		workers.NewTypingSweeperWorker(h.log, h.typing, h.cfg.TypingSweepInterval),
		workers.NewHeartbeatWorker(h.log, h, h.cfg.HeartbeatInterval),
	)
	h.log.Info("Starting hub and all supervised workers",
		"typing_window", h.cfg.TypingWindow, "sweep_interval", h.cfg.TypingSweepInterval)
	h.supervisor.Run(ctx)
	h.sideEffect.Close()
}

// Stop closes every live connection, then the workers.
func (h *Hub) Stop() {
	h.log.Info("Requesting hub shutdown")
	h.registry.Close()
	h.supervisor.Stop()
}

func (h *Hub) roomsLeft(conn *Connection, rooms []domain.RoomID) {
	ctx := context.Background()
	for _, room := range rooms {
		h.typing.Stop(ctx, room, conn.UserID)
	}
}

func (h *Hub) broadcastStatus(change PresenceChange) {
	evt := event.UserStatus{UserID: change.UserID, Status: change.Status}
	h.dispatcher.BroadcastGlobal(context.Background(), evt, change.UserID)
	h.sideEffect.Publish(evt)
}
