// Package websocket is the gorilla/websocket transport of the hub: handshake,
// one read loop and one write pump per connection.
package websocket

import (
	"chat-presence/auth"
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"chat-presence/runtime"
	"chat-presence/services"
	"chat-presence/sink"
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Config struct {
	BufferSize      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	MaxDecodeErrors int
	AllowedOrigins  []string
}

type Server struct {
	log      *slog.Logger
	auth     contract.Authenticator
	hub      *runtime.Hub
	chats    *services.ChatService
	upgrader gws.Upgrader
	cfg      Config
}

func NewServer(log *slog.Logger, authenticator contract.Authenticator, hub *runtime.Hub,
	chats *services.ChatService, cfg Config) *Server {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	s := &Server{log: log, auth: authenticator, hub: hub, chats: chats, cfg: cfg}
	s.upgrader = gws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP authenticates the handshake, upgrades it and runs the connection until it closes.
// A missing or invalid token is refused with a 401 before any upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	identity, err := s.auth.VerifyIdentity(r.Context(), token)
	if err != nil {
		s.log.Debug("Handshake refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	outbound := sink.NewConnectionSink(s.cfg.BufferSize)
	ctx := context.Background()
	conn, err := s.hub.Connect(ctx, identity, outbound)
	if err != nil {
		s.log.Warn("Connection refused by hub", "user_id", identity.UserID, "error", err)
		_ = ws.Close()
		return
	}
	s.log.Info("Connection opened", "connection_id", conn.ID, "user_id", conn.UserID)

	go s.writePump(ws, conn, outbound)
	s.readLoop(ctx, ws, conn, outbound)

	s.hub.Disconnect(conn.ID)
	s.log.Info("Connection closed", "connection_id", conn.ID, "user_id", conn.UserID)
}

// readLoop only reads. Any read error ends the connection; the write pump closes the socket.
func (s *Server) readLoop(ctx context.Context, ws *gws.Conn, conn *runtime.Connection, outbound *sink.ConnectionSink) {
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	decodeErrors := 0
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived):
				s.log.Debug("Peer closed", "connection_id", conn.ID)
			case stderrors.As(err, &ne) && ne.Timeout():
				s.log.Debug("Read timeout", "connection_id", conn.ID)
			default:
				s.log.Debug("Read error", "connection_id", conn.ID, "error", err)
			}
			return
		}
		if mt != gws.TextMessage && mt != gws.BinaryMessage {
			continue
		}

		frame, err := Decode(data)
		if err != nil {
			decodeErrors++
			s.reply(ctx, outbound, failureOf(frame.RequestID, err))
			if s.cfg.MaxDecodeErrors > 0 && decodeErrors >= s.cfg.MaxDecodeErrors {
				s.log.Warn("Too many malformed frames, closing", "connection_id", conn.ID)
				return
			}
			continue
		}
		decodeErrors = 0
		s.handle(ctx, conn, outbound, frame)
	}
}

func (s *Server) handle(ctx context.Context, conn *runtime.Connection, outbound *sink.ConnectionSink, f Frame) {
	data, err := s.dispatchFrame(ctx, conn, f)
	switch {
	case err == nil:
		s.reply(ctx, outbound, Ack{RequestID: f.RequestID, Type: f.Type, Data: data})
	case stderrors.Is(err, errors.ErrNotSubscribed):
		s.log.Debug("Frame on a room not joined", "connection_id", conn.ID, "type", f.Type)
		s.reply(ctx, outbound, Ack{RequestID: f.RequestID, Type: f.Type})
	case stderrors.Is(err, errors.ErrConnectionClosed):
	default:
		s.log.Debug("Frame refused", "connection_id", conn.ID, "type", f.Type, "error", err)
		s.reply(ctx, outbound, failureOf(f.RequestID, err))
	}
}

func (s *Server) dispatchFrame(ctx context.Context, conn *runtime.Connection, f Frame) (any, error) {
	if f.Type == NewMessage {
		var p NewMessagePayload
		if err := DecodePayload(f, &p); err != nil {
			return nil, err
		}
		return s.chats.PostMessage(ctx, domain.PostMessageCommand{
			RoomID:     p.ChatID,
			SenderID:   conn.UserID,
			SenderName: conn.DisplayName,
			Content:    p.Content,
		})
	}

	var p RoomPayload
	if err := DecodePayload(f, &p); err != nil {
		return nil, err
	}
	switch f.Type {
	case JoinRoom:
		return nil, s.chats.JoinRoom(ctx, conn, p.ChatID)
	case LeaveRoom:
		return nil, s.chats.LeaveRoom(ctx, conn, p.ChatID)
	case TypingStart:
		return nil, s.chats.StartTyping(ctx, conn, p.ChatID)
	case TypingStop:
		return nil, s.chats.StopTyping(ctx, conn, p.ChatID)
	case ViewRoom:
		if p.ChatID.IsZero() {
			s.chats.ClearView(conn)
			return nil, nil
		}
		return nil, s.chats.ViewRoom(ctx, conn, p.ChatID)
	case MarkRead:
		if p.ChatID.IsZero() {
			return nil, errors.ErrInvalidPayload
		}
		total, err := s.chats.MarkRead(ctx, conn.UserID, p.ChatID)
		return map[string]int{"total": total}, err
	}
	return nil, errors.ErrInvalidPayload
}

// reply goes through the sink like any other event, so it keeps its place in the outbound order.
func (s *Server) reply(ctx context.Context, outbound *sink.ConnectionSink, evt event.DomainEvent) {
	_ = outbound.Consume(ctx, evt)
}

// writePump is the only writer of the socket.
func (s *Server) writePump(ws *gws.Conn, conn *runtime.Connection, outbound *sink.ConnectionSink) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case evt := <-outbound.Events():
			if err := s.write(ws, evt); err != nil {
				s.log.Debug("Write failed", "connection_id", conn.ID, "error", err)
				s.hub.Disconnect(conn.ID)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(gws.PingMessage, []byte("ping"), time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.log.Debug("Ping failed", "connection_id", conn.ID, "error", err)
				s.hub.Disconnect(conn.ID)
				return
			}
		case <-outbound.Done():
			s.flush(ws, outbound)
			_ = ws.WriteControl(gws.CloseMessage,
				gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(s.cfg.WriteWait))
			return
		}
	}
}

// flush writes what was already queued when the sink closed.
func (s *Server) flush(ws *gws.Conn, outbound *sink.ConnectionSink) {
	for {
		select {
		case evt := <-outbound.Events():
			if s.write(ws, evt) != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) write(ws *gws.Conn, evt event.DomainEvent) error {
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	return ws.WriteMessage(gws.TextMessage, data)
}
