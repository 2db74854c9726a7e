package websocket

import (
	"chat-presence/auth"
	"chat-presence/domain"
	"chat-presence/repositories"
	"chat-presence/runtime"
	"chat-presence/runtime/workers"
	"chat-presence/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	gws "github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url   string
	auth  *auth.JWTAuthenticator
	hub   *runtime.Hub
	chats *repositories.ChatRepository
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	chats := repositories.NewChatRepository(db, log, 50)
	unread := runtime.NewMemoryUnreadStore()
	hub := runtime.NewHub(log, workers.NewSupervisor(log), chats, unread, runtime.HubConfig{})
	svc := services.NewChatService(log, hub, chats, unread)
	authenticator := auth.NewJWTAuthenticator("test-secret", "chat-presence")

	ts := httptest.NewServer(NewServer(log, authenticator, hub, svc, cfg))
	t.Cleanup(ts.Close)

	require.NoError(t, chats.SaveChat(context.Background(), domain.Chat{
		ID: "general", Name: "General", IsGroup: true, Members: []domain.UserID{"alice", "bob"},
	}))
	return &testServer{url: "ws" + strings.TrimPrefix(ts.URL, "http"), auth: authenticator, hub: hub, chats: chats}
}

func (s *testServer) dial(t *testing.T, userID string) *gws.Conn {
	t.Helper()
	token, err := s.auth.GenerateToken(userID, strings.ToUpper(userID[:1])+userID[1:], time.Hour)
	require.NoError(t, err)
	conn, _, err := gws.DefaultDialer.Dial(s.url+"/?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	// Every connection starts with the presence snapshot
	readUntil(t, conn, "presence_snapshot")
	return conn
}

func send(t *testing.T, conn *gws.Conn, frameType, requestID string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Type: frameType, RequestID: requestID, Payload: data}))
}

func readUntil(t *testing.T, conn *gws.Conn, frameType string) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == frameType {
			return f
		}
	}
}

func TestServer_Refuses_Missing_Or_Invalid_Token(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, Config{})

	for _, url := range []string{srv.url, srv.url + "/?token=forged"} {
		_, resp, err := gws.DefaultDialer.Dial(url, nil)
		req.ErrorIs(err, gws.ErrBadHandshake)
		req.Equal(http.StatusUnauthorized, resp.StatusCode)
	}
	req.Zero(srv.hub.ConnectionCount())
}

func TestServer_Message_Flow(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, Config{})
	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")

	// Given both joined the general chat
	send(t, bob, JoinRoom, "b1", RoomPayload{ChatID: "general"})
	req.Equal("b1", readUntil(t, bob, "ack").RequestID)
	send(t, alice, JoinRoom, "a1", RoomPayload{ChatID: "general"})
	req.Equal("a1", readUntil(t, alice, "ack").RequestID)

	// When alice starts typing
	send(t, alice, TypingStart, "a2", RoomPayload{ChatID: "general"})

	// Then bob sees it
	typing := readUntil(t, bob, "user_typing")
	req.JSONEq(`{"userId":"alice","userName":"Alice","chatId":"general"}`, string(typing.Payload))

	// When alice posts a message
	send(t, alice, NewMessage, "a3", NewMessagePayload{ChatID: "general", Content: " hello bob "})

	// Then bob receives it, with an unread count since bob is not viewing the chat
	received := readUntil(t, bob, "message_received")
	var payload struct {
		Message domain.Message `json:"message"`
		ChatID  string         `json:"chatId"`
	}
	req.NoError(json.Unmarshal(received.Payload, &payload))
	req.Equal("hello bob", payload.Message.Content)
	req.Equal(domain.UserID("alice"), payload.Message.SenderID)
	req.Equal("general", payload.ChatID)
	unread := readUntil(t, bob, "unread_updated")
	req.JSONEq(`{"chatId":"general","count":1,"total":1}`, string(unread.Payload))

	// And bob reading the chat resets it
	send(t, bob, ViewRoom, "b2", RoomPayload{ChatID: "general"})
	unread = readUntil(t, bob, "unread_updated")
	req.JSONEq(`{"chatId":"general","count":0,"total":0}`, string(unread.Payload))
}

func TestServer_Refuses_Non_Member(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, Config{})
	mallory := srv.dial(t, "mallory")

	send(t, mallory, JoinRoom, "m1", RoomPayload{ChatID: "general"})
	failure := readUntil(t, mallory, "error")
	req.Equal("m1", failure.RequestID)
	req.Contains(string(failure.Payload), CodePermissionDenied)

	send(t, mallory, JoinRoom, "m2", RoomPayload{ChatID: "nowhere"})
	failure = readUntil(t, mallory, "error")
	req.Contains(string(failure.Payload), CodeNotFound)
}

func TestServer_Typing_On_Unjoined_Room_Is_Acked(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, Config{})
	alice := srv.dial(t, "alice")

	send(t, alice, TypingStart, "a1", RoomPayload{ChatID: "general"})

	req.Equal("a1", readUntil(t, alice, "ack").RequestID)
}

func TestServer_Closes_After_Too_Many_Malformed_Frames(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, Config{MaxDecodeErrors: 2})
	alice := srv.dial(t, "alice")

	req.NoError(alice.WriteMessage(gws.TextMessage, []byte("not json")))
	failure := readUntil(t, alice, "error")
	req.Contains(string(failure.Payload), CodeInvalidArgument)

	req.NoError(alice.WriteMessage(gws.TextMessage, []byte(`{"type":"teleport"}`)))

	// Then the server ends the connection
	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = alice.ReadMessage()
	}
	req.Eventually(func() bool { return srv.hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_Disconnect_Broadcasts_Offline(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, Config{})
	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")
	online := readUntil(t, alice, "user_status")
	req.JSONEq(`{"userId":"bob","status":"online"}`, string(online.Payload))

	// When bob closes his socket
	req.NoError(bob.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "")))
	_ = bob.Close()

	// Then alice is told bob went offline
	offline := readUntil(t, alice, "user_status")
	req.JSONEq(`{"userId":"bob","status":"offline"}`, string(offline.Payload))
	req.False(srv.hub.IsOnline("bob"))
}
