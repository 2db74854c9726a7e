package e2e

import (
	"chat-presence/auth"
	"chat-presence/client"
	"chat-presence/domain"
	"chat-presence/infrastructure/websocket"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
)

const stepTimeout = 10 * time.Second

type BaseSuite struct {
	suite.Suite
	Config Config
	auth   *auth.JWTAuthenticator
}

// SetupSuite loads the environment configuration, or skips when no server is given.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerAddr == "" {
		s.T().Skip("E2E_SERVER_ADDR not set")
	}
	s.Require().NotEmpty(s.Config.JWTSecret, "JWT_SECRET must match the server's")
	s.auth = auth.NewJWTAuthenticator(s.Config.JWTSecret, s.Config.JWTIssuer)
}

func (s *BaseSuite) header(name string) {
	h := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		h = color.New(color.BgBlack, color.FgGreen).Render(h)
	}
	s.T().Log(h)
}

func (s *BaseSuite) token(userID string) string {
	token, err := s.auth.GenerateToken(userID, userID, time.Hour)
	s.Require().NoError(err)
	return token
}

// SaveChat creates the chat as its first member.
func (s *BaseSuite) SaveChat(chat domain.Chat) {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	s.Require().NoError(client.SaveChat(ctx, s.Config.ServerAddr, s.token(string(chat.Members[0])), chat))
}

// Connect opens a websocket for userID, closed at the end of the test.
func (s *BaseSuite) Connect(name, userID string) *client.Client {
	s.header(name)
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	c, err := client.Dial(ctx, s.Config.ServerAddr, s.token(userID))
	s.Require().NoError(err, "Failed to connect to "+s.Config.ServerAddr)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// Ack sends a frame and requires it to be acknowledged.
func (s *BaseSuite) Ack(c *client.Client, frameType string, payload any) websocket.Frame {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	f, err := c.Request(ctx, frameType, payload)
	s.Require().NoError(err)
	s.log(f)
	s.Require().Equal(string(websocket.AckName), f.Type, "frame %s refused: %s", frameType, f.Payload)
	return f
}

// Expect waits for the next frame of the given type and decodes its payload into v.
func (s *BaseSuite) Expect(c *client.Client, frameType string, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	f, err := c.Await(ctx, func(f websocket.Frame) bool { return f.Type == frameType })
	s.Require().NoError(err, "waiting for "+frameType)
	s.log(f)
	if v != nil {
		s.Require().NoError(json.Unmarshal(f.Payload, v))
	}
}

func (s *BaseSuite) log(f websocket.Frame) {
	if s.Config.DebugJSON {
		s.T().Logf("FRAME %s [%s]\n%s", f.Type, f.RequestID, f.Payload)
	}
}
