package main

import (
	"chat-presence/auth"
	"chat-presence/client"
	"chat-presence/domain"
	"chat-presence/infrastructure/websocket"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config of the probe. The secret must match the server's.
type Config struct {
	ServerAddress string        `envconfig:"PROBE_SERVER_ADDR" default:"localhost:8080"`
	JWTSecret     string        `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer     string        `envconfig:"JWT_ISSUER" default:"chat-presence"`
	UserID        string        `envconfig:"PROBE_USER" default:"probe"`
	ChatID        string        `envconfig:"PROBE_CHAT" default:"probe-room"`
	Message       string        `envconfig:"PROBE_MESSAGE"`
	Timeout       time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Probe error: %v\n", err)
	}
	os.Exit(code)
}

// run connects as PROBE_USER, makes sure the chat exists, joins it, optionally
// posts a message, then prints every frame until interrupted.
func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authenticator := auth.NewJWTAuthenticator(config.JWTSecret, config.JWTIssuer)
	token, err := authenticator.GenerateToken(config.UserID, config.UserID, time.Hour)
	if err != nil {
		return exitRuntime, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	chat := domain.Chat{
		ID:      domain.RoomID(config.ChatID),
		Name:    config.ChatID,
		IsGroup: true,
		Members: []domain.UserID{domain.UserID(config.UserID)},
	}
	if err := client.SaveChat(setupCtx, config.ServerAddress, token, chat); err != nil {
		return exitRuntime, err
	}

	c, err := client.Dial(setupCtx, config.ServerAddress, token)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = c.Close() }()
	color.Green.Printf(">>> Connected to %s as %s\n", config.ServerAddress, config.UserID)

	if err := expectAck(setupCtx, c, websocket.JoinRoom, websocket.RoomPayload{ChatID: chat.ID}); err != nil {
		return exitRuntime, err
	}
	if config.Message != "" {
		payload := websocket.NewMessagePayload{ChatID: chat.ID, Content: config.Message}
		if err := expectAck(setupCtx, c, websocket.NewMessage, payload); err != nil {
			return exitRuntime, err
		}
	}

	for {
		f, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, err
		}
		printFrame(f)
	}
}

func expectAck(ctx context.Context, c *client.Client, frameType string, payload any) error {
	f, err := c.Request(ctx, frameType, payload)
	if err != nil {
		return err
	}
	printFrame(f)
	if f.Type != string(websocket.AckName) {
		return fmt.Errorf("%s refused: %s", frameType, f.Payload)
	}
	return nil
}

func printFrame(f websocket.Frame) {
	line := fmt.Sprintf("[%s] %-20s %s", time.Now().Format(time.TimeOnly), f.Type, f.Payload)
	switch f.Type {
	case string(websocket.ErrorName):
		color.Red.Println(line)
	case string(websocket.AckName):
		color.Gray.Println(line)
	default:
		color.Cyan.Println(line)
	}
}
