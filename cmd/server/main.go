package main

import (
	"chat-presence/auth"
	"chat-presence/contract"
	"chat-presence/infrastructure/nats"
	"chat-presence/infrastructure/redis"
	"chat-presence/infrastructure/rest"
	"chat-presence/infrastructure/websocket"
	"chat-presence/internal"
	"chat-presence/repositories"
	"chat-presence/runtime"
	"chat-presence/runtime/workers"
	"chat-presence/services"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a server error.
// Returning instead of exiting lets the deferred closes run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	config, err := internal.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	chats := repositories.NewChatRepository(db, log, config.HistoryLimit)
	var unread contract.UnreadStore = repositories.NewUnreadRepository(db, log)
	if config.UnreadBackend == internal.UnreadBackendMemory {
		unread = runtime.NewMemoryUnreadStore()
	}

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Hub & supervision
	sup := workers.NewSupervisor(log)
	hub := runtime.NewHub(log, sup, chats, unread, runtime.HubConfig{
		TypingWindow:         config.TypingWindow,
		TypingSweepInterval:  config.TypingSweepInterval,
		HeartbeatInterval:    config.HeartbeatInterval,
		CleanupBufferSize:    config.CleanupBufferSize,
		SideEffectBufferSize: config.SideEffectBufferSize,
		SideEffectTimeout:    config.SinkTimeout,
	})

	// 5. Optional side effects
	if config.RedisAddr != "" {
		client, err := redis.Connect(ctx, config.RedisAddr)
		if err != nil {
			return err
		}
		mirror := redis.NewPresenceMirror(log, client, config.RedisPresenceKey)
		if err := mirror.Reset(ctx); err != nil {
			mirror.Close()
			return fmt.Errorf("presence mirror reset: %w", err)
		}
		hub.AddSideEffects(mirror)
		log.Info("Presence mirrored to redis", "addr", config.RedisAddr, "key", config.RedisPresenceKey)
	}
	if config.NatsURL != "" {
		conn, err := nats.Connect(config.NatsURL, "chat-presence")
		if err != nil {
			return err
		}
		hub.AddSideEffects(nats.NewDeliveryPublisher(log, conn, config.NatsSubject))
		log.Info("Deliveries published to nats", "url", config.NatsURL, "subject", config.NatsSubject)
	}

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		// Stopped by hub.Stop, after the last offline statuses were queued.
		hub.Start(context.Background())
	}()

	// 6. Transport
	authenticator := auth.NewJWTAuthenticator(config.JWTSecret, config.JWTIssuer)
	chatService := services.NewChatService(log, hub, chats, unread)
	ws := websocket.NewServer(log, authenticator, hub, chatService, websocket.Config{
		BufferSize:      config.ConnectionBufferSize,
		WriteWait:       config.WriteWait,
		PongWait:        config.PongWait,
		PingInterval:    config.PingInterval,
		MaxMessageSize:  config.MaxMessageSize,
		MaxDecodeErrors: config.MaxDecodeErrors,
		AllowedOrigins:  config.Origins(),
	})
	router := rest.NewRouter(rest.NewHandler(log, authenticator, chatService, config.HistoryLimit), ws)
	if config.DebugInspect {
		router.GET("/debug/inspect", internal.InspectHandler(db))
	}

	server := &http.Server{
		Addr:              config.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	hub.Stop()
	<-hubDone
	if serveErr != nil {
		return serveErr
	}
	log.Info("Program stopped cleanly")
	return nil
}
