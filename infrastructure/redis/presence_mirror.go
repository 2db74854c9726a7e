// Package redis mirrors presence transitions into Redis so other services
// can ask who is online without talking to this process.
package redis

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type setClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// PresenceMirror keeps the set of online users under one key.
type PresenceMirror struct {
	log    *slog.Logger
	client setClient
	key    string
}

// Connect opens the client and checks the server answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func NewPresenceMirror(log *slog.Logger, client *redis.Client, key string) *PresenceMirror {
	return newPresenceMirror(log, client, key)
}

func newPresenceMirror(log *slog.Logger, client setClient, key string) *PresenceMirror {
	return &PresenceMirror{log: log, client: client, key: key}
}

// Reset empties the set. Called at boot: a previous process may have died without cleaning up.
func (m *PresenceMirror) Reset(ctx context.Context) error {
	return m.client.Del(ctx, m.key).Err()
}

// Consume applies UserStatus events, ignores everything else.
func (m *PresenceMirror) Consume(ctx context.Context, e event.DomainEvent) error {
	evt, ok := e.(event.UserStatus)
	if !ok {
		return nil
	}
	var err error
	switch evt.Status {
	case domain.StatusOnline:
		err = m.client.SAdd(ctx, m.key, string(evt.UserID)).Err()
	case domain.StatusOffline:
		err = m.client.SRem(ctx, m.key, string(evt.UserID)).Err()
	}
	if err != nil {
		return fmt.Errorf("presence mirror %s: %w", evt.Status, err)
	}
	return nil
}

func (m *PresenceMirror) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	return m.client.SIsMember(ctx, m.key, string(userID)).Result()
}

func (m *PresenceMirror) Online(ctx context.Context) ([]domain.UserID, error) {
	members, err := m.client.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, err
	}
	res := make([]domain.UserID, 0, len(members))
	for _, member := range members {
		res = append(res, domain.UserID(member))
	}
	return res, nil
}

func (m *PresenceMirror) Close() {
	if err := m.client.Close(); err != nil {
		m.log.Warn("Closing redis client", "error", err)
	}
}
