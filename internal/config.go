package internal

import (
	"chat-presence/errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/samber/lo"
)

const (
	UnreadBackendMemory = "memory"
	UnreadBackendBadger = "badger"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,default=chat-presence"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	UnreadBackend  string `env:"UNREAD_BACKEND,default=badger"`
	HistoryLimit   int    `env:"HISTORY_LIMIT,default=50"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	CleanupBufferSize    int           `env:"CLEANUP_BUFFER_SIZE,default=256"`
	SideEffectBufferSize int           `env:"SIDE_EFFECT_BUFFER_SIZE,default=1024"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	TypingWindow         time.Duration `env:"TYPING_WINDOW,default=3s"`
	TypingSweepInterval  time.Duration `env:"TYPING_SWEEP_INTERVAL,default=1s"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`

	WriteWait       time.Duration `env:"WRITE_WAIT,default=10s"`
	PongWait        time.Duration `env:"PONG_WAIT,default=60s"`
	PingInterval    time.Duration `env:"PING_INTERVAL,default=54s"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	MaxDecodeErrors int           `env:"MAX_DECODE_ERRORS,default=5"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS"`

	RedisAddr        string `env:"REDIS_ADDR"`
	RedisPresenceKey string `env:"REDIS_PRESENCE_KEY,default=chat:presence:online"`
	NatsURL          string `env:"NATS_URL"`
	NatsSubject      string `env:"NATS_SUBJECT,default=chat.messages.delivered"`

	DebugInspect bool `env:"DEBUG_INSPECT,default=false"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks constraints between fields that tags can not express.
func (c Config) Validate() error {
	switch {
	case c.TypingWindow <= 0:
		return fmt.Errorf("%w: TYPING_WINDOW must be positive", errors.ErrInvalidConfig)
	case c.TypingSweepInterval <= 0 || c.TypingSweepInterval > c.TypingWindow:
		return fmt.Errorf("%w: TYPING_SWEEP_INTERVAL must be in (0, TYPING_WINDOW], got %s for %s",
			errors.ErrInvalidConfig, c.TypingSweepInterval, c.TypingWindow)
	case c.PingInterval >= c.PongWait:
		return fmt.Errorf("%w: PING_INTERVAL must be shorter than PONG_WAIT", errors.ErrInvalidConfig)
	case c.UnreadBackend != UnreadBackendMemory && c.UnreadBackend != UnreadBackendBadger:
		return fmt.Errorf("%w: UNREAD_BACKEND must be %q or %q, got %q",
			errors.ErrInvalidConfig, UnreadBackendMemory, UnreadBackendBadger, c.UnreadBackend)
	case c.ConnectionBufferSize <= 0 || c.CleanupBufferSize <= 0:
		return fmt.Errorf("%w: buffer sizes must be positive", errors.ErrInvalidConfig)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS. Empty means any origin.
func (c Config) Origins() []string {
	return lo.FilterMap(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) (string, bool) {
		o = strings.TrimSpace(o)
		return o, o != ""
	})
}
