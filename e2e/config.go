package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_ADDR is host:port of a running server. The suite is skipped when empty.
	ServerAddr string `envconfig:"E2E_SERVER_ADDR"`
	JWTSecret  string `envconfig:"JWT_SECRET"`
	JWTIssuer  string `envconfig:"JWT_ISSUER" default:"chat-presence"`
	// E2E_DEBUG_JSON dumps every frame received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
