package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerEnv is the runtime configuration of `dom serve`, read from the
// environment at startup.
type ServerEnv struct {
	Addr      string `env:"DOMINION_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath  string `env:"DOMINION_BASE_PATH" envDefault:"/v1"`
	JWTSecret string `env:"DOMINION_JWT_SECRET"`
	// Anonymous lets unauthenticated callers command any seat. Local use only.
	Anonymous bool `env:"DOMINION_ANONYMOUS" envDefault:"false"`

	NatsURL string `env:"DOMINION_NATS_URL"`
	Room    string `env:"DOMINION_ROOM"`
	PeerID  string `env:"DOMINION_PEER_ID" envDefault:"table"`
	Host    bool   `env:"DOMINION_HOST" envDefault:"true"`

	WebhookInterval time.Duration `env:"DOMINION_WEBHOOK_INTERVAL" envDefault:"2s"`
}

func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := env.Parse(&cfg); err != nil {
		return ServerEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Relayed reports whether the server should join a NATS room.
func (e ServerEnv) Relayed() bool {
	return e.NatsURL != "" && e.Room != ""
}
