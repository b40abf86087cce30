package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_ADDR points at a running relay, e.g. "localhost:8080". Leaving
	// it empty skips the whole suite.
	RelayAddr string `envconfig:"RELAY_ADDR"`
	// TOKEN_SECRET must match the relay's signing secret so the suite can
	// mint its own credentials.
	TokenSecret string `envconfig:"TOKEN_SECRET" default:"change-me"`
	// E2E_DEBUG_JSON allows dumping full wire frames as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
