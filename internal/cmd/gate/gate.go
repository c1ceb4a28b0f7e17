// Package gate parses gate command flags and runs the gate server.
package gate

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/stonevault/gate/internal/platform/config"
	"github.com/stonevault/gate/internal/platform/otel"
	"github.com/stonevault/gate/internal/services/gate/api"
	server "github.com/stonevault/gate/internal/services/gate/app"
)

// Config holds gate command configuration.
type Config struct {
	Addr string `env:"STONEVAULT_GATE_ADDR" envDefault:":8090"`

	api api.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	apiCfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.api = apiCfg

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "gate HTTP server address")
	fs.StringVar(&cfg.api.AllowlistFile, "allowlist-file", cfg.api.AllowlistFile, "local allowlist file path")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the gate server.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "gate")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	return server.Run(ctx, cfg.Addr, cfg.api)
}
