package api

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/stonevault/gate/internal/platform/config"
	"github.com/stonevault/gate/internal/services/gate/allowlist"
)

// gateEnv holds raw env values before post-parse validation.
type gateEnv struct {
	SigningKey   string `env:"STONEVAULT_GATE_SIGNING_KEY"`
	AdminSecret  string `env:"STONEVAULT_GATE_ADMIN_SECRET"`
	WebhookToken string `env:"STONEVAULT_GATE_WEBHOOK_TOKEN"`

	TicketTTL       time.Duration `env:"STONEVAULT_GATE_TICKET_TTL"        envDefault:"30m"`
	TicketIssuer    string        `env:"STONEVAULT_GATE_TICKET_ISSUER"`
	TicketAudience  string        `env:"STONEVAULT_GATE_TICKET_AUDIENCE"`
	PerChannelLists bool          `env:"STONEVAULT_GATE_PER_CHANNEL_LISTS" envDefault:"false"`

	RefreshInterval time.Duration `env:"STONEVAULT_GATE_REFRESH_INTERVAL"  envDefault:"5m"`
	AllowlistFile   string        `env:"STONEVAULT_GATE_ALLOWLIST_FILE"`
	AllowlistRepo   string        `env:"STONEVAULT_GATE_ALLOWLIST_REPO"`
	AllowlistBranch string        `env:"STONEVAULT_GATE_ALLOWLIST_BRANCH"  envDefault:"main"`
	AllowlistPath   string        `env:"STONEVAULT_GATE_ALLOWLIST_PATH"`
	AllowlistToken  string        `env:"STONEVAULT_GATE_ALLOWLIST_TOKEN"`

	IdentityURL string `env:"STONEVAULT_GATE_IDENTITY_URL"`
	FriendsURL  string `env:"STONEVAULT_GATE_FRIENDS_URL"`
	PresenceURL string `env:"STONEVAULT_GATE_PRESENCE_URL"`
}

// Config describes the gate server configuration.
type Config struct {
	SigningKey   []byte
	AdminSecret  string
	WebhookToken string

	TicketTTL       time.Duration
	TicketIssuer    string
	TicketAudience  string
	PerChannelLists bool

	RefreshInterval time.Duration
	AllowlistFile   string
	Remote          allowlist.RemoteConfig

	IdentityURL string
	FriendsURL  string
	PresenceURL string
}

// LoadConfigFromEnv reads gate configuration from environment variables.
// A missing signing key is not an error here: the service starts and fails
// closed per request with a distinct "not configured" status, which is more
// observable than refusing to boot.
func LoadConfigFromEnv() (Config, error) {
	var raw gateEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		SigningKey:      decodeSigningKey(raw.SigningKey),
		AdminSecret:     strings.TrimSpace(raw.AdminSecret),
		WebhookToken:    strings.TrimSpace(raw.WebhookToken),
		TicketTTL:       raw.TicketTTL,
		TicketIssuer:    strings.TrimSpace(raw.TicketIssuer),
		TicketAudience:  strings.TrimSpace(raw.TicketAudience),
		PerChannelLists: raw.PerChannelLists,
		RefreshInterval: raw.RefreshInterval,
		AllowlistFile:   strings.TrimSpace(raw.AllowlistFile),
		Remote: allowlist.RemoteConfig{
			Repo:   strings.TrimSpace(raw.AllowlistRepo),
			Branch: strings.TrimSpace(raw.AllowlistBranch),
			Path:   strings.TrimSpace(raw.AllowlistPath),
			Token:  strings.TrimSpace(raw.AllowlistToken),
		},
		IdentityURL: strings.TrimSpace(raw.IdentityURL),
		FriendsURL:  strings.TrimSpace(raw.FriendsURL),
		PresenceURL: strings.TrimSpace(raw.PresenceURL),
	}
	return cfg, nil
}

// decodeSigningKey accepts the key as hex (what the gate-key tool emits) or,
// failing that, as raw bytes.
func decodeSigningKey(value string) []byte {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded
	}
	return []byte(value)
}
