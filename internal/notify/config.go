package notify

import (
	"strings"

	"github.com/dgnsrekt/telemetry-relay/internal/config"
)

// Config holds ntfy notification configuration.
type Config struct {
	Enabled  bool   // Whether notifications are enabled
	Server   string // ntfy server URL (default: https://ntfy.sh)
	Topic    string // Topic name (required if enabled)
	Priority string // Message priority: min, low, default, high, urgent
	Tags     string // Comma-separated emoji tags (e.g., "satellite")
	Token    string // Optional access token for private topics
}

// FromSettings converts the notify section of the relay configuration.
// Validation happens in config.Validate.
func FromSettings(s config.NotifyConfig) *Config {
	cfg := &Config{
		Enabled:  s.Enabled,
		Server:   strings.TrimSuffix(s.Server, "/"),
		Topic:    s.Topic,
		Priority: s.Priority,
		Tags:     s.Tags,
		Token:    s.Token,
	}
	if cfg.Server == "" {
		cfg.Server = "https://ntfy.sh"
	}
	if cfg.Priority == "" {
		cfg.Priority = "default"
	}
	return cfg
}
