package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

var (
	validCodecs     = map[string]bool{"json": true, "protobuf": true, "cbor": true}
	validPriorities = map[string]bool{"min": true, "low": true, "default": true, "high": true, "urgent": true}
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validTransports = map[string]bool{"http": true, "mqtt": true}
)

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs.add("server.port must be a number between 1 and 65535 (got %q)", c.Server.Port)
	}

	if c.Hub.SendBuffer < 3 {
		errs.add("hub.send_buffer must be >= 3 to hold the join snapshot (got %d)", c.Hub.SendBuffer)
	}
	if c.Hub.WriteWait <= 0 || c.Hub.PongWait <= 0 {
		errs.add("hub.write_wait and hub.pong_wait must be positive")
	}
	if c.Hub.MaxMessageSize <= 0 {
		errs.add("hub.max_message_size must be positive")
	}

	if u, err := url.Parse(c.Session.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs.add("session.url must be a ws:// or wss:// URL (got %q)", c.Session.URL)
	}
	if !validCodecs[c.Session.Codec] {
		errs.add("session.codec must be one of json, protobuf, cbor (got %q)", c.Session.Codec)
	}
	if c.Session.StaleAfter <= 0 || c.Session.CheckInterval <= 0 {
		errs.add("session.stale_after and session.check_interval must be positive")
	}
	if c.Session.ReconnectInterval <= 0 {
		errs.add("session.reconnect_interval must be positive")
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs.add("api.base_url must be an http:// or https:// URL (got %q)", c.API.BaseURL)
	}
	if c.API.RatePerSecond < 1 {
		errs.add("api.rate_per_second must be >= 1")
	}
	if c.API.RetryCount < 0 {
		errs.add("api.retry_count must not be negative")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs.add("mqtt.broker is required when mqtt.enabled is true")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs.add("mqtt.qos must be 0, 1 or 2 (got %d)", c.MQTT.QoS)
	}

	if c.Recorder.Enabled && c.Recorder.Path == "" {
		errs.add("recorder.path is required when recorder.enabled is true")
	}

	if !validTransports[c.Simulator.Transport] {
		errs.add("simulator.transport must be http or mqtt (got %q)", c.Simulator.Transport)
	}
	if c.Simulator.Interval <= 0 {
		errs.add("simulator.interval must be positive")
	}

	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.add("notify.topic is required when notify.enabled is true")
		}
		if !validPriorities[c.Notify.Priority] {
			errs.add("notify.priority must be one of min, low, default, high, urgent (got %q)", c.Notify.Priority)
		}
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs.add("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
