package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Hub       HubConfig       `mapstructure:"hub"`
	Session   SessionConfig   `mapstructure:"session"`
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Validate REST requests against the embedded OpenAPI document.
	ValidateRequests bool `mapstructure:"validate_requests"`
}

type HubConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SSEHeartbeat   time.Duration `mapstructure:"sse_heartbeat"`
}

type SessionConfig struct {
	URL               string        `mapstructure:"url"`
	Codec             string        `mapstructure:"codec"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RatePerSecond int           `mapstructure:"rate_per_second"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type RecorderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	QueueSize int    `mapstructure:"queue_size"`
}

type SimulatorConfig struct {
	Transport string        `mapstructure:"transport"` // "http" or "mqtt"
	Interval  time.Duration `mapstructure:"interval"`
	CenterLat float64       `mapstructure:"center_lat"`
	CenterLon float64       `mapstructure:"center_lon"`
	Radius    float64       `mapstructure:"radius_m"`
	Altitude  float64       `mapstructure:"altitude_m"`
	Topic     string        `mapstructure:"topic"`
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Priority string `mapstructure:"priority"`
	Tags     string `mapstructure:"tags"`
	Token    string `mapstructure:"token"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.validate_requests", true)

	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.write_wait", 10*time.Second)
	v.SetDefault("hub.pong_wait", 60*time.Second)
	v.SetDefault("hub.max_message_size", 64*1024)
	v.SetDefault("hub.sse_heartbeat", 15*time.Second)

	v.SetDefault("session.url", "ws://localhost:3001/ws")
	v.SetDefault("session.codec", "json")
	v.SetDefault("session.stale_after", 5*time.Second)
	v.SetDefault("session.check_interval", time.Second)
	v.SetDefault("session.reconnect_interval", 2*time.Second)

	v.SetDefault("api.base_url", "http://localhost:3001")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay", 500*time.Millisecond)
	v.SetDefault("api.rate_per_second", 20)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "relay/+/telemetry")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.path", "data/flightlog.db")
	v.SetDefault("recorder.queue_size", 1024)

	v.SetDefault("simulator.transport", "http")
	v.SetDefault("simulator.interval", time.Second)
	v.SetDefault("simulator.center_lat", 37.7749)
	v.SetDefault("simulator.center_lon", -122.4194)
	v.SetDefault("simulator.radius_m", 200.0)
	v.SetDefault("simulator.altitude_m", 50.0)
	v.SetDefault("simulator.topic", "relay/sim/telemetry")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
}

// Load reads configuration from defaults, an optional YAML file and RELAY_*
// environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// PORT is honoured for container platforms that inject it.
	_ = v.BindEnv("server.port", "RELAY_SERVER_PORT", "PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
