package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradeiq client tooling.
type Config struct {
	Server  Server  `yaml:"server"`
	Stream  Stream  `yaml:"stream"`
	Chat    Chat    `yaml:"chat"`
	Storage Storage `yaml:"storage"`
	Alerts  Alerts  `yaml:"alerts"`
	Market  Market  `yaml:"market"`
	Daemon  Daemon  `yaml:"daemon"`
	Logging Logging `yaml:"logging"`
}

// Server identifies the TradeIQ backend socket endpoint.
type Server struct {
	BaseURL    string `yaml:"base_url"`
	SocketPath string `yaml:"socket_path"`
	UserID     string `yaml:"user_id"`
}

// Stream tunes the socket transport.
type Stream struct {
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelayMS int `yaml:"reconnect_base_delay_ms"`
	HandshakeTimeoutMS   int `yaml:"handshake_timeout_ms"`
	PingIntervalSec      int `yaml:"ping_interval_sec"`
}

// Chat tunes the chat session state machine. WelcomeText overrides the
// built-in welcome message when non-empty.
type Chat struct {
	AgentType     string `yaml:"agent_type"`
	WatchdogMS    int    `yaml:"watchdog_ms"`
	SettleDelayMS int    `yaml:"settle_delay_ms"`
	WelcomeText   string `yaml:"welcome_text"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alerts sizes the in-memory feed rings.
type Alerts struct {
	RecentAlerts    int `yaml:"recent_alerts"`
	RecentNarration int `yaml:"recent_narration"`
}

// Market selects the exchange calendar for session classification.
type Market struct {
	MIC string `yaml:"mic"`
}

// Daemon configures the headless alert daemon.
type Daemon struct {
	HTTPAddr         string `yaml:"http_addr"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults and loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			BaseURL:    "wss://api.tradeiq.app",
			SocketPath: "/chat/",
		},
		Stream: Stream{
			ReconnectMaxAttempts: 5,
			ReconnectBaseDelayMS: 1000,
			HandshakeTimeoutMS:   10000,
			PingIntervalSec:      30,
		},
		Chat: Chat{
			AgentType:     "auto",
			WatchdogMS:    45000,
			SettleDelayMS: 1000,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradeiq.db",
		},
		Alerts: Alerts{
			RecentAlerts:    256,
			RecentNarration: 512,
		},
		Market: Market{MIC: "xnys"},
		Daemon: Daemon{
			HTTPAddr:         "127.0.0.1:8787",
			FlushIntervalSec: 30,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads the YAML configuration file at the given path, overlays it on
// the built-in defaults, and then applies environment variable overrides.
// A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// TRADEIQ_-prefixed variables take priority over the generic names.
	if v := os.Getenv("TRADEIQ_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("TRADEIQ_USER_ID"); v != "" {
		cfg.Server.UserID = v
	}
	if v := os.Getenv("TRADEIQ_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TRADEIQ_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("TRADEIQ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRADEIQ_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
}

// ---------------------------------------------------------------------------
// Duration accessors
// ---------------------------------------------------------------------------

// ReconnectBaseDelay returns the first reconnect delay as a duration.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectBaseDelayMS) * time.Millisecond
}

// HandshakeTimeout returns the websocket dial handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Stream.HandshakeTimeoutMS) * time.Millisecond
}

// PingInterval returns the keepalive ping interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Stream.PingIntervalSec) * time.Second
}

// Watchdog returns the chat response watchdog duration.
func (c *Config) Watchdog() time.Duration {
	return time.Duration(c.Chat.WatchdogMS) * time.Millisecond
}

// SettleDelay returns the pause between the done and idle chat states.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Chat.SettleDelayMS) * time.Millisecond
}

// FlushInterval returns the archive flush cadence for the daemon.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Daemon.FlushIntervalSec) * time.Second
}
