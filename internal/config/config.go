// Package config handles configuration loading, validation, and persistence
// for the lockstep server daemon and admin tool.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "lockstep.json"
	DefaultPort       = 13353
	DefaultStatusPort = 13380
	DefaultMaxClients = 64
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Network         NetworkConfig   `json:"network"`
	ApplicationData ApplicationData `json:"application_data"`
}

// NetworkConfig drives the listen sockets and the synchronization loop.
type NetworkConfig struct {
	ServerName      string   `json:"server_name"`
	ListenAddresses []string `json:"listen_addresses"`
	Port            int      `json:"port"`
	MaxClients      int      `json:"max_clients"`

	TickMillis      int `json:"tick_ms"`
	IOTimeoutMillis int `json:"io_timeout_ms"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`

	// AdminPassword enables the login_admin service operation when set.
	AdminPassword string `json:"admin_password"`

	// Accepts allowed per remote address and second; 0 disables the limit.
	AcceptRate  float64 `json:"accept_rate_per_sec"`
	AcceptBurst int     `json:"accept_burst"`
}

// Tick returns the poll timeout of one loop iteration.
func (n NetworkConfig) Tick() time.Duration {
	return time.Duration(n.TickMillis) * time.Millisecond
}

// IOTimeout returns the bound on a single socket read or write.
func (n NetworkConfig) IOTimeout() time.Duration {
	return time.Duration(n.IOTimeoutMillis) * time.Millisecond
}

// IdleTimeout returns how long a client may stay silent; 0 disables it.
func (n NetworkConfig) IdleTimeout() time.Duration {
	return time.Duration(n.IdleTimeoutSec) * time.Second
}

// ApplicationData contains the settings of the services around the loop.
type ApplicationData struct {
	Blacklist   BlacklistConfig   `json:"blacklist"`
	Announce    AnnounceConfig    `json:"announce"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Status      StatusConfig      `json:"status_api"`
	Logging     LoggingConfig     `json:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// MaintenanceConfig schedules the daily housekeeping run.
type MaintenanceConfig struct {
	Enabled            bool   `json:"enabled"`
	Time               string `json:"time"`
	AuditRetentionDays int    `json:"audit_retention_days"`
	HealthIntervalSec  int    `json:"health_interval_sec"`
}

// HealthInterval returns the period of the host health checks; zero
// disables them.
func (m MaintenanceConfig) HealthInterval() time.Duration {
	return time.Duration(m.HealthIntervalSec) * time.Second
}

// BlacklistConfig selects where bans are persisted.
type BlacklistConfig struct {
	Persist bool   `json:"persist"`
	DBPath  string `json:"db_path"`
}

// AnnounceConfig holds the server list usage report settings.
type AnnounceConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	IntervalSec int    `json:"interval_sec"`
	PublicHost  string `json:"public_host"`
}

// Interval returns the announce period.
func (a AnnounceConfig) Interval() time.Duration {
	return time.Duration(a.IntervalSec) * time.Second
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic_prefix"`
}

// StatusConfig holds the read-only HTTP status API settings.
type StatusConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ServerName:      "lockstep server",
			ListenAddresses: []string{"0.0.0.0", "::"},
			Port:            DefaultPort,
			MaxClients:      DefaultMaxClients,
			TickMillis:      20,
			IOTimeoutMillis: 5,
			IdleTimeoutSec:  0,
			AcceptRate:      2,
			AcceptBurst:     4,
		},
		ApplicationData: ApplicationData{
			Blacklist: BlacklistConfig{
				Persist: true,
				DBPath:  filepath.Join("data", "blacklist.db"),
			},
			Announce: AnnounceConfig{
				Enabled:     false,
				URL:         "https://servers.example.org/announce",
				IntervalSec: 900,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
				Topic:   "lockstep",
			},
			Status: StatusConfig{
				Enabled: true,
				Address: "127.0.0.1",
				Port:    DefaultStatusPort,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				Console:    true,
			},
			Maintenance: MaintenanceConfig{
				Enabled:            true,
				Time:               "04:00",
				AuditRetentionDays: 30,
				HealthIntervalSec:  300,
			},
		},
	}
}

// Load reads DefaultConfigFile from configDir over DefaultConfig. A missing
// file is written out with defaults; an existing one is rewritten so it lists
// every option this build knows.
func Load(configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(cfg.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("path", cfg.path).Msg("no config file, writing defaults")
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", cfg.path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", cfg.path, err)
	}
	log.Info().Str("path", cfg.path).Msg("configuration loaded")

	if err := cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("could not rewrite config with current defaults")
	}
	return cfg, nil
}

// Save writes the configuration through a temporary file so a crash never
// leaves a truncated config behind.
func (c *Config) Save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.Network
	n.ListenAddresses = append([]string(nil), c.Network.ListenAddresses...)
	return n
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether the admin password was never configured.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network.AdminPassword == ""
}
