package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("defaults invalid: %v", result.Errors)
	}
}

func TestLoadCreatesAndOverlays(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.Port != DefaultPort {
		t.Fatalf("port = %d", cfg.Network.Port)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	partial := `{"network": {"port": 14000, "server_name": "test"}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	n := cfg.GetNetwork()
	if n.Port != 14000 || n.ServerName != "test" {
		t.Fatalf("overlay lost: %+v", n)
	}
	if n.MaxClients != DefaultMaxClients || n.TickMillis != 20 {
		t.Fatalf("defaults not kept under overlay: %+v", n)
	}

	saved, _ := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	if !strings.Contains(string(saved), "max_clients") {
		t.Fatalf("re-save did not persist defaults")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"port", func(c *Config) { c.Network.Port = 70000 }, "network.port"},
		{"clients", func(c *Config) { c.Network.MaxClients = 1 }, "network.max_clients"},
		{"tick", func(c *Config) { c.Network.TickMillis = 0 }, "network.tick_ms"},
		{"burst", func(c *Config) { c.Network.AcceptBurst = 0 }, "network.accept_burst"},
		{"announce", func(c *Config) {
			c.ApplicationData.Announce.Enabled = true
			c.ApplicationData.Announce.URL = "::"
		}, "application_data.announce.url"},
		{"mqtt", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }, "application_data.mqtt.broker_url"},
		{"status port", func(c *Config) { c.ApplicationData.Status.Port = DefaultPort }, "application_data.status_api.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(cfg)
			result := Validate(cfg)
			for _, e := range result.Errors {
				if e.Field == tt.field {
					return
				}
			}
			t.Fatalf("no error on %s: %v", tt.field, result.Errors)
		})
	}
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	answers := strings.Join([]string{"My Server", "14001", "", "hunter2", "no", "no", "yes"}, "\n") + "\n"
	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("wizard: %v\n%s", err, out.String())
	}
	if cfg.Network.ServerName != "My Server" || cfg.Network.Port != 14001 {
		t.Fatalf("answers not applied: %+v", cfg.Network)
	}
	if cfg.Network.MaxClients != DefaultMaxClients || cfg.IsFirstRun() {
		t.Fatalf("defaults or password lost: %+v", cfg.Network)
	}
}
