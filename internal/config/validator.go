package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateNetwork(&cfg.Network, result)
	validateApplicationData(&cfg.ApplicationData, cfg.Network.Port, result)

	return result
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	validatePort(n.Port, "network.port", result)

	for i, addr := range n.ListenAddresses {
		if strings.TrimSpace(addr) == "" {
			result.AddError(fmt.Sprintf("network.listen_addresses[%d]", i), "empty listen address")
			continue
		}
		if _, err := netip.ParseAddr(addr); err != nil {
			result.AddWarning(fmt.Sprintf("network.listen_addresses[%d]", i),
				fmt.Sprintf("%q is not an IP literal and will be resolved at startup", addr))
		}
	}

	if n.MaxClients < 2 {
		result.AddError("network.max_clients", "must allow at least one listen socket and one client")
	}
	if n.MaxClients > 1024 {
		result.AddWarning("network.max_clients",
			fmt.Sprintf("high client count (%d) makes every tick slower", n.MaxClients))
	}

	if n.TickMillis < 1 {
		result.AddError("network.tick_ms", "tick must be at least 1ms")
	}
	if n.IOTimeoutMillis < 1 {
		result.AddError("network.io_timeout_ms", "socket timeout must be at least 1ms")
	} else if n.IOTimeoutMillis > n.TickMillis {
		result.AddWarning("network.io_timeout_ms", "socket timeout longer than a tick lets one peer stall the loop")
	}

	if n.AdminPassword == "" {
		result.AddWarning("network.admin_password", "no admin password set, remote administration is disabled")
	}
	if n.AcceptRate < 0 {
		result.AddError("network.accept_rate_per_sec", "must not be negative")
	}
	if n.AcceptRate > 0 && n.AcceptBurst < 1 {
		result.AddError("network.accept_burst", "burst must be at least 1 when rate limiting is on")
	}
}

func validateApplicationData(data *ApplicationData, gamePort int, result *ValidationResult) {
	if data.Blacklist.Persist && strings.TrimSpace(data.Blacklist.DBPath) == "" {
		result.AddError("application_data.blacklist.db_path", "database path is required when persisting bans")
	}

	if data.Announce.Enabled {
		if u, err := url.Parse(data.Announce.URL); err != nil || u.Host == "" {
			result.AddError("application_data.announce.url", "a valid announce URL is required when enabled")
		}
		if data.Announce.IntervalSec < 60 {
			result.AddWarning("application_data.announce.interval_sec",
				"announce interval less than 60s may cause excessive requests")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Maintenance.Enabled {
		if _, err := time.Parse("15:04", data.Maintenance.Time); err != nil {
			result.AddError("application_data.maintenance.time", "time must be HH:MM")
		}
		if data.Maintenance.AuditRetentionDays < 1 {
			result.AddError("application_data.maintenance.audit_retention_days", "retention must be at least one day")
		}
	}

	if data.Status.Enabled {
		validatePort(data.Status.Port, "application_data.status_api.port", result)
		if data.Status.Port == gamePort {
			result.AddError("application_data.status_api.port", "port conflict with network.port")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
