// Package events defines the notifications the synchronization loop publishes
// for services running beside it.
package events

import (
	"time"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Slot lifecycle
	EventClientConnected    EventType = "client_connected"
	EventClientRejected     EventType = "client_rejected"
	EventClientStateChanged EventType = "client_state_changed"
	EventClientReset        EventType = "client_reset"

	// Administration
	EventAdminLogin  EventType = "admin_login"
	EventBanChanged  EventType = "ban_changed"
	EventAdminNotice EventType = "admin_notice"

	// Server
	EventListening   EventType = "listening"
	EventAnnounce    EventType = "announce"
	EventShutdown    EventType = "shutdown"
	EventHealthAlert EventType = "health_alert"
)

// Event is a single notification.
type Event struct {
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent stamps a notification with the current time.
func NewEvent(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Timestamp: time.Now(), Payload: payload}
}

// ClientPayload describes a registry slot at the time of the event.
type ClientPayload struct {
	ID       uint32 `json:"id"`
	Address  string `json:"address"`
	Nickname string `json:"nickname,omitempty"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
}

// BanPayload describes a blacklist change.
type BanPayload struct {
	Prefix string `json:"prefix"`
	Banned bool   `json:"banned"`
	By     uint32 `json:"by"`
}

// AnnouncePayload is the usage report sent to the server list.
type AnnouncePayload struct {
	Name             string  `json:"name"`
	Host             string  `json:"host"`
	Port             int     `json:"port"`
	Version          uint16  `json:"version"`
	ConnectedClients int     `json:"clients"`
	PlayingClients   int     `json:"playing"`
	Capacity         int     `json:"capacity"`
	Status           string  `json:"status"`
	OS               string  `json:"os,omitempty"`
	CPUCores         int     `json:"cpu_cores,omitempty"`
	CPUUsage         float64 `json:"cpu_usage,omitempty"`
	MemoryUsedPct    float64 `json:"memory_used_pct,omitempty"`
}

// HealthPayload reports a host check that crossed a threshold.
type HealthPayload struct {
	Check   string  `json:"check"`
	Level   string  `json:"level"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}
