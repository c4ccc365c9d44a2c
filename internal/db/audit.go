package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/energizer-project/lockstep/internal/events"
)

// AuditEntry is one recorded administrative event.
type AuditEntry struct {
	ID        int       `json:"id"`
	Type      string    `json:"type"`
	ClientID  uint32    `json:"client_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog records logins, ban changes, refused peers and admin notices.
type AuditLog struct {
	db *Database
}

// NewAuditLog returns an audit log backed by d.
func NewAuditLog(d *Database) *AuditLog {
	return &AuditLog{db: d}
}

// auditedEvents are the event types the audit log keeps.
var auditedEvents = []events.EventType{
	events.EventAdminLogin,
	events.EventBanChanged,
	events.EventClientRejected,
	events.EventAdminNotice,
	events.EventShutdown,
	events.EventHealthAlert,
}

// Subscribe records audited events published on bus.
func (a *AuditLog) Subscribe(bus *events.EventBus) {
	bus.Subscribe("audit", a.handle, auditedEvents...)
}

func (a *AuditLog) handle(_ context.Context, ev events.Event) error {
	id, msg := describe(ev)
	return a.Record(string(ev.Type), id, msg)
}

func describe(ev events.Event) (uint32, string) {
	switch p := ev.Payload.(type) {
	case events.ClientPayload:
		if p.Reason != "" {
			return p.ID, fmt.Sprintf("%s %s: %s", p.Address, p.State, p.Reason)
		}
		return p.ID, fmt.Sprintf("%s %s", p.Address, p.State)
	case events.BanPayload:
		verb := "unbanned"
		if p.Banned {
			verb = "banned"
		}
		return p.By, fmt.Sprintf("%s %s", verb, p.Prefix)
	case events.HealthPayload:
		return 0, fmt.Sprintf("%s %s: %s", p.Check, p.Level, p.Message)
	case string:
		return 0, p
	case nil:
		return 0, string(ev.Type)
	default:
		return 0, fmt.Sprint(p)
	}
}

// Record stores one entry.
func (a *AuditLog) Record(kind string, clientID uint32, message string) error {
	_, err := a.db.Exec(
		"INSERT INTO audit (type, client_id, message) VALUES (?, ?, ?)",
		kind, clientID, message)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (a *AuditLog) Recent(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		"SELECT id, type, client_id, message, created_at FROM audit ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			created sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.ClientID, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes entries older than days.
func (a *AuditLog) Prune(days int) error {
	_, err := a.db.Exec(
		"DELETE FROM audit WHERE created_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", days))
	return err
}
