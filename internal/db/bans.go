package db

import (
	"database/sql"
	"fmt"
	"net/netip"
	"time"
)

// BanStore keeps the blacklist across restarts. It satisfies
// network.BlacklistStore.
type BanStore struct {
	db *Database
}

// Ban is a stored prefix with the time it was added.
type Ban struct {
	Prefix    netip.Prefix
	CreatedAt time.Time
}

// NewBanStore returns a store backed by d.
func NewBanStore(d *Database) *BanStore {
	return &BanStore{db: d}
}

// LoadPrefixes returns every stored prefix. Rows that no longer parse are
// skipped and logged.
func (s *BanStore) LoadPrefixes() ([]netip.Prefix, error) {
	bans, err := s.Bans()
	if err != nil {
		return nil, err
	}
	out := make([]netip.Prefix, 0, len(bans))
	for _, b := range bans {
		out = append(out, b.Prefix)
	}
	return out, nil
}

// Bans returns the stored prefixes, oldest first.
func (s *BanStore) Bans() ([]Ban, error) {
	rows, err := s.db.Query("SELECT prefix, created_at FROM bans ORDER BY created_at, prefix")
	if err != nil {
		return nil, fmt.Errorf("failed to load bans: %w", err)
	}
	defer rows.Close()

	var out []Ban
	for rows.Next() {
		var (
			raw     string
			created sql.NullTime
		)
		if err := rows.Scan(&raw, &created); err != nil {
			return nil, err
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			logger.Warn().Str("prefix", raw).Err(err).Msg("skipping malformed ban")
			continue
		}
		out = append(out, Ban{Prefix: p, CreatedAt: created.Time})
	}
	return out, rows.Err()
}

// SavePrefix stores p; saving a stored prefix is a no-op.
func (s *BanStore) SavePrefix(p netip.Prefix) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO bans (prefix) VALUES (?)", p.String())
	if err != nil {
		return fmt.Errorf("failed to save ban %s: %w", p, err)
	}
	return nil
}

// DeletePrefix removes p.
func (s *BanStore) DeletePrefix(p netip.Prefix) error {
	_, err := s.db.Exec("DELETE FROM bans WHERE prefix = ?", p.String())
	if err != nil {
		return fmt.Errorf("failed to delete ban %s: %w", p, err)
	}
	return nil
}
