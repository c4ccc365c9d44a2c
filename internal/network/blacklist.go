package network

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lockstep/internal/wire"
)

// BlacklistStore persists banned prefixes. The blacklist keeps working from
// memory when no store is attached or a store call fails.
type BlacklistStore interface {
	LoadPrefixes() ([]netip.Prefix, error)
	SavePrefix(p netip.Prefix) error
	DeletePrefix(p netip.Prefix) error
}

// Blacklist is the set of address prefixes refused at accept time.
type Blacklist struct {
	mu       sync.RWMutex
	prefixes []netip.Prefix
	store    BlacklistStore
}

// NewBlacklist creates an empty in-memory blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{}
}

// ParsePrefix accepts either a CIDR prefix or a bare address, which bans
// that single host.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return normalize(p), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func normalize(p netip.Prefix) netip.Prefix {
	if p.Addr().Is4In6() && p.Bits() >= 96 {
		p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
	}
	return p.Masked()
}

// Attach loads the prefixes held by store and persists later changes to it.
func (b *Blacklist) Attach(store BlacklistStore) error {
	loaded, err := store.LoadPrefixes()
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store = store
	for _, p := range loaded {
		b.insert(normalize(p))
	}
	return nil
}

// Contains reports whether addr falls inside a banned prefix.
func (b *Blacklist) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Add bans a prefix. It reports false when the prefix was already present.
func (b *Blacklist) Add(p netip.Prefix) bool {
	p = normalize(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.insert(p) {
		return false
	}
	if b.store != nil {
		if err := b.store.SavePrefix(p); err != nil {
			log.Warn().Err(err).Str("prefix", p.String()).Msg("failed to persist ban")
		}
	}
	return true
}

func (b *Blacklist) insert(p netip.Prefix) bool {
	if slices.Contains(b.prefixes, p) {
		return false
	}
	b.prefixes = append(b.prefixes, p)
	return true
}

// Remove lifts a ban. It reports whether the prefix was present.
func (b *Blacklist) Remove(p netip.Prefix) bool {
	p = normalize(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.prefixes, p)
	if i < 0 {
		return false
	}
	b.prefixes = slices.Delete(b.prefixes, i, i+1)
	if b.store != nil {
		if err := b.store.DeletePrefix(p); err != nil {
			log.Warn().Err(err).Str("prefix", p.String()).Msg("failed to remove persisted ban")
		}
	}
	return true
}

// List returns the banned prefixes in insertion order.
func (b *Blacklist) List() []netip.Prefix {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.prefixes)
}

// Strings returns the banned prefixes in CIDR notation.
func (b *Blacklist) Strings() []string {
	list := b.List()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.String()
	}
	return out
}

// Len returns the number of banned prefixes.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prefixes)
}

// Rdwr transfers the blacklist through a cursor: a uint32 count followed by
// one CIDR string per entry. Loading replaces the in-memory set and skips
// entries that do not parse.
func (b *Blacklist) Rdwr(c *wire.Cursor) {
	if c.Saving() {
		list := b.Strings()
		n := uint32(len(list))
		c.Uint32(&n)
		for i := range list {
			c.String(&list[i])
		}
		return
	}

	var n uint32
	c.Uint32(&n)
	var loaded []netip.Prefix
	for i := uint32(0); i < n && !c.Overflow(); i++ {
		var s string
		c.String(&s)
		if p, err := ParsePrefix(s); err == nil {
			loaded = append(loaded, p)
		}
	}
	b.mu.Lock()
	b.prefixes = nil
	for _, p := range loaded {
		b.insert(p)
	}
	b.mu.Unlock()
}
