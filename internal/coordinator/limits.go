package coordinator

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/energizer-project/lockstep/internal/command"
)

// acceptLimiter throttles connection attempts per remote address.
type acceptLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[netip.Addr]*rate.Limiter
	lastSeen map[netip.Addr]time.Time
}

// limiterIdle is how long an address keeps its limiter after its last
// connection attempt.
const limiterIdle = 10 * time.Minute

func newAcceptLimiter(perSec float64, burst int) *acceptLimiter {
	if perSec <= 0 {
		return nil
	}
	return &acceptLimiter{
		limit:    rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[netip.Addr]*rate.Limiter),
		lastSeen: make(map[netip.Addr]time.Time),
	}
}

func (l *acceptLimiter) allow(addr netip.Addr) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	lim, ok := l.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[addr] = lim
	}
	l.lastSeen[addr] = now

	for a, seen := range l.lastSeen {
		if now.Sub(seen) > limiterIdle {
			delete(l.lastSeen, a)
			delete(l.limiters, a)
		}
	}
	return lim.AllowN(now, 1)
}

// PlayerLocks decides whether a password hash unlocks a player slot.
type PlayerLocks interface {
	Check(player uint8, hash command.PasswordHash) bool
}

// PasswordLocks keeps one password hash per player. A player without a
// password is open to everyone.
type PasswordLocks struct {
	mu     sync.RWMutex
	hashes [command.MaxPlayers]command.PasswordHash
}

// NewPasswordLocks creates locks with every player open.
func NewPasswordLocks() *PasswordLocks {
	return &PasswordLocks{}
}

// Set locks player with hash; the zero hash removes the lock.
func (l *PasswordLocks) Set(player uint8, hash command.PasswordHash) {
	if player >= command.MaxPlayers {
		return
	}
	l.mu.Lock()
	l.hashes[player] = hash
	l.mu.Unlock()
}

func (l *PasswordLocks) Check(player uint8, hash command.PasswordHash) bool {
	if player >= command.MaxPlayers {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	lock := l.hashes[player]
	return lock.Empty() || lock.Equal(hash)
}
