package command

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/energizer-project/lockstep/internal/wire"
)

// PasswordHash is the 20-byte SHA-1 digest players lock their company with.
// The zero value means no password is set.
type PasswordHash [sha1.Size]byte

// HashPassword digests a clear-text password.
func HashPassword(password string) PasswordHash {
	return PasswordHash(sha1.Sum([]byte(password)))
}

// Empty reports whether every byte is zero.
func (h PasswordHash) Empty() bool {
	return h == PasswordHash{}
}

// Equal compares two hashes byte by byte. The comparison is not constant
// time.
func (h PasswordHash) Equal(other PasswordHash) bool {
	return h == other
}

func (h PasswordHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h *PasswordHash) rdwr(c *wire.Cursor) {
	c.Raw(h[:])
}
