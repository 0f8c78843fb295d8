// Package ids generates prefixed, time-ordered identifiers.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"

	"github.com/oklog/ulid"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns "<prefix>_<ulid>" with ULIDs in strictly increasing order.
// It is safe for concurrent use and panics if entropy cannot be read.
func New(prefix string) string {
	mu.Lock()
	id := ulid.MustNew(ulid.Now(), entropy)
	mu.Unlock()
	return prefix + "_" + strings.ToLower(id.String())
}

// HasPrefix reports whether id was generated with prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_") && len(id) == len(prefix)+1+ulid.EncodedSize
}
