// Package ids generates the lexicographically sortable identifiers used for
// messages and stored blobs.
package ids

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyOnce sync.Once
	entropyMu   sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

func newEntropy() *ulid.MonotonicEntropy {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})
	return entropy
}

// New returns a lower-case ULID stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a lower-case ULID stamped with t. Ids drawn within the same
// millisecond sort in generation order.
func NewAt(t time.Time) string {
	e := newEntropy()
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), e)
	entropyMu.Unlock()
	return strings.ToLower(id.String())
}

// IsValid reports whether value parses as a ULID.
func IsValid(value string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimSpace(value)))
	return err == nil
}
