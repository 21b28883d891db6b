package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReferenceGenerator generates unique transaction ids and internal
// references. ULIDs are lexicographically sortable, which keeps the
// transactions table roughly insertion-ordered on its primary key.
type ReferenceGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewID generates a bare ULID (26 chars, sortable, URL-safe).
// Example: 01ARZ3NDEKTSV4RRFFQ69G5FAV
func (g *ReferenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// NewReference generates a prefixed reference, e.g. "PM-WDL-01ARZ3...".
// The prefix identifies the transaction family in support tooling.
func (g *ReferenceGenerator) NewReference(prefix string) string {
	return fmt.Sprintf("PM-%s-%s", strings.ToUpper(prefix), g.NewID())
}
