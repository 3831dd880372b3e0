package domain

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(crand.Reader, 0)
)

// NewULID returns a time-sortable identifier. IDs generated in the same
// millisecond are strictly increasing.
func NewULID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}

// NewUUID returns a random v4 UUID string.
func NewUUID() string {
	return uuid.NewString()
}
