// Package idgen generates aggregate identifiers.
//
// IDs are 26-character ULIDs: lexicographically sortable and monotonic
// within the process, so IDs minted in the same millisecond still sort in
// generation order.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a new sortable unique identifier.
func NewID() string {
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}
