// Package clock provides the time source for the cellar.
//
// All domain timestamps are stored at whole-second resolution, so Now
// truncates sub-second precision up front. Tests may pin the source with Set.
package clock

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	nowFn = time.Now
)

// Now returns the current time in UTC, truncated to whole seconds.
func Now() time.Time {
	mu.RLock()
	fn := nowFn
	mu.RUnlock()
	return fn().UTC().Truncate(time.Second)
}

// Set replaces the time source. Intended for tests.
func Set(fn func() time.Time) {
	mu.Lock()
	nowFn = fn
	mu.Unlock()
}

// Reset restores the real time source.
func Reset() {
	Set(time.Now)
}
