package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowTruncatesToSeconds(t *testing.T) {
	now := Now()
	assert.Zero(t, now.Nanosecond())
	assert.Equal(t, time.UTC, now.Location())
}

func TestSetOverridesNow(t *testing.T) {
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	Set(func() time.Time { return frozen })
	defer Reset()

	assert.Equal(t, frozen.Truncate(time.Second), Now())
}
