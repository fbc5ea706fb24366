package sqlite_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinoma/cellar/pkg/store/sqlite"
)

func TestForEachCursorWalksAllPages(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	page := func(ctx context.Context, after string, limit int) ([]string, string, error) {
		start := 0
		for i, it := range items {
			if it > after {
				start = i
				break
			}
			start = i + 1
		}
		end := start + limit
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		last := after
		if len(chunk) > 0 {
			last = chunk[len(chunk)-1]
		}
		return chunk, last, nil
	}

	var got []string
	err := sqlite.ForEachCursor(context.Background(), 2, page, func(item string) error {
		got = append(got, item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestForEachCursorStopsOnCallbackError(t *testing.T) {
	page := func(ctx context.Context, after string, limit int) ([]int, string, error) {
		return []int{1, 2, 3}, "k", nil
	}

	var seen int
	err := sqlite.ForEachCursor(context.Background(), 3, page, func(item int) error {
		seen++
		if item == 2 {
			return fmt.Errorf("stop here")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, seen)
}

func TestForEachCursorEmpty(t *testing.T) {
	page := func(ctx context.Context, after string, limit int) ([]string, string, error) {
		return nil, after, nil
	}
	err := sqlite.ForEachCursor(context.Background(), 10, page, func(string) error {
		t.Fatal("callback must not run for an empty result")
		return nil
	})
	assert.NoError(t, err)
}
