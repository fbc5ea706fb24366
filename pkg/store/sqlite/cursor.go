package sqlite

import "context"

// Page fetches up to limit items with a primary key greater than after, in
// ascending key order, returning the items and the key of the last one.
type Page[T any] func(ctx context.Context, after string, limit int) (items []T, lastKey string, err error)

// ForEachCursor streams a large result set through fn without holding it in
// memory, using keyset pagination: each page resumes strictly after the last
// key of the previous one, so concurrent inserts never shift the window.
func ForEachCursor[T any](ctx context.Context, size int, page Page[T], fn func(T) error) error {
	if size <= 0 {
		size = 1000
	}
	after := ""
	for {
		items, lastKey, err := page(ctx, after, size)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(items) < size {
			return nil
		}
		after = lastKey
	}
}
