package ledger

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// fanOut runs task for every key with at most limit calls in flight. Failures
// do not cancel sibling tasks; they are combined and returned together.
func fanOut(ctx context.Context, limit int, keys []string, task func(ctx context.Context, key string) error) error {
	if len(keys) == 0 {
		return nil
	}
	var group errgroup.Group
	group.SetLimit(limit)
	var mutex sync.Mutex
	var combined error
	for _, key := range keys {
		key := key
		group.Go(func() error {
			if err := task(ctx, key); err != nil {
				mutex.Lock()
				combined = multierr.Append(combined, err)
				mutex.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return combined
}

// fetchSlots loads the slots concurrently, skipping keys that no longer exist.
// Results keep the order of keys.
func fetchSlots(ctx context.Context, store Store, limit int, keys []string) ([]BookedSlot, error) {
	keys = uniqueStrings(keys)
	found := make([]*BookedSlot, len(keys))
	indexByKey := make(map[string]int, len(keys))
	for index, key := range keys {
		indexByKey[key] = index
	}
	err := fanOut(ctx, limit, keys, func(ctx context.Context, key string) error {
		slotKey, err := NewSlotKey(key)
		if err != nil {
			return nil
		}
		slot, err := store.GetSlot(ctx, slotKey)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		found[indexByKey[key]] = &slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	slots := make([]BookedSlot, 0, len(keys))
	for _, slot := range found {
		if slot != nil {
			slots = append(slots, *slot)
		}
	}
	return slots, nil
}
