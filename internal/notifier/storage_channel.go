package notifier

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"wwnotes-sync/internal/repository"
)

const DefaultBroadcastSlot = "wwnotes_broadcast"

// StorageChannel writes each event into a shared slot file and watches that
// file for writes from other processes on the same data directory.
type StorageChannel struct {
	slots *repository.FileSlotBackend
	key   string
}

func NewStorageChannel(slots *repository.FileSlotBackend, key string) *StorageChannel {
	if key == "" {
		key = DefaultBroadcastSlot
	}
	return &StorageChannel{slots: slots, key: key}
}

func (c *StorageChannel) Name() string {
	return "storage"
}

func (c *StorageChannel) Publish(ctx context.Context, payload []byte) error {
	return c.slots.Set(ctx, c.key, payload)
}

func (c *StorageChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched rather than the file: atomic writes replace
	// the file, which would drop a file-level watch.
	if err := watcher.Add(c.slots.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.slots.Dir(), err)
	}
	target := filepath.Clean(c.slots.Path(c.key))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			data, err := c.slots.Get(ctx, c.key)
			if err != nil || len(data) == 0 {
				continue
			}
			deliver(data)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}
