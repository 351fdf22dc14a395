package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"wwnotes-sync/internal/domain"
)

// SlotBackend stores opaque slot payloads by key. Get returns (nil, nil) for
// a slot that was never written.
type SlotBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

type LocalCacheOptions struct {
	Slots      []string
	Capacity   int
	QuotaBytes int
}

// LocalCache writes the same catalog redundantly into several slots so that
// any one surviving slot is enough to rebuild it.
type LocalCache struct {
	backend  SlotBackend
	slots    []string
	capacity int
	quota    int
	now      func() time.Time
}

type slotPayload struct {
	Documents   []domain.Document `json:"documents"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

func NewLocalCache(backend SlotBackend, opts LocalCacheOptions) *LocalCache {
	return &LocalCache{
		backend:  backend,
		slots:    append([]string(nil), opts.Slots...),
		capacity: opts.Capacity,
		quota:    opts.QuotaBytes,
		now:      time.Now,
	}
}

func (c *LocalCache) Slots() []string {
	return append([]string(nil), c.slots...)
}

// ReadSlot returns the documents stored under key, or nil when the slot is
// empty.
func (c *LocalCache) ReadSlot(ctx context.Context, key string) ([]domain.Document, error) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	snap, err := decodeSnapshot(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode slot %s: %w", key, err)
	}
	return snap.Documents, nil
}

// WriteSlot stores the capacity most recent docs. When the encoded payload
// does not fit the quota the kept set is halved and written once more.
func (c *LocalCache) WriteSlot(ctx context.Context, key string, docs []domain.Document) error {
	kept := domain.Truncate(docs, c.capacity)

	err := c.write(ctx, key, kept)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		return err
	}

	half := kept[:len(kept)/2]
	log.Printf("[LocalCache] slot %s over quota, retrying with %d of %d documents", key, len(half), len(kept))
	if err := c.write(ctx, key, half); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

// WriteAll writes docs to every slot and returns the first failure after
// attempting all of them.
func (c *LocalCache) WriteAll(ctx context.Context, docs []domain.Document) error {
	var first error
	for _, key := range c.slots {
		if err := c.WriteSlot(ctx, key, docs); err != nil {
			log.Printf("[LocalCache] write %s failed: %v", key, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ReadAll concatenates every readable slot. Unreadable or corrupt slots are
// logged and skipped.
func (c *LocalCache) ReadAll(ctx context.Context) []domain.Document {
	var all []domain.Document
	for _, key := range c.slots {
		docs, err := c.ReadSlot(ctx, key)
		if err != nil {
			log.Printf("[LocalCache] skipping slot: %v", err)
			continue
		}
		all = append(all, docs...)
	}
	return all
}

func (c *LocalCache) write(ctx context.Context, key string, docs []domain.Document) error {
	if docs == nil {
		docs = []domain.Document{}
	}
	data, err := json.Marshal(slotPayload{Documents: docs, LastUpdated: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode slot %s: %w", key, err)
	}
	if c.quota > 0 && len(data) > c.quota {
		return domain.ErrQuotaExceeded
	}
	return c.backend.Set(ctx, key, data)
}

// MemorySlotBackend keeps slots in process memory. It stands in for
// per-session storage and for tests.
type MemorySlotBackend struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemorySlotBackend() *MemorySlotBackend {
	return &MemorySlotBackend{slots: make(map[string][]byte)}
}

func (m *MemorySlotBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.slots[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemorySlotBackend) Set(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = append([]byte(nil), data...)
	return nil
}

// TieredCache spreads the catalog over several caches, for example the
// persistent slots plus a per-process session slot.
type TieredCache struct {
	caches []*LocalCache
}

func NewTieredCache(caches ...*LocalCache) *TieredCache {
	return &TieredCache{caches: caches}
}

func (t *TieredCache) WriteAll(ctx context.Context, docs []domain.Document) error {
	var first error
	for _, c := range t.caches {
		if err := c.WriteAll(ctx, docs); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *TieredCache) ReadAll(ctx context.Context) []domain.Document {
	var all []domain.Document
	for _, c := range t.caches {
		all = append(all, c.ReadAll(ctx)...)
	}
	return all
}
