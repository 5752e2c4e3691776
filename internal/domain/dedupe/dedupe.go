// Package dedupe remembers recently seen keys so work is done at most once.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 1024

// Deduper records seen keys (pending upload files, sign-in nonces).
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so that it can be recorded again, e.g. after a
	// failed upload that should be retryable.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// ringDeduper keeps the newest maxSize keys in a ring; the oldest key is
// forgotten first. maxSize <= 0 means unbounded.
type ringDeduper struct {
	mu      sync.Mutex
	maxSize int
	seen    map[string]int // key -> ring slot (-1 when unbounded)
	ring    []string
	next    int
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ringDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *ringDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[key] = -1
		return false
	}

	// Evict whatever still owns the slot we are about to reuse.
	if old := d.ring[d.next]; d.ownsSlot(old, d.next) {
		delete(d.seen, old)
	}
	d.ring[d.next] = key
	d.seen[key] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *ringDeduper) ownsSlot(key string, slot int) bool {
	s, ok := d.seen[key]
	return ok && s == slot
}

func (d *ringDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

func (d *ringDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
