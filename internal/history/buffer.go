package history

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the rolling chat log; DefaultReplayCount is how
// many of the newest entries a late joiner receives.
const (
	DefaultCapacity    = 100
	DefaultReplayCount = 10
)

// Entry is one stored chat message. Entries keep whatever fields the
// sender supplied; the buffer only injects the server-assigned id and
// timestamp. An entry is immutable once appended.
type Entry map[string]interface{}

// Buffer is a bounded, ordered log of chat messages. Appends evict the
// oldest entry past capacity (FIFO); ids are strictly increasing for the
// lifetime of the process.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	entries  []Entry
}

// NewBuffer creates a buffer holding at most capacity entries.
// Non-positive capacities fall back to the default.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		nextID:   1,
		entries:  make([]Entry, 0, capacity),
	}
}

// Append stores a copy of msg with a server-assigned id and ISO-8601
// timestamp and returns the stored form. The caller's map is not
// retained or mutated.
func (b *Buffer) Append(msg map[string]interface{}) Entry {
	stored := make(Entry, len(msg)+2)
	for k, v := range msg {
		stored[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stored["id"] = b.nextID
	stored["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	b.nextID++

	b.entries = append(b.entries, stored)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[1:]
	}

	return stored
}

// Recent returns the last k entries in append order. It never blocks on
// appends in progress and never exposes internal storage.
func (b *Buffer) Recent(k int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if k <= 0 || len(b.entries) == 0 {
		return nil
	}
	if k > len(b.entries) {
		k = len(b.entries)
	}

	out := make([]Entry, k)
	copy(out, b.entries[len(b.entries)-k:])
	return out
}

// Len returns the current number of stored entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
