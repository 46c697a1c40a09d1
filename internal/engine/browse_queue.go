package engine

import "sync"

// BrowseQueue holds positions requested for analysis by a user.
// It takes priority over the tree scan and deduplicates entries.
type BrowseQueue struct {
	mu      sync.Mutex
	queue   []string
	seen    map[string]bool
	maxSize int
}

// NewBrowseQueue creates a new browse queue with the given max size.
func NewBrowseQueue(maxSize int) *BrowseQueue {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &BrowseQueue{
		queue:   make([]string, 0, min(maxSize, 64)),
		seen:    make(map[string]bool),
		maxSize: maxSize,
	}
}

// Enqueue adds a reduced fingerprint if not already queued.
// When full, the oldest entry is dropped.
func (bq *BrowseQueue) Enqueue(fen string) bool {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	if bq.seen[fen] {
		return false
	}
	if len(bq.queue) >= bq.maxSize {
		delete(bq.seen, bq.queue[0])
		bq.queue = bq.queue[1:]
	}
	bq.queue = append(bq.queue, fen)
	bq.seen[fen] = true
	return true
}

// Dequeue returns the next fingerprint (FIFO) or false if empty.
func (bq *BrowseQueue) Dequeue() (string, bool) {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	if len(bq.queue) == 0 {
		return "", false
	}
	fen := bq.queue[0]
	bq.queue = bq.queue[1:]
	delete(bq.seen, fen)
	return fen, true
}

// Len returns current queue size.
func (bq *BrowseQueue) Len() int {
	bq.mu.Lock()
	defer bq.mu.Unlock()
	return len(bq.queue)
}

// Clear removes all entries.
func (bq *BrowseQueue) Clear() {
	bq.mu.Lock()
	defer bq.mu.Unlock()
	bq.queue = bq.queue[:0]
	bq.seen = make(map[string]bool)
}

// Contains reports whether fen is queued.
func (bq *BrowseQueue) Contains(fen string) bool {
	bq.mu.Lock()
	defer bq.mu.Unlock()
	return bq.seen[fen]
}
