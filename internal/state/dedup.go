package state

// Dedup bucket bounds. Eviction is best-effort, not LRU: once a bucket
// exceeds DedupCapacity, an arbitrary EvictBatch entries are removed (map
// iteration order). A duplicate whose key was evicted can pass through again;
// the bound exists to cap memory, not to guarantee suppression.
const (
	DefaultDedupCapacity = 100_000
	DefaultEvictBatch    = 10_000
)

// DedupBucket is a capacity-bounded set of composite assetID:hash keys for
// one event type. Not safe for concurrent use; callers hold the State mutex.
type DedupBucket struct {
	seen       map[string]struct{}
	capacity   int
	evictBatch int
}

// NewDedupBucket creates a bucket. Non-positive capacity or batch fall back
// to the defaults.
func NewDedupBucket(capacity, evictBatch int) *DedupBucket {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	if evictBatch <= 0 {
		evictBatch = DefaultEvictBatch
	}
	return &DedupBucket{
		seen:       make(map[string]struct{}),
		capacity:   capacity,
		evictBatch: evictBatch,
	}
}

// MarkSeen records a key, reporting whether it was new. Returns false for a
// key already present.
func (b *DedupBucket) MarkSeen(key string) bool {
	if _, ok := b.seen[key]; ok {
		return false
	}
	b.seen[key] = struct{}{}
	if len(b.seen) > b.capacity {
		b.evict()
	}
	return true
}

// Len returns the number of tracked keys.
func (b *DedupBucket) Len() int {
	return len(b.seen)
}

func (b *DedupBucket) evict() {
	n := 0
	for k := range b.seen {
		delete(b.seen, k)
		n++
		if n >= b.evictBatch {
			return
		}
	}
}
