package state

import (
	"sync"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// State is the single record shared by the discovery poller, the connection
// manager, and the dispatcher. All fields live behind one mutex; methods
// never hold it across I/O and callers never see it.
//
// Invariant: subscribed converges toward desired once the manager loop runs
// with no further discovery changes. It may lag transiently between a
// discovery diff and the next generation rollover.
type State struct {
	mu sync.Mutex

	desired     map[string]struct{}
	subscribed  map[string]struct{}
	metaByAsset map[string]model.AssetMeta

	resubscribeNeeded bool

	dedupCapacity   int
	dedupEvictBatch int
	seenHashes      map[string]*DedupBucket // event type -> bucket
}

// New creates an empty State. Dedup bounds of zero select the defaults.
func New(dedupCapacity, dedupEvictBatch int) *State {
	return &State{
		desired:         make(map[string]struct{}),
		subscribed:      make(map[string]struct{}),
		metaByAsset:     make(map[string]model.AssetMeta),
		dedupCapacity:   dedupCapacity,
		dedupEvictBatch: dedupEvictBatch,
		seenHashes:      make(map[string]*DedupBucket),
	}
}

// Diff is the result of a desired-set replacement.
type Diff struct {
	Added   []model.AssetMeta
	Removed []model.AssetMeta
	Changed bool
}

// ReplaceDesired swaps in a freshly discovered desired set and metadata.
// When the id set differs from the previous one (set equality on ids, not
// deep equality on metadata), desired and metaByAsset are replaced entirely
// and resubscribeNeeded is raised. Removed metas are returned so the caller
// can finalize them outside the lock.
func (s *State) ReplaceDesired(metas map[string]model.AssetMeta) Diff {
	s.mu.Lock()
	defer s.mu.Unlock()

	var diff Diff
	for id := range metas {
		if _, ok := s.desired[id]; !ok {
			diff.Added = append(diff.Added, metas[id])
		}
	}
	for id := range s.desired {
		if _, ok := metas[id]; !ok {
			diff.Removed = append(diff.Removed, s.metaByAsset[id])
		}
	}
	if len(diff.Added) == 0 && len(diff.Removed) == 0 {
		return diff
	}

	desired := make(map[string]struct{}, len(metas))
	for id := range metas {
		desired[id] = struct{}{}
	}
	s.desired = desired
	s.metaByAsset = metas
	s.resubscribeNeeded = true
	diff.Changed = true
	return diff
}

// SnapshotDesired copies the desired set, marks it as the subscribed set,
// and clears the resubscribe flag, all in one critical section. The manager
// calls this at the top of each loop iteration so a discovery diff that
// lands mid-iteration raises the flag again.
func (s *State) SnapshotDesired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.desired))
	subscribed := make(map[string]struct{}, len(s.desired))
	for id := range s.desired {
		ids = append(ids, id)
		subscribed[id] = struct{}{}
	}
	s.subscribed = subscribed
	s.resubscribeNeeded = false
	return ids
}

// Drifted reports whether the manager must roll a new generation: either a
// discovery diff raised the flag, or desired and subscribed diverged.
func (s *State) Drifted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resubscribeNeeded {
		return true
	}
	if len(s.desired) != len(s.subscribed) {
		return true
	}
	for id := range s.desired {
		if _, ok := s.subscribed[id]; !ok {
			return true
		}
	}
	return false
}

// Meta returns the metadata for an asset, if tracked. Events for untracked
// assets are dropped by the dispatcher; this is how in-flight events for
// just-removed instruments are discarded.
func (s *State) Meta(assetID string) (model.AssetMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metaByAsset[assetID]
	return m, ok
}

// MarkSeen records assetID:hash in the bucket for eventType, reporting
// whether the event is new. An empty hash is never deduplicated.
func (s *State) MarkSeen(eventType, assetID, hash string) bool {
	if hash == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markSeenLocked(eventType, assetID, hash)
}

// Filter resolves metadata and applies dedup for a single event in one
// critical section. tracked reports whether the asset is in the desired set;
// fresh reports whether the hash was unseen (an empty hash is always fresh).
func (s *State) Filter(eventType, assetID, hash string) (meta model.AssetMeta, tracked, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, tracked = s.metaByAsset[assetID]
	if !tracked {
		return meta, false, false
	}
	if hash == "" {
		return meta, true, true
	}
	return meta, true, s.markSeenLocked(eventType, assetID, hash)
}

// FilterBatch resolves metadata and applies dedup for a whole price_change
// batch in one critical section, avoiding a lock acquisition per delta.
// keep[i] reports whether deltas[i] survived; metas maps the surviving
// asset ids.
func (s *State) FilterBatch(eventType string, deltas []model.PriceChange) (keep []bool, metas map[string]model.AssetMeta) {
	keep = make([]bool, len(deltas))
	metas = make(map[string]model.AssetMeta)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, pc := range deltas {
		meta, ok := s.metaByAsset[pc.AssetID]
		if !ok {
			continue
		}
		if pc.Hash != "" && !s.markSeenLocked(eventType, pc.AssetID, pc.Hash) {
			continue
		}
		keep[i] = true
		metas[pc.AssetID] = meta
	}
	return keep, metas
}

// DesiredCount returns the size of the desired set.
func (s *State) DesiredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.desired)
}

func (s *State) markSeenLocked(eventType, assetID, hash string) bool {
	bucket, ok := s.seenHashes[eventType]
	if !ok {
		bucket = NewDedupBucket(s.dedupCapacity, s.dedupEvictBatch)
		s.seenHashes[eventType] = bucket
	}
	return bucket.MarkSeen(assetID + ":" + hash)
}
