package replica

import (
	"sync"

	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
)

// QueueEntry pairs a log entry with the coordinator-assigned sequential
// znode name it owns in this replica's own queue/ subtree (spec.md §3).
type QueueEntry struct {
	ZnodeName string
	Entry     logentry.Entry
}

// Queue is the single-writer FIFO work queue plus the virtual-parts index
// and future-parts guard that travel with it. All three are protected by
// one mutex, per spec.md §5: held only for O(queue-length) traversals,
// never across I/O.
type Queue struct {
	mu sync.Mutex

	entries      []QueueEntry
	virtualParts *part.Set
	futureParts  map[string]struct{}
}

func NewQueue() *Queue {
	return &Queue{
		virtualParts: part.NewSet(),
		futureParts:  make(map[string]struct{}),
	}
}

// Push appends e to the tail and tags its output name into the
// virtual-parts index, as the log puller does after minting a queue
// znode (spec.md §4.E).
func (q *Queue) Push(e QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(e)
}

func (q *Queue) pushLocked(e QueueEntry) {
	q.entries = append(q.entries, e)
	if n, err := part.Parse(e.Entry.NewPartName); err == nil {
		q.virtualParts.Add(n)
	}
}

// VirtualParts exposes the active-parts index over local ∪ pending
// outputs, read by the merge selector's canMergeParts predicate.
func (q *Queue) VirtualParts() *part.Set {
	return q.virtualParts
}

// shouldExecute implements spec.md §4.F's eligibility rule: an entry's
// output must not already be in flight, and a merge's inputs must not be
// in flight either.
func (q *Queue) shouldExecute(e logentry.Entry) bool {
	if _, busy := q.futureParts[e.NewPartName]; busy {
		return false
	}
	if e.Kind == logentry.KindMerge {
		for _, in := range e.PartsToMerge {
			if _, busy := q.futureParts[in]; busy {
				return false
			}
		}
	}
	return true
}

// TakeEligible removes and returns the first entry satisfying
// shouldExecute, tagging its output as future. It returns ok=false if no
// entry is currently eligible.
func (q *Queue) TakeEligible() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if !q.shouldExecute(e.Entry) {
			continue
		}
		q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
		q.futureParts[e.Entry.NewPartName] = struct{}{}
		return e, true
	}
	return QueueEntry{}, false
}

// ClearFuture un-tags name once its executor task has finished, win or
// lose.
func (q *Queue) ClearFuture(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.futureParts, name)
}

// Requeue re-appends e to the tail, used both for a simple retry and as
// the second half of the merge-reorder fallback in spec.md §4.F.5.
func (q *Queue) Requeue(e QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// ReorderAheadOfMerge implements the fetch-failure fallback: every queued
// entry whose output is one of merge's inputs, and that precedes merge in
// the queue, is moved to the tail. This makes the merge's own aggregated
// fetch eligible sooner than re-trying each input individually.
func (q *Queue) ReorderAheadOfMerge(mergeOutputName string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mergeIdx := -1
	var inputs map[string]struct{}
	for i, e := range q.entries {
		if e.Entry.Kind == logentry.KindMerge && e.Entry.NewPartName == mergeOutputName {
			mergeIdx = i
			inputs = make(map[string]struct{}, len(e.Entry.PartsToMerge))
			for _, in := range e.Entry.PartsToMerge {
				inputs[in] = struct{}{}
			}
			break
		}
	}
	if mergeIdx < 0 {
		return
	}

	var kept []QueueEntry
	var moved []QueueEntry
	for i, e := range q.entries {
		if i < mergeIdx {
			if _, isInput := inputs[e.Entry.NewPartName]; isInput {
				moved = append(moved, e)
				continue
			}
		}
		kept = append(kept, e)
	}
	q.entries = append(kept, moved...)
}

// FindMerge returns the in-memory queue entry for the given merge output
// name, if still queued.
func (q *Queue) FindMerge(outputName string) (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.Entry.Kind == logentry.KindMerge && e.Entry.NewPartName == outputName {
			return e, true
		}
	}
	return QueueEntry{}, false
}

// Len reports the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// CountMerges returns the number of KindMerge entries currently queued,
// used by the merge selector's backlog gate (spec.md §4.G.1).
func (q *Queue) CountMerges() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Entry.Kind == logentry.KindMerge {
			n++
		}
	}
	return n
}

// FutureLen reports the number of output names currently being produced,
// exported for the queue-length/future-parts metrics.
func (q *Queue) FutureLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.futureParts)
}

// Snapshot returns a defensive copy of the current queue contents, used by
// checkParts-style reconciliation and by tests.
func (q *Queue) Snapshot() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}
