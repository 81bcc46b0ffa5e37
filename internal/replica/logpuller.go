package replica

import (
	"container/heap"
	"context"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/telemetry"
	"github.com/coltreedb/repltree/pkg/types"
)

// pullHeapItem is one peer's current log head, ordered by coordinator
// creation order (czxid), tie-broken by peer name for a total order
// (spec.md §4.E.2, and §9's documented tie-break decision).
type pullHeapItem struct {
	peer  types.ReplicaName
	index uint64
	czxid int64
	entry logentry.Entry
	raw   []byte
}

type pullHeap []pullHeapItem

func (h pullHeap) Len() int { return len(h) }
func (h pullHeap) Less(i, j int) bool {
	if h[i].czxid != h[j].czxid {
		return h[i].czxid < h[j].czxid
	}
	return h[i].peer < h[j].peer
}
func (h pullHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pullHeap) Push(x any)        { *h = append(*h, x.(pullHeapItem)) }
func (h *pullHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// pullLogsToQueue implements the log puller (spec.md §4.E): merge-sort
// every peer's log at its current pointer into this replica's own queue,
// advancing pointers as entries are consumed. It is single-writer into
// the queue, so the caller (the queue-updating loop, or the merge
// selector right after publishing) must not run it concurrently with
// itself.
func (r *Replica) pullLogsToQueue(ctx context.Context) error {
	peers, err := r.listPeers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		peers = []types.ReplicaName{r.self}
	}

	logNodes := make(map[types.ReplicaName]map[uint64]coordinator.Node, len(peers))
	pointers := make(map[types.ReplicaName]uint64, len(peers))

	for _, peer := range peers {
		nodes, err := r.getCoord().List(ctx, r.table.Replica(peer).Log())
		if err != nil {
			return errors.Wrapf(err, "replica: list %s log", peer)
		}
		byIndex := make(map[uint64]coordinator.Node, len(nodes))
		minIdx := uint64(0)
		first := true
		for _, n := range nodes {
			idx, err := parseSeqIndex(n.Name)
			if err != nil {
				continue
			}
			byIndex[idx] = n
			if first || idx < minIdx {
				minIdx = idx
				first = false
			}
		}
		logNodes[peer] = byIndex

		ptr, err := r.loadOrInitPointer(ctx, peer, minIdx)
		if err != nil {
			return err
		}
		pointers[peer] = ptr
	}

	h := &pullHeap{}
	heap.Init(h)
	for _, peer := range peers {
		if n, ok := logNodes[peer][pointers[peer]]; ok {
			e, err := logentry.Decode(n.Value)
			if err != nil {
				r.logger.Warn("skipping malformed log entry", zap.String("peer", string(peer)), zap.Error(err))
				continue
			}
			heap.Push(h, pullHeapItem{peer: peer, index: pointers[peer], czxid: n.CZXID, entry: e, raw: n.Value})
		}
	}

	pulled := 0
	for h.Len() > 0 {
		item := heap.Pop(h).(pullHeapItem)

		znodeName, err := r.enqueueAndAdvancePointer(ctx, item)
		if err != nil {
			return errors.Wrapf(err, "replica: enqueue from %s log index %d", item.peer, item.index)
		}
		r.queue.Push(QueueEntry{ZnodeName: znodeName, Entry: item.entry})
		telemetry.EntriesPulledCountMetricVec.WithLabelValues(string(r.self), string(item.peer)).Inc()
		pulled++

		nextIdx := item.index + 1
		if n, ok := logNodes[item.peer][nextIdx]; ok {
			e, err := logentry.Decode(n.Value)
			if err != nil {
				r.logger.Warn("skipping malformed log entry", zap.String("peer", string(item.peer)), zap.Error(err))
				continue
			}
			heap.Push(h, pullHeapItem{peer: item.peer, index: nextIdx, czxid: n.CZXID, entry: e, raw: n.Value})
		}
	}

	telemetry.QueueLengthMetricVec.WithLabelValues(string(r.self)).Set(float64(r.queue.Len()))
	if pulled > 0 {
		r.wakeQueueExecutor()
	}
	return nil
}

func (r *Replica) loadOrInitPointer(ctx context.Context, peer types.ReplicaName, defaultIdx uint64) (uint64, error) {
	self := r.table.Replica(r.self)
	key := self.LogPointer(peer)
	raw, found, err := r.getCoord().Get(ctx, key)
	if err != nil {
		return 0, errors.Wrapf(err, "replica: read pointer for %s", peer)
	}
	if found {
		v, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "replica: malformed pointer for %s", peer)
		}
		return v, nil
	}
	if err := r.getCoord().Create(ctx, key, []byte(strconv.FormatUint(defaultIdx, 10))); err != nil {
		return 0, errors.Wrapf(err, "replica: init pointer for %s", peer)
	}
	return defaultIdx, nil
}

// enqueueAndAdvancePointer atomically creates the queue child and advances
// the pulled-from pointer in one multi-op transaction, so the pointer
// never moves ahead of what is actually enqueued (spec.md §4.E.3, §6).
func (r *Replica) enqueueAndAdvancePointer(ctx context.Context, item pullHeapItem) (string, error) {
	self := r.table.Replica(r.self)
	txn := r.getCoord().Txn().
		CreateSequential(self.Queue(), "queue", item.raw).
		Set(self.LogPointer(item.peer), []byte(strconv.FormatUint(item.index+1, 10)))
	result, err := txn.Commit(ctx)
	if err != nil {
		return "", err
	}
	if len(result.SequentialNames) == 0 {
		return "", errors.New("replica: txn minted no sequential name")
	}
	return result.SequentialNames[0], nil
}

func parseSeqIndex(name string) (uint64, error) {
	i := len(name) - 1
	for i >= 0 && name[i] != '-' {
		i--
	}
	if i < 0 {
		return 0, errors.Errorf("replica: malformed sequential name %q", name)
	}
	return strconv.ParseUint(name[i+1:], 10, 64)
}
