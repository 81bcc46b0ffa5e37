package replica

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/telemetry"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// clearOldParts drops every local part the store deems obsolete and
// unlinks its coordinator entry, run on every queue-updating pass
// (spec.md §4.I).
func (r *Replica) clearOldParts(ctx context.Context) {
	dropped, err := r.store.ClearOldParts(time.Now())
	if err != nil {
		r.logger.Error("clearOldParts failed", zap.Error(err))
		return
	}
	self := r.table.Replica(r.self)
	for _, name := range dropped {
		if err := r.getCoord().DeleteRecursive(ctx, self.Part(name.String()).Path()); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			r.logger.Error("failed to unlink coordinator entry for obsolete part", zap.String("part", name.String()), zap.Error(err))
			continue
		}
		telemetry.HousekeeperTrimmedCountMetricVec.WithLabelValues(string(r.self), "part").Inc()
	}
}

// clearOldLogs runs at most once a minute: trims this replica's own log
// below the smallest pointer any peer (including self) still needs
// (spec.md §4.I). It aborts (does nothing) if any peer's pointer for this
// replica is missing, since that means the puller hasn't even run once.
func (r *Replica) clearOldLogs(ctx context.Context) {
	now := time.Now()
	if now.Sub(r.lastLogTrim) < time.Minute {
		return
	}
	r.lastLogTrim = now

	peers, err := r.listPeers(ctx)
	if err != nil {
		r.logger.Error("clearOldLogs: list peers failed", zap.Error(err))
		return
	}

	var minPointer uint64
	first := true
	for _, peer := range peers {
		raw, found, err := r.getCoord().Get(ctx, r.table.Replica(peer).LogPointer(r.self))
		if err != nil {
			r.logger.Error("clearOldLogs: read pointer failed", zap.Error(err))
			return
		}
		if !found {
			return // a peer hasn't recorded a pointer for us yet; abort this pass
		}
		v, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			r.logger.Error("clearOldLogs: malformed pointer", zap.Error(err))
			return
		}
		if first || v < minPointer {
			minPointer = v
			first = false
		}
	}
	if first {
		return // no peers at all, nothing to bound trimming by
	}

	self := r.table.Replica(r.self)
	nodes, err := r.getCoord().List(ctx, self.Log())
	if err != nil {
		r.logger.Error("clearOldLogs: list own log failed", zap.Error(err))
		return
	}
	for _, n := range nodes {
		idx, err := parseSeqIndex(n.Name)
		if err != nil {
			continue
		}
		if idx >= minPointer {
			continue
		}
		if err := r.getCoord().Delete(ctx, self.LogEntry(types.LogIndex(idx))); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			r.logger.Error("clearOldLogs: delete failed", zap.String("entry", n.Name), zap.Error(err))
			continue
		}
		telemetry.HousekeeperTrimmedCountMetricVec.WithLabelValues(string(r.self), "log").Inc()
	}
}

// clearOldBlocksLoop is the leader-only dedicated housekeeping thread from
// spec.md §4.I/§5: sleeps a minute between passes, checking shutdown every
// second.
func (r *Replica) clearOldBlocksLoop(ctx context.Context) {
	for {
		r.clearOldBlocksOnce(ctx)
		for i := 0; i < 60; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

type blockRecord struct {
	id    string
	czxid int64
}

func (r *Replica) clearOldBlocksOnce(ctx context.Context) {
	nodes, err := r.getCoord().List(ctx, r.table.Blocks())
	if err != nil {
		r.logger.Error("clearOldBlocks: list failed", zap.Error(err))
		return
	}
	if uint64(len(nodes)) <= r.cfg.deduplicationWindow {
		return
	}

	records := make([]blockRecord, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, blockRecord{id: n.Name, czxid: n.CZXID})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].czxid < records[j].czxid })

	threshold := uint64(float64(r.cfg.deduplicationWindow) * 1.1)
	if uint64(len(records)) <= threshold {
		return
	}
	trimCount := uint64(len(records)) - r.cfg.deduplicationWindow
	for _, rec := range records[:trimCount] {
		if err := r.getCoord().DeleteRecursive(ctx, r.table.Block(rec.id).Path()); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			r.logger.Error("clearOldBlocks: delete failed", zap.String("block", rec.id), zap.Error(err))
			continue
		}
		telemetry.HousekeeperTrimmedCountMetricVec.WithLabelValues(string(r.self), "block").Inc()
	}
}

