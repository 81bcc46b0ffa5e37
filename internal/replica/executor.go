package replica

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/internal/telemetry"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// queueTask drains at most one eligible queue entry, the unit of work the
// background worker pool repeatedly invokes (spec.md §4.F, §5). It
// returns (false, nil) when there is currently no eligible entry.
func (r *Replica) queueTask(ctx context.Context) (bool, error) {
	qe, ok := r.queue.TakeEligible()
	if !ok {
		return false, nil
	}
	telemetry.FutureTargetsMetricVec.WithLabelValues(string(r.self)).Set(float64(r.queue.FutureLen()))

	err := r.executeEntry(ctx, qe.Entry)
	r.queue.ClearFuture(qe.Entry.NewPartName)
	telemetry.FutureTargetsMetricVec.WithLabelValues(string(r.self)).Set(float64(r.queue.FutureLen()))

	if err != nil {
		outcome := "error"
		if errors.Is(err, verrors.ErrNoReplicaHasPart) {
			outcome = "no_replica_has_part"
			r.logger.Info("no replica currently has part, requeuing", zap.String("part", qe.Entry.NewPartName))
		} else {
			r.logger.Error("queue entry execution failed", zap.String("part", qe.Entry.NewPartName), zap.Error(err))
		}
		telemetry.ExecutedEntriesCountMetricVec.WithLabelValues(string(r.self), qe.Entry.Kind.String(), outcome).Inc()

		if qe.Entry.Kind == logentry.KindGet {
			r.handleFetchFailure(qe.Entry)
		}
		r.queue.Requeue(qe)
		return true, err
	}

	telemetry.ExecutedEntriesCountMetricVec.WithLabelValues(string(r.self), qe.Entry.Kind.String(), "ok").Inc()
	if err := r.removeQueueZnode(ctx, qe); err != nil {
		r.logger.Error("failed to remove completed queue znode, may re-execute idempotently",
			zap.String("znode", qe.ZnodeName), zap.Error(err))
	}
	return true, nil
}

// handleFetchFailure implements spec.md §4.F.5: when a GET_PART that was
// feeding a pending MERGE_PARTS fails, move every input of that merge
// queued before it to the tail, behind the merge, so the merge's own
// aggregated fetch is attempted sooner than re-trying each input.
func (r *Replica) handleFetchFailure(failed logentry.Entry) {
	snap := r.queue.Snapshot()
	for _, qe := range snap {
		if qe.Entry.Kind != logentry.KindMerge {
			continue
		}
		for _, in := range qe.Entry.PartsToMerge {
			if in == failed.NewPartName {
				r.queue.ReorderAheadOfMerge(qe.Entry.NewPartName)
				return
			}
		}
	}
}

func (r *Replica) removeQueueZnode(ctx context.Context, qe QueueEntry) error {
	if qe.ZnodeName == "" {
		return nil
	}
	self := r.table.Replica(r.self)
	return r.getCoord().Delete(ctx, self.QueueEntry(qe.ZnodeName))
}

// executeEntry implements spec.md §4.F.3's dispatch.
func (r *Replica) executeEntry(ctx context.Context, e logentry.Entry) error {
	outputName, err := part.Parse(e.NewPartName)
	if err != nil {
		return errors.Wrapf(verrors.ErrMalformedLogEntry, "replica: bad output name %q", e.NewPartName)
	}

	if r.store.Has(outputName) {
		self := r.table.Replica(r.self)
		registered, err := r.getCoord().Exists(ctx, self.Part(outputName.String()).Path())
		if err == nil && registered {
			return nil // idempotent: already have it, already registered
		}
	}

	switch e.Kind {
	case logentry.KindGet:
		return r.executeGet(ctx, outputName, e.SourceReplica)
	case logentry.KindMerge:
		return r.executeMerge(ctx, outputName, e.PartsToMerge)
	default:
		return errors.Errorf("replica: unknown log entry kind %d", e.Kind)
	}
}

func (r *Replica) executeGet(ctx context.Context, name part.Name, preferred types.ReplicaName) error {
	info, err := r.fetchPart(ctx, name, preferred)
	if err != nil {
		return err
	}
	return r.registerPart(ctx, info)
}

func (r *Replica) executeMerge(ctx context.Context, output part.Name, inputNames []string) error {
	inputs := make([]part.Name, 0, len(inputNames))
	for _, s := range inputNames {
		n, err := part.Parse(s)
		if err != nil {
			return errors.Wrapf(verrors.ErrMalformedLogEntry, "replica: bad merge input %q", s)
		}
		if !r.store.Has(n) {
			r.logger.Info("merge input missing locally, degrading to fetch", zap.String("input", s), zap.String("output", output.String()))
			return r.executeGet(ctx, output, "")
		}
		inputs = append(inputs, n)
	}

	_, big, err := r.mergeAndRegister(ctx, output, inputs)
	if err != nil {
		return err
	}
	if big {
		telemetry.MergesSelectedCountMetricVec.WithLabelValues(string(r.self)).Inc()
	}
	r.mergeSelectingEvent.Signal()
	return nil
}

// mergeAndRegister runs the local merge of inputs into output, registers
// the result with the coordinator, and marks the inputs obsolete. It is
// the shared tail end of both the queue-driven MERGE_PARTS path
// (executeMerge) and the control surface's direct, log-bypassing
// Optimize (spec.md §6). The returned bool reports whether any input
// crossed the big-merge threshold (spec.md §4.G.2).
func (r *Replica) mergeAndRegister(ctx context.Context, output part.Name, inputs []part.Name) (partstore.Info, bool, error) {
	big := false
	for _, in := range inputs {
		if inInfo, err := r.store.Info(in); err == nil && inInfo.SizeBytes > int64(partstore.BigMergeThresholdBytes) {
			big = true
		}
	}
	if big {
		r.bigMergeInFlight.Store(true)
		defer r.bigMergeInFlight.Store(false)
	}

	stagingDir, err := r.store.Merge(ctx, inputs, output)
	if err != nil {
		return partstore.Info{}, big, errors.Wrapf(err, "replica: local merge into %s", output)
	}
	info, err := r.store.Commit(stagingDir, output)
	if err != nil {
		return partstore.Info{}, big, errors.Wrapf(err, "replica: commit merge into %s", output)
	}

	if err := r.verifyChecksumAgainstAnyPeer(ctx, output, info.Checksum); err != nil {
		return partstore.Info{}, big, err
	}
	if err := r.registerPart(ctx, info); err != nil {
		return partstore.Info{}, big, err
	}

	for _, in := range inputs {
		r.store.MarkObsolete(in, time.Now())
	}
	return info, big, nil
}

// pickFetchPeer chooses a random active peer known to have name, per
// spec.md §4.F.3's fetch path.
func (r *Replica) pickFetchPeer(ctx context.Context, name part.Name, preferred types.ReplicaName) (types.ReplicaName, error) {
	peers, err := r.listPeers(ctx)
	if err != nil {
		return "", err
	}

	var candidates []types.ReplicaName
	if preferred != "" {
		if ok, err := r.peerHasActivePart(ctx, preferred, name); err == nil && ok {
			candidates = append(candidates, preferred)
		}
	}
	for _, p := range peers {
		if p == r.self || p == preferred {
			continue
		}
		if ok, err := r.peerHasActivePart(ctx, p, name); err == nil && ok {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", errors.Wrapf(verrors.ErrNoReplicaHasPart, "replica: %s", name)
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (r *Replica) peerHasActivePart(ctx context.Context, peer types.ReplicaName, name part.Name) (bool, error) {
	active, err := r.getCoord().Exists(ctx, r.table.Replica(peer).IsActive())
	if err != nil || !active {
		return false, err
	}
	return r.getCoord().Exists(ctx, r.table.Replica(peer).Part(name.String()).Path())
}
