package replica

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/internal/telemetry"
)

// mergeSelectingLoop is the leader-only periodic selector (spec.md §4.G),
// started by becomeLeader and stopped (via context cancellation) by
// stepDownLeader/partialShutdown.
func (r *Replica) mergeSelectingLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		selected, err := r.selectAndPublishMerge(ctx)
		if err != nil {
			r.logger.Error("merge selection failed", zap.Error(err))
		}
		if !selected {
			r.mergeSelectingEvent.WaitUpTo(ctx, r.cfg.mergeSelectingInterval)
		}
	}
}

// selectAndPublishMerge runs one pass of spec.md §4.G.1-4.
func (r *Replica) selectAndPublishMerge(ctx context.Context) (bool, error) {
	if r.queue.CountMerges() >= r.cfg.maxReplicatedMergesInQueue {
		return false, nil
	}

	infos, err := r.store.List()
	if err != nil {
		return false, errors.Wrap(err, "replica: list local parts for merge selection")
	}

	var selErr error
	canMerge := func(a, b part.Name) bool {
		ok, err := r.canMergeParts(ctx, a, b)
		if err != nil {
			selErr = err
		}
		return ok
	}

	a, b, big, ok := partstore.SelectMerge(infos, canMerge)
	if selErr != nil {
		return false, selErr
	}
	if !ok {
		return false, nil
	}
	if big && r.bigMergeInFlight.Load() {
		return false, nil
	}

	output := part.Name{Month: a.Month, Left: a.Left, Right: b.Right, Level: maxInt(a.Level, b.Level) + 1}
	entry := logentry.Merge(output.String(), []string{a.String(), b.String()}, r.self)

	self := r.table.Replica(r.self)
	if _, _, err := r.getCoord().CreateSequential(ctx, self.Log(), "log", logentry.Encode(entry)); err != nil {
		return false, errors.Wrap(err, "replica: publish merge entry")
	}
	telemetry.MergesSelectedCountMetricVec.WithLabelValues(string(r.self)).Inc()

	// Pull immediately so virtual-parts reflects this output before the
	// next selection pass (spec.md §5's ordering guarantee).
	if err := r.pullLogsToQueue(ctx); err != nil {
		r.logger.Error("pull after publishing merge failed", zap.Error(err))
	}

	r.gcBlockNumbersBetween(ctx, a.Month, a.Right, b.Left)
	return true, nil
}

// canMergeParts implements spec.md §4.G.3's predicate.
func (r *Replica) canMergeParts(ctx context.Context, a, b part.Name) (bool, error) {
	vp := r.queue.VirtualParts()
	if vp.Containing(a) != a || vp.Containing(b) != b {
		return false, nil
	}

	self := r.table.Replica(r.self)
	aOK, err := r.getCoord().Exists(ctx, self.Part(a.String()).Path())
	if err != nil {
		return false, err
	}
	bOK, err := r.getCoord().Exists(ctx, self.Part(b.String()).Path())
	if err != nil {
		return false, err
	}
	if !aOK || !bOK {
		return false, nil
	}

	if a.Month != b.Month || a.Right >= b.Left {
		return true, nil // adjacent or contiguous, no gap to check
	}
	return r.gapFullyAbandoned(ctx, a.Month, a.Right, b.Left)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
