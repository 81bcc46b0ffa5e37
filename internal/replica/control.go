package replica

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// Has reports whether this replica holds name locally, satisfying
// transfer.PartSource so the part-transfer server can be handed a
// *Replica directly.
func (r *Replica) Has(name part.Name) bool { return r.store.Has(name) }

// PartDir returns the local directory name's files are stored under,
// satisfying transfer.PartSource.
func (r *Replica) PartDir(name part.Name) string { return r.store.PartDir(name) }

// Read returns the set of locally active parts: every part on disk that
// is not covered by another, larger part on disk here (spec.md
// §6's "reads still served" even while read-only).
func (r *Replica) Read(ctx context.Context) ([]partstore.Info, error) {
	infos, err := r.store.List()
	if err != nil {
		return nil, err
	}
	active := part.NewSet()
	byName := make(map[string]partstore.Info, len(infos))
	for _, info := range infos {
		active.Add(info.Name)
		byName[info.Name.String()] = info
	}
	out := make([]partstore.Info, 0, len(active.List()))
	for _, n := range active.List() {
		out = append(out, byName[n.String()])
	}
	return out, nil
}

// Write implements spec.md §6's insert path: reserve a block number for
// the month, commit the data as a new level-0 part, register it with the
// coordinator, resolve the block's dedup record, and publish a GET_PART
// log entry so peers learn to fetch it (mirrors the two parts R1 ingests
// in spec.md §8's first scenario). blockID is the caller's dedup token
// for this insert; retrying the same blockID is recognized as the same
// insert rather than minting a second part.
func (r *Replica) Write(ctx context.Context, blockID string, month types.BlockNumber, data []byte) (part.Name, error) {
	if r.IsReadOnly() {
		return part.Name{}, verrors.ErrReadOnly
	}

	block := r.table.Block(blockID)
	if err := r.getCoord().Create(ctx, block.Path(), nil); err != nil {
		if errors.Is(err, verrors.ErrAlreadyExists) {
			if existing, found, getErr := r.getCoord().Get(ctx, block.Part()); getErr == nil && found {
				if n, parseErr := part.Parse(string(existing)); parseErr == nil {
					return n, nil // already applied under this blockID
				}
			}
			return part.Name{}, errors.Wrapf(verrors.ErrAlreadyExists, "replica: block %s already reserved", blockID)
		}
		return part.Name{}, errors.Wrapf(err, "replica: reserve block %s", blockID)
	}

	fullPath, name, err := r.getCoord().CreateSequential(ctx, r.table.BlockNumberDir(month), "block", nil)
	if err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: allocate block number for month %d", month)
	}
	idx, err := parseSeqIndex(name)
	if err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: parse minted block number %q", fullPath)
	}
	n := types.BlockNumber(idx)
	if err := r.getCoord().Set(ctx, block.Number(), []byte(fullPath)); err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: link block %s to number %s", blockID, fullPath)
	}

	output := part.Name{Month: month, Left: n, Right: n + 1, Level: 0}
	stagingDir, err := r.store.Stage(output)
	if err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: stage %s", output)
	}
	if err := writeDataFile(stagingDir, data); err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: write data for %s", output)
	}
	info, err := r.store.Commit(stagingDir, output)
	if err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: commit %s", output)
	}

	if err := r.registerPart(ctx, info); err != nil {
		return part.Name{}, err
	}
	if err := r.CommitBlockNumber(ctx, blockID, info.Checksum); err != nil {
		return part.Name{}, err
	}
	if err := r.getCoord().Set(ctx, block.Part(), []byte(output.String())); err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: record part for block %s", blockID)
	}

	self := r.table.Replica(r.self)
	entry := logentry.Get(output.String(), r.self)
	if _, _, err := r.getCoord().CreateSequential(ctx, self.Log(), "log", logentry.Encode(entry)); err != nil {
		return part.Name{}, errors.Wrapf(err, "replica: publish insert entry for %s", output)
	}
	r.wakeQueueExecutor()

	return output, nil
}

func writeDataFile(stagingDir string, data []byte) error {
	return os.WriteFile(filepath.Join(stagingDir, "data"), data, 0o644)
}

// Optimize implements spec.md §6's "merges unreplicated partition if
// present": it runs one local merge pass outside the replicated log,
// using the same adjacency and gap-abandonment predicate the leader's
// merge selector applies (mergeselector.go's canMergeParts), but without
// publishing a MERGE_PARTS entry other replicas would otherwise fetch
// against. It is a no-op if nothing is currently mergeable.
func (r *Replica) Optimize(ctx context.Context) error {
	if r.IsReadOnly() {
		return verrors.ErrReadOnly
	}

	infos, err := r.store.List()
	if err != nil {
		return errors.Wrap(err, "replica: list local parts for optimize")
	}

	var selErr error
	canMerge := func(a, b part.Name) bool {
		ok, err := r.canMergeParts(ctx, a, b)
		if err != nil {
			selErr = err
		}
		return ok
	}
	a, b, _, ok := partstore.SelectMerge(infos, canMerge)
	if selErr != nil {
		return selErr
	}
	if !ok {
		return nil
	}

	output := part.Name{Month: a.Month, Left: a.Left, Right: b.Right, Level: maxInt(a.Level, b.Level) + 1}
	_, big, err := r.mergeAndRegister(ctx, output, []part.Name{a, b})
	if err != nil {
		return err
	}
	if big {
		r.logger.Info("optimize produced a big merge", zap.String("part", output.String()))
	}
	r.mergeSelectingEvent.Signal()
	return nil
}

// Drop implements spec.md §6: remove this replica's own coordinator
// subtree, then the whole table subtree if it was the last replica
// standing, then drop local data. Background activity is stopped first
// so nothing races the teardown.
func (r *Replica) Drop(ctx context.Context) error {
	if err := r.partialShutdown(); err != nil {
		r.logger.Warn("drop: partial shutdown reported errors, continuing", zap.Error(err))
	}

	self := r.table.Replica(r.self)
	if err := r.getCoord().DeleteRecursive(ctx, self.Path()); err != nil && !errors.Is(err, verrors.ErrNotFound) {
		return errors.Wrap(err, "replica: drop own coordinator subtree")
	}

	if peers, err := r.listPeers(ctx); err != nil {
		r.logger.Warn("drop: failed to check for remaining peers", zap.Error(err))
	} else if len(peers) == 0 {
		if err := r.getCoord().DeleteRecursive(ctx, r.table.Root); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			r.logger.Warn("drop: failed to remove table subtree", zap.Error(err))
		}
	}

	infos, err := r.store.List()
	if err != nil {
		return errors.Wrap(err, "replica: list local parts for drop")
	}
	for _, info := range infos {
		if err := r.store.Drop(info.Name); err != nil {
			r.logger.Warn("drop: failed to remove local part", zap.String("part", info.Name.String()))
		}
	}
	return nil
}
