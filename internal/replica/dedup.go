package replica

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// Block number lock states, the two ways block_numbers/<month>/block-NNNN
// can resolve once an insert either lands or is abandoned (spec.md §3's
// dedup block record, §4.G.3's "abandoned" gate).
const (
	blockStateCommitted = "committed"
	blockStateAbandoned = "abandoned"
)

// ReserveBlockNumber allocates the next block number in month for a new
// insert's dedup record: blocks/<blockID>/number points at it, and
// blocks/<blockID>/checksums is left for the writer to fill once the part
// is committed. The number node itself starts without a resolution; it is
// either committed or abandoned once the insert's outcome is known.
func (r *Replica) ReserveBlockNumber(ctx context.Context, blockID string, month types.BlockNumber, n types.BlockNumber) error {
	block := r.table.Block(blockID)
	numberNode := r.table.BlockNumberNode(month, n)
	txn := r.getCoord().Txn().
		Create(block.Path(), nil).
		Create(block.Number(), []byte(numberNode)).
		Create(numberNode, nil)
	_, err := txn.Commit(ctx)
	if err != nil {
		return errors.Wrapf(err, "replica: reserve block number %d/%d", month, n)
	}
	return nil
}

// CommitBlockNumber marks a reserved block number committed once its
// insert's part has landed with a known checksum.
func (r *Replica) CommitBlockNumber(ctx context.Context, blockID string, checksum string) error {
	block := r.table.Block(blockID)
	numberPath, found, err := r.getCoord().Get(ctx, block.Number())
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(verrors.ErrNotFound, "replica: block %s has no number", blockID)
	}
	txn := r.getCoord().Txn().
		Set(string(numberPath), []byte(blockStateCommitted)).
		Set(block.Checksums(), []byte(checksum))
	_, err = txn.Commit(ctx)
	return err
}

// AbandonBlockNumber marks a reserved block number abandoned: the insert
// it was reserved for never completed, so merges may skip over it.
func (r *Replica) AbandonBlockNumber(ctx context.Context, blockID string) error {
	block := r.table.Block(blockID)
	numberPath, found, err := r.getCoord().Get(ctx, block.Number())
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return r.getCoord().Set(ctx, string(numberPath), []byte(blockStateAbandoned))
}

// isBlockNumberAbandoned reports whether the single block_numbers/<month>/
// block-NNNN slot for n is in the abandoned state; gapFullyAbandoned asks
// it for every number strictly between two parts.
// A number that was never reserved counts as abandoned: no insert ever
// claimed it, so nothing can be lost by merging across it.
func (r *Replica) isBlockNumberAbandoned(ctx context.Context, month, n types.BlockNumber) (bool, error) {
	raw, found, err := r.getCoord().Get(ctx, r.table.BlockNumberNode(month, n))
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return string(raw) == blockStateAbandoned, nil
}

func (r *Replica) gapFullyAbandoned(ctx context.Context, month, left, right types.BlockNumber) (bool, error) {
	for n := left + 1; n < right; n++ {
		ok, err := r.isBlockNumberAbandoned(ctx, month, n)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// gcBlockNumbersBetween removes block_numbers/<month>/block-NNNN nodes
// strictly between left and right once a merge spanning the gap has
// landed (spec.md §4.G.4).
func (r *Replica) gcBlockNumbersBetween(ctx context.Context, month, left, right types.BlockNumber) {
	for n := left + 1; n < right; n++ {
		node := r.table.BlockNumberNode(month, n)
		if err := r.getCoord().DeleteRecursive(ctx, node); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			r.logger.Warn("failed to gc block number lock", zap.String("node", node), zap.Error(err))
		}
	}
}
