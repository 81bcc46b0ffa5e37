package replica

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/internal/coordinator/coordtest"
	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// TestCreateReplicaSeedsQueueFromMirror covers the "fresh two-replica
// cluster" bootstrap scenario: r1 creates the table and registers two
// parts, then r2 joins and its queue is seeded with one GET_PART entry
// per part r1 holds. r1 is deliberately never activated here, so r2's
// wait for r1 to acknowledge it (awaitPeerAcknowledgesUs) takes the
// !active fast path instead of depending on a live log puller.
func TestCreateReplicaSeedsQueueFromMirror(t *testing.T) {
	store := coordtest.NewStore()
	ctx := context.Background()

	r1 := newBareReplica(t, store, "r1", false)
	require.NoError(t, r1.createTable(ctx))
	require.NoError(t, r1.checkStructure(ctx))
	require.NoError(t, r1.createReplica(ctx))

	name1, err := r1.Write(ctx, "block-a", types.BlockNumber(202301), []byte("a"))
	require.NoError(t, err)
	name2, err := r1.Write(ctx, "block-b", types.BlockNumber(202301), []byte("b"))
	require.NoError(t, err)

	r2 := newBareReplica(t, store, "r2", false)
	require.NoError(t, r2.createTable(ctx))
	require.NoError(t, r2.checkStructure(ctx))
	require.NoError(t, r2.createReplica(ctx))

	got := r2.queue.Snapshot()
	require.Len(t, got, 2)
	wantNames := map[string]bool{name1.String(): true, name2.String(): true}
	for _, qe := range got {
		require.Equal(t, logentry.KindGet, qe.Entry.Kind)
		require.Equal(t, types.ReplicaName("r1"), qe.Entry.SourceReplica)
		require.True(t, wantNames[qe.Entry.NewPartName], "unexpected queued part %s", qe.Entry.NewPartName)
	}
}

// TestCreateReplicaWithNoPeersStartsEmpty covers the even-more-degenerate
// case of createReplica: the very first replica of a table has no peers
// to await or seed from, and should come up with an empty queue.
func TestCreateReplicaWithNoPeersStartsEmpty(t *testing.T) {
	store := coordtest.NewStore()
	ctx := context.Background()

	r1 := newBareReplica(t, store, "r1", false)
	require.NoError(t, r1.createTable(ctx))
	require.NoError(t, r1.checkStructure(ctx))
	require.NoError(t, r1.createReplica(ctx))

	require.Empty(t, r1.queue.Snapshot())
}

// stageLocalOnlyPart commits a part directly into r's local store without
// telling the coordinator about it, simulating on-disk data retained
// across a restart that the coordinator no longer (or never did) know
// about.
func stageLocalOnlyPart(t *testing.T, r *Replica, name part.Name) {
	t.Helper()
	dir, err := r.store.Stage(name)
	require.NoError(t, err)
	require.NoError(t, writeDataFile(dir, []byte(name.String())))
	_, err = r.store.Commit(dir, name)
	require.NoError(t, err)
}

// TestCheckPartsRejectsTooManyUnexpectedPartsUnlessForced covers the
// "force-restore attach" scenario: a restarting replica whose local
// store disagrees with the coordinator's view of its parts past the
// sanity threshold is rejected, unless force_restore_data was set first.
func TestCheckPartsRejectsTooManyUnexpectedPartsUnlessForced(t *testing.T) {
	store := coordtest.NewStore()
	ctx := context.Background()

	seed := newBareReplica(t, store, "r1", false)
	require.NoError(t, seed.createTable(ctx))
	require.NoError(t, seed.checkStructure(ctx))
	require.NoError(t, seed.createReplica(ctx))

	r := newBareReplica(t, store, "r1", true)
	unexpected := []part.Name{
		{Month: 202301, Left: 1, Right: 2, Level: 0},
		{Month: 202301, Left: 2, Right: 3, Level: 0},
		{Month: 202301, Left: 3, Right: 4, Level: 0},
	}
	for _, n := range unexpected {
		stageLocalOnlyPart(t, r, n)
	}

	err := r.checkParts(ctx)
	require.ErrorIs(t, err, verrors.ErrTooManyUnexpectedParts)

	flag := r.table.Replica(r.self).ForceRestoreFlag()
	require.NoError(t, r.getCoord().Create(ctx, flag, nil))

	require.NoError(t, r.checkParts(ctx))
	for _, n := range unexpected {
		require.False(t, r.store.Has(n), "ignored part %s should be removed from the local store", n)
	}
}
