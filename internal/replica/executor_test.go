package replica

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/internal/coordinator/coordtest"
	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// TestQueueTaskReordersAheadOfMergeOnFetchFailure covers the
// fetch-failure merge-input reorder scenario: a GET_PART for an input of
// a still-queued MERGE_PARTS fails because no peer currently has it, and
// the merge is spliced ahead of its other queued input so its own
// aggregated fetch is attempted before the individual input is retried.
func TestQueueTaskReordersAheadOfMergeOnFetchFailure(t *testing.T) {
	store := coordtest.NewStore()
	ctx := context.Background()
	r := newBareReplica(t, store, "r1", false)
	require.NoError(t, r.createTable(ctx))
	require.NoError(t, r.checkStructure(ctx))
	require.NoError(t, r.createReplica(ctx))

	partA := part.Name{Month: 202301, Left: 1, Right: 2, Level: 0}
	partB := part.Name{Month: 202301, Left: 2, Right: 3, Level: 0}
	partC := part.Name{Month: 202301, Left: 1, Right: 3, Level: 1}

	getA := logentry.Get(partA.String(), "")
	getB := logentry.Get(partB.String(), "")
	merge := logentry.Merge(partC.String(), []string{partA.String(), partB.String()}, "")

	r.queue.Push(QueueEntry{Entry: getA})
	r.queue.Push(QueueEntry{Entry: getB})
	r.queue.Push(QueueEntry{Entry: merge})

	ran, err := r.queueTask(ctx)
	require.True(t, ran)
	require.ErrorIs(t, err, verrors.ErrNoReplicaHasPart)

	got := r.queue.Snapshot()
	require.Len(t, got, 3)
	require.Equal(t, logentry.KindMerge, got[0].Entry.Kind)
	require.Equal(t, partC.String(), got[0].Entry.NewPartName)
	require.Equal(t, logentry.KindGet, got[1].Entry.Kind)
	require.Equal(t, partB.String(), got[1].Entry.NewPartName)
	require.Equal(t, logentry.KindGet, got[2].Entry.Kind)
	require.Equal(t, partA.String(), got[2].Entry.NewPartName)
}

// TestQueueTaskDegradesMergeToFetchWhenInputMissingLocally covers
// executeMerge's other failure-adjacent path: once a merge's inputs are
// no longer all present locally (one was never actually fetched), it
// degrades to fetching its own output directly rather than merging.
func TestQueueTaskDegradesMergeToFetchWhenInputMissingLocally(t *testing.T) {
	store := coordtest.NewStore()
	ctx := context.Background()
	r := newBareReplica(t, store, "r1", false)
	require.NoError(t, r.createTable(ctx))
	require.NoError(t, r.checkStructure(ctx))
	require.NoError(t, r.createReplica(ctx))

	partA := part.Name{Month: 202301, Left: 1, Right: 2, Level: 0}
	partB := part.Name{Month: 202301, Left: 2, Right: 3, Level: 0}
	partC := part.Name{Month: 202301, Left: 1, Right: 3, Level: 1}

	merge := logentry.Merge(partC.String(), []string{partA.String(), partB.String()}, "")
	r.queue.Push(QueueEntry{Entry: merge})

	ran, err := r.queueTask(ctx)
	require.True(t, ran)
	require.ErrorIs(t, err, verrors.ErrNoReplicaHasPart)
}
