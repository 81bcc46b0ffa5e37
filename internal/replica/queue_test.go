package replica

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/internal/logentry"
)

func TestQueueTakeEligibleRespectsFutureParts(t *testing.T) {
	q := NewQueue()
	q.Push(QueueEntry{ZnodeName: "queue-0000000001", Entry: logentry.Get("202301_1_1_0", "r1")})
	q.Push(QueueEntry{ZnodeName: "queue-0000000002", Entry: logentry.Get("202301_2_2_0", "r1")})

	e1, ok := q.TakeEligible()
	require.True(t, ok)
	require.Equal(t, "202301_1_1_0", e1.Entry.NewPartName)

	e2, ok := q.TakeEligible()
	require.True(t, ok)
	require.Equal(t, "202301_2_2_0", e2.Entry.NewPartName)

	_, ok = q.TakeEligible()
	require.False(t, ok)
}

func TestQueueMergeRejectedWhileInputInFlight(t *testing.T) {
	q := NewQueue()
	q.Push(QueueEntry{ZnodeName: "queue-0000000001", Entry: logentry.Get("202301_1_1_0", "r1")})
	q.Push(QueueEntry{ZnodeName: "queue-0000000002", Entry: logentry.Merge("202301_1_2_1", []string{"202301_1_1_0", "202301_2_2_0"}, "r1")})

	e, ok := q.TakeEligible()
	require.True(t, ok)
	require.Equal(t, "202301_1_1_0", e.Entry.NewPartName)

	// merge is blocked because one of its inputs is in future_parts
	_, ok = q.TakeEligible()
	require.False(t, ok)

	q.ClearFuture(e.Entry.NewPartName)
	e2, ok := q.TakeEligible()
	require.True(t, ok)
	require.Equal(t, "202301_1_2_1", e2.Entry.NewPartName)
}

func TestQueueReorderAheadOfMerge(t *testing.T) {
	q := NewQueue()
	q.Push(QueueEntry{ZnodeName: "queue-0000000001", Entry: logentry.Get("202301_2_2_0", "r1")})
	q.Push(QueueEntry{ZnodeName: "queue-0000000002", Entry: logentry.Get("202301_3_3_0", "r1")})
	q.Push(QueueEntry{ZnodeName: "queue-0000000003", Entry: logentry.Get("202301_4_4_0", "r1")})
	q.Push(QueueEntry{ZnodeName: "queue-0000000004", Entry: logentry.Merge("202301_1_4_1",
		[]string{"202301_1_1_0", "202301_2_2_0", "202301_3_3_0", "202301_4_4_0"}, "r1")})

	q.ReorderAheadOfMerge("202301_1_4_1")

	snap := q.Snapshot()
	require.Len(t, snap, 4)
	require.Equal(t, "202301_1_4_1", snap[0].Entry.NewPartName)
	names := map[string]bool{}
	for _, e := range snap[1:] {
		names[e.Entry.NewPartName] = true
	}
	require.True(t, names["202301_2_2_0"])
	require.True(t, names["202301_3_3_0"])
	require.True(t, names["202301_4_4_0"])
}

func TestQueueCountMerges(t *testing.T) {
	q := NewQueue()
	q.Push(QueueEntry{Entry: logentry.Get("202301_1_1_0", "r1")})
	q.Push(QueueEntry{Entry: logentry.Merge("202301_1_2_1", []string{"202301_1_1_0", "202301_2_2_0"}, "r1")})
	require.Equal(t, 1, q.CountMerges())
	require.Equal(t, 2, q.Len())
}
