package coordtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/pkg/verrors"
)

func TestCreateThenExists(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewStore(), "s1")

	require.NoError(t, c.Create(ctx, "/t/metadata", []byte("v1")))
	found, err := c.Exists(ctx, "/t/metadata")
	require.NoError(t, err)
	require.True(t, found)

	err = c.Create(ctx, "/t/metadata", []byte("v2"))
	require.ErrorIs(t, err, verrors.ErrAlreadyExists)
}

func TestSequentialNamesAreOrderedAndZeroPadded(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewStore(), "s1")

	_, n1, err := c.CreateSequential(ctx, "/t/r1/log", "log", []byte("a"))
	require.NoError(t, err)
	_, n2, err := c.CreateSequential(ctx, "/t/r1/log", "log", []byte("b"))
	require.NoError(t, err)

	require.Equal(t, "log-0000000001", n1)
	require.Equal(t, "log-0000000002", n2)
}

func TestTxnAppliesAtomically(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewStore(), "s1")
	require.NoError(t, c.Create(ctx, "/t/r1/log_pointers/r2", []byte("0")))

	_, err := c.Txn().
		CreateSequential("/t/r1/queue", "queue", []byte("entry")).
		Set("/t/r1/log_pointers/r2", []byte("1")).
		Commit(ctx)
	require.NoError(t, err)

	v, found, err := c.Get(ctx, "/t/r1/log_pointers/r2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", string(v))

	nodes, err := c.List(ctx, "/t/r1/queue")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "queue-0000000001", nodes[0].Name)
}

func TestListOrdersByCZXID(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewStore(), "s1")
	_, _, err := c.CreateSequential(ctx, "/t/r1/log", "log", []byte("1"))
	require.NoError(t, err)
	_, _, err = c.CreateSequential(ctx, "/t/r1/log", "log", []byte("2"))
	require.NoError(t, err)

	nodes, err := c.List(ctx, "/t/r1/log")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Less(t, nodes[0].CZXID, nodes[1].CZXID)
}

func TestExpire(t *testing.T) {
	c := NewClient(NewStore(), "s1")
	require.False(t, c.Expired())
	c.Expire()
	require.True(t, c.Expired())
}
