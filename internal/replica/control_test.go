package replica

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/internal/coordinator/coordtest"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

func newTestReplica(t *testing.T, store *coordtest.Store, name types.ReplicaName) *Replica {
	t.Helper()
	dir := t.TempDir()
	md := TableMetadata{
		DateColumn:       "d",
		IndexGranularity: 8192,
		PrimaryKey:       "d",
		Columns:          []Column{{Name: "d", Type: "Date"}},
	}
	r, err := New(
		WithTableRoot("/tables/t"),
		WithReplicaName(name),
		WithMetadata(md),
		WithLocalDir(dir),
		WithHostPort(string(name)+":9000"),
		WithCoordinatorDialer(func() (coordinator.Client, error) {
			return coordtest.NewClient(store, string(name)), nil
		}),
	)
	require.NoError(t, err)
	require.False(t, r.IsReadOnly())
	return r
}

func TestWriteCommitsPartAndPublishesGetEntry(t *testing.T) {
	store := coordtest.NewStore()
	r := newTestReplica(t, store, "r1")
	defer r.Close()

	name, err := r.Write(context.Background(), "block-a", types.BlockNumber(202301), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(202301), name.Month)
	require.True(t, r.store.Has(name))

	active, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, name, active[0].Name)
}

func TestWriteIsIdempotentUnderSameBlockID(t *testing.T) {
	store := coordtest.NewStore()
	r := newTestReplica(t, store, "r1")
	defer r.Close()

	ctx := context.Background()
	first, err := r.Write(ctx, "dup", types.BlockNumber(202301), []byte("a"))
	require.NoError(t, err)

	second, err := r.Write(ctx, "dup", types.BlockNumber(202301), []byte("b"))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestWriteRejectsWhenReadOnly(t *testing.T) {
	store := coordtest.NewStore()
	r := newTestReplica(t, store, "r1")
	defer r.Close()

	r.isReadOnly.Store(true)
	_, err := r.Write(context.Background(), "block-a", types.BlockNumber(202301), []byte("x"))
	require.ErrorIs(t, err, verrors.ErrReadOnly)
}

func TestOptimizeMergesAdjacentLocalParts(t *testing.T) {
	store := coordtest.NewStore()
	r := newTestReplica(t, store, "r1")
	defer r.Close()

	ctx := context.Background()
	_, err := r.Write(ctx, "b1", types.BlockNumber(202301), []byte("a"))
	require.NoError(t, err)
	_, err = r.Write(ctx, "b2", types.BlockNumber(202301), []byte("b"))
	require.NoError(t, err)

	require.NoError(t, r.Optimize(ctx))

	active, err := r.Read(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, 1, active[0].Name.Level)
}

func TestDropRemovesCoordinatorSubtreeAndLocalData(t *testing.T) {
	store := coordtest.NewStore()
	r := newTestReplica(t, store, "r1")
	defer r.Close()

	_, err := r.Write(context.Background(), "b1", types.BlockNumber(202301), []byte("a"))
	require.NoError(t, err)

	require.NoError(t, r.Drop(context.Background()))

	infos, err := r.store.List()
	require.NoError(t, err)
	require.Empty(t, infos)
}
