package replica

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/internal/coordinator/coordtest"
	"github.com/coltreedb/repltree/internal/coordpath"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/internal/transfer"
	"github.com/coltreedb/repltree/pkg/types"
)

func testMetadata() TableMetadata {
	return TableMetadata{
		DateColumn:       "d",
		IndexGranularity: 8192,
		PrimaryKey:       "d",
		Columns:          []Column{{Name: "d", Type: "Date"}},
	}
}

// newBareReplica builds a *Replica with its coordinator handle and local
// store wired up, but without calling startup: none of the long-lived
// loops run and nothing is registered with the coordinator yet. This lets
// bootstrap/executor tests drive createTable/createReplica/checkParts/
// executeEntry/handleFetchFailure directly and deterministically, without
// racing a background executor pool or touching the network.
func newBareReplica(t *testing.T, store *coordtest.Store, name types.ReplicaName, attach bool) *Replica {
	t.Helper()
	dir := t.TempDir()
	cfg, err := newConfig([]Option{
		WithTableRoot("/tables/t"),
		WithReplicaName(name),
		WithAttach(attach),
		WithMetadata(testMetadata()),
		WithLocalDir(dir),
		WithHostPort(string(name) + ":9000"),
		WithCoordinatorDialer(func() (coordinator.Client, error) {
			return coordtest.NewClient(store, string(name)), nil
		}),
	})
	require.NoError(t, err)

	st, err := partstore.Open(cfg.localDir, cfg.obsoleteGrace)
	require.NoError(t, err)
	coord, err := cfg.coordinatorDial()
	require.NoError(t, err)

	return &Replica{
		cfg:                 cfg,
		table:               coordpath.NewTable(cfg.tableRoot),
		self:                cfg.replica,
		coord:               coord,
		store:               st,
		queue:               NewQueue(),
		transfer:            transfer.NewClient(nil, zap.NewNop()),
		logger:              zap.NewNop(),
		mergeSelectingEvent: newManualResetEvent(),
		wakeCh:              make(chan struct{}, 1),
		nodeIdentity:        newNodeIdentity(),
	}
}
