// Package replica implements the per-replica replication core: bootstrap
// against an existing table, pulling a shared operation log into a local
// work queue, executing that queue by local merge or peer fetch,
// electing a leader to drive merge scheduling and dedup-window
// maintenance, and recovering across coordinator session losses.
//
// Concurrency follows _examples/kakao-varlog's storage node executor:
// named long-lived loops managed by a pkg/runner.Runner, with shutdown
// signalled through the Replica's own stop/done channels and
// pkg/atomicutil flags.
package replica

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/internal/coordpath"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/internal/transfer"
	"github.com/coltreedb/repltree/pkg/atomicutil"
	"github.com/coltreedb/repltree/pkg/runner"
	"github.com/coltreedb/repltree/pkg/types"
)

const executorPoolSize = 4

// Replica is one replica's live state: the queue, the coordinator handle,
// the local part store, and every long-lived loop that drives them.
type Replica struct {
	cfg   config
	table coordpath.Table
	self  types.ReplicaName

	mu    sync.RWMutex // guards coord swap and leaderElectionPath during session recovery
	coord coordinator.Client

	store    *partstore.Store
	queue    *Queue
	transfer *transfer.Client
	logger   *zap.Logger

	runner *runner.Runner

	mergeSelectingEvent *manualResetEvent
	wakeCh              chan struct{}

	isLeader                atomicutil.Bool
	isReadOnly              atomicutil.Bool
	shutdownCalled          atomicutil.Bool
	permanentShutdownCalled atomicutil.Bool
	bigMergeInFlight        atomicutil.Bool

	leaderCancel       context.CancelFunc
	leaderElectionPath string

	nodeIdentity string
	lastLogTrim  time.Time

	lifecycleStop chan struct{}
	lifecycleDone chan struct{}
}

// New constructs and starts a Replica. If the coordinator cannot be
// reached at all, it returns a permanently read-only Replica rather than
// an error, per spec.md §7's CoordinatorUnavailable policy; any other
// bootstrap failure (metadata mismatch, already-active, too many
// unexpected parts) is returned as an error.
func New(opts ...Option) (*Replica, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger.Named("replica").With(zap.String("replica", string(cfg.replica)))

	r := &Replica{
		cfg:                  cfg,
		table:                coordpath.NewTable(cfg.tableRoot),
		self:                 cfg.replica,
		logger:               logger,
		queue:                NewQueue(),
		mergeSelectingEvent:  newManualResetEvent(),
		wakeCh:               make(chan struct{}, 1),
		nodeIdentity:         newNodeIdentity(),
		lifecycleStop:        make(chan struct{}),
		lifecycleDone:        make(chan struct{}),
	}

	store, err := partstore.Open(cfg.localDir, cfg.obsoleteGrace)
	if err != nil {
		return nil, err
	}
	r.store = store

	if cfg.transferClient != nil {
		r.transfer = cfg.transferClient
	} else {
		r.transfer = transfer.NewClient(r.resolveHost, logger)
	}

	coord, err := cfg.coordinatorDial()
	if err != nil {
		r.logger.Error("coordinator unavailable at construction, entering permanent read-only", zap.Error(err))
		r.isReadOnly.Store(true)
		r.permanentShutdownCalled.Store(true)
		close(r.lifecycleDone)
		return r, nil
	}
	r.coord = coord

	if err := r.startup(context.Background()); err != nil {
		return nil, err
	}

	go r.restartingLoop()
	return r, nil
}

func newNodeIdentity() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (r *Replica) getCoord() coordinator.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coord
}

// Close performs a graceful partial shutdown and stops the restarting
// thread for good.
func (r *Replica) Close() error {
	if r.permanentShutdownCalled.Load() && r.runner == nil {
		return nil
	}
	select {
	case <-r.lifecycleStop:
	default:
		close(r.lifecycleStop)
	}
	<-r.lifecycleDone
	shutdownErr := r.partialShutdown()
	return multierr.Append(shutdownErr, r.getCoord().Close())
}

func (r *Replica) wakeQueueExecutor() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// IsReadOnly reports whether writes currently reject with
// verrors.ErrReadOnly (spec.md §4.J, §7).
func (r *Replica) IsReadOnly() bool { return r.isReadOnly.Load() }

// IsLeader reports whether this replica currently drives merge selection
// and dedup-block housekeeping.
func (r *Replica) IsLeader() bool { return r.isLeader.Load() }
