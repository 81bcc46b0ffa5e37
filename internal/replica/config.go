package replica

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/internal/transfer"
	"github.com/coltreedb/repltree/pkg/types"
)

const (
	DefaultMaxReplicatedMergesInQueue = 8
	DefaultDeduplicationWindow        = 100
	DefaultObsoleteGrace              = 5 * time.Minute
	DefaultQueueUpdatingInterval      = 5 * time.Second
	DefaultMergeSelectingInterval     = 5 * time.Second
	DefaultRestarterInterval          = 2 * time.Second
	DefaultBlockHousekeepingInterval  = time.Minute
)

// config holds everything New(...)'s functional options can set, mirroring
// the Option/newConfig split of _examples/kakao-varlog's internal/admin
// package: a zero-value-safe struct, defaulted then validated.
type config struct {
	tableRoot string
	replica   types.ReplicaName
	attach    bool

	metadata TableMetadata

	maxReplicatedMergesInQueue int
	deduplicationWindow        uint64
	obsoleteGrace              time.Duration
	queueUpdatingInterval      time.Duration
	mergeSelectingInterval     time.Duration
	restarterInterval          time.Duration
	blockHousekeepingInterval  time.Duration

	localDir string
	hostPort string

	coordinatorDial func() (coordinator.Client, error)
	transferClient  *transfer.Client

	logger *zap.Logger
}

func newConfig(opts []Option) (config, error) {
	cfg := config{
		maxReplicatedMergesInQueue: DefaultMaxReplicatedMergesInQueue,
		deduplicationWindow:        DefaultDeduplicationWindow,
		obsoleteGrace:              DefaultObsoleteGrace,
		queueUpdatingInterval:      DefaultQueueUpdatingInterval,
		mergeSelectingInterval:     DefaultMergeSelectingInterval,
		restarterInterval:          DefaultRestarterInterval,
		blockHousekeepingInterval:  DefaultBlockHousekeepingInterval,
		logger:                     zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg config) validate() error {
	if cfg.tableRoot == "" {
		return errors.New("replica: no table root")
	}
	if cfg.replica.Empty() {
		return errors.New("replica: no replica name")
	}
	if cfg.localDir == "" {
		return errors.New("replica: no local part directory")
	}
	if cfg.hostPort == "" {
		return errors.New("replica: no advertised host:port")
	}
	if cfg.coordinatorDial == nil {
		return errors.New("replica: no coordinator dialer")
	}
	if cfg.logger == nil {
		return errors.New("replica: nil logger")
	}
	return nil
}

// Option configures a Replica at construction time.
type Option interface {
	apply(*config)
}

type funcOption struct{ f func(*config) }

func newFuncOption(f func(*config)) *funcOption { return &funcOption{f: f} }

func (fo *funcOption) apply(cfg *config) { fo.f(cfg) }

// WithTableRoot sets the coordinator root path this replica's table is
// rooted at.
func WithTableRoot(root string) Option {
	return newFuncOption(func(cfg *config) { cfg.tableRoot = root })
}

// WithReplicaName sets this replica's own name.
func WithReplicaName(name types.ReplicaName) Option {
	return newFuncOption(func(cfg *config) { cfg.replica = name })
}

// WithAttach marks this construction as attaching to an existing table
// rather than creating it (spec.md §4.D.5).
func WithAttach(attach bool) Option {
	return newFuncOption(func(cfg *config) { cfg.attach = attach })
}

// WithMetadata sets the local table's metadata, used both to create the
// table (if not attaching) and to verify against the coordinator's copy
// (checkStructure).
func WithMetadata(md TableMetadata) Option {
	return newFuncOption(func(cfg *config) { cfg.metadata = md })
}

// WithMaxReplicatedMergesInQueue caps how many MERGE_PARTS entries the
// leader will keep in flight before the selector backs off.
func WithMaxReplicatedMergesInQueue(n int) Option {
	return newFuncOption(func(cfg *config) { cfg.maxReplicatedMergesInQueue = n })
}

// WithDeduplicationWindow sets how many trailing dedup block records the
// leader's housekeeper retains.
func WithDeduplicationWindow(n uint64) Option {
	return newFuncOption(func(cfg *config) { cfg.deduplicationWindow = n })
}

// WithObsoleteGrace sets how long an obsoleted local part lingers before
// clearOldParts drops it.
func WithObsoleteGrace(d time.Duration) Option {
	return newFuncOption(func(cfg *config) { cfg.obsoleteGrace = d })
}

// WithQueueUpdatingInterval overrides the queue-updating loop's poll
// interval.
func WithQueueUpdatingInterval(d time.Duration) Option {
	return newFuncOption(func(cfg *config) { cfg.queueUpdatingInterval = d })
}

// WithMergeSelectingInterval overrides the leader's merge-selecting loop
// poll interval.
func WithMergeSelectingInterval(d time.Duration) Option {
	return newFuncOption(func(cfg *config) { cfg.mergeSelectingInterval = d })
}

// WithLocalDir sets the directory the local partstore.Store is rooted at.
func WithLocalDir(dir string) Option {
	return newFuncOption(func(cfg *config) { cfg.localDir = dir })
}

// WithHostPort sets the host:port this replica advertises for part
// transfer, published to replicas/<self>/host on activation.
func WithHostPort(hostPort string) Option {
	return newFuncOption(func(cfg *config) { cfg.hostPort = hostPort })
}

// WithCoordinatorDialer sets the function used to obtain a fresh
// coordinator handle, called once at startup and again on every
// restarter-driven reconnect.
func WithCoordinatorDialer(dial func() (coordinator.Client, error)) Option {
	return newFuncOption(func(cfg *config) { cfg.coordinatorDial = dial })
}

// WithTransferClient sets the part-exchange client used to fetch parts
// from peers.
func WithTransferClient(c *transfer.Client) Option {
	return newFuncOption(func(cfg *config) { cfg.transferClient = c })
}

// WithLogger sets the base logger; every component names a child logger
// off of it.
func WithLogger(logger *zap.Logger) Option {
	return newFuncOption(func(cfg *config) { cfg.logger = logger })
}
