package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/coltreedb/repltree/internal/replica"
)

const defaultEtcdDialTimeout = 5 * time.Second

var (
	flagEtcdEndpoints = &cli.StringSliceFlag{
		Name:     "etcd-endpoints",
		Usage:    "etcd endpoints backing the replication coordinator",
		Required: true,
	}
	flagEtcdDialTimeout = &cli.DurationFlag{
		Name:  "etcd-dial-timeout",
		Usage: "timeout for the initial etcd connection",
		Value: defaultEtcdDialTimeout,
	}

	flagTableRoot = &cli.StringFlag{
		Name:     "table-root",
		Usage:    "coordinator path this table is rooted at, e.g. /tables/events",
		Required: true,
	}
	flagReplica = &cli.StringFlag{
		Name:     "replica",
		Usage:    "this replica's name, unique among the table's replicas",
		Required: true,
	}
	flagAttach = &cli.BoolFlag{
		Name:  "attach",
		Usage: "attach to an already-existing table instead of creating it",
	}
	flagLocalDir = &cli.StringFlag{
		Name:     "local-dir",
		Usage:    "local directory this replica's parts are stored under",
		Required: true,
	}
	flagListen = &cli.StringFlag{
		Name:  "listen",
		Usage: "address the part-transfer and metrics HTTP server listens on",
		Value: "0.0.0.0:8700",
	}
	flagAdvertise = &cli.StringFlag{
		Name:     "advertise",
		Usage:    "host:port peers use to reach this replica's part-transfer server",
		Required: true,
	}

	flagDateColumn = &cli.StringFlag{
		Name:  "date-column",
		Usage: "name of the column that determines month partitioning",
	}
	flagSamplingExpression = &cli.StringFlag{
		Name:  "sampling-expression",
		Usage: "formatted sampling key expression, empty if none",
	}
	flagIndexGranularity = &cli.IntFlag{
		Name:  "index-granularity",
		Usage: "rows per index mark",
		Value: 8192,
	}
	flagMode = &cli.IntFlag{
		Name:  "mode",
		Usage: "opaque replication mode identifier carried in table metadata",
	}
	flagSignColumn = &cli.StringFlag{
		Name:  "sign-column",
		Usage: "name of the sign column, empty if this table isn't collapsing",
	}
	flagPrimaryKey = &cli.StringFlag{
		Name:  "primary-key",
		Usage: "formatted primary key expression",
	}
	flagColumns = &cli.StringSliceFlag{
		Name:  "column",
		Usage: `column definition "name:type", repeatable, order-sensitive`,
	}

	flagMaxReplicatedMergesInQueue = &cli.IntFlag{
		Name:  "max-replicated-merges-in-queue",
		Usage: "cap on in-flight MERGE_PARTS entries before the selector backs off",
		Value: replica.DefaultMaxReplicatedMergesInQueue,
	}
	flagDeduplicationWindow = &cli.Uint64Flag{
		Name:  "deduplication-window",
		Usage: "trailing dedup block records retained by the housekeeper",
		Value: replica.DefaultDeduplicationWindow,
	}
	flagObsoleteGrace = &cli.DurationFlag{
		Name:  "obsolete-grace",
		Usage: "delay before an obsoleted local part is dropped",
		Value: replica.DefaultObsoleteGrace,
	}
	flagQueueUpdatingInterval = &cli.DurationFlag{
		Name:  "queue-updating-interval",
		Usage: "poll interval of the queue-updating loop",
		Value: replica.DefaultQueueUpdatingInterval,
	}
	flagMergeSelectingInterval = &cli.DurationFlag{
		Name:  "merge-selecting-interval",
		Usage: "poll interval of the leader's merge-selecting loop",
		Value: replica.DefaultMergeSelectingInterval,
	}

	flagLogDir = &cli.StringFlag{
		Name:  "log-dir",
		Usage: "directory for the rotated log file; unset disables file logging",
	}
	flagLogDebug = &cli.BoolFlag{
		Name:  "debug",
		Usage: "use the human-readable console log encoder at debug level",
	}
	flagDisableLogToStderr = &cli.BoolFlag{
		Name:  "disable-log-to-stderr",
		Usage: "disable logging to stderr (requires -log-dir)",
	}
)
