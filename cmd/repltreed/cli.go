package main

import "github.com/urfave/cli/v2"

const (
	appName = "repltreed"
	version = "0.0.1"
)

func newDaemonApp() *cli.App {
	return &cli.App{
		Name:    appName,
		Usage:   "replicated part-tree daemon",
		Version: version,
		Commands: []*cli.Command{
			newStartCommand(),
		},
	}
}

func newStartCommand() *cli.Command {
	return &cli.Command{
		Name:    "start",
		Aliases: []string{"s"},
		Action:  start,
		Flags: []cli.Flag{
			flagTableRoot,
			flagReplica,
			flagAttach,
			flagLocalDir,
			flagListen,
			flagAdvertise,

			flagDateColumn,
			flagSamplingExpression,
			flagIndexGranularity,
			flagMode,
			flagSignColumn,
			flagPrimaryKey,
			flagColumns,

			flagEtcdEndpoints,
			flagEtcdDialTimeout,

			flagMaxReplicatedMergesInQueue,
			flagDeduplicationWindow,
			flagObsoleteGrace,
			flagQueueUpdatingInterval,
			flagMergeSelectingInterval,

			flagLogDir,
			flagLogDebug,
			flagDisableLogToStderr,
		},
	}
}
