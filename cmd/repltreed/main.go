package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/internal/coordinator/etcdcoord"
	"github.com/coltreedb/repltree/internal/replica"
	"github.com/coltreedb/repltree/internal/transfer"
	"github.com/coltreedb/repltree/pkg/logutil"
	"github.com/coltreedb/repltree/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	app := newDaemonApp()
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "repltreed: %+v\n", err)
		return -1
	}
	return 0
}

func start(c *cli.Context) error {
	logPath := ""
	if dir := c.String(flagLogDir.Name); dir != "" {
		logPath = filepath.Join(dir, "repltreed.log")
	}
	logger, err := logutil.New(logutil.Options{
		Path:               logPath,
		DisableLogToStderr: c.Bool(flagDisableLogToStderr.Name),
		Debug:              c.Bool(flagLogDebug.Name),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	replicaName := types.ReplicaName(c.String(flagReplica.Name))
	logger = logger.Named("repltreed").With(
		zap.String("table", c.String(flagTableRoot.Name)),
		zap.String("replica", string(replicaName)),
	)

	columns, err := parseColumns(c.StringSlice(flagColumns.Name))
	if err != nil {
		return err
	}
	metadata := replica.TableMetadata{
		DateColumn:         c.String(flagDateColumn.Name),
		SamplingExpression: c.String(flagSamplingExpression.Name),
		IndexGranularity:   c.Int(flagIndexGranularity.Name),
		Mode:               c.Int(flagMode.Name),
		SignColumn:         c.String(flagSignColumn.Name),
		PrimaryKey:         c.String(flagPrimaryKey.Name),
		Columns:            columns,
	}

	endpoints := c.StringSlice(flagEtcdEndpoints.Name)
	dialTimeout := c.Duration(flagEtcdDialTimeout.Name)
	coordinatorDial := func() (coordinator.Client, error) {
		return etcdcoord.Dial(context.Background(), endpoints, dialTimeout, logger, "")
	}

	r, err := replica.New(
		replica.WithTableRoot(c.String(flagTableRoot.Name)),
		replica.WithReplicaName(replicaName),
		replica.WithAttach(c.Bool(flagAttach.Name)),
		replica.WithMetadata(metadata),
		replica.WithLocalDir(c.String(flagLocalDir.Name)),
		replica.WithHostPort(c.String(flagAdvertise.Name)),
		replica.WithCoordinatorDialer(coordinatorDial),
		replica.WithMaxReplicatedMergesInQueue(c.Int(flagMaxReplicatedMergesInQueue.Name)),
		replica.WithDeduplicationWindow(c.Uint64(flagDeduplicationWindow.Name)),
		replica.WithObsoleteGrace(c.Duration(flagObsoleteGrace.Name)),
		replica.WithQueueUpdatingInterval(c.Duration(flagQueueUpdatingInterval.Name)),
		replica.WithMergeSelectingInterval(c.Duration(flagMergeSelectingInterval.Name)),
		replica.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/parts/", transfer.NewServer(r, logger).Handler())
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: c.String(flagListen.Name), Handler: mux}

	var g errgroup.Group
	quit := make(chan struct{})
	g.Go(func() error {
		defer close(quit)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case sig := <-sigC:
			closeErr := srv.Close()
			return errors.Join(fmt.Errorf("caught signal %s", sig), closeErr, r.Close())
		case <-quit:
			return r.Close()
		}
	})
	return g.Wait()
}

func parseColumns(raw []string) ([]replica.Column, error) {
	cols := make([]replica.Column, 0, len(raw))
	for _, s := range raw {
		name, typ, ok := strings.Cut(s, ":")
		if !ok || name == "" || typ == "" {
			return nil, fmt.Errorf("repltreed: malformed --column %q, want name:type", s)
		}
		cols = append(cols, replica.Column{Name: name, Type: typ})
	}
	return cols, nil
}
