package replica

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/telemetry"
	"github.com/coltreedb/repltree/pkg/runner"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// startup implements spec.md §4.D/§4.J: reconcile against the
// coordinator (create or attach), activate this replica, enter leader
// election, and spawn the long-lived loops.
func (r *Replica) startup(ctx context.Context) error {
	r.runner = runner.New("replica-"+string(r.self), r.logger)
	r.shutdownCalled.Store(false)

	if !r.cfg.attach {
		exists, err := r.getCoord().Exists(ctx, r.table.Metadata())
		if err != nil {
			return errors.Wrap(err, "replica: check table existence")
		}
		if !exists {
			if err := r.createTable(ctx); err != nil {
				return err
			}
		}
	}

	if err := r.checkStructure(ctx); err != nil {
		return err
	}

	if !r.cfg.attach {
		if err := r.createReplica(ctx); err != nil {
			return err
		}
	} else {
		if err := r.checkParts(ctx); err != nil {
			return err
		}
	}

	if err := r.activateReplica(ctx); err != nil {
		return err
	}

	if err := r.enterLeaderElection(ctx); err != nil {
		return err
	}

	if _, err := r.runner.Run(r.queueUpdatingLoop); err != nil {
		return err
	}
	for i := 0; i < executorPoolSize; i++ {
		if _, err := r.runner.Run(r.executorWorker); err != nil {
			return err
		}
	}
	if _, err := r.runner.Run(r.leaderElectionLoop); err != nil {
		return err
	}

	r.isReadOnly.Store(false)
	telemetry.IsReadOnlyMetricVec.WithLabelValues(string(r.self)).Set(0)
	return nil
}

// activateReplica implements spec.md §4.J: atomically claim is_active and
// publish our advertised host:port. A stale is_active left by our own
// expired session (same node identity) is removed and retried once;
// any other conflict is fatal.
func (r *Replica) activateReplica(ctx context.Context) error {
	self := r.table.Replica(r.self)
	err := r.getCoord().CreateEphemeral(ctx, self.IsActive(), []byte(r.nodeIdentity))
	if errors.Is(err, verrors.ErrAlreadyExists) {
		raw, found, getErr := r.getCoord().Get(ctx, self.IsActive())
		if getErr == nil && found && string(raw) == r.nodeIdentity {
			if delErr := r.getCoord().Delete(ctx, self.IsActive()); delErr == nil {
				err = r.getCoord().CreateEphemeral(ctx, self.IsActive(), []byte(r.nodeIdentity))
			}
		}
	}
	if err != nil {
		return errors.Wrap(verrors.ErrReplicaAlreadyActive, "replica: activate")
	}
	return r.getCoord().Set(ctx, self.Host(), []byte(r.cfg.hostPort))
}

// enterLeaderElection creates our ephemeral-sequential candidate and runs
// one immediate leadership check.
func (r *Replica) enterLeaderElection(ctx context.Context) error {
	fullPath, _, err := r.getCoord().CreateEphemeralSequential(ctx, r.table.LeaderElection(), "candidate", []byte(r.nodeIdentity))
	if err != nil {
		return errors.Wrap(err, "replica: enter leader election")
	}
	r.mu.Lock()
	r.leaderElectionPath = fullPath
	r.mu.Unlock()
	return r.checkLeadership(ctx)
}

// leaderElectionLoop re-checks leadership every 5s and whenever a watch on
// leader_election/ fires, following the queue-updating cadence spec.md §5
// assigns to this kind of named loop.
func (r *Replica) leaderElectionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		watchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ch, err := r.getCoord().Watch(watchCtx, r.table.LeaderElection())
		if err == nil {
			select {
			case <-ch:
			case <-watchCtx.Done():
			}
		} else {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				cancel()
				return
			}
		}
		cancel()
		if err := r.checkLeadership(ctx); err != nil {
			r.logger.Error("leader election check failed", zap.Error(err))
		}
	}
}

func (r *Replica) checkLeadership(ctx context.Context) error {
	nodes, err := r.getCoord().List(ctx, r.table.LeaderElection())
	if err != nil {
		return errors.Wrap(err, "replica: list leader_election")
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	r.mu.RLock()
	ourPath := r.leaderElectionPath
	r.mu.RUnlock()

	smallest := len(nodes) > 0 && r.table.LeaderElection()+"/"+nodes[0].Name == ourPath
	if smallest {
		r.becomeLeader()
	} else {
		r.stepDownLeader()
	}
	return nil
}

// becomeLeader spins up the merge selector and dedup-block housekeeper
// (spec.md §4.J).
func (r *Replica) becomeLeader() {
	if !r.isLeader.CompareAndSwap(false, true) {
		return
	}
	telemetry.IsLeaderMetricVec.WithLabelValues(string(r.self)).Set(1)
	r.logger.Info("became leader")

	ctx, cancel := r.runner.WithManagedCancel(context.Background())
	r.mu.Lock()
	r.leaderCancel = cancel
	r.mu.Unlock()
	_ = r.runner.RunManaged(ctx, r.mergeSelectingLoop)
	_ = r.runner.RunManaged(ctx, r.clearOldBlocksLoop)
}

// stepDownLeader cancels the leader-only loops if currently leading.
func (r *Replica) stepDownLeader() {
	if !r.isLeader.CompareAndSwap(true, false) {
		return
	}
	telemetry.IsLeaderMetricVec.WithLabelValues(string(r.self)).Set(0)
	r.logger.Info("stepped down as leader")

	r.mu.Lock()
	cancel := r.leaderCancel
	r.leaderCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// partialShutdown implements spec.md §4.J: drop leadership, stop every
// loop this replica owns, and release our ephemeral holders. Failures
// among these independent steps are aggregated rather than short-circuited,
// so a failure to drop one ephemeral node doesn't hide a failure to drop
// the other.
func (r *Replica) partialShutdown() error {
	if !r.shutdownCalled.CompareAndSwap(false, true) {
		return nil
	}
	r.stepDownLeader()
	if r.runner != nil {
		r.runner.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs error
	self := r.table.Replica(r.self)
	if err := r.getCoord().Delete(ctx, self.IsActive()); err != nil && !errors.Is(err, verrors.ErrNotFound) {
		errs = multierr.Append(errs, errors.Wrap(err, "replica: drop is_active on shutdown"))
	}
	r.mu.Lock()
	path := r.leaderElectionPath
	r.leaderElectionPath = ""
	r.mu.Unlock()
	if path != "" {
		if err := r.getCoord().Delete(ctx, path); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			errs = multierr.Append(errs, errors.Wrap(err, "replica: drop leader_election candidate on shutdown"))
		}
	}
	if errs != nil {
		r.logger.Warn("partial shutdown encountered errors", zap.Error(errs))
	}
	return errs
}

// restartingLoop is spec.md's "restarting" thread (§4.J, §5): every 2s,
// check whether the coordinator session has expired; if so, tear down,
// reconnect, and start up again against the fresh handle. Any
// unrecoverable error here transitions permanently to read-only.
func (r *Replica) restartingLoop() {
	defer close(r.lifecycleDone)
	ticker := time.NewTicker(r.cfg.restarterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.lifecycleStop:
			return
		case <-ticker.C:
		}

		if !r.getCoord().Expired() {
			continue
		}

		r.logger.Warn("coordinator session expired, restarting")
		_ = r.partialShutdown()

		newCoord, err := r.cfg.coordinatorDial()
		if err != nil {
			r.logger.Error("failed to reconnect to coordinator, entering permanent read-only", zap.Error(err))
			r.isReadOnly.Store(true)
			telemetry.IsReadOnlyMetricVec.WithLabelValues(string(r.self)).Set(1)
			r.permanentShutdownCalled.Store(true)
			return
		}
		r.mu.Lock()
		r.coord = newCoord
		r.mu.Unlock()

		if err := r.startup(context.Background()); err != nil {
			r.logger.Error("failed to restart after session expiry, entering permanent read-only", zap.Error(err))
			r.isReadOnly.Store(true)
			telemetry.IsReadOnlyMetricVec.WithLabelValues(string(r.self)).Set(1)
			r.permanentShutdownCalled.Store(true)
			return
		}
	}
}

// queueUpdatingLoop is spec.md's "queue_updating" thread: pulls logs into
// the queue, then runs the per-pass housekeeping, every 5s or whenever
// woken (spec.md §4.E.4, §4.I, §5).
func (r *Replica) queueUpdatingLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.queueUpdatingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wakeCh:
		}
		if err := r.pullLogsToQueue(ctx); err != nil {
			r.logger.Error("pullLogsToQueue failed", zap.Error(err))
		}
		r.clearOldParts(ctx)
		r.clearOldLogs(ctx)
	}
}

// executorWorker is one of the background pool's workers repeatedly
// invoking queueTask (spec.md §4.F, §5): multiple workers may run
// concurrently, with future_parts the only isolation between them.
func (r *Replica) executorWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ok, _ := r.queueTask(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.wakeCh:
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}
