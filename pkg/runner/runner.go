// Package runner manages the goroutines a replica spawns (queue updater,
// merge selector, block housekeeper, executor tasks) as one
// group that can be torn down together on partialShutdown, adapted from
// _examples/kakao-varlog's pkg/util/runner.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type State int

const (
	Invalid State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Runner tracks a group of cancelable goroutines so that Stop can cancel
// and join every one of them, the way partialShutdown tears down every
// long-lived loop a replica owns at once.
type Runner struct {
	name string
	wg   sync.WaitGroup

	mu      sync.RWMutex
	taskID  atomic.Uint64
	cancels map[uint64]context.CancelFunc
	state   State

	numTasks atomic.Uint64
	logger   *zap.Logger
}

func New(name string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		name:    name,
		cancels: make(map[uint64]context.CancelFunc),
		state:   Running,
		logger:  logger,
	}
}

func (r *Runner) WithManagedCancel(parent context.Context) (context.Context, context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	if r.state != Running {
		cancel()
		return ctx, cancel
	}

	taskID := r.taskID.Add(1)
	managedCancel := func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, taskID)
		r.mu.Unlock()
	}
	r.cancels[taskID] = managedCancel
	return ctx, managedCancel
}

// Run starts f in a goroutine managed by the runner; canceling the
// returned CancelFunc, or stopping the runner, cancels f's context.
func (r *Runner) Run(f func(context.Context)) (context.CancelFunc, error) {
	ctx, cancel := r.WithManagedCancel(context.Background())
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	if state != Running {
		cancel()
		return nil, fmt.Errorf("runner %s: %s", r.name, state)
	}

	r.wg.Add(1)
	r.numTasks.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.numTasks.Add(^uint64(0))
		f(ctx)
	}()
	return cancel, nil
}

// RunManaged starts f in a goroutine joined by Stop, using a context the
// caller already obtained from WithManagedCancel. Unlike Run, it does not
// mint a new cancelable context, which lets several goroutines share one
// cancel function (e.g. a leader's merge selector and block housekeeper,
// both canceled together on step-down).
func (r *Runner) RunManaged(ctx context.Context, f func(context.Context)) error {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	if state != Running {
		return fmt.Errorf("runner %s: %s", r.name, state)
	}

	r.wg.Add(1)
	r.numTasks.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.numTasks.Add(^uint64(0))
		f(ctx)
	}()
	return nil
}

// Stop cancels every managed goroutine and blocks until they exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return
	}
	r.state = Stopping
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for _, c := range r.cancels {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	r.wg.Wait()

	r.mu.Lock()
	r.state = Stopped
	r.mu.Unlock()
}

func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) NumTasks() uint64 {
	return r.numTasks.Load()
}
