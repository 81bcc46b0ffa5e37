// Package stopwaiter provides StopWaiter, a single channel its owner
// closes exactly once, adapted from
// _examples/kakao-varlog's pkg/util/runner/stopwaiter.
package stopwaiter

import "sync"

type StopWaiter struct {
	mu      sync.RWMutex
	stopped bool
	stopc   chan struct{}
}

func New() *StopWaiter {
	return &StopWaiter{stopc: make(chan struct{})}
}

func (s *StopWaiter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	close(s.stopc)
	s.stopped = true
}

func (s *StopWaiter) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *StopWaiter) C() <-chan struct{} {
	return s.stopc
}

func (s *StopWaiter) Wait() {
	<-s.stopc
}
