// Package coordtest is an in-memory fake of internal/coordinator.Client,
// used by the replica packages' unit tests the way
// internal/storagenode/in_memory_storage.go stands in for a real storage
// backend in kakao-varlog's tests.
package coordtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

type entry struct {
	value     []byte
	ephemeral bool
	czxid     int64
}

// Fake is an in-process coordinator.Client. All Fakes sharing the same
// *Store simulate replicas talking to the same coordinator; each Fake has
// its own session (and so its own set of ephemeral nodes that vanish on
// Expire).
type Fake struct {
	store     *Store
	sessionID string
	expired   bool
	mu        sync.Mutex
}

// Store is the shared coordinator state behind a family of Fakes.
type Store struct {
	mu       sync.Mutex
	nodes    map[string]entry
	counters map[string]uint64
	nextCZ   int64
	watchers map[string][]chan coordinator.Event
}

func NewStore() *Store {
	return &Store{
		nodes:    make(map[string]entry),
		counters: make(map[string]uint64),
		watchers: make(map[string][]chan coordinator.Event),
	}
}

// NewClient returns a Fake bound to sessionID, sharing store.
func NewClient(store *Store, sessionID string) *Fake {
	return &Fake{store: store, sessionID: sessionID}
}

func (f *Fake) SessionID() string { return f.sessionID }

func (f *Fake) Expired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired
}

// Expire simulates session loss by marking this session expired. Ephemeral
// nodes created through it are left in the store; the fake has no step
// that removes them.
func (f *Fake) Expire() {
	f.mu.Lock()
	f.expired = true
	f.mu.Unlock()
}

func (f *Fake) Close() error { return nil }

func (f *Fake) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	e, ok := f.store.nodes[key]
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := f.Get(ctx, key)
	return found, err
}

func (f *Fake) List(_ context.Context, dir string) ([]coordinator.Node, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []coordinator.Node
	for k, e := range f.store.nodes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rel := strings.TrimPrefix(k, prefix)
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		out = append(out, coordinator.Node{Name: rel, Value: e.value, CZXID: e.czxid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CZXID < out[j].CZXID })
	return out, nil
}

func (f *Fake) Create(_ context.Context, key string, value []byte) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.createLocked(key, value, false)
}

func (f *Fake) CreateEphemeral(_ context.Context, key string, value []byte) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.createLocked(key, value, true)
}

func (s *Store) createLocked(key string, value []byte, ephemeral bool) error {
	if _, ok := s.nodes[key]; ok {
		return fmt.Errorf("coordtest: create %s: %w", key, verrors.ErrAlreadyExists)
	}
	s.nextCZ++
	s.nodes[key] = entry{value: value, ephemeral: ephemeral, czxid: s.nextCZ}
	s.notifyLocked(key, coordinator.EventCreated)
	return nil
}

func (f *Fake) CreateSequential(ctx context.Context, dir, prefix string, value []byte) (string, string, error) {
	return f.createSequential(dir, prefix, value, false)
}

func (f *Fake) CreateEphemeralSequential(ctx context.Context, dir, prefix string, value []byte) (string, string, error) {
	return f.createSequential(dir, prefix, value, true)
}

func (f *Fake) createSequential(dir, prefix string, value []byte, ephemeral bool) (string, string, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	name, full := f.store.mintSequentialLocked(dir, prefix)
	f.store.nextCZ++
	f.store.nodes[full] = entry{value: value, ephemeral: ephemeral, czxid: f.store.nextCZ}
	f.store.notifyLocked(full, coordinator.EventCreated)
	return full, name, nil
}

func (s *Store) mintSequentialLocked(dir, prefix string) (name, full string) {
	s.counters[dir]++
	name = types.SeqName(prefix, s.counters[dir])
	full = strings.TrimSuffix(dir, "/") + "/" + name
	return name, full
}

func (f *Fake) Set(_ context.Context, key string, value []byte) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	e := f.store.nodes[key]
	e.value = value
	if e.czxid == 0 {
		f.store.nextCZ++
		e.czxid = f.store.nextCZ
	}
	f.store.nodes[key] = e
	f.store.notifyLocked(key, coordinator.EventModified)
	return nil
}

func (f *Fake) Delete(_ context.Context, key string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	delete(f.store.nodes, key)
	f.store.notifyLocked(key, coordinator.EventDeleted)
	return nil
}

func (f *Fake) DeleteRecursive(_ context.Context, key string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	prefix := strings.TrimSuffix(key, "/") + "/"
	delete(f.store.nodes, key)
	for k := range f.store.nodes {
		if strings.HasPrefix(k, prefix) {
			delete(f.store.nodes, k)
		}
	}
	f.store.notifyLocked(key, coordinator.EventDeleted)
	return nil
}

func (f *Fake) Watch(ctx context.Context, key string) (<-chan coordinator.Event, error) {
	ch := make(chan coordinator.Event, 1)
	f.store.mu.Lock()
	f.store.watchers[key] = append(f.store.watchers[key], ch)
	f.store.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

func (s *Store) notifyLocked(key string, et coordinator.EventType) {
	for watchKey, chans := range s.watchers {
		prefixMatch := strings.HasSuffix(watchKey, "/") && strings.HasPrefix(key, watchKey)
		if watchKey != key && !prefixMatch {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- coordinator.Event{Type: et, Path: key}:
			default:
			}
			close(ch)
		}
		delete(s.watchers, watchKey)
	}
}

func (f *Fake) Txn() coordinator.Txn {
	return &fakeTxn{f: f}
}
