package coordtest

import (
	"context"
	"fmt"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/pkg/verrors"
)

type fakeOpKind int

const (
	fakeOpCreate fakeOpKind = iota
	fakeOpSet
	fakeOpDelete
	fakeOpCreateSequential
)

type fakeOp struct {
	kind   fakeOpKind
	key    string
	value  []byte
	dir    string
	prefix string
}

// fakeTxn applies its staged ops atomically against Store.mu, giving the
// same all-or-nothing semantics the etcd-backed Txn provides.
type fakeTxn struct {
	f   *Fake
	ops []fakeOp
}

func (t *fakeTxn) Create(key string, value []byte) coordinator.Txn {
	t.ops = append(t.ops, fakeOp{kind: fakeOpCreate, key: key, value: value})
	return t
}

func (t *fakeTxn) Set(key string, value []byte) coordinator.Txn {
	t.ops = append(t.ops, fakeOp{kind: fakeOpSet, key: key, value: value})
	return t
}

func (t *fakeTxn) Delete(key string) coordinator.Txn {
	t.ops = append(t.ops, fakeOp{kind: fakeOpDelete, key: key})
	return t
}

func (t *fakeTxn) CreateSequential(dir, prefix string, value []byte) coordinator.Txn {
	t.ops = append(t.ops, fakeOp{kind: fakeOpCreateSequential, dir: dir, prefix: prefix, value: value})
	return t
}

func (t *fakeTxn) Commit(_ context.Context) (coordinator.Result, error) {
	s := t.f.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range t.ops {
		if op.kind == fakeOpCreate {
			if _, exists := s.nodes[op.key]; exists {
				return coordinator.Result{}, fmt.Errorf("coordtest: txn create %s: %w", op.key, verrors.ErrAlreadyExists)
			}
		}
	}

	var result coordinator.Result
	for _, op := range t.ops {
		switch op.kind {
		case fakeOpCreate:
			s.nextCZ++
			s.nodes[op.key] = entry{value: op.value, czxid: s.nextCZ}
			s.notifyLocked(op.key, coordinator.EventCreated)
		case fakeOpSet:
			e := s.nodes[op.key]
			e.value = op.value
			if e.czxid == 0 {
				s.nextCZ++
				e.czxid = s.nextCZ
			}
			s.nodes[op.key] = e
			s.notifyLocked(op.key, coordinator.EventModified)
		case fakeOpDelete:
			delete(s.nodes, op.key)
			s.notifyLocked(op.key, coordinator.EventDeleted)
		case fakeOpCreateSequential:
			name, full := s.mintSequentialLocked(op.dir, op.prefix)
			s.nextCZ++
			s.nodes[full] = entry{value: op.value, czxid: s.nextCZ}
			s.notifyLocked(full, coordinator.EventCreated)
			result.SequentialNames = append(result.SequentialNames, name)
		}
	}
	return result, nil
}
