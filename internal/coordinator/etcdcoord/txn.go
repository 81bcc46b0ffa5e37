package etcdcoord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	etcdcli "go.etcd.io/etcd/client/v3"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/pkg/types"
)

type opKind int

const (
	opCreate opKind = iota
	opSet
	opDelete
	opCreateSequential
)

type stagedOp struct {
	kind   opKind
	key    string // for opCreate/opSet/opDelete
	value  []byte
	dir    string // for opCreateSequential
	prefix string
}

// txn implements coordinator.Txn. Plain ops (Create/Set/Delete) are
// deterministic to rebuild; CreateSequential re-reads its counter on every
// retry, so the whole transaction is safe to retry as a unit when it loses
// a CAS race, the same way etcdcoord.createSequential retries a single
// sequential create.
type txn struct {
	c   *Client
	ops []stagedOp
}

func (t *txn) Create(key string, value []byte) coordinator.Txn {
	t.ops = append(t.ops, stagedOp{kind: opCreate, key: key, value: value})
	return t
}

func (t *txn) Set(key string, value []byte) coordinator.Txn {
	t.ops = append(t.ops, stagedOp{kind: opSet, key: key, value: value})
	return t
}

func (t *txn) Delete(key string) coordinator.Txn {
	t.ops = append(t.ops, stagedOp{kind: opDelete, key: key})
	return t
}

func (t *txn) CreateSequential(dir, prefix string, value []byte) coordinator.Txn {
	t.ops = append(t.ops, stagedOp{kind: opCreateSequential, dir: dir, prefix: prefix, value: value})
	return t
}

func (t *txn) Commit(ctx context.Context) (coordinator.Result, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		cmps := make([]etcdcli.Cmp, 0, len(t.ops))
		thens := make([]etcdcli.Op, 0, len(t.ops)*2)
		names := make([]string, len(t.ops))

		for i, op := range t.ops {
			switch op.kind {
			case opCreate:
				cmps = append(cmps, etcdcli.Compare(etcdcli.CreateRevision(op.key), "=", 0))
				thens = append(thens, etcdcli.OpPut(op.key, string(op.value)))
			case opSet:
				thens = append(thens, etcdcli.OpPut(op.key, string(op.value)))
			case opDelete:
				thens = append(thens, etcdcli.OpDelete(op.key))
			case opCreateSequential:
				counterKey := strings.TrimSuffix(op.dir, "/") + "/" + seqCounterName
				getResp, err := t.c.cli.Get(ctx, counterKey)
				if err != nil {
					return coordinator.Result{}, err
				}
				var next uint64
				if len(getResp.Kvs) == 0 {
					next = 1
					cmps = append(cmps, etcdcli.Compare(etcdcli.CreateRevision(counterKey), "=", 0))
				} else {
					cur, perr := strconv.ParseUint(string(getResp.Kvs[0].Value), 10, 64)
					if perr != nil {
						return coordinator.Result{}, fmt.Errorf("etcdcoord: corrupt sequence counter %s: %w", counterKey, perr)
					}
					next = cur + 1
					cmps = append(cmps, etcdcli.Compare(etcdcli.ModRevision(counterKey), "=", getResp.Kvs[0].ModRevision))
				}
				name := types.SeqName(op.prefix, next)
				fullPath := strings.TrimSuffix(op.dir, "/") + "/" + name
				names[i] = name
				thens = append(thens, etcdcli.OpPut(counterKey, strconv.FormatUint(next, 10)), etcdcli.OpPut(fullPath, string(op.value)))
			}
		}

		txnReq := t.c.cli.Txn(ctx)
		if len(cmps) > 0 {
			txnReq = txnReq.If(cmps...)
		}
		resp, err := txnReq.Then(thens...).Commit()
		if err != nil {
			return coordinator.Result{}, err
		}
		if resp.Succeeded {
			result := coordinator.Result{}
			for _, n := range names {
				if n != "" {
					result.SequentialNames = append(result.SequentialNames, n)
				}
			}
			return result, nil
		}
		// A staged CreateSequential's counter moved, or a staged Create
		// lost its CreateRevision==0 race; retry the whole transaction.
	}
	return coordinator.Result{}, fmt.Errorf("etcdcoord: commit txn: exceeded %d retries", maxCASRetries)
}
