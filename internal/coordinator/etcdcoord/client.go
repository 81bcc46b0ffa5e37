// Package etcdcoord implements internal/coordinator.Client on top of etcd,
// the way _examples/kakao-varlog's
// internal/metadata_repository/etcd_metadata_repository.go uses
// go.etcd.io/etcd/clientv3 as a thin client of an external coordination
// service: ephemeral nodes are etcd leases, watches are etcd watches, and
// multi-op transactions are clientv3.Txn guarded by Compare.
package etcdcoord

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	etcdcli "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/coordinator"
	"github.com/coltreedb/repltree/pkg/types"
)

const (
	seqCounterName = ".seq"
	sessionTTLSecs = 10
	maxCASRetries  = 16
)

// Client is the etcd-backed coordinator.Client.
type Client struct {
	cli    *etcdcli.Client
	logger *zap.Logger

	sessionID string
	leaseID   etcdcli.LeaseID
	keepAlive <-chan *etcdcli.LeaseKeepAliveResponse

	expired atomic.Bool
	cancel  context.CancelFunc
}

// Dial connects to the given endpoints and grants a session lease.
// sessionID, if empty, is generated randomly; callers that need a
// reproducible identifier (tests, restarts against a well-known name)
// should supply one.
func Dial(ctx context.Context, endpoints []string, dialTimeout time.Duration, logger *zap.Logger, sessionID string) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := etcdcli.New(etcdcli.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcdcoord: dial: %w", err)
	}

	if sessionID == "" {
		sessionID, err = randomSessionID()
		if err != nil {
			cli.Close()
			return nil, err
		}
	}

	lease, err := cli.Grant(ctx, sessionTTLSecs)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcdcoord: grant lease: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	keepAlive, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		cli.Close()
		return nil, fmt.Errorf("etcdcoord: keepalive: %w", err)
	}

	c := &Client{
		cli:       cli,
		logger:    logger.Named("etcdcoord"),
		sessionID: sessionID,
		leaseID:   lease.ID,
		keepAlive: keepAlive,
		cancel:    cancel,
	}
	go c.watchKeepAlive()
	return c, nil
}

func randomSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("etcdcoord: generate session id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func (c *Client) watchKeepAlive() {
	for resp := range c.keepAlive {
		if resp == nil {
			break
		}
	}
	c.logger.Warn("coordinator session lease lost")
	c.expired.Store(true)
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) Expired() bool { return c.expired.Load() }

func (c *Client) Close() error {
	c.cancel()
	return c.cli.Close()
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := c.Get(ctx, key)
	return found, err
}

func (c *Client) List(ctx context.Context, dir string) ([]coordinator.Node, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	resp, err := c.cli.Get(ctx, prefix, etcdcli.WithPrefix())
	if err != nil {
		return nil, err
	}
	nodes := make([]coordinator.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rel := strings.TrimPrefix(string(kv.Key), prefix)
		if rel == "" || strings.Contains(rel, "/") || rel == seqCounterName {
			continue // not a direct child, or the hidden sequence counter
		}
		nodes = append(nodes, coordinator.Node{
			Name:  rel,
			Value: kv.Value,
			CZXID: kv.CreateRevision,
		})
	}
	return nodes, nil
}

func (c *Client) Create(ctx context.Context, key string, value []byte) error {
	resp, err := c.cli.Txn(ctx).
		If(etcdcli.Compare(etcdcli.CreateRevision(key), "=", 0)).
		Then(etcdcli.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return fmt.Errorf("etcdcoord: create %s: %w", key, errAlreadyExists)
	}
	return nil
}

func (c *Client) CreateEphemeral(ctx context.Context, key string, value []byte) error {
	resp, err := c.cli.Txn(ctx).
		If(etcdcli.Compare(etcdcli.CreateRevision(key), "=", 0)).
		Then(etcdcli.OpPut(key, string(value), etcdcli.WithLease(c.leaseID))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return fmt.Errorf("etcdcoord: create ephemeral %s: %w", key, errAlreadyExists)
	}
	return nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.cli.Put(ctx, key, string(value))
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.cli.Delete(ctx, key)
	return err
}

func (c *Client) DeleteRecursive(ctx context.Context, key string) error {
	if _, err := c.cli.Delete(ctx, key); err != nil {
		return err
	}
	_, err := c.cli.Delete(ctx, strings.TrimSuffix(key, "/")+"/", etcdcli.WithPrefix())
	return err
}

func (c *Client) Watch(ctx context.Context, key string) (<-chan coordinator.Event, error) {
	out := make(chan coordinator.Event, 1)
	opts := []etcdcli.OpOption{}
	if strings.HasSuffix(key, "/") {
		opts = append(opts, etcdcli.WithPrefix())
	}
	wc := c.cli.Watch(ctx, key, opts...)
	go func() {
		defer close(out)
		for resp := range wc {
			if resp.Canceled || resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				et := coordinator.EventModified
				switch {
				case ev.IsCreate():
					et = coordinator.EventCreated
				case ev.Type == etcdcli.EventTypeDelete:
					et = coordinator.EventDeleted
				}
				select {
				case out <- coordinator.Event{Type: et, Path: string(ev.Kv.Key)}:
				case <-ctx.Done():
					return
				}
				return // single-shot: one Event per Watch call, as documented
			}
		}
	}()
	return out, nil
}

// CreateSequential emulates ZooKeeper's create-sequential on etcd by
// advancing a per-directory counter key inside a CAS transaction, the same
// shape as the Compare/Then loop etcd_metadata_repository.go uses to
// advance its epoch counter.
func (c *Client) CreateSequential(ctx context.Context, dir, prefix string, value []byte) (string, string, error) {
	return c.createSequential(ctx, dir, prefix, value, false)
}

func (c *Client) CreateEphemeralSequential(ctx context.Context, dir, prefix string, value []byte) (string, string, error) {
	return c.createSequential(ctx, dir, prefix, value, true)
}

func (c *Client) createSequential(ctx context.Context, dir, prefix string, value []byte, ephemeral bool) (fullPath, name string, err error) {
	counterKey := strings.TrimSuffix(dir, "/") + "/" + seqCounterName
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		getResp, err := c.cli.Get(ctx, counterKey)
		if err != nil {
			return "", "", err
		}
		var next uint64
		var cmp etcdcli.Cmp
		if len(getResp.Kvs) == 0 {
			next = 1
			cmp = etcdcli.Compare(etcdcli.CreateRevision(counterKey), "=", 0)
		} else {
			cur, perr := strconv.ParseUint(string(getResp.Kvs[0].Value), 10, 64)
			if perr != nil {
				return "", "", fmt.Errorf("etcdcoord: corrupt sequence counter %s: %w", counterKey, perr)
			}
			next = cur + 1
			cmp = etcdcli.Compare(etcdcli.ModRevision(counterKey), "=", getResp.Kvs[0].ModRevision)
		}

		name = types.SeqName(prefix, next)
		fullPath = strings.TrimSuffix(dir, "/") + "/" + name

		putValue := etcdcli.OpPut(fullPath, string(value))
		if ephemeral {
			putValue = etcdcli.OpPut(fullPath, string(value), etcdcli.WithLease(c.leaseID))
		}

		resp, err := c.cli.Txn(ctx).
			If(cmp).
			Then(etcdcli.OpPut(counterKey, strconv.FormatUint(next, 10)), putValue).
			Commit()
		if err != nil {
			return "", "", err
		}
		if resp.Succeeded {
			return fullPath, name, nil
		}
		// Lost the CAS race against another sequential-create; retry.
	}
	return "", "", fmt.Errorf("etcdcoord: create sequential under %s: exceeded %d retries", dir, maxCASRetries)
}

func (c *Client) Txn() coordinator.Txn {
	return &txn{c: c}
}
