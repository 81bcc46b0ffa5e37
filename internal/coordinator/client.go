// Package coordinator declares the hierarchical-KV interface the
// replication core needs from the external coordination service: get/set,
// ephemeral nodes bound to a session, watches, sequential naming, and
// multi-op transactions (spec.md §3, §6). internal/coordinator/etcdcoord
// implements it on etcd; internal/coordinator/coordtest implements it
// in-memory for tests.
package coordinator

import "context"

// Node is one child returned by List, carrying enough coordinator-side
// metadata (its creation order) to let callers impose the coordinator's
// own total order on siblings.
type Node struct {
	Name  string // the last path element, not the full path
	Value []byte
	// CZXID is the coordinator's creation-order stamp for this node
	// (etcd calls it CreateRevision). Log heads are merged across peers
	// by this value, tie-broken by peer identity.
	CZXID int64
}

// EventType discriminates the kinds of change a Watch can report.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
)

// Event is a single coordinator-side change delivered by Watch.
type Event struct {
	Type EventType
	Path string
}

// Client is the hierarchical-KV interface the replication core depends on.
// All paths are absolute, slash-separated, and parent directories are
// created implicitly by Create/CreateSequential/CreateEphemeral the way a
// flat KV store's prefix convention requires (there is no separate mkdir).
type Client interface {
	// SessionID is a token unique to this live session, used as the
	// payload of is_active so a stale self-node from an expired session
	// can be told apart from a live one.
	SessionID() string

	// Expired reports whether this Client's session has been lost. The
	// restarting thread polls this to decide when to reconnect.
	Expired() bool

	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the direct children of dir, in no particular order;
	// callers that need coordinator-timestamp order sort by CZXID.
	List(ctx context.Context, dir string) ([]Node, error)

	Create(ctx context.Context, key string, value []byte) error
	CreateEphemeral(ctx context.Context, key string, value []byte) error

	// CreateSequential creates a uniquely-named, 10-digit zero-padded
	// child of dir (e.g. "log-0000000001") and returns its full path and
	// bare name.
	CreateSequential(ctx context.Context, dir, prefix string, value []byte) (fullPath, name string, err error)
	// CreateEphemeralSequential is CreateSequential for a node that is
	// also bound to this session, used for leader_election/ candidates.
	CreateEphemeralSequential(ctx context.Context, dir, prefix string, value []byte) (fullPath, name string, err error)

	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeleteRecursive removes key and, if it names a directory prefix,
	// every descendant of it.
	DeleteRecursive(ctx context.Context, key string) error

	// Watch delivers a single Event for the first change observed at key
	// or, if key ends in "/", anywhere under it; it then closes. Callers
	// needing to keep watching re-issue Watch, following the level-
	// triggered watch convention spec.md's coordinator assumes.
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Txn returns a new multi-op transaction builder.
	Txn() Txn

	Close() error
}

// Txn accumulates operations to be applied atomically. Multi-op writes are
// mandatory wherever spec.md requires two effects to land together:
// enqueue-and-advance-pointer, register-part-and-commit-merge, and
// remove-stale-and-enqueue-fetch.
type Txn interface {
	Create(key string, value []byte) Txn
	Set(key string, value []byte) Txn
	Delete(key string) Txn
	// CreateSequential stages a sequential child create; the minted name
	// is returned by Commit in Result.SequentialNames.
	CreateSequential(dir, prefix string, value []byte) Txn

	Commit(ctx context.Context) (Result, error)
}

// Result carries the side effects of a committed Txn that could not be
// known before commit, namely names minted by CreateSequential, in the
// order they were staged.
type Result struct {
	SequentialNames []string
}
