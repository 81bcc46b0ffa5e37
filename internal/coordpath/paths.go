// Package coordpath is a pure function from (root, replica) to every key
// the replication coordinator touches (spec.md §3, §4.B). Keeping path
// composition here is what lets every other component stay path-agnostic.
package coordpath

import (
	"fmt"
	"path"

	"github.com/coltreedb/repltree/pkg/types"
)

// Table is the coordinator layout rooted at a table's path.
type Table struct {
	Root string
}

// NewTable returns the path layout for the table rooted at root.
func NewTable(root string) Table { return Table{Root: root} }

// Metadata is the table metadata znode (spec.md §3, §4.D, §6).
func (t Table) Metadata() string { return path.Join(t.Root, "metadata") }

// Replicas is the parent of all replica subtrees.
func (t Table) Replicas() string { return path.Join(t.Root, "replicas") }

// Blocks is the parent of dedup block records.
func (t Table) Blocks() string { return path.Join(t.Root, "blocks") }

// BlockNumbers is the parent of per-month abandonable block-number locks.
func (t Table) BlockNumbers() string { return path.Join(t.Root, "block_numbers") }

// LeaderElection is the parent of ephemeral-sequential leader candidates.
func (t Table) LeaderElection() string { return path.Join(t.Root, "leader_election") }

// Temp is the scratch subtree used for staging multi-op intermediates.
func (t Table) Temp() string { return path.Join(t.Root, "temp") }

// Replica returns the path layout for one replica under this table.
func (t Table) Replica(name types.ReplicaName) Replica {
	return Replica{base: path.Join(t.Replicas(), string(name))}
}

// Block returns the path layout for one dedup block record.
func (t Table) Block(blockID string) Block {
	return Block{base: path.Join(t.Blocks(), blockID)}
}

// BlockNumberDir is the parent of the abandonable block-number locks for
// one month partition.
func (t Table) BlockNumberDir(month types.BlockNumber) string {
	return path.Join(t.BlockNumbers(), fmt.Sprintf("%06d", month))
}

// BlockNumberNode is one abandonable lock, e.g. block_numbers/202301/block-0000000042.
func (t Table) BlockNumberNode(month types.BlockNumber, n types.BlockNumber) string {
	return path.Join(t.BlockNumberDir(month), fmt.Sprintf("block-%010d", uint64(n)))
}

// Replica is the coordinator layout rooted at one replica's subtree.
type Replica struct {
	base string
}

func (r Replica) Path() string { return r.base }

// IsActive is the ephemeral liveness node, value = process-unique
// identifier.
func (r Replica) IsActive() string { return path.Join(r.base, "is_active") }

// Host is the "host:port" text node peers resolve to fetch parts from us.
func (r Replica) Host() string { return path.Join(r.base, "host") }

// Log is the parent of this replica's own sequential log entries.
func (r Replica) Log() string { return path.Join(r.base, "log") }

// LogEntry is one sequential child of Log(), e.g. log/log-0000000001.
func (r Replica) LogEntry(idx types.LogIndex) string {
	return path.Join(r.Log(), types.SeqName("log", uint64(idx)))
}

// LogPointers is the parent of this replica's per-peer pull pointers.
func (r Replica) LogPointers() string { return path.Join(r.base, "log_pointers") }

// LogPointer is the pointer this replica keeps on how far it has pulled
// peer's log.
func (r Replica) LogPointer(peer types.ReplicaName) string {
	return path.Join(r.LogPointers(), string(peer))
}

// Queue is the parent of this replica's own sequential queue entries.
func (r Replica) Queue() string { return path.Join(r.base, "queue") }

// QueueEntry is one sequential child of Queue(), e.g. queue/queue-0000000001.
func (r Replica) QueueEntry(name string) string { return path.Join(r.Queue(), name) }

// Parts is the parent of this replica's registered part records.
func (r Replica) Parts() string { return path.Join(r.base, "parts") }

// Part is one part's subtree, e.g. parts/<name>/checksums.
func (r Replica) Part(name string) Part { return Part{base: path.Join(r.Parts(), name)} }

// Flags is the parent of this replica's control flags.
func (r Replica) Flags() string { return path.Join(r.base, "flags") }

// ForceRestoreFlag is the flag that relaxes checkParts' sanity thresholds
// and is consumed (removed) once observed.
func (r Replica) ForceRestoreFlag() string { return path.Join(r.Flags(), "force_restore_data") }

// Part is the coordinator layout for one registered part under a replica.
type Part struct {
	base string
}

func (p Part) Path() string { return p.base }

func (p Part) Checksums() string { return path.Join(p.base, "checksums") }

// Block is the coordinator layout for one dedup block record.
type Block struct {
	base string
}

func (b Block) Path() string { return b.base }

// Number is the reserved block-numbers/<month>/block-NNNN path this
// insert's hash is tied to.
func (b Block) Number() string { return path.Join(b.base, "number") }

func (b Block) Checksums() string { return path.Join(b.base, "checksums") }

// Part records which part name this dedup block ultimately landed as, so
// a retried insert carrying the same block id can be recognized as
// already applied instead of minting a second part.
func (b Block) Part() string { return path.Join(b.base, "part") }
