// Package logentry implements the tagged log/queue entry type and its
// version-1 text codec (spec.md §3, §4.A, §6).
package logentry

import "github.com/coltreedb/repltree/pkg/types"

// Kind discriminates the two log entry variants.
type Kind int

const (
	// KindGet is a GET_PART entry: fetch new_part_name from a peer.
	KindGet Kind = iota
	// KindMerge is a MERGE_PARTS entry: merge parts_to_merge into
	// new_part_name.
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Entry is the tagged variant LogEntry = Get{...} | Merge{...} from
// spec.md's design notes. Both variants carry the originating replica so
// peers pulling this entry from our log know who to prefer as a fetch
// source.
type Entry struct {
	Kind           Kind
	SourceReplica  types.ReplicaName
	NewPartName    string
	PartsToMerge   []string // only populated for KindMerge
}

// Get constructs a GET_PART entry.
func Get(newPartName string, source types.ReplicaName) Entry {
	return Entry{Kind: KindGet, SourceReplica: source, NewPartName: newPartName}
}

// Merge constructs a MERGE_PARTS entry.
func Merge(newPartName string, partsToMerge []string, source types.ReplicaName) Entry {
	return Entry{
		Kind:          KindMerge,
		SourceReplica: source,
		NewPartName:   newPartName,
		PartsToMerge:  append([]string(nil), partsToMerge...),
	}
}

// Equal reports structural equality, used by the codec's round-trip tests.
func (e Entry) Equal(o Entry) bool {
	if e.Kind != o.Kind || e.SourceReplica != o.SourceReplica || e.NewPartName != o.NewPartName {
		return false
	}
	if len(e.PartsToMerge) != len(o.PartsToMerge) {
		return false
	}
	for i := range e.PartsToMerge {
		if e.PartsToMerge[i] != o.PartsToMerge[i] {
			return false
		}
	}
	return true
}
