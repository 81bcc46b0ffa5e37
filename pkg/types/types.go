// Package types defines the small value types shared across the
// replication coordinator: replica identifiers, block numbers, and the
// monotonic sequence numbers minted by the coordinator for log and queue
// entries.
package types

import (
	"fmt"
	"strconv"
)

// ReplicaName identifies a replica of a table. It is also the name of the
// replica's subtree under replicas/ in the coordinator.
type ReplicaName string

func (r ReplicaName) String() string { return string(r) }

func (r ReplicaName) Empty() bool { return len(r) == 0 }

// BlockNumber is a monotonic counter of inserted blocks within one month
// partition. Block numbers are reserved by inserts and consumed by merges;
// a gap between two parts being merged is safe to skip only if every block
// number in the gap resolved to "abandoned" rather than "committed".
type BlockNumber uint64

func (b BlockNumber) String() string { return strconv.FormatUint(uint64(b), 10) }

// ParseBlockNumber parses the decimal suffix of a "block-NNNNNNNNNN" znode
// name.
func ParseBlockNumber(s string) (BlockNumber, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: malformed block number %q: %w", s, err)
	}
	return BlockNumber(n), nil
}

// LogIndex is the zero-padded sequence number of a child of a replica's
// log/ directory (log-0000000001, ...).
type LogIndex uint64

func (i LogIndex) String() string { return strconv.FormatUint(uint64(i), 10) }

// SeqName renders a sequential znode name with the 10-digit zero-padded
// suffix convention used for log/, queue/, and block_numbers/ children.
func SeqName(prefix string, n uint64) string {
	return fmt.Sprintf("%s-%010d", prefix, n)
}
