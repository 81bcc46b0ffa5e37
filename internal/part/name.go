// Package part implements the data-part naming scheme and the
// partition-aware active-parts set that the replication coordinator uses
// to decide which part names are currently "covered" by an existing or
// pending part.
//
// A part name encodes a half-open range of block numbers within a month
// partition: YYYYMM_left_right_level. Parts are totally ordered within a
// partition by (left, right); one part covers another iff its range
// contains the other's and the months match.
package part

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coltreedb/repltree/pkg/types"
)

// Name is a parsed data-part name.
type Name struct {
	Month types.BlockNumber // YYYYMM, reused as an opaque ordered key
	Left  types.BlockNumber
	Right types.BlockNumber
	Level int
}

// String renders the canonical "YYYYMM_left_right_level" form.
func (n Name) String() string {
	return fmt.Sprintf("%06d_%d_%d_%d", n.Month, n.Left, n.Right, n.Level)
}

// Parse parses a "YYYYMM_left_right_level" part name.
func Parse(s string) (Name, error) {
	fields := strings.Split(s, "_")
	if len(fields) != 4 {
		return Name{}, fmt.Errorf("part: malformed name %q", s)
	}
	month, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("part: malformed month in %q: %w", s, err)
	}
	left, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("part: malformed left bound in %q: %w", s, err)
	}
	right, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("part: malformed right bound in %q: %w", s, err)
	}
	level, err := strconv.Atoi(fields[3])
	if err != nil {
		return Name{}, fmt.Errorf("part: malformed level in %q: %w", s, err)
	}
	return Name{
		Month: types.BlockNumber(month),
		Left:  types.BlockNumber(left),
		Right: types.BlockNumber(right),
		Level: level,
	}, nil
}

// MustParse is Parse, panicking on error. Useful for literals in tests.
func MustParse(s string) Name {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Covers reports whether n covers other: same month, and n's range
// contains other's.
func (n Name) Covers(other Name) bool {
	return n.Month == other.Month && n.Left <= other.Left && n.Right >= other.Right
}

// Adjacent reports whether other is n's immediate successor within the
// same month's sorted part list: same month, no overlap, and nothing of
// n's range left uncovered past other's start. A numeric gap between
// n.Right and other.Left is allowed — that gap is exactly the abandoned-
// insert case spec.md §3's dedup block record exists to track, and it is
// canMergeParts, not Adjacent, that decides whether the gap has been
// fully abandoned and the pair may merge (spec.md §4.G.3).
func (n Name) Adjacent(other Name) bool {
	return n.Month == other.Month && n.Right <= other.Left
}

// Less orders names within a partition by (left, right), matching the
// total order spec.md assigns parts of one month.
func Less(a, b Name) bool {
	if a.Month != b.Month {
		return a.Month < b.Month
	}
	if a.Left != b.Left {
		return a.Left < b.Left
	}
	return a.Right < b.Right
}
