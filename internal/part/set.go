package part

import (
	"sync"

	"github.com/coltreedb/repltree/pkg/types"
)

// Set is a partition-aware active-parts set: given a collection of part
// names, it exposes only the maximal covering subset (an antichain under
// Covers). It backs both a replica's locally-known parts and its virtual
// parts (the union of local names and pending output names).
type Set struct {
	mu      sync.Mutex
	byMonth map[types.BlockNumber][]Name
}

// NewSet returns an empty active-parts set.
func NewSet() *Set {
	return &Set{byMonth: make(map[types.BlockNumber][]Name)}
}

// Add inserts n, dropping any existing members it covers and declining to
// insert if an existing member already covers it. Afterwards n or a part
// covering it is always present in the set.
func (s *Set) Add(n Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(n)
}

func (s *Set) addLocked(n Name) {
	members := s.byMonth[n.Month]
	for _, m := range members {
		if m.Covers(n) {
			return
		}
	}
	kept := members[:0:0]
	for _, m := range members {
		if !n.Covers(m) {
			kept = append(kept, m)
		}
	}
	kept = append(kept, n)
	s.byMonth[n.Month] = kept
}

// Remove drops n from the set if it is present verbatim (not merely
// covered). Used when a part is dropped or superseded other than by a
// covering Add.
func (s *Set) Remove(n Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.byMonth[n.Month]
	for i, m := range members {
		if m == n {
			s.byMonth[n.Month] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

// Containing returns the active member covering n, or n itself if n is
// self-maximal (not covered by any current member).
func (s *Set) Containing(n Name) Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byMonth[n.Month] {
		if m.Covers(n) {
			return m
		}
	}
	return n
}

// Member reports whether n itself (not merely some covering part) is
// present in the set.
func (s *Set) Member(n Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byMonth[n.Month] {
		if m == n {
			return true
		}
	}
	return false
}

// List returns every active (maximal) member across all months.
func (s *Set) List() []Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Name, 0)
	for _, members := range s.byMonth {
		out = append(out, members...)
	}
	return out
}
