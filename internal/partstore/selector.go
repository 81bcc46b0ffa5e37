package partstore

import (
	"sort"

	"github.com/coltreedb/repltree/internal/part"
)

// BigMergeThresholdBytes is spec.md §4.F's "~25 MiB (index-granularity
// units)" approximation for what counts as a big merge input.
const BigMergeThresholdBytes = 25 << 20

// SelectMerge is the external merge selector spec.md §4.G invokes: given
// the locally-known parts and a predicate canMerge (virtual-parts
// coverage plus dedup-block gating, which only the caller can evaluate),
// it picks the pair of neighboring parts (consecutive in sorted order,
// not necessarily numerically touching — a gap between them just means
// an insert was abandoned there, which canMerge is responsible for
// checking) with the smallest combined size, mirroring a
// write-amplification-minimizing strategy without attempting the full
// cost model a real merge-tree selector would use — that algorithm is
// the out-of-scope data-part store's concern.
func SelectMerge(infos []Info, canMerge func(a, b part.Name) bool) (a, b part.Name, big bool, ok bool) {
	sorted := append([]Info(nil), infos...)
	sort.Slice(sorted, func(i, j int) bool { return part.Less(sorted[i].Name, sorted[j].Name) })

	type candidate struct {
		a, b Info
	}
	var best *candidate
	var bestSize int64
	for i := 0; i+1 < len(sorted); i++ {
		left, right := sorted[i], sorted[i+1]
		if !left.Name.Adjacent(right.Name) {
			continue
		}
		if !canMerge(left.Name, right.Name) {
			continue
		}
		size := left.SizeBytes + right.SizeBytes
		if best == nil || size < bestSize {
			c := candidate{a: left, b: right}
			best = &c
			bestSize = size
		}
	}
	if best == nil {
		return part.Name{}, part.Name{}, false, false
	}
	big = best.a.SizeBytes >= BigMergeThresholdBytes || best.b.SizeBytes >= BigMergeThresholdBytes
	return best.a.Name, best.b.Name, big, true
}
