package partstore

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/coltreedb/repltree/internal/part"
)

func TestSelectMerge(t *testing.T) {
	Convey("Given a set of local parts", t, func() {
		alwaysMergeable := func(part.Name, part.Name) bool { return true }

		Convey("When two adjacent parts are the smallest pair", func() {
			infos := []Info{
				{Name: part.MustParse("202301_1_1_0"), SizeBytes: 100},
				{Name: part.MustParse("202301_2_2_0"), SizeBytes: 100},
				{Name: part.MustParse("202301_3_3_0"), SizeBytes: 1},
				{Name: part.MustParse("202301_4_4_0"), SizeBytes: 1},
			}
			a, b, big, ok := SelectMerge(infos, alwaysMergeable)

			Convey("It selects that pair and does not flag a big merge", func() {
				So(ok, ShouldBeTrue)
				So(big, ShouldBeFalse)
				So(a, ShouldEqual, part.MustParse("202301_3_3_0"))
				So(b, ShouldEqual, part.MustParse("202301_4_4_0"))
			})
		})

		Convey("When every adjacent pair is blocked", func() {
			infos := []Info{
				{Name: part.MustParse("202301_1_1_0"), SizeBytes: 1},
				{Name: part.MustParse("202301_2_2_0"), SizeBytes: 1},
			}
			_, _, _, ok := SelectMerge(infos, func(part.Name, part.Name) bool { return false })

			Convey("It finds nothing to merge", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When two parts have a numeric gap but are still neighbors in sorted order", func() {
			infos := []Info{
				{Name: part.MustParse("202301_1_1_0"), SizeBytes: 1},
				{Name: part.MustParse("202301_3_3_0"), SizeBytes: 1},
			}
			a, b, _, ok := SelectMerge(infos, alwaysMergeable)

			Convey("It still selects the pair, leaving the gap-abandonment check to canMerge", func() {
				So(ok, ShouldBeTrue)
				So(a, ShouldEqual, part.MustParse("202301_1_1_0"))
				So(b, ShouldEqual, part.MustParse("202301_3_3_0"))
			})
		})

		Convey("When a candidate input crosses the big-merge threshold", func() {
			infos := []Info{
				{Name: part.MustParse("202301_1_1_0"), SizeBytes: BigMergeThresholdBytes + 1},
				{Name: part.MustParse("202301_2_2_0"), SizeBytes: 1},
			}
			_, _, big, ok := SelectMerge(infos, alwaysMergeable)

			Convey("It still selects the pair but flags it as big", func() {
				So(ok, ShouldBeTrue)
				So(big, ShouldBeTrue)
			})
		})
	})
}
