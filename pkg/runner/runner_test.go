package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestRunner(t *testing.T) {
	Convey("Runner", t, func() {
		logger := zaptest.NewLogger(t)
		r := New("test-runner", logger)

		Reset(func() {
			r.Stop()
			So(r.State(), ShouldEqual, Stopped)
		})

		Convey("state of runner should be Running before calling Stop, and Stopped after calling Stop", func() {
			So(r.State(), ShouldEqual, Running)
			r.Stop()
			So(r.State(), ShouldEqual, Stopped)
		})

		Convey("state of runner should be Stopped after calling Stop more than two times", func() {
			for i := 0; i < 3; i++ {
				r.Stop()
				So(r.State(), ShouldEqual, Stopped)
			}
		})

		Convey("stopped runner should not run any task", func() {
			r.Stop()
			_, err := r.Run(func(context.Context) {})
			So(err, ShouldNotBeNil)
			So(r.NumTasks(), ShouldEqual, uint64(0))
		})

		Convey("a running task should be canceled and joined by Stop", func() {
			var stopped atomic.Bool
			cancel, err := r.Run(func(ctx context.Context) {
				<-ctx.Done()
				stopped.Store(true)
			})
			So(err, ShouldBeNil)
			defer cancel()

			require.EventuallyWithT(t, func(collect *assert.CollectT) {
				assert.Equal(collect, uint64(1), r.NumTasks())
			}, time.Second, 10*time.Millisecond)

			r.Stop()
			require.EventuallyWithT(t, func(collect *assert.CollectT) {
				assert.Zero(collect, r.NumTasks())
				assert.True(collect, stopped.Load())
			}, time.Second, 10*time.Millisecond)
			So(r.State(), ShouldEqual, Stopped)
		})

		Convey("RunManaged should share a cancel function across tasks", func() {
			ctx, cancel := r.WithManagedCancel(context.Background())
			var a, b atomic.Bool
			So(r.RunManaged(ctx, func(ctx context.Context) { <-ctx.Done(); a.Store(true) }), ShouldBeNil)
			So(r.RunManaged(ctx, func(ctx context.Context) { <-ctx.Done(); b.Store(true) }), ShouldBeNil)
			cancel()

			require.EventuallyWithT(t, func(collect *assert.CollectT) {
				assert.True(collect, a.Load())
				assert.True(collect, b.Load())
			}, time.Second, 10*time.Millisecond)
		})
	})
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
