// Package atomicutil provides lock-free flags and values for the
// boolean/time/duration fields the replication core's loop heads poll on
// every iteration (is_leader_node, shutdown_called, is_read_only, and
// friends), adapted from
// _examples/kakao-varlog's pkg/util/syncutil/atomicutil.
package atomicutil

import (
	"sync/atomic"
	"time"
)

type Bool uint32

func (b *Bool) Load() bool {
	return atomic.LoadUint32((*uint32)(b)) == 1
}

func (b *Bool) Store(val bool) {
	var v uint32
	if val {
		v = 1
	}
	atomic.StoreUint32((*uint32)(b), v)
}

func (b *Bool) CompareAndSwap(old, new bool) bool {
	var ov, nv uint32
	if old {
		ov = 1
	}
	if new {
		nv = 1
	}
	return atomic.CompareAndSwapUint32((*uint32)(b), ov, nv)
}

type Time struct {
	atomic.Value
}

func (t *Time) Load() time.Time {
	v := t.Value.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

func (t *Time) Store(tm time.Time) {
	t.Value.Store(tm)
}

type Duration time.Duration

func (d *Duration) Load() time.Duration {
	return time.Duration(atomic.LoadInt64((*int64)(d)))
}

func (d *Duration) Store(duration time.Duration) {
	atomic.StoreInt64((*int64)(d), int64(duration))
}
