package claim

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	apperrors "github.com/paiban/dispatch/pkg/errors"
)

type counter struct {
	used     atomic.Int64
	capacity atomic.Int64
}

// Counters 班次容量计数器，唯一强一致的共享可变状态，全部通过 CAS 更新
type Counters struct {
	m *xsync.Map[string, *counter]
}

// NewCounters 创建容量计数器
func NewCounters() *Counters {
	return &Counters{m: xsync.NewMap[string, *counter]()}
}

// Track 登记班次的容量与当前占用
func (c *Counters) Track(shiftID string, used, capacity int) {
	ctr, _ := c.m.LoadOrStore(shiftID, &counter{})
	ctr.capacity.Store(int64(capacity))
	ctr.used.Store(int64(used))
}

// Ensure 班次未登记时按给定值登记，已登记则保持不变。返回是否新登记。
func (c *Counters) Ensure(shiftID string, used, capacity int) bool {
	ctr := &counter{}
	ctr.used.Store(int64(used))
	ctr.capacity.Store(int64(capacity))
	_, loaded := c.m.LoadOrStore(shiftID, ctr)
	return !loaded
}

// SetCapacity 调整班次容量，不改变当前占用
func (c *Counters) SetCapacity(shiftID string, capacity int) {
	ctr, _ := c.m.LoadOrStore(shiftID, &counter{})
	ctr.capacity.Store(int64(capacity))
}

// Forget 移除班次的计数器
func (c *Counters) Forget(shiftID string) {
	c.m.Delete(shiftID)
}

// Reserve 占用一个容量单位，已满时返回 CapacityExceeded
func (c *Counters) Reserve(shiftID string) error {
	ctr, ok := c.m.Load(shiftID)
	if !ok {
		return apperrors.NotFound("shift", shiftID)
	}
	for {
		used := ctr.used.Load()
		capacity := ctr.capacity.Load()
		if used >= capacity {
			return apperrors.CapacityExceeded(shiftID, int(capacity))
		}
		if ctr.used.CompareAndSwap(used, used+1) {
			return nil
		}
	}
}

// Release 归还一个容量单位，不会低于 0
func (c *Counters) Release(shiftID string) {
	ctr, ok := c.m.Load(shiftID)
	if !ok {
		return
	}
	for {
		used := ctr.used.Load()
		if used <= 0 {
			return
		}
		if ctr.used.CompareAndSwap(used, used-1) {
			return
		}
	}
}

// Used 返回当前占用与容量
func (c *Counters) Used(shiftID string) (used, capacity int, ok bool) {
	ctr, ok := c.m.Load(shiftID)
	if !ok {
		return 0, 0, false
	}
	return int(ctr.used.Load()), int(ctr.capacity.Load()), true
}

// Remaining 返回剩余容量
func (c *Counters) Remaining(shiftID string) int {
	used, capacity, ok := c.Used(shiftID)
	if !ok || used >= capacity {
		return 0
	}
	return capacity - used
}
