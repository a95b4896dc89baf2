package shift

import (
	"context"
	"errors"
	"sync"

	"github.com/paiban/dispatch/pkg/model"
)

// shiftLock 单个班次的两级锁。
// gate: 提交分配持读锁，状态迁移与换人持写锁，写锁期间看到的活动分配快照不会再增加。
// row: 串行化班次文档的读改写，计数更新不会覆盖并发写入的状态或员工。
type shiftLock struct {
	gate sync.RWMutex
	row  sync.Mutex
}

// errUnchanged 由修改函数返回，表示文档无需写回
var errUnchanged = errors.New("unchanged")

func (m *Manager) lockFor(shiftID string) *shiftLock {
	l, _ := m.locks.LoadOrStore(shiftID, &shiftLock{})
	return l
}

// Hold 以共享方式占住班次并返回当前文档，调用方须调用返回的 release。
// 占住期间班次状态与员工不会变化。
func (m *Manager) Hold(ctx context.Context, shiftID string) (*model.Shift, func(), error) {
	l := m.lockFor(shiftID)
	l.gate.RLock()
	s, err := m.st.Shifts.Get(ctx, shiftID)
	if err != nil {
		l.gate.RUnlock()
		return nil, nil, err
	}
	return s, l.gate.RUnlock, nil
}

// Exclusive 独占班次，等待进行中的提交完成
func (m *Manager) Exclusive(shiftID string) func() {
	l := m.lockFor(shiftID)
	l.gate.Lock()
	return l.gate.Unlock
}

// update 在行锁内读取、修改并写回班次
func (m *Manager) update(ctx context.Context, shiftID string, fn func(s *model.Shift) error) (*model.Shift, error) {
	l := m.lockFor(shiftID)
	l.row.Lock()
	defer l.row.Unlock()

	s, err := m.st.Shifts.Get(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if err := fn(s); errors.Is(err, errUnchanged) {
		return s, nil
	} else if err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()
	if err := m.st.Shifts.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
