// Package shift 管理班次生命周期：模板滚动生成排班、自动指派员工、
// 班次状态迁移，以及季度计划的冲突检测与激活。
package shift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/claim"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/model"
)

// Sizer 为模板在某天给出执行人数区间
type Sizer interface {
	SizeTemplate(t *model.ShiftTemplate, date time.Time) (minExec, maxExec int)
}

// Notifier 接收新发现的计划冲突
type Notifier interface {
	ConflictRaised(ctx context.Context, c *model.PlanningConflict)
}

// Notifiers 依次通知多个接收方
type Notifiers []Notifier

// ConflictRaised 实现 Notifier
func (ns Notifiers) ConflictRaised(ctx context.Context, c *model.PlanningConflict) {
	for _, n := range ns {
		n.ConflictRaised(ctx, c)
	}
}

// StaffingListener 班次换人后同步其上仍在进行的分配。
// 回调期间班次处于独占状态，不会有新分配提交到该班次。
type StaffingListener interface {
	ShiftStaffed(ctx context.Context, s *model.Shift, previousWorkerID string)
}

// Option 管理器选项
type Option func(*Manager)

// WithSizer 设置模板人数估算
func WithSizer(s Sizer) Option {
	return func(m *Manager) { m.sizer = s }
}

// WithCapacity 新建班次时登记容量计数器
func WithCapacity(c *claim.Counters) Option {
	return func(m *Manager) { m.capacity = c }
}

// WithNotifier 设置冲突通知
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// idSpace 生成确定性ID的命名空间，保证重复生成幂等
var idSpace = uuid.MustParse("6f1c2a52-8d0e-4b8f-9a51-3c2d9e7b0a14")

func deterministicID(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	return uuid.NewSHA1(idSpace, []byte(key)).String()
}

// Manager 班次生命周期管理器
type Manager struct {
	cfg      Config
	loc      *time.Location
	st       *store.Store
	sizer    Sizer
	capacity *claim.Counters
	notifier Notifier
	now      func() time.Time
	log      *logger.PlanningLogger
	locks    *xsync.Map[string, *shiftLock]

	// 指派员工需要先检查再写入，串行化避免两次指派同时通过检查
	staffMu   sync.Mutex
	listeners []StaffingListener
}

// NewManager 创建管理器
func NewManager(cfg Config, st *store.Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := cfg.location()
	m := &Manager{
		cfg:   cfg,
		loc:   loc,
		st:    st,
		now:   time.Now,
		log:   logger.NewPlanningLogger(),
		locks: xsync.NewMap[string, *shiftLock](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateTemplate 校验并保存模板
func (m *Manager) CreateTemplate(ctx context.Context, t *model.ShiftTemplate) error {
	if t.ID == "" {
		t.ID = model.NewID()
	}
	if err := validateTemplate(t); err != nil {
		return err
	}
	return m.st.Templates.Create(ctx, t)
}

func validateTemplate(t *model.ShiftTemplate) error {
	ve := &apperrors.ValidationErrors{}
	if t.Name == "" {
		ve.Add("name", "名称不能为空")
	}
	if len(t.DaysOfWeek) == 0 {
		ve.Add("days_of_week", "至少需要一个工作日")
	}
	if _, err := time.Parse("15:04", t.StartTime); err != nil {
		ve.Add("start_time", "格式应为 HH:MM")
	}
	if t.DurationMinutes <= 0 || t.DurationMinutes > 24*60 {
		ve.Add("duration_minutes", "时长必须位于 (0,1440] 分钟")
	}
	if t.MinExecutors < 1 {
		ve.Add("min_executors", "至少为 1")
	}
	if t.MaxExecutors != 0 && t.MaxExecutors < t.MinExecutors {
		ve.Add("max_executors", "不能小于 min_executors")
	}
	if t.ShiftCapacity < 1 {
		ve.Add("shift_capacity", "至少为 1")
	}
	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}

// Get 读取班次
func (m *Manager) Get(ctx context.Context, shiftID string) (*model.Shift, error) {
	return m.st.Shifts.Get(ctx, shiftID)
}

// Create 保存一个手工创建的班次
func (m *Manager) Create(ctx context.Context, s *model.Shift) error {
	if s.ID == "" {
		s.ID = model.NewID()
	}
	if s.Status == "" {
		s.Status = model.ShiftPlanned
	}
	if !s.Window.End.After(s.Window.Start) {
		return apperrors.InvalidInput("window", "结束时间必须晚于开始时间")
	}
	if s.Capacity < 1 {
		return apperrors.InvalidInput("capacity", "至少为 1")
	}
	if s.WorkerID != "" {
		m.staffMu.Lock()
		defer m.staffMu.Unlock()
		busy, err := m.booked(ctx, s.WorkerID, s.Window, s.ID)
		if err != nil {
			return err
		}
		if busy {
			return apperrors.InvalidInput("worker_id", fmt.Sprintf("员工 %s 在该时段已有班次", s.WorkerID))
		}
	}
	return m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *model.Shift) error {
	s.UpdatedAt = m.now()
	if err := m.st.Shifts.Create(ctx, s); err != nil {
		return err
	}
	if m.capacity != nil {
		m.capacity.Ensure(s.ID, s.CurrentRequestCount, s.Capacity)
	}
	return nil
}

// Transition 执行班次状态迁移。
// 需要迁移与后续处理之间不插入新分配的调用方应先持有 Exclusive。
func (m *Manager) Transition(ctx context.Context, shiftID string, to model.ShiftStatus) (*model.Shift, error) {
	return m.update(ctx, shiftID, func(s *model.Shift) error {
		if s.Status == to {
			return errUnchanged
		}
		if !s.Status.CanTransition(to) {
			return apperrors.InvalidTransition("shift", s.ID, string(s.Status), string(to))
		}
		s.Status = to
		return nil
	})
}

// AdjustCount 同步班次上记录的请求数，delta 为正表示占用
func (m *Manager) AdjustCount(ctx context.Context, shiftID string, delta int) (*model.Shift, error) {
	return m.update(ctx, shiftID, func(s *model.Shift) error {
		s.CurrentRequestCount += delta
		if s.CurrentRequestCount < 0 {
			s.CurrentRequestCount = 0
		}
		return nil
	})
}

// AddStaffingListener 注册换人回调
func (m *Manager) AddStaffingListener(l StaffingListener) {
	m.listeners = append(m.listeners, l)
}

// Staff 为班次指派员工，拒绝造成时间重叠的指派。
// workerID 为空表示撤下员工。员工变化时通知 StaffingListener 同步活动分配。
func (m *Manager) Staff(ctx context.Context, shiftID, workerID string) (*model.Shift, error) {
	release := m.Exclusive(shiftID)
	defer release()

	m.staffMu.Lock()
	s, previous, err := m.staffLocked(ctx, shiftID, workerID)
	m.staffMu.Unlock()
	if err != nil {
		return nil, err
	}
	if previous != workerID {
		for _, l := range m.listeners {
			l.ShiftStaffed(ctx, s, previous)
		}
	}
	return s, nil
}

func (m *Manager) staffLocked(ctx context.Context, shiftID, workerID string) (*model.Shift, string, error) {
	var previous string
	s, err := m.update(ctx, shiftID, func(s *model.Shift) error {
		previous = s.WorkerID
		if workerID == "" || workerID == s.WorkerID {
			s.WorkerID = workerID
			return nil
		}
		w, err := m.st.Workers.Get(ctx, workerID)
		if err != nil {
			return err
		}
		if !w.Active {
			return apperrors.InvalidInput("worker_id", fmt.Sprintf("员工 %s 未启用", workerID))
		}
		busy, err := m.booked(ctx, workerID, s.Window, s.ID)
		if err != nil {
			return err
		}
		if busy {
			return apperrors.InvalidInput("worker_id", fmt.Sprintf("员工 %s 在该时段已有班次", workerID))
		}
		s.WorkerID = workerID
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return s, previous, nil
}

// booked 检查员工在时间窗口内是否已有其他有效班次
func (m *Manager) booked(ctx context.Context, workerID string, window model.TimeRange, exclude string) (bool, error) {
	shifts, err := m.st.Shifts.Query(ctx, store.NewFilter().
		Eq("worker_id", workerID).
		WithStatus(string(model.ShiftPlanned), string(model.ShiftActive)))
	if err != nil {
		return false, err
	}
	for _, s := range shifts {
		if s.ID != exclude && s.Window.Overlaps(window) {
			return true, nil
		}
	}
	return false, nil
}

// Available 返回状态可接单的班次，用于候选筛选
func (m *Manager) Available(ctx context.Context) ([]*model.Shift, error) {
	return m.st.Shifts.Query(ctx, store.NewFilter().
		WithStatus(string(model.ShiftPlanned), string(model.ShiftActive)))
}

// startOfDay 返回时区内某天零点
func (m *Manager) startOfDay(t time.Time) time.Time {
	t = t.In(m.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.loc)
}
