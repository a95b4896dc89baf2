package model

import (
	"fmt"
	"time"
)

// ShiftStatus 班次状态
type ShiftStatus string

const (
	ShiftPlanned   ShiftStatus = "planned"
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
	ShiftCancelled ShiftStatus = "cancelled"
)

// shiftTransitions 合法的班次状态迁移。
// 进行中的班次也可被取消（签到方上报），由转派流程接管其上的分配。
var shiftTransitions = map[ShiftStatus][]ShiftStatus{
	ShiftPlanned: {ShiftActive, ShiftCancelled},
	ShiftActive:  {ShiftCompleted, ShiftCancelled},
}

// CanTransition 检查班次状态迁移是否合法
func (s ShiftStatus) CanTransition(to ShiftStatus) bool {
	for _, next := range shiftTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsAvailable 检查该状态下班次是否可接单
func (s ShiftStatus) IsAvailable() bool {
	return s == ShiftPlanned || s == ShiftActive
}

// CoverageArea 班次覆盖区域
type CoverageArea struct {
	Center   Location `json:"center" yaml:"center"`
	RadiusKm float64  `json:"radius_km,omitempty" yaml:"radius_km,omitempty"`
	Zone     string   `json:"zone,omitempty" yaml:"zone,omitempty"`
}

// Covers 检查位置是否在覆盖范围内，未设置半径时不限制
func (a CoverageArea) Covers(loc Location) bool {
	if a.RadiusKm <= 0 {
		return true
	}
	return a.Center.Distance(loc) <= a.RadiusKm
}

// Shift 班次：有容量与专业约束的时间窗口
type Shift struct {
	ID                  string       `json:"id"`
	WorkerID            string       `json:"worker_id,omitempty"`
	Window              TimeRange    `json:"window"`
	Status              ShiftStatus  `json:"status"`
	SpecializationFocus []string     `json:"specialization_focus,omitempty"`
	CoverageArea        CoverageArea `json:"coverage_area"`
	Capacity            int          `json:"capacity"`
	CurrentRequestCount int          `json:"current_request_count"`
	PriorityLevel       int          `json:"priority_level"`
	TemplateID          string       `json:"template_id,omitempty"`
	ScheduleID          string       `json:"schedule_id,omitempty"`
	PlanID              string       `json:"plan_id,omitempty"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// IsStaffed 检查班次是否已指定员工
func (s *Shift) IsStaffed() bool {
	return s.WorkerID != ""
}

// HasFreeCapacity 检查是否还有剩余容量
func (s *Shift) HasFreeCapacity() bool {
	return s.CurrentRequestCount < s.Capacity
}

// Remaining 返回剩余容量
func (s *Shift) Remaining() int {
	if s.CurrentRequestCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.CurrentRequestCount
}

// Transition 执行状态迁移
func (s *Shift) Transition(to ShiftStatus) error {
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("班次 %s 不能从 %s 变更为 %s", s.ID, s.Status, to)
	}
	s.Status = to
	return nil
}

// ShiftTemplate 班次模板
type ShiftTemplate struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	PlanID          string         `json:"plan_id,omitempty" yaml:"plan_id,omitempty"`
	DaysOfWeek      []time.Weekday `json:"days_of_week" yaml:"days_of_week"`
	StartTime       string         `json:"start_time" yaml:"start_time"` // HH:MM
	DurationMinutes int            `json:"duration_minutes" yaml:"duration_minutes"`
	Specializations []string       `json:"specializations,omitempty" yaml:"specializations,omitempty"`
	MinExecutors    int            `json:"min_executors" yaml:"min_executors"`
	MaxExecutors    int            `json:"max_executors" yaml:"max_executors"`
	ShiftCapacity   int            `json:"shift_capacity" yaml:"shift_capacity"`
	CoverageArea    CoverageArea   `json:"coverage_area" yaml:"coverage_area"`
	PriorityLevel   int            `json:"priority_level" yaml:"priority_level"`
	AutoCreate      bool           `json:"auto_create" yaml:"auto_create"`
	Active          bool           `json:"active" yaml:"active"`
}

// RunsOn 检查模板是否在某个星期几生效
func (t *ShiftTemplate) RunsOn(day time.Weekday) bool {
	for _, d := range t.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// WindowOn 计算模板在指定日期的时间窗口，跨零点的班次结束于次日
func (t *ShiftTemplate) WindowOn(date time.Time) (TimeRange, error) {
	clock, err := time.Parse("15:04", t.StartTime)
	if err != nil {
		return TimeRange{}, fmt.Errorf("模板 %s 开始时间无效 %q: %w", t.ID, t.StartTime, err)
	}
	if t.DurationMinutes <= 0 {
		return TimeRange{}, fmt.Errorf("模板 %s 时长无效: %d", t.ID, t.DurationMinutes)
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, date.Location())
	return TimeRange{Start: start, End: start.Add(time.Duration(t.DurationMinutes) * time.Minute)}, nil
}

// ShiftSchedule 模板在某一天生成的排班实例
type ShiftSchedule struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	PlanID     string    `json:"plan_id,omitempty"`
	Date       string    `json:"date"` // YYYY-MM-DD
	Window     TimeRange `json:"window"`
	ShiftIDs   []string  `json:"shift_ids"`
	CreatedAt  time.Time `json:"created_at"`
}
