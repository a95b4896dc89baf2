package selector

import (
	"github.com/paiban/dispatch/pkg/model"
)

// Filter 候选硬约束
type Filter interface {
	Name() string
	Check(req *model.ServiceRequest, w *model.Worker, s *model.Shift) bool
}

// CapacitySource 实时容量来源，通常是认领包里的原子计数器
type CapacitySource interface {
	Remaining(shiftID string) int
}

type activeWorkerFilter struct{}

func (activeWorkerFilter) Name() string { return "worker_inactive" }

func (activeWorkerFilter) Check(_ *model.ServiceRequest, w *model.Worker, _ *model.Shift) bool {
	return w.Active
}

type shiftStatusFilter struct{}

func (shiftStatusFilter) Name() string { return "shift_unavailable" }

func (shiftStatusFilter) Check(_ *model.ServiceRequest, _ *model.Worker, s *model.Shift) bool {
	return s.Status.IsAvailable()
}

// windowFilter 班次必须完整覆盖请求的时间窗口
type windowFilter struct{}

func (windowFilter) Name() string { return "window_not_covered" }

func (windowFilter) Check(req *model.ServiceRequest, _ *model.Worker, s *model.Shift) bool {
	return s.Window.Covers(req.ServiceWindow())
}

type capacityFilter struct {
	source CapacitySource
}

func (capacityFilter) Name() string { return "capacity_full" }

func (f capacityFilter) Check(_ *model.ServiceRequest, _ *model.Worker, s *model.Shift) bool {
	if f.source != nil {
		return f.source.Remaining(s.ID) > 0
	}
	return s.HasFreeCapacity()
}

// focusFilter 班次设置了专业侧重时，需与请求专业有交集
type focusFilter struct{}

func (focusFilter) Name() string { return "focus_mismatch" }

func (focusFilter) Check(req *model.ServiceRequest, _ *model.Worker, s *model.Shift) bool {
	if len(s.SpecializationFocus) == 0 || len(req.RequiredSpecializations) == 0 {
		return true
	}
	if model.ContainsString(s.SpecializationFocus, model.SpecializationUniversal) {
		return true
	}
	return model.Intersects(s.SpecializationFocus, req.RequiredSpecializations)
}

type coverageFilter struct{}

func (coverageFilter) Name() string { return "outside_coverage" }

func (coverageFilter) Check(req *model.ServiceRequest, _ *model.Worker, s *model.Shift) bool {
	return s.CoverageArea.Covers(req.Location)
}

// DefaultFilters 返回默认硬约束，按代价从低到高排列
func DefaultFilters(capacity CapacitySource) []Filter {
	return []Filter{
		activeWorkerFilter{},
		shiftStatusFilter{},
		capacityFilter{source: capacity},
		windowFilter{},
		focusFilter{},
		coverageFilter{},
	}
}
