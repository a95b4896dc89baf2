package shift

import (
	"context"
	"math"

	"github.com/paiban/dispatch/internal/store"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

// CreatePlan 校验并保存季度计划，状态为草稿
func (m *Manager) CreatePlan(ctx context.Context, p *model.QuarterlyPlan) error {
	if p.ID == "" {
		p.ID = model.NewID()
	}
	ve := &apperrors.ValidationErrors{}
	if p.Year < 2000 || p.Year > 2100 {
		ve.Add("year", "年份无效")
	}
	if p.Quarter < 1 || p.Quarter > 4 {
		ve.Add("quarter", "季度必须为 1-4")
	}
	for _, r := range p.Requirements {
		if r.Specialization == "" {
			ve.Add("requirements", "覆盖要求缺少专业")
		}
		if r.MinWorkers < 0 {
			ve.Add("requirements", "最少人数不能为负数")
		}
	}
	if ve.HasErrors() {
		return ve.ToAppError()
	}
	p.Status = model.PlanDraft
	p.UpdatedAt = m.now()
	return m.st.Plans.Create(ctx, p)
}

// GetPlan 读取计划
func (m *Manager) GetPlan(ctx context.Context, planID string) (*model.QuarterlyPlan, error) {
	return m.st.Plans.Get(ctx, planID)
}

// RecomputeMetrics 重新计算并保存计划汇总指标
func (m *Manager) RecomputeMetrics(ctx context.Context, planID string) (*model.QuarterlyPlan, error) {
	p, err := m.st.Plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	shifts, err := m.st.Shifts.Query(ctx, store.NewFilter().
		Eq("plan_id", planID).
		WithStatus(string(model.ShiftPlanned), string(model.ShiftActive), string(model.ShiftCompleted)))
	if err != nil {
		return nil, err
	}
	conflicts, err := m.Conflicts(ctx, planID, false)
	if err != nil {
		return nil, err
	}

	metrics := model.PlanMetrics{PlannedShifts: len(shifts), TotalConflicts: len(conflicts)}
	for _, s := range shifts {
		if s.IsStaffed() {
			metrics.StaffedShifts++
		}
	}
	if metrics.PlannedShifts > 0 {
		pct := float64(metrics.StaffedShifts) / float64(metrics.PlannedShifts) * 100
		metrics.CoveragePercentage = math.Round(pct*100) / 100
	}
	for _, c := range conflicts {
		if c.Status == model.ConflictOpen {
			metrics.OpenConflicts++
		}
		if c.Blocking() {
			metrics.BlockingConflicts++
		}
	}

	p.Metrics = metrics
	p.UpdatedAt = m.now()
	if err := m.st.Plans.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ActivatePlan 激活计划：检测冲突并采用可自动执行的建议，
// 仍存在无法自动解决的冲突时返回 CONFLICT_UNRESOLVED。
func (m *Manager) ActivatePlan(ctx context.Context, planID string) (*model.QuarterlyPlan, error) {
	p, err := m.st.Plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PlanActive {
		return p, nil
	}
	if p.Status != model.PlanDraft {
		return nil, apperrors.InvalidTransition("plan", p.ID, string(p.Status), string(model.PlanActive))
	}

	open, err := m.DetectConflicts(ctx, planID)
	if err != nil {
		return nil, err
	}
	applied := false
	for _, c := range open {
		if !c.AutoResolvable() {
			continue
		}
		if _, err := m.ResolveConflict(ctx, c.ID, nil); err != nil {
			// 建议已过时，交给下一轮检测
			if apperrors.Is(err, apperrors.CodeInvalidInput) {
				continue
			}
			return nil, err
		}
		applied = true
	}
	if applied {
		if open, err = m.DetectConflicts(ctx, planID); err != nil {
			return nil, err
		}
	}

	var blocking []string
	for _, c := range open {
		if c.Blocking() {
			blocking = append(blocking, c.ID)
		}
	}
	if len(blocking) > 0 {
		if _, err := m.RecomputeMetrics(ctx, planID); err != nil {
			return nil, err
		}
		return nil, apperrors.ConflictUnresolved(planID, blocking)
	}

	p, err = m.RecomputeMetrics(ctx, planID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	p.Status = model.PlanActive
	p.ActivatedAt = &now
	if err := m.st.Plans.Update(ctx, p); err != nil {
		return nil, err
	}
	m.log.PlanActivated(p.ID, p.Metrics.CoveragePercentage)
	return p, nil
}

// ArchivePlan 归档计划
func (m *Manager) ArchivePlan(ctx context.Context, planID string) (*model.QuarterlyPlan, error) {
	p, err := m.st.Plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PlanArchived {
		return p, nil
	}
	p.Status = model.PlanArchived
	p.UpdatedAt = m.now()
	if err := m.st.Plans.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
