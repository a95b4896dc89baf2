package shift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paiban/dispatch/internal/store"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

// GenerateResult 一次滚动生成的结果
type GenerateResult struct {
	Schedules []*model.ShiftSchedule `json:"schedules"`
	Shifts    []*model.Shift         `json:"shifts"`
	Unstaffed []string               `json:"unstaffed_shift_ids,omitempty"`
}

func (r *GenerateResult) merge(o *GenerateResult) {
	r.Schedules = append(r.Schedules, o.Schedules...)
	r.Shifts = append(r.Shifts, o.Shifts...)
	r.Unstaffed = append(r.Unstaffed, o.Unstaffed...)
}

// Generate 为所有启用自动创建的模板生成从 from 起滚动窗口内的排班。
// 已生成过的日期跳过，重复调用是幂等的。
func (m *Manager) Generate(ctx context.Context, from time.Time) (*GenerateResult, error) {
	templates, err := m.st.Templates.Query(ctx, store.NewFilter().
		Eq("active", "true").
		Eq("auto_create", "true"))
	if err != nil {
		return nil, err
	}
	out := &GenerateResult{}
	for _, t := range templates {
		res, err := m.GenerateTemplate(ctx, t, from, m.cfg.HorizonDays)
		if err != nil {
			return out, err
		}
		out.merge(res)
	}
	return out, nil
}

// GenerateTemplate 为单个模板生成 days 天内的排班
func (m *Manager) GenerateTemplate(ctx context.Context, t *model.ShiftTemplate, from time.Time, days int) (*GenerateResult, error) {
	period, err := m.planPeriod(ctx, t.PlanID)
	if err != nil {
		return nil, err
	}

	var workers []*model.Worker
	if m.cfg.AutoStaff {
		workers, err = m.st.Workers.Query(ctx, store.NewFilter().Eq("active", "true"))
		if err != nil {
			return nil, err
		}
	}

	out := &GenerateResult{}
	day := m.startOfDay(from)
	for i := 0; i < days; i++ {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		date := day.AddDate(0, 0, i)
		if !t.RunsOn(date.Weekday()) {
			continue
		}
		if !period.IsZero() && !period.Contains(date) {
			continue
		}
		res, err := m.generateDay(ctx, t, date, workers)
		if err != nil {
			return out, err
		}
		out.merge(res)
	}
	if len(out.Schedules) > 0 {
		m.log.SchedulesGenerated(t.ID, len(out.Schedules), len(out.Shifts))
	}
	return out, nil
}

func (m *Manager) planPeriod(ctx context.Context, planID string) (model.TimeRange, error) {
	if planID == "" {
		return model.TimeRange{}, nil
	}
	p, err := m.st.Plans.Get(ctx, planID)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return model.TimeRange{}, nil
		}
		return model.TimeRange{}, err
	}
	return p.Period(m.loc), nil
}

func (m *Manager) generateDay(ctx context.Context, t *model.ShiftTemplate, date time.Time, workers []*model.Worker) (*GenerateResult, error) {
	out := &GenerateResult{}
	dateKey := date.Format("2006-01-02")
	window, err := t.WindowOn(date)
	if err != nil {
		return nil, apperrors.InvalidInput("template", err.Error())
	}

	count := t.MinExecutors
	if m.sizer != nil {
		count, _ = m.sizer.SizeTemplate(t, date)
	}
	if count < 1 {
		count = 1
	}

	sched := &model.ShiftSchedule{
		ID:         deterministicID("schedule", t.ID, dateKey),
		TemplateID: t.ID,
		PlanID:     t.PlanID,
		Date:       dateKey,
		Window:     window,
		CreatedAt:  m.now(),
	}
	for n := 0; n < count; n++ {
		sched.ShiftIDs = append(sched.ShiftIDs, deterministicID("shift", t.ID, dateKey, fmt.Sprint(n)))
	}
	if err := m.st.Schedules.Create(ctx, sched); err != nil {
		if apperrors.Is(err, apperrors.CodeAlreadyExists) {
			return out, nil
		}
		return nil, err
	}
	out.Schedules = append(out.Schedules, sched)

	m.staffMu.Lock()
	defer m.staffMu.Unlock()
	for _, id := range sched.ShiftIDs {
		s := &model.Shift{
			ID:                  id,
			Window:              window,
			Status:              model.ShiftPlanned,
			SpecializationFocus: append([]string(nil), t.Specializations...),
			CoverageArea:        t.CoverageArea,
			Capacity:            t.ShiftCapacity,
			PriorityLevel:       t.PriorityLevel,
			TemplateID:          t.ID,
			ScheduleID:          sched.ID,
			PlanID:              t.PlanID,
		}
		if m.cfg.AutoStaff {
			w, err := m.pickWorker(ctx, s, workers)
			if err != nil {
				return out, err
			}
			if w != nil {
				s.WorkerID = w.ID
			}
		}
		if err := m.save(ctx, s); err != nil {
			return out, err
		}
		out.Shifts = append(out.Shifts, s)
		if !s.IsStaffed() {
			out.Unstaffed = append(out.Unstaffed, s.ID)
		}
	}
	return out, nil
}

// qualifies 检查员工能否承担班次的专业侧重
func qualifies(w *model.Worker, s *model.Shift) bool {
	if len(s.SpecializationFocus) == 0 {
		return true
	}
	return model.Intersects(w.Specializations, s.SpecializationFocus)
}

// pickWorker 选出时段内空闲且专业匹配的员工，已排班次少者优先，其次按ID。
// 调用方需持有 staffMu。
func (m *Manager) pickWorker(ctx context.Context, s *model.Shift, workers []*model.Worker) (*model.Worker, error) {
	type option struct {
		w    *model.Worker
		load int
	}
	var options []option
	for _, w := range workers {
		if !w.Active || !qualifies(w, s) {
			continue
		}
		shifts, err := m.st.Shifts.Query(ctx, store.NewFilter().
			Eq("worker_id", w.ID).
			WithStatus(string(model.ShiftPlanned), string(model.ShiftActive)))
		if err != nil {
			return nil, err
		}
		free := true
		for _, other := range shifts {
			if other.Window.Overlaps(s.Window) {
				free = false
				break
			}
		}
		if free {
			options = append(options, option{w: w, load: len(shifts)})
		}
	}
	if len(options) == 0 {
		return nil, nil
	}
	sort.Slice(options, func(i, j int) bool {
		if options[i].load != options[j].load {
			return options[i].load < options[j].load
		}
		return options[i].w.ID < options[j].w.ID
	})
	return options[0].w, nil
}
