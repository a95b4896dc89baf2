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

// planView 冲突检测所需的计划快照
type planView struct {
	plan    *model.QuarterlyPlan
	shifts  []*model.Shift
	workers map[string]*model.Worker
	ordered []*model.Worker
}

func (m *Manager) loadPlanView(ctx context.Context, planID string) (*planView, error) {
	plan, err := m.st.Plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	shifts, err := m.st.Shifts.Query(ctx, store.NewFilter().
		Eq("plan_id", planID).
		WithStatus(string(model.ShiftPlanned), string(model.ShiftActive)))
	if err != nil {
		return nil, err
	}
	workers, err := m.st.Workers.Query(ctx, store.NewFilter())
	if err != nil {
		return nil, err
	}
	v := &planView{plan: plan, shifts: shifts, workers: make(map[string]*model.Worker, len(workers)), ordered: workers}
	for _, w := range workers {
		v.workers[w.ID] = w
	}
	return v, nil
}

// DetectConflicts 扫描计划下的班次，发现重复排班与覆盖不足。
// 新冲突被保存并通知；此前未解决但本次不再出现的冲突自动标记为已解决。
func (m *Manager) DetectConflicts(ctx context.Context, planID string) ([]*model.PlanningConflict, error) {
	v, err := m.loadPlanView(ctx, planID)
	if err != nil {
		return nil, err
	}

	detected := m.detectDoubleBookings(ctx, v)
	under, err := m.detectUnderCoverage(ctx, v)
	if err != nil {
		return nil, err
	}
	detected = append(detected, under...)
	for _, c := range detected {
		if err := m.suggest(ctx, v, c); err != nil {
			return nil, err
		}
	}

	return m.persistConflicts(ctx, planID, detected)
}

func (m *Manager) persistConflicts(ctx context.Context, planID string, detected []*model.PlanningConflict) ([]*model.PlanningConflict, error) {
	now := m.now()
	seen := make(map[string]bool, len(detected))
	var open []*model.PlanningConflict
	for _, c := range detected {
		seen[c.ID] = true
		existing, err := m.st.Conflicts.Get(ctx, c.ID)
		switch {
		case err == nil:
			if existing.Status == model.ConflictResolved {
				continue
			}
			c.DetectedAt = existing.DetectedAt
			if err := m.st.Conflicts.Update(ctx, c); err != nil {
				return nil, err
			}
		case apperrors.Is(err, apperrors.CodeNotFound):
			c.DetectedAt = now
			if err := m.st.Conflicts.Create(ctx, c); err != nil {
				return nil, err
			}
			m.log.ConflictRaised(c.ID, string(c.Type), string(c.Severity), c.Message)
			if m.notifier != nil {
				m.notifier.ConflictRaised(ctx, c)
			}
		default:
			return nil, err
		}
		open = append(open, c)
	}

	stale, err := m.st.Conflicts.Query(ctx, store.NewFilter().
		Eq("plan_id", planID).
		WithStatus(string(model.ConflictOpen)))
	if err != nil {
		return nil, err
	}
	for _, c := range stale {
		if seen[c.ID] {
			continue
		}
		c.Status = model.ConflictResolved
		c.ResolvedAt = &now
		if err := m.st.Conflicts.Update(ctx, c); err != nil {
			return nil, err
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

// detectDoubleBookings 同一员工时间重叠的班次，逐对报告
func (m *Manager) detectDoubleBookings(_ context.Context, v *planView) []*model.PlanningConflict {
	byWorker := make(map[string][]*model.Shift)
	for _, s := range v.shifts {
		if s.IsStaffed() {
			byWorker[s.WorkerID] = append(byWorker[s.WorkerID], s)
		}
	}
	workerIDs := make([]string, 0, len(byWorker))
	for id := range byWorker {
		workerIDs = append(workerIDs, id)
	}
	sort.Strings(workerIDs)

	var out []*model.PlanningConflict
	for _, wid := range workerIDs {
		shifts := byWorker[wid]
		sort.Slice(shifts, func(i, j int) bool {
			if !shifts[i].Window.Start.Equal(shifts[j].Window.Start) {
				return shifts[i].Window.Start.Before(shifts[j].Window.Start)
			}
			return shifts[i].ID < shifts[j].ID
		})
		for i := 0; i < len(shifts); i++ {
			a := shifts[i]
			for j := i + 1; j < len(shifts) && shifts[j].Window.Start.Before(a.Window.End); j++ {
				b := shifts[j]
				overlap := a.Window.Intersect(b.Window)
				if overlap.IsZero() {
					continue
				}
				shorter := a.Window.Duration()
				if d := b.Window.Duration(); d < shorter {
					shorter = d
				}
				out = append(out, &model.PlanningConflict{
					ID:        deterministicID("double_booking", a.ID, b.ID),
					PlanID:    v.plan.ID,
					Type:      model.ConflictDoubleBooking,
					ShiftIDs:  []string{a.ID, b.ID},
					WorkerIDs: []string{wid},
					Window:    overlap,
					Date:      overlap.Start.In(m.loc).Format("2006-01-02"),
					Severity:  model.SeverityForShortfall(float64(overlap.Duration()) / float64(shorter)),
					Shortfall: 1,
					Status:    model.ConflictOpen,
					Message: fmt.Sprintf("员工 %s 在 %s 至 %s 同时排入两个班次",
						wid, overlap.Start.In(m.loc).Format("01-02 15:04"), overlap.End.In(m.loc).Format("15:04")),
				})
			}
		}
	}
	return out
}

// segment 覆盖扫描中的最小时间片
type segment struct {
	window    model.TimeRange
	demand    int
	supply    int
	shiftIDs  []string
	workerIDs []string
}

// detectUnderCoverage 按计划覆盖要求逐时段比较需求人数与具备专业的在岗人数
func (m *Manager) detectUnderCoverage(ctx context.Context, v *planView) ([]*model.PlanningConflict, error) {
	var out []*model.PlanningConflict
	for _, req := range v.plan.Requirements {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		segs := m.coverageSegments(v, req)
		for _, seg := range mergeSegments(segs) {
			shortfall := seg.demand - seg.supply
			if shortfall <= 0 {
				continue
			}
			zone := req.Zone
			if zone == "" {
				zone = "*"
			}
			out = append(out, &model.PlanningConflict{
				ID: deterministicID("under_coverage", v.plan.ID, req.Specialization, zone,
					fmt.Sprint(seg.window.Start.Unix()), fmt.Sprint(seg.window.End.Unix()), fmt.Sprint(shortfall)),
				PlanID:         v.plan.ID,
				Type:           model.ConflictUnderCoverage,
				ShiftIDs:       seg.shiftIDs,
				WorkerIDs:      seg.workerIDs,
				Specialization: req.Specialization,
				Window:         seg.window,
				Date:           seg.window.Start.In(m.loc).Format("2006-01-02"),
				Severity:       model.SeverityForShortfall(float64(shortfall) / float64(seg.demand)),
				Shortfall:      shortfall,
				Status:         model.ConflictOpen,
				Message: fmt.Sprintf("专业 %s 在 %s 至 %s 需要 %d 人，仅 %d 人在岗",
					req.Specialization, seg.window.Start.In(m.loc).Format("01-02 15:04"),
					seg.window.End.In(m.loc).Format("15:04"), seg.demand, seg.supply),
			})
		}
	}
	return out, nil
}

func inZone(s *model.Shift, zone string) bool {
	return zone == "" || s.CoverageArea.Zone == zone
}

func (m *Manager) coverageSegments(v *planView, req model.CoverageRequirement) []segment {
	minWorkers := req.MinWorkers
	if minWorkers < 1 {
		minWorkers = 1
	}

	var demand, supply []*model.Shift
	days := make(map[time.Time]bool)
	for _, s := range v.shifts {
		if !inZone(s, req.Zone) {
			continue
		}
		days[m.startOfDay(s.Window.Start)] = true
		focused := model.ContainsString(s.SpecializationFocus, req.Specialization)
		if focused {
			demand = append(demand, s)
		}
		if s.IsStaffed() && (focused || len(s.SpecializationFocus) == 0) {
			if w, ok := v.workers[s.WorkerID]; ok && w.Active && w.HasSpecialization(req.Specialization) {
				supply = append(supply, s)
			}
		}
	}

	var bounds []time.Time
	var dayRanges []model.TimeRange
	for _, s := range demand {
		bounds = append(bounds, s.Window.Start, s.Window.End)
	}
	for _, s := range supply {
		bounds = append(bounds, s.Window.Start, s.Window.End)
	}
	if req.ContinuousCoverage {
		for d := range days {
			r := model.TimeRange{Start: d, End: d.AddDate(0, 0, 1)}
			dayRanges = append(dayRanges, r)
			bounds = append(bounds, r.Start, r.End)
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })

	var segs []segment
	for i := 0; i+1 < len(bounds); i++ {
		w := model.TimeRange{Start: bounds[i], End: bounds[i+1]}
		if !w.End.After(w.Start) {
			continue
		}
		seg := segment{window: w}
		for _, s := range demand {
			if s.Window.Covers(w) {
				seg.demand++
				seg.shiftIDs = append(seg.shiftIDs, s.ID)
			}
		}
		required := seg.demand > 0
		if !required && req.ContinuousCoverage {
			for _, r := range dayRanges {
				if r.Covers(w) {
					required = true
					break
				}
			}
		}
		if !required {
			continue
		}
		if seg.demand < minWorkers {
			seg.demand = minWorkers
		}
		staffed := make(map[string]bool)
		for _, s := range supply {
			if s.Window.Covers(w) && !staffed[s.WorkerID] {
				staffed[s.WorkerID] = true
				seg.workerIDs = append(seg.workerIDs, s.WorkerID)
			}
		}
		seg.supply = len(staffed)
		sort.Strings(seg.shiftIDs)
		sort.Strings(seg.workerIDs)
		segs = append(segs, seg)
	}
	return segs
}

// mergeSegments 合并首尾相接且需求、在岗人数相同的时间片
func mergeSegments(segs []segment) []segment {
	var out []segment
	for _, s := range segs {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.window.End.Equal(s.window.Start) && last.demand == s.demand && last.supply == s.supply {
				last.window.End = s.window.End
				last.shiftIDs = union(last.shiftIDs, s.shiftIDs)
				last.workerIDs = union(last.workerIDs, s.workerIDs)
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func union(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// suggest 为冲突寻找可自动采用的换人方案，找不到时只给出人工处理建议
func (m *Manager) suggest(ctx context.Context, v *planView, c *model.PlanningConflict) error {
	shiftByID := make(map[string]*model.Shift, len(v.shifts))
	for _, s := range v.shifts {
		shiftByID[s.ID] = s
	}

	var targets []*model.Shift
	switch c.Type {
	case model.ConflictDoubleBooking:
		// 优先调整开始较晚的班次
		for i := len(c.ShiftIDs) - 1; i >= 0; i-- {
			if s := shiftByID[c.ShiftIDs[i]]; s != nil {
				targets = append(targets, s)
			}
		}
	case model.ConflictUnderCoverage:
		for _, id := range c.ShiftIDs {
			s := shiftByID[id]
			if s == nil {
				continue
			}
			if w, ok := v.workers[s.WorkerID]; ok && w.HasSpecialization(c.Specialization) {
				continue
			}
			targets = append(targets, s)
		}
	}

	used := make(map[string]bool)
	needed := 1
	if c.Type == model.ConflictUnderCoverage {
		needed = c.Shortfall
	}
	for _, s := range targets {
		if len(c.Suggestions) >= needed {
			break
		}
		for _, w := range v.ordered {
			if used[w.ID] || w.ID == s.WorkerID || !w.Active || !qualifies(w, s) {
				continue
			}
			if c.Specialization != "" && !w.HasSpecialization(c.Specialization) {
				continue
			}
			busy, err := m.booked(ctx, w.ID, s.Window, s.ID)
			if err != nil {
				return err
			}
			if busy {
				continue
			}
			used[w.ID] = true
			c.Suggestions = append(c.Suggestions, model.Resolution{
				Kind:        model.ResolutionReassign,
				ShiftID:     s.ID,
				WorkerID:    w.ID,
				Description: fmt.Sprintf("将班次 %s 改派给员工 %s", s.ID, w.ID),
			})
			break
		}
	}
	if len(c.Suggestions) == 0 {
		c.Suggestions = append(c.Suggestions, model.Resolution{
			Kind:        model.ResolutionManual,
			Description: "没有可自动调整的员工，需要人工处理",
		})
	}
	return nil
}

// ResolveConflict 采用解决方案。res 为空时采用第一条可自动执行的建议。
func (m *Manager) ResolveConflict(ctx context.Context, conflictID string, res *model.Resolution) (*model.PlanningConflict, error) {
	c, err := m.st.Conflicts.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.ConflictResolved {
		return c, nil
	}
	if res == nil {
		for i := range c.Suggestions {
			if c.Suggestions[i].Kind != model.ResolutionManual {
				res = &c.Suggestions[i]
				break
			}
		}
		if res == nil {
			return nil, apperrors.ConflictUnresolved(c.PlanID, []string{c.ID})
		}
	}

	if err := m.apply(ctx, *res); err != nil {
		return nil, err
	}

	now := m.now()
	applied := *res
	c.Applied = &applied
	c.Status = model.ConflictResolved
	c.ResolvedAt = &now
	if err := m.st.Conflicts.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Manager) apply(ctx context.Context, res model.Resolution) error {
	switch res.Kind {
	case model.ResolutionReassign:
		if res.ShiftID == "" || res.WorkerID == "" {
			return apperrors.InvalidInput("resolution", "改派需要班次与员工")
		}
		_, err := m.Staff(ctx, res.ShiftID, res.WorkerID)
		return err
	case model.ResolutionUnstaff:
		if res.ShiftID == "" {
			return apperrors.InvalidInput("resolution", "撤下员工需要班次")
		}
		_, err := m.Staff(ctx, res.ShiftID, "")
		return err
	case model.ResolutionManual:
		return nil
	default:
		return apperrors.InvalidInput("resolution", fmt.Sprintf("未知的解决方式: %s", res.Kind))
	}
}

// Conflicts 返回计划的冲突，openOnly 时只返回未解决的
func (m *Manager) Conflicts(ctx context.Context, planID string, openOnly bool) ([]*model.PlanningConflict, error) {
	f := store.NewFilter().Eq("plan_id", planID)
	if openOnly {
		f = f.WithStatus(string(model.ConflictOpen))
	}
	return m.st.Conflicts.Query(ctx, f)
}
