package shift

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/claim"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

// 2026-04-06 为周一
var monday = time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)

type notifier struct {
	mu     sync.Mutex
	raised []*model.PlanningConflict
}

func (n *notifier) ConflictRaised(_ context.Context, c *model.PlanningConflict) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.raised = append(n.raised, c)
}

func newManager(t *testing.T, opts ...Option) (*Manager, *store.Store) {
	t.Helper()
	st := store.NewMemory()
	opts = append([]Option{WithClock(func() time.Time { return monday })}, opts...)
	m, err := NewManager(DefaultConfig(), st, opts...)
	require.NoError(t, err)
	return m, st
}

func addWorkers(t *testing.T, st *store.Store, workers ...*model.Worker) {
	t.Helper()
	for _, w := range workers {
		w.Active = true
		require.NoError(t, st.Workers.Create(context.Background(), w))
	}
}

func template(id, plan, start string, minutes int, specs ...string) *model.ShiftTemplate {
	return &model.ShiftTemplate{
		ID:              id,
		Name:            id,
		PlanID:          plan,
		DaysOfWeek:      []time.Weekday{time.Monday},
		StartTime:       start,
		DurationMinutes: minutes,
		Specializations: specs,
		MinExecutors:    1,
		MaxExecutors:    2,
		ShiftCapacity:   4,
		AutoCreate:      true,
		Active:          true,
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	counters := claim.NewCounters()
	m, st := newManager(t, WithCapacity(counters))
	ctx := context.Background()
	addWorkers(t, st, &model.Worker{ID: "w1", Specializations: []string{"plumbing"}})

	tpl := template("t1", "", "09:00", 480, "plumbing")
	tpl.DaysOfWeek = []time.Weekday{time.Monday, time.Wednesday}
	require.NoError(t, m.CreateTemplate(ctx, tpl))

	res, err := m.Generate(ctx, monday)
	require.NoError(t, err)
	// 14 天内有 2 个周一与 2 个周三
	require.Len(t, res.Schedules, 4)
	require.Len(t, res.Shifts, 4)
	require.Empty(t, res.Unstaffed)
	for _, s := range res.Shifts {
		require.Equal(t, "w1", s.WorkerID)
		require.Equal(t, model.ShiftPlanned, s.Status)
		require.Equal(t, 4, counters.Remaining(s.ID))
	}
	require.Equal(t, 9, res.Shifts[0].Window.Start.Hour())

	again, err := m.Generate(ctx, monday)
	require.NoError(t, err)
	require.Empty(t, again.Schedules)

	all, err := st.Shifts.Query(ctx, store.NewFilter().Eq("template_id", "t1"))
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestCreateTemplateValidates(t *testing.T) {
	m, _ := newManager(t)
	bad := template("t1", "", "9am", 0)
	bad.ShiftCapacity = 0
	err := m.CreateTemplate(context.Background(), bad)
	require.True(t, apperrors.Is(err, apperrors.CodeValidationFail))
}

func TestAutoStaffNeverDoubleBooks(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	addWorkers(t, st, &model.Worker{ID: "guard", Specializations: []string{"security"}})

	require.NoError(t, m.CreateTemplate(ctx, template("day", "", "08:00", 480, "security")))
	require.NoError(t, m.CreateTemplate(ctx, template("late", "", "12:00", 480, "security")))

	res, err := m.Generate(ctx, monday)
	require.NoError(t, err)
	require.Len(t, res.Shifts, 4)
	require.Len(t, res.Unstaffed, 2)

	staffed, err := st.Shifts.Query(ctx, store.NewFilter().Eq("worker_id", "guard"))
	require.NoError(t, err)
	for i := range staffed {
		for j := i + 1; j < len(staffed); j++ {
			require.False(t, staffed[i].Window.Overlaps(staffed[j].Window))
		}
	}
}

func TestShiftTransitions(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s := &model.Shift{
		ID:       "s1",
		Window:   model.TimeRange{Start: monday.Add(8 * time.Hour), End: monday.Add(16 * time.Hour)},
		Capacity: 3,
	}
	require.NoError(t, m.Create(ctx, s))

	_, err := m.Transition(ctx, "s1", model.ShiftCompleted)
	require.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))

	got, err := m.Transition(ctx, "s1", model.ShiftActive)
	require.NoError(t, err)
	require.Equal(t, model.ShiftActive, got.Status)

	got, err = m.Transition(ctx, "s1", model.ShiftCancelled)
	require.NoError(t, err)
	require.Equal(t, model.ShiftCancelled, got.Status)

	_, err = m.Transition(ctx, "s1", model.ShiftActive)
	require.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
}

func createPlan(t *testing.T, m *Manager, reqs ...model.CoverageRequirement) *model.QuarterlyPlan {
	t.Helper()
	p := &model.QuarterlyPlan{ID: "q2", Name: "2026 Q2", Year: 2026, Quarter: 2, Requirements: reqs}
	require.NoError(t, m.CreatePlan(context.Background(), p))
	return p
}

func rawShift(id, plan, worker string, startHour, endHour int, focus ...string) *model.Shift {
	return &model.Shift{
		ID:                  id,
		PlanID:              plan,
		WorkerID:            worker,
		Window:              model.TimeRange{Start: monday.Add(time.Duration(startHour) * time.Hour), End: monday.Add(time.Duration(endHour) * time.Hour)},
		Status:              model.ShiftPlanned,
		SpecializationFocus: focus,
		Capacity:            3,
	}
}

func TestDetectDoubleBooking(t *testing.T) {
	n := &notifier{}
	m, st := newManager(t, WithNotifier(n))
	ctx := context.Background()
	addWorkers(t, st,
		&model.Worker{ID: "w1", Specializations: []string{"repair"}},
		&model.Worker{ID: "w2", Specializations: []string{"repair"}},
	)
	createPlan(t, m)

	// 直接写入存储，模拟外部导入的重叠排班
	require.NoError(t, st.Shifts.Create(ctx, rawShift("a", "q2", "w1", 8, 12, "repair")))
	require.NoError(t, st.Shifts.Create(ctx, rawShift("b", "q2", "w1", 10, 14, "repair")))
	require.NoError(t, st.Shifts.Create(ctx, rawShift("c", "q2", "w1", 14, 18, "repair")))

	open, err := m.DetectConflicts(ctx, "q2")
	require.NoError(t, err)
	require.Len(t, open, 1)
	c := open[0]
	require.Equal(t, model.ConflictDoubleBooking, c.Type)
	require.Equal(t, []string{"a", "b"}, c.ShiftIDs)
	require.Equal(t, 10, c.Window.Start.Hour())
	require.Equal(t, 12, c.Window.End.Hour())
	require.Equal(t, model.SeverityHigh, c.Severity)
	require.True(t, c.AutoResolvable())
	require.Equal(t, "b", c.Suggestions[0].ShiftID)
	require.Equal(t, "w2", c.Suggestions[0].WorkerID)
	require.Len(t, n.raised, 1)

	// 再次检测不会重复通知
	_, err = m.DetectConflicts(ctx, "q2")
	require.NoError(t, err)
	require.Len(t, n.raised, 1)

	resolved, err := m.ResolveConflict(ctx, c.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.ConflictResolved, resolved.Status)
	b, err := st.Shifts.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "w2", b.WorkerID)

	open, err = m.DetectConflicts(ctx, "q2")
	require.NoError(t, err)
	require.Empty(t, open)
}

// 两个模板在同一计划中重叠时段都需要唯一的安保专员
func TestSoleSpecialistRaisesUnderCoverage(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	addWorkers(t, st,
		&model.Worker{ID: "guard", Specializations: []string{"security"}},
		&model.Worker{ID: "cleaner", Specializations: []string{"cleaning"}},
	)
	createPlan(t, m, model.CoverageRequirement{Specialization: "security", MinWorkers: 1})

	require.NoError(t, m.CreateTemplate(ctx, template("gate", "q2", "08:00", 480, "security")))
	require.NoError(t, m.CreateTemplate(ctx, template("lobby", "q2", "08:00", 480, "security")))
	gate, err := st.Templates.Get(ctx, "gate")
	require.NoError(t, err)
	lobby, err := st.Templates.Get(ctx, "lobby")
	require.NoError(t, err)
	_, err = m.GenerateTemplate(ctx, gate, monday, 1)
	require.NoError(t, err)
	res, err := m.GenerateTemplate(ctx, lobby, monday, 1)
	require.NoError(t, err)
	require.Len(t, res.Unstaffed, 1)

	open, err := m.DetectConflicts(ctx, "q2")
	require.NoError(t, err)
	require.Len(t, open, 1)
	c := open[0]
	require.Equal(t, model.ConflictUnderCoverage, c.Type)
	require.Equal(t, "security", c.Specialization)
	require.Equal(t, 1, c.Shortfall)
	// 需要 2 人仅 1 人在岗，缺口 50%
	require.Equal(t, model.SeverityHigh, c.Severity)
	require.Len(t, c.ShiftIDs, 2)
	require.Equal(t, []string{"guard"}, c.WorkerIDs)
	require.False(t, c.AutoResolvable())
	require.True(t, c.Blocking())

	_, err = m.ActivatePlan(ctx, "q2")
	require.True(t, apperrors.Is(err, apperrors.CodeConflictUnresolved))

	p, err := m.GetPlan(ctx, "q2")
	require.NoError(t, err)
	require.Equal(t, model.PlanDraft, p.Status)
	require.Equal(t, 1, p.Metrics.BlockingConflicts)
	require.Equal(t, 50.0, p.Metrics.CoveragePercentage)
}

func TestActivateAppliesAutomaticSuggestions(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	addWorkers(t, st,
		&model.Worker{ID: "guard1", Specializations: []string{"security"}},
		&model.Worker{ID: "guard2", Specializations: []string{"security"}},
	)
	createPlan(t, m, model.CoverageRequirement{Specialization: "security", MinWorkers: 1})
	require.NoError(t, st.Shifts.Create(ctx, rawShift("gate", "q2", "guard1", 8, 16, "security")))
	require.NoError(t, st.Shifts.Create(ctx, rawShift("lobby", "q2", "", 12, 20, "security")))

	open, err := m.DetectConflicts(ctx, "q2")
	require.NoError(t, err)
	require.NotEmpty(t, open)

	p, err := m.ActivatePlan(ctx, "q2")
	require.NoError(t, err)
	require.Equal(t, model.PlanActive, p.Status)
	require.NotNil(t, p.ActivatedAt)
	require.Equal(t, 100.0, p.Metrics.CoveragePercentage)
	require.Zero(t, p.Metrics.OpenConflicts)

	lobby, err := st.Shifts.Get(ctx, "lobby")
	require.NoError(t, err)
	require.Equal(t, "guard2", lobby.WorkerID)

	archived, err := m.ArchivePlan(ctx, "q2")
	require.NoError(t, err)
	require.Equal(t, model.PlanArchived, archived.Status)
}

func TestContinuousCoverageFlagsGaps(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	addWorkers(t, st, &model.Worker{ID: "nurse", Specializations: []string{"care"}})
	createPlan(t, m, model.CoverageRequirement{Specialization: "care", MinWorkers: 1, ContinuousCoverage: true})
	require.NoError(t, st.Shifts.Create(ctx, rawShift("day", "q2", "nurse", 8, 20, "care")))

	open, err := m.DetectConflicts(ctx, "q2")
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, c := range open {
		require.Equal(t, model.SeverityCritical, c.Severity)
		require.False(t, c.Window.Overlaps(model.TimeRange{Start: monday.Add(8 * time.Hour), End: monday.Add(20 * time.Hour)}))
	}
}

func TestStaffRejectsOverlap(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	addWorkers(t, st, &model.Worker{ID: "w1", Specializations: []string{"repair"}})
	require.NoError(t, m.Create(ctx, rawShift("a", "", "w1", 8, 12)))
	require.NoError(t, m.Create(ctx, rawShift("b", "", "", 11, 15)))

	_, err := m.Staff(ctx, "b", "w1")
	require.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))

	require.NoError(t, m.Create(ctx, rawShift("c", "", "", 12, 15)))
	got, err := m.Staff(ctx, "c", "w1")
	require.NoError(t, err)
	require.Equal(t, "w1", got.WorkerID)
}

// slowShifts 放慢班次读取，放大读改写之间的窗口
type slowShifts struct {
	store.Repository[model.Shift]
}

func (r slowShifts) Get(ctx context.Context, id string) (*model.Shift, error) {
	time.Sleep(2 * time.Millisecond)
	return r.Repository.Get(ctx, id)
}

func TestConcurrentCountUpdatesKeepStatus(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, rawShift("s1", "", "", 8, 16)))
	st.Shifts = slowShifts{Repository: st.Shifts}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n+1)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AdjustCount(ctx, "s1", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := m.Transition(ctx, "s1", model.ShiftCancelled); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, n, got.CurrentRequestCount)
	require.Equal(t, model.ShiftCancelled, got.Status)
}

type staffingLog struct {
	mu    sync.Mutex
	calls [][2]string
}

func (l *staffingLog) ShiftStaffed(_ context.Context, s *model.Shift, previous string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, [2]string{previous, s.WorkerID})
}

func TestStaffNotifiesListenersOnChange(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	addWorkers(t, st, &model.Worker{ID: "w1"}, &model.Worker{ID: "w2"})
	require.NoError(t, m.Create(ctx, rawShift("s1", "", "w1", 8, 12)))
	log := &staffingLog{}
	m.AddStaffingListener(log)

	_, err := m.Staff(ctx, "s1", "w1")
	require.NoError(t, err)
	require.Empty(t, log.calls)

	_, err = m.Staff(ctx, "s1", "w2")
	require.NoError(t, err)
	_, err = m.Staff(ctx, "s1", "")
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"w1", "w2"}, {"w2", ""}}, log.calls)
}

func TestHoldWaitsForExclusive(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, rawShift("s1", "", "", 8, 16)))

	release := m.Exclusive("s1")
	held := make(chan model.ShiftStatus, 1)
	go func() {
		s, done, err := m.Hold(ctx, "s1")
		if err != nil {
			held <- ""
			return
		}
		defer done()
		held <- s.Status
	}()

	_, err := m.Transition(ctx, "s1", model.ShiftCancelled)
	require.NoError(t, err)
	select {
	case <-held:
		t.Fatal("独占期间不应取得共享占用")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	require.Equal(t, model.ShiftCancelled, <-held)
}
