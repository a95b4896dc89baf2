package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	morning := TimeRange{Start: base, End: base.Add(4 * time.Hour)}

	tests := []struct {
		name     string
		other    TimeRange
		overlaps bool
		covers   bool
	}{
		{"完全包含", TimeRange{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, true, true},
		{"部分重叠", TimeRange{Start: base.Add(3 * time.Hour), End: base.Add(5 * time.Hour)}, true, false},
		{"首尾相接", TimeRange{Start: base.Add(4 * time.Hour), End: base.Add(6 * time.Hour)}, false, false},
		{"完全分离", TimeRange{Start: base.Add(8 * time.Hour), End: base.Add(9 * time.Hour)}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.overlaps, morning.Overlaps(tt.other))
			require.Equal(t, tt.overlaps, tt.other.Overlaps(morning))
			require.Equal(t, tt.covers, morning.Covers(tt.other))
		})
	}

	inter := morning.Intersect(TimeRange{Start: base.Add(3 * time.Hour), End: base.Add(5 * time.Hour)})
	require.Equal(t, time.Hour, inter.Duration())
	require.True(t, morning.Intersect(TimeRange{Start: base.Add(5 * time.Hour), End: base.Add(6 * time.Hour)}).IsZero())
}

func TestShiftStatus_Transitions(t *testing.T) {
	require.True(t, ShiftPlanned.CanTransition(ShiftActive))
	require.True(t, ShiftPlanned.CanTransition(ShiftCancelled))
	require.True(t, ShiftActive.CanTransition(ShiftCompleted))
	require.False(t, ShiftCompleted.CanTransition(ShiftActive))
	require.False(t, ShiftCancelled.CanTransition(ShiftPlanned))
	require.False(t, ShiftPlanned.CanTransition(ShiftCompleted))

	s := &Shift{ID: "s1", Status: ShiftPlanned}
	require.NoError(t, s.Transition(ShiftActive))
	require.Error(t, s.Transition(ShiftPlanned))
}

func TestShiftTemplate_WindowOn(t *testing.T) {
	tpl := &ShiftTemplate{ID: "night", StartTime: "22:00", DurationMinutes: 600}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	w, err := tpl.WindowOn(day)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), w.End)

	bad := &ShiftTemplate{ID: "bad", StartTime: "25:99", DurationMinutes: 60}
	_, err = bad.WindowOn(day)
	require.Error(t, err)
}

func TestWorker_Specializations(t *testing.T) {
	w := &Worker{ID: "w1", Specializations: []string{"plumbing", "electrical"}}
	require.True(t, w.CoversAll([]string{"plumbing"}))
	require.True(t, w.CoversAll(nil))
	require.False(t, w.CoversAll([]string{"plumbing", "security"}))
	require.False(t, w.IsUniversal())

	u := &Worker{ID: "w2", Specializations: []string{SpecializationUniversal}}
	require.True(t, u.IsUniversal())
}

func TestQuarterlyPlan_Period(t *testing.T) {
	p := &QuarterlyPlan{Year: 2026, Quarter: 3}
	period := p.Period(time.UTC)
	require.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), period.Start)
	require.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), period.End)
}

func TestSeverityForShortfall(t *testing.T) {
	require.Equal(t, SeverityCritical, SeverityForShortfall(1))
	require.Equal(t, SeverityHigh, SeverityForShortfall(0.5))
	require.Equal(t, SeverityMedium, SeverityForShortfall(0.3))
	require.Equal(t, SeverityLow, SeverityForShortfall(0.1))
}

func TestPlanningConflict_Blocking(t *testing.T) {
	c := &PlanningConflict{Status: ConflictOpen, Suggestions: []Resolution{{Kind: ResolutionManual}}}
	require.True(t, c.Blocking())

	c.Suggestions = append(c.Suggestions, Resolution{Kind: ResolutionReassign, WorkerID: "w2"})
	require.False(t, c.Blocking())

	c.Suggestions = nil
	c.Status = ConflictResolved
	require.False(t, c.Blocking())
}

func TestUrgency(t *testing.T) {
	require.Equal(t, UrgencyNormal, Urgency(0).Normalize())
	require.Equal(t, UrgencyCritical, Urgency(9).Normalize())
	require.Equal(t, UrgencyCritical, ParseUrgency("urgent"))
	require.Equal(t, "high", UrgencyHigh.String())
}
