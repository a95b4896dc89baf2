package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/pkg/model"
)

var day = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func staffed(id, worker string, capacity, used int, zone string, focus ...string) *model.Shift {
	return &model.Shift{
		ID:                  id,
		WorkerID:            worker,
		Window:              model.TimeRange{Start: day, End: day.Add(4 * time.Hour)},
		Status:              model.ShiftActive,
		Capacity:            capacity,
		CurrentRequestCount: used,
		SpecializationFocus: focus,
		CoverageArea:        model.CoverageArea{Zone: zone},
	}
}

func assigned(worker string, status model.AssignmentStatus, auto bool) *model.ShiftAssignment {
	return &model.ShiftAssignment{WorkerID: worker, Status: status, AutoAssigned: auto, Strategy: "greedy", CompositeScore: 0.8}
}

func TestGini(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{name: "空输入", values: nil, want: 0},
		{name: "完全均衡", values: []float64{3, 3, 3}, want: 0},
		{name: "全部为零", values: []float64{0, 0}, want: 0},
		{name: "完全集中", values: []float64{0, 0, 0, 4}, want: 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, gini(tt.values), 1e-9)
		})
	}
}

func TestWorkloadAnalyze(t *testing.T) {
	workers := []*model.Worker{
		{ID: "w1", Name: "甲", Active: true},
		{ID: "w2", Name: "乙", Active: true},
		{ID: "w3", Name: "丙", Active: true},
	}
	shifts := []*model.Shift{staffed("s1", "w1", 4, 3, ""), staffed("s2", "w2", 4, 1, "")}
	assignments := []*model.ShiftAssignment{
		assigned("w1", model.AssignmentConfirmed, true),
		assigned("w1", model.AssignmentConfirmed, true),
		assigned("w1", model.AssignmentCompleted, false),
		assigned("w2", model.AssignmentActive, true),
		assigned("w2", model.AssignmentRejected, true),
	}

	m := NewWorkloadAnalyzer().Analyze(assignments, shifts, workers)
	require.Len(t, m.Workers, 3)
	require.Equal(t, "w1", m.Workers[0].WorkerID)
	require.Equal(t, 2, m.Workers[0].Active)
	require.Equal(t, 1, m.Workers[0].Completed)
	require.InDelta(t, 50.0, m.Workers[0].Utilization, 1e-9)
	require.Equal(t, 0, m.Workers[2].Active)
	require.InDelta(t, 4.0/3.0, m.AvgLoad, 1e-9)
	require.Equal(t, 3.0, m.MaxLoad)
	require.Equal(t, 0.0, m.MinLoad)
	require.InDelta(t, 0.75, m.AutoAssignRatio, 1e-9)
	require.Equal(t, 4, m.StrategyCounts["greedy"])
	require.Greater(t, m.LoadGini, 0.0)
	require.Less(t, m.OverallFairness, 100.0)
}

func TestWorkloadAnalyzeEmpty(t *testing.T) {
	m := NewWorkloadAnalyzer().Analyze(nil, nil, nil)
	require.Empty(t, m.Workers)
	require.Equal(t, 100.0, m.OverallFairness)
}

func TestWorkloadCompare(t *testing.T) {
	a := NewWorkloadAnalyzer()
	even := a.Analyze([]*model.ShiftAssignment{
		assigned("w1", model.AssignmentConfirmed, true),
		assigned("w2", model.AssignmentConfirmed, true),
	}, nil, nil)
	skewed := a.Analyze([]*model.ShiftAssignment{
		assigned("w1", model.AssignmentConfirmed, true),
		assigned("w1", model.AssignmentConfirmed, true),
	}, nil, []*model.Worker{{ID: "w2", Active: true}})

	diff := a.Compare(even, skewed)
	require.Greater(t, diff["load_gini_diff"], 0.0)
	require.Less(t, diff["overall_score_diff"], 0.0)
}

func TestCoverageAnalyze(t *testing.T) {
	shifts := []*model.Shift{
		staffed("s1", "w1", 4, 3, "north", "nursing"),
		staffed("s2", "", 4, 0, "north"),
		{ID: "s3", Status: model.ShiftCancelled, Capacity: 9},
	}
	open := func(id, zone, spec string) *model.ServiceRequest {
		return &model.ServiceRequest{ID: id, Zone: zone, Status: model.RequestQueued, RequiredSpecializations: []string{spec}}
	}
	requests := []*model.ServiceRequest{
		open("r1", "north", "nursing"),
		open("r2", "north", "nursing"),
		open("r3", "south", "therapy"),
		{ID: "r4", Status: model.RequestAssigned},
	}

	m := NewCoverageAnalyzer().Analyze(shifts, requests)
	require.Equal(t, 2, m.TotalShifts)
	require.Equal(t, 1, m.StaffedShifts)
	require.InDelta(t, 50.0, m.StaffingRate, 1e-9)
	require.Equal(t, 8, m.TotalCapacity)
	require.Equal(t, 3, m.OpenRequests)
	require.Equal(t, []string{"s2"}, m.UnstaffedShifts)
	require.InDelta(t, 1.0/3.0, m.DemandSatisfied, 1e-9)

	nursing := m.SpecializationCoverage["nursing"]
	require.Equal(t, 2, nursing.Demand)
	require.Equal(t, 1, nursing.Remaining)
	require.InDelta(t, 0.5, nursing.Ratio, 1e-9)

	require.Equal(t, []ZoneShortage{
		{Zone: "north", Demand: 2, Remaining: 1, Shortage: 1},
		{Zone: "south", Demand: 1, Remaining: 0, Shortage: 1},
	}, m.ZoneShortages)

	dayCov := m.DailyCoverage["2026-03-02"]
	require.Equal(t, 2, dayCov.Shifts)
	require.InDelta(t, 4.0, dayCov.StaffedHours, 1e-9)
	require.Equal(t, 4, m.HourlyCapacity[8])
	require.Equal(t, 4, m.HourlyCapacity[11])
	require.Zero(t, m.HourlyCapacity[12])
}
