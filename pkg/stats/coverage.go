package stats

import (
	"sort"
	"time"

	"github.com/paiban/dispatch/pkg/model"
)

// CoverageMetrics 班次覆盖指标
type CoverageMetrics struct {
	TotalShifts     int     `json:"total_shifts"`
	StaffedShifts   int     `json:"staffed_shifts"`
	StaffingRate    float64 `json:"staffing_rate"` // 已指定员工的班次占比 (%)
	TotalCapacity   int     `json:"total_capacity"`
	UsedCapacity    int     `json:"used_capacity"`
	CapacityUsage   float64 `json:"capacity_usage"` // (%)
	OpenRequests    int     `json:"open_requests"`
	DemandSatisfied float64 `json:"demand_satisfied"` // 剩余容量能否覆盖未分配请求 (0-1)

	DailyCoverage          map[string]DayCoverage  `json:"daily_coverage"`
	SpecializationCoverage map[string]SpecCoverage `json:"specialization_coverage"`
	HourlyCapacity         map[int]int             `json:"hourly_capacity"` // 小时(UTC) -> 在岗班次容量
	UnstaffedShifts        []string                `json:"unstaffed_shifts"`
	ZoneShortages          []ZoneShortage          `json:"zone_shortages"`
}

// DayCoverage 每日覆盖
type DayCoverage struct {
	Date         string  `json:"date"`
	Shifts       int     `json:"shifts"`
	Staffed      int     `json:"staffed"`
	Capacity     int     `json:"capacity"`
	Used         int     `json:"used"`
	StaffedHours float64 `json:"staffed_hours"`
	CoverageRate float64 `json:"coverage_rate"`
}

// SpecCoverage 专业供需
type SpecCoverage struct {
	Demand    int     `json:"demand"`    // 未分配请求数
	Remaining int     `json:"remaining"` // 侧重该专业的班次剩余容量
	Ratio     float64 `json:"ratio"`
}

// ZoneShortage 区域内未分配请求超过剩余容量
type ZoneShortage struct {
	Zone      string `json:"zone"`
	Demand    int    `json:"demand"`
	Remaining int    `json:"remaining"`
	Shortage  int    `json:"shortage"`
}

// CoverageAnalyzer 班次覆盖分析器
type CoverageAnalyzer struct{}

// NewCoverageAnalyzer 创建覆盖分析器
func NewCoverageAnalyzer() *CoverageAnalyzer {
	return &CoverageAnalyzer{}
}

// Analyze 统计班次覆盖与未分配请求的供需。已取消和已完成的班次不计入。
func (c *CoverageAnalyzer) Analyze(shifts []*model.Shift, requests []*model.ServiceRequest) *CoverageMetrics {
	m := &CoverageMetrics{
		DailyCoverage:          make(map[string]DayCoverage),
		SpecializationCoverage: make(map[string]SpecCoverage),
		HourlyCapacity:         make(map[int]int),
	}

	specRemaining := make(map[string]int)
	zoneRemaining := make(map[string]int)
	totalRemaining := 0
	for _, s := range shifts {
		if s.Status == model.ShiftCancelled || s.Status == model.ShiftCompleted {
			continue
		}
		m.TotalShifts++
		m.TotalCapacity += s.Capacity
		m.UsedCapacity += s.CurrentRequestCount

		date := s.Window.Start.UTC().Format("2006-01-02")
		day := m.DailyCoverage[date]
		day.Date = date
		day.Shifts++
		day.Capacity += s.Capacity
		day.Used += s.CurrentRequestCount

		if s.IsStaffed() {
			m.StaffedShifts++
			day.Staffed++
			day.StaffedHours += s.Window.Duration().Hours()
			rem := s.Remaining()
			totalRemaining += rem
			for _, spec := range s.SpecializationFocus {
				specRemaining[spec] += rem
			}
			if s.CoverageArea.Zone != "" {
				zoneRemaining[s.CoverageArea.Zone] += rem
			}
			for h := range hoursSpanned(s.Window) {
				m.HourlyCapacity[h] += s.Capacity
			}
		} else {
			m.UnstaffedShifts = append(m.UnstaffedShifts, s.ID)
		}
		m.DailyCoverage[date] = day
	}
	for date, day := range m.DailyCoverage {
		if day.Shifts > 0 {
			day.CoverageRate = float64(day.Staffed) / float64(day.Shifts) * 100
		}
		m.DailyCoverage[date] = day
	}
	sort.Strings(m.UnstaffedShifts)
	if m.TotalShifts > 0 {
		m.StaffingRate = float64(m.StaffedShifts) / float64(m.TotalShifts) * 100
	}
	if m.TotalCapacity > 0 {
		m.CapacityUsage = float64(m.UsedCapacity) / float64(m.TotalCapacity) * 100
	}

	zoneDemand := make(map[string]int)
	for _, r := range requests {
		if !r.IsOpen() {
			continue
		}
		m.OpenRequests++
		if spec := r.PrimarySpecialization(); spec != "" {
			sc := m.SpecializationCoverage[spec]
			sc.Demand++
			m.SpecializationCoverage[spec] = sc
		}
		if r.Zone != "" {
			zoneDemand[r.Zone]++
		}
	}
	for spec, sc := range m.SpecializationCoverage {
		sc.Remaining = specRemaining[spec]
		sc.Ratio = ratio(sc.Remaining, sc.Demand)
		m.SpecializationCoverage[spec] = sc
	}
	m.DemandSatisfied = ratio(totalRemaining, m.OpenRequests)

	for zone, demand := range zoneDemand {
		if rem := zoneRemaining[zone]; demand > rem {
			m.ZoneShortages = append(m.ZoneShortages, ZoneShortage{
				Zone: zone, Demand: demand, Remaining: rem, Shortage: demand - rem,
			})
		}
	}
	sort.Slice(m.ZoneShortages, func(i, j int) bool {
		if m.ZoneShortages[i].Shortage != m.ZoneShortages[j].Shortage {
			return m.ZoneShortages[i].Shortage > m.ZoneShortages[j].Shortage
		}
		return m.ZoneShortages[i].Zone < m.ZoneShortages[j].Zone
	})
	return m
}

// ratio 供给/需求，封顶为 1；无需求视为完全满足
func ratio(supply, demand int) float64 {
	if demand == 0 {
		return 1
	}
	if supply >= demand {
		return 1
	}
	return float64(supply) / float64(demand)
}

// hoursSpanned 返回时间范围覆盖的整点小时(UTC)，最多一天
func hoursSpanned(tr model.TimeRange) map[int]struct{} {
	out := make(map[int]struct{})
	if !tr.End.After(tr.Start) {
		return out
	}
	t := tr.Start.UTC().Truncate(time.Hour)
	for i := 0; i < 24 && t.Before(tr.End); i++ {
		out[t.Hour()] = struct{}{}
		t = t.Add(time.Hour)
	}
	return out
}
