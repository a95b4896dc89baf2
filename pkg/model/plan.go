package model

import "time"

// PlanStatus 季度计划状态
type PlanStatus string

const (
	PlanDraft    PlanStatus = "draft"
	PlanActive   PlanStatus = "active"
	PlanArchived PlanStatus = "archived"
)

// CoverageRequirement 覆盖要求
type CoverageRequirement struct {
	Specialization     string `json:"specialization" yaml:"specialization"`
	Zone               string `json:"zone,omitempty" yaml:"zone,omitempty"`
	ContinuousCoverage bool   `json:"continuous_coverage" yaml:"continuous_coverage"`
	MinWorkers         int    `json:"min_workers" yaml:"min_workers"`
}

// PlanMetrics 计划汇总指标
type PlanMetrics struct {
	PlannedShifts      int     `json:"planned_shifts"`
	StaffedShifts      int     `json:"staffed_shifts"`
	CoveragePercentage float64 `json:"coverage_percentage"`
	TotalConflicts     int     `json:"total_conflicts"`
	OpenConflicts      int     `json:"open_conflicts"`
	BlockingConflicts  int     `json:"blocking_conflicts"`
}

// QuarterlyPlan 季度计划
type QuarterlyPlan struct {
	ID           string                `json:"id" yaml:"id"`
	Name         string                `json:"name" yaml:"name"`
	Year         int                   `json:"year" yaml:"year"`
	Quarter      int                   `json:"quarter" yaml:"quarter"`
	Requirements []CoverageRequirement `json:"requirements" yaml:"requirements"`
	TemplateIDs  []string              `json:"template_ids" yaml:"template_ids"`
	Metrics      PlanMetrics           `json:"metrics" yaml:"-"`
	Status       PlanStatus            `json:"status" yaml:"status"`
	ActivatedAt  *time.Time            `json:"activated_at,omitempty" yaml:"-"`
	UpdatedAt    time.Time             `json:"updated_at" yaml:"-"`
}

// Period 返回季度的起止日期（左闭右开）
func (p *QuarterlyPlan) Period(loc *time.Location) TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	q := p.Quarter
	if q < 1 || q > 4 {
		q = 1
	}
	start := time.Date(p.Year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, loc)
	return TimeRange{Start: start, End: start.AddDate(0, 3, 0)}
}

// ConflictType 计划冲突类型
type ConflictType string

const (
	ConflictDoubleBooking ConflictType = "double_booking" // 同一员工时间重叠的班次
	ConflictUnderCoverage ConflictType = "under_coverage" // 专业/区域覆盖不足
)

// Severity 冲突严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForShortfall 按缺口比例确定严重程度
func SeverityForShortfall(ratio float64) Severity {
	switch {
	case ratio >= 1:
		return SeverityCritical
	case ratio >= 0.5:
		return SeverityHigh
	case ratio >= 0.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ConflictStatus 冲突状态
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// ResolutionKind 解决方式
type ResolutionKind string

const (
	ResolutionReassign ResolutionKind = "reassign" // 将班次换给另一名员工
	ResolutionUnstaff  ResolutionKind = "unstaff"  // 撤下员工，留待后续补位
	ResolutionManual   ResolutionKind = "manual"   // 人工处理
)

// Resolution 冲突解决建议或已采用的方案
type Resolution struct {
	Kind        ResolutionKind `json:"kind"`
	ShiftID     string         `json:"shift_id,omitempty"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Description string         `json:"description"`
}

// PlanningConflict 排班冲突
type PlanningConflict struct {
	ID             string         `json:"id"`
	PlanID         string         `json:"plan_id,omitempty"`
	Type           ConflictType   `json:"type"`
	ShiftIDs       []string       `json:"shift_ids"`
	WorkerIDs      []string       `json:"worker_ids,omitempty"`
	Specialization string         `json:"specialization,omitempty"`
	Window         TimeRange      `json:"window"`
	Date           string         `json:"date"`
	Severity       Severity       `json:"severity"`
	Shortfall      int            `json:"shortfall,omitempty"`
	Status         ConflictStatus `json:"status"`
	Suggestions    []Resolution   `json:"suggested_resolutions,omitempty"`
	Applied        *Resolution    `json:"applied_resolution,omitempty"`
	Message        string         `json:"message"`
	DetectedAt     time.Time      `json:"detected_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// AutoResolvable 检查冲突是否有可自动采用的建议
func (c *PlanningConflict) AutoResolvable() bool {
	for _, s := range c.Suggestions {
		if s.Kind != ResolutionManual {
			return true
		}
	}
	return false
}

// Blocking 检查冲突是否阻止计划激活
func (c *PlanningConflict) Blocking() bool {
	return c.Status == ConflictOpen && !c.AutoResolvable()
}
