package model

import "time"

// AssignmentStatus 分配状态
type AssignmentStatus string

const (
	AssignmentProposed  AssignmentStatus = "proposed"
	AssignmentConfirmed AssignmentStatus = "confirmed"
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentRejected  AssignmentStatus = "rejected"
)

// IsTerminal 检查分配状态是否为终态
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentRejected
}

// SubScores 候选评分的四个分项
type SubScores struct {
	Specialization float64 `json:"specialization_match_score"`
	Geographic     float64 `json:"geographic_score"`
	Workload       float64 `json:"workload_score"`
	Confidence     float64 `json:"confidence_level"`
}

// ShiftAssignment 请求与班次的分配关系
type ShiftAssignment struct {
	ID             string           `json:"id"`
	RequestID      string           `json:"request_id"`
	ShiftID        string           `json:"shift_id"`
	WorkerID       string           `json:"worker_id"`
	Scores         SubScores        `json:"sub_scores"`
	CompositeScore float64          `json:"composite_score"`
	DistanceKm     float64          `json:"distance_km"`
	Status         AssignmentStatus `json:"status"`
	AutoAssigned   bool             `json:"auto_assigned"`
	Strategy       string           `json:"strategy,omitempty"`
	AssignedBy     string           `json:"assigned_by,omitempty"`
	Zone           string           `json:"zone,omitempty"`
	Specialization string           `json:"specialization,omitempty"`
	Category       string           `json:"category,omitempty"`
	ProposedAt     time.Time        `json:"proposed_at"`
	ConfirmedAt    *time.Time       `json:"confirmed_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsTerminal 检查分配是否已结束
func (a *ShiftAssignment) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// HoldsCapacity 检查分配是否占用班次容量
func (a *ShiftAssignment) HoldsCapacity() bool {
	return !a.Status.IsTerminal()
}
