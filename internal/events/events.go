// Package events 定义与协作方交换的事件，并通过 NATS JetStream 收发
package events

import (
	"time"

	"github.com/paiban/dispatch/pkg/model"
)

// 出站主题后缀，完整主题为 <prefix>.<suffix>
const (
	SubjectAssignment = "assignment.decided"
	SubjectTransfer   = "transfer.changed"
	SubjectEscalation = "escalation.raised"

	SubjectRequestIn = "in.request"
	SubjectShiftIn   = "in.shift"
)

// AssignmentEvent 分配决定
type AssignmentEvent struct {
	EventID        string          `json:"event_id"`
	AssignmentID   string          `json:"assignment_id"`
	RequestID      string          `json:"request_id"`
	WorkerID       string          `json:"worker_id"`
	ShiftID        string          `json:"shift_id"`
	CompositeScore float64         `json:"composite_score"`
	SubScores      model.SubScores `json:"sub_scores"`
	Status         string          `json:"status"`
	AutoAssigned   bool            `json:"auto_assigned"`
	Strategy       string          `json:"strategy,omitempty"`
	At             time.Time       `json:"at"`
}

// TransferEvent 转派状态变化
type TransferEvent struct {
	EventID    string    `json:"event_id"`
	TransferID string    `json:"transfer_id"`
	RequestID  string    `json:"request_id"`
	FromWorker string    `json:"from_worker"`
	ToWorker   string    `json:"to_worker,omitempty"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	At         time.Time `json:"at"`
}

// EscalationEvent 冲突或转人工，供人工审核工具消费
type EscalationEvent struct {
	EventID    string    `json:"event_id"`
	ConflictID string    `json:"conflict_id,omitempty"`
	TransferID string    `json:"transfer_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Severity   string    `json:"severity"`
	Code       string    `json:"code,omitempty"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// RequestEventType 入站请求事件类型
type RequestEventType string

const (
	RequestCreated   RequestEventType = "created"
	RequestUpdated   RequestEventType = "updated"
	RequestCancelled RequestEventType = "cancelled"
)

// RequestEvent 请求生命周期事件
type RequestEvent struct {
	Type                   RequestEventType `json:"type"`
	RequestID              string           `json:"request_id"`
	Category               string           `json:"category"`
	Urgency                string           `json:"urgency"`
	Location               model.Location   `json:"location"`
	Zone                   string           `json:"zone,omitempty"`
	RequiredSpecialization []string         `json:"required_specialization,omitempty"`
	TimeWindow             model.TimeRange  `json:"time_window"`
}

// Request 转换为请求实体
func (e *RequestEvent) Request(now time.Time) *model.ServiceRequest {
	return &model.ServiceRequest{
		ID:                      e.RequestID,
		Category:                e.Category,
		Urgency:                 model.ParseUrgency(e.Urgency),
		Location:                e.Location,
		Zone:                    e.Zone,
		RequiredSpecializations: e.RequiredSpecialization,
		Status:                  model.RequestPending,
		Window:                  e.TimeWindow,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// ShiftEventType 入站班次事件类型
type ShiftEventType string

const (
	ShiftStarted   ShiftEventType = "started"
	ShiftEnded     ShiftEventType = "ended"
	ShiftCancelled ShiftEventType = "cancelled"
)

// ShiftEvent 签到方上报的班次状态变化
type ShiftEvent struct {
	Type     ShiftEventType `json:"type"`
	ShiftID  string         `json:"shift_id"`
	WorkerID string         `json:"worker_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Status 返回对应的班次状态
func (e *ShiftEvent) Status() (model.ShiftStatus, bool) {
	switch e.Type {
	case ShiftStarted:
		return model.ShiftActive, true
	case ShiftEnded:
		return model.ShiftCompleted, true
	case ShiftCancelled:
		return model.ShiftCancelled, true
	default:
		return "", false
	}
}
