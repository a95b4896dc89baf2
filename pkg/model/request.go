package model

import "time"

// RequestStatus 服务请求状态
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"     // 待分配
	RequestQueued     RequestStatus = "queued"      // 无可用候选，进入待分配队列
	RequestAssigned   RequestStatus = "assigned"    // 已分配
	RequestInProgress RequestStatus = "in_progress" // 服务中
	RequestCompleted  RequestStatus = "completed"   // 已完成
	RequestCancelled  RequestStatus = "cancelled"   // 已取消
	RequestEscalated  RequestStatus = "escalated"   // 转人工处理
)

// ServiceRequest 服务请求。由接入方创建，分配后除状态外不可修改。
type ServiceRequest struct {
	ID                      string        `json:"id"`
	Category                string        `json:"category"`
	Urgency                 Urgency       `json:"urgency"`
	Location                Location      `json:"location"`
	Zone                    string        `json:"zone,omitempty"`
	RequiredSpecializations []string      `json:"required_specializations,omitempty"`
	Status                  RequestStatus `json:"status"`
	Window                  TimeRange     `json:"time_window"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// ServiceWindow 返回需要覆盖的时间范围。未指定窗口时视为创建时刻起的一分钟。
func (r *ServiceRequest) ServiceWindow() TimeRange {
	if !r.Window.IsZero() && r.Window.End.After(r.Window.Start) {
		return r.Window
	}
	return TimeRange{Start: r.CreatedAt, End: r.CreatedAt.Add(time.Minute)}
}

// IsOpen 检查请求是否仍可分配
func (r *ServiceRequest) IsOpen() bool {
	return r.Status == RequestPending || r.Status == RequestQueued
}

// IsTerminal 检查请求是否已结束
func (r *ServiceRequest) IsTerminal() bool {
	return r.Status == RequestCompleted || r.Status == RequestCancelled
}

// PrimarySpecialization 返回首个所需专业，用于按专业统计
func (r *ServiceRequest) PrimarySpecialization() string {
	if len(r.RequiredSpecializations) == 0 {
		return ""
	}
	return r.RequiredSpecializations[0]
}
