package model

import "time"

// TransferStatus 转派状态
type TransferStatus string

const (
	TransferRequested TransferStatus = "requested"
	TransferPending   TransferStatus = "pending" // 邀约已发出，等待答复
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCompleted TransferStatus = "completed"
	TransferExpired   TransferStatus = "expired"
	TransferEscalated TransferStatus = "escalated" // 重试用尽，转人工
)

// IsTerminal 检查转派是否结束
func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferEscalated
}

// ShiftTransfer 转派记录：已承诺的分配需要换人时的状态机实例
type ShiftTransfer struct {
	ID             string         `json:"id"`
	AssignmentID   string         `json:"assignment_id"`
	RequestID      string         `json:"request_id"`
	FromWorkerID   string         `json:"from_worker"`
	FromShiftID    string         `json:"from_shift"`
	ToWorkerID     string         `json:"to_worker,omitempty"`
	ToShiftID      string         `json:"to_shift,omitempty"`
	Status         TransferStatus `json:"status"`
	Urgency        Urgency        `json:"urgency_level"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	Reason         string         `json:"reason"`
	EscalationCode string         `json:"escalation_code,omitempty"`
	OfferedScore   float64        `json:"offered_score,omitempty"`
	TriedShiftIDs  []string       `json:"tried_shift_ids,omitempty"`
	OfferExpiresAt *time.Time     `json:"offer_expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Exhausted 检查重试次数是否已达上限
func (t *ShiftTransfer) Exhausted() bool {
	return t.RetryCount >= t.MaxRetries
}
