package model

import "time"

// LedgerEntryKind 台账记录类型
type LedgerEntryKind string

const (
	EntryAssignmentRecorded   LedgerEntryKind = "assignment_recorded"
	EntryAssignmentStatus     LedgerEntryKind = "assignment_status"
	EntryAssignmentArchived   LedgerEntryKind = "assignment_archived"
	EntryAssignmentReassigned LedgerEntryKind = "assignment_reassigned"
	EntryTransferStatus       LedgerEntryKind = "transfer_status"
)

// LedgerEntry 分配台账中的一条只追加记录
type LedgerEntry struct {
	ID           string          `json:"id"`
	Seq          uint64          `json:"seq"`
	Kind         LedgerEntryKind `json:"kind"`
	AssignmentID string          `json:"assignment_id,omitempty"`
	TransferID   string          `json:"transfer_id,omitempty"`
	RequestID    string          `json:"request_id"`
	ShiftID      string          `json:"shift_id,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
	Status       string          `json:"status"`
	Score        float64         `json:"score,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	At           time.Time       `json:"at"`
}
