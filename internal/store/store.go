package store

import (
	"github.com/paiban/dispatch/pkg/model"
)

// Store 所有实体仓储的集合
type Store struct {
	Requests    Repository[model.ServiceRequest]
	Workers     Repository[model.Worker]
	Shifts      Repository[model.Shift]
	Templates   Repository[model.ShiftTemplate]
	Schedules   Repository[model.ShiftSchedule]
	Plans       Repository[model.QuarterlyPlan]
	Conflicts   Repository[model.PlanningConflict]
	Assignments Repository[model.ShiftAssignment]
	Transfers   Repository[model.ShiftTransfer]
	Journal     Repository[model.LedgerEntry]
}

// NewMemory 创建内存存储
func NewMemory() *Store {
	return &Store{
		Requests:    NewMemoryRepository(RequestKind),
		Workers:     NewMemoryRepository(WorkerKind),
		Shifts:      NewMemoryRepository(ShiftKind),
		Templates:   NewMemoryRepository(TemplateKind),
		Schedules:   NewMemoryRepository(ScheduleKind),
		Plans:       NewMemoryRepository(PlanKind),
		Conflicts:   NewMemoryRepository(ConflictKind),
		Assignments: NewMemoryRepository(AssignmentKind),
		Transfers:   NewMemoryRepository(TransferKind),
		Journal:     NewMemoryRepository(JournalKind),
	}
}

// NewSQL 创建 SQL 存储，调用前需执行 Migrate
func NewSQL(db TxRunner) *Store {
	return &Store{
		Requests:    NewSQLRepository(db, RequestKind),
		Workers:     NewSQLRepository(db, WorkerKind),
		Shifts:      NewSQLRepository(db, ShiftKind),
		Templates:   NewSQLRepository(db, TemplateKind),
		Schedules:   NewSQLRepository(db, ScheduleKind),
		Plans:       NewSQLRepository(db, PlanKind),
		Conflicts:   NewSQLRepository(db, ConflictKind),
		Assignments: NewSQLRepository(db, AssignmentKind),
		Transfers:   NewSQLRepository(db, TransferKind),
		Journal:     NewSQLRepository(db, JournalKind),
	}
}
