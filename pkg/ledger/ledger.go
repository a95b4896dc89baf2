// Package ledger 实现分配台账：只追加地记录分配决策与状态变更，
// 维护每个请求唯一的未终结分配索引，并将每次记录反馈给负载预测器。
package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/paiban/dispatch/internal/store"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/predictor"
)

// Observer 接收台账记录，用于更新负载预测
type Observer interface {
	Observe(obs predictor.Observation)
}

// Option 台账选项
type Option func(*Ledger)

// WithObserver 设置预测反馈
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// 合法的分配状态迁移
var transitions = map[model.AssignmentStatus][]model.AssignmentStatus{
	model.AssignmentProposed:  {model.AssignmentConfirmed, model.AssignmentRejected},
	model.AssignmentConfirmed: {model.AssignmentActive, model.AssignmentCompleted, model.AssignmentRejected},
	model.AssignmentActive:    {model.AssignmentCompleted, model.AssignmentRejected},
}

func canTransition(from, to model.AssignmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger 分配台账
type Ledger struct {
	assignments store.Repository[model.ShiftAssignment]
	journal     store.Repository[model.LedgerEntry]
	active      *xsync.Map[string, string] // 请求ID -> 未终结分配ID
	rows        *xsync.Map[string, *sync.Mutex]
	seq         atomic.Uint64
	observer    Observer
	now         func() time.Time
	log         zerolog.Logger
}

// New 创建台账
func New(assignments store.Repository[model.ShiftAssignment], journal store.Repository[model.LedgerEntry], opts ...Option) *Ledger {
	l := &Ledger{
		assignments: assignments,
		journal:     journal,
		active:      xsync.NewMap[string, string](),
		rows:        xsync.NewMap[string, *sync.Mutex](),
		now:         time.Now,
		log:         *logger.Component("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 从存储重建未终结分配索引与序号，并按时间顺序把历史分配回放给预测器
func (l *Ledger) Load(ctx context.Context) error {
	all, err := l.assignments.Query(ctx, store.NewFilter())
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ProposedAt.Before(all[j].ProposedAt) })
	l.active.Clear()
	open := 0
	for _, a := range all {
		if !a.IsTerminal() {
			l.active.Store(a.RequestID, a.ID)
			open++
		}
		l.observe(a, a.ProposedAt)
	}

	entries, err := l.journal.Query(ctx, store.NewFilter())
	if err != nil {
		return err
	}
	var maxSeq uint64
	for _, e := range entries {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	l.seq.Store(maxSeq)

	l.log.Info().Int("active", open).Int("replayed", len(all)).Uint64("seq", maxSeq).Msg("台账索引已重建")
	return nil
}

// Record 记录一条新的分配。请求已有未终结分配时返回 ALREADY_ASSIGNED。
func (l *Ledger) Record(ctx context.Context, a *model.ShiftAssignment, req *model.ServiceRequest, actor string) error {
	if a.ID == "" {
		a.ID = model.NewID()
	}
	if existing, loaded := l.active.LoadOrStore(a.RequestID, a.ID); loaded && existing != a.ID {
		return apperrors.AlreadyAssigned(a.RequestID, existing)
	}

	now := l.now()
	if a.ProposedAt.IsZero() {
		a.ProposedAt = now
	}
	a.UpdatedAt = now
	if req != nil {
		a.Zone = req.Zone
		a.Specialization = req.PrimarySpecialization()
		a.Category = req.Category
	}
	if err := l.assignments.Create(ctx, a); err != nil {
		l.unindex(a.RequestID, a.ID)
		return err
	}

	if err := l.append(ctx, &model.LedgerEntry{
		Kind:         model.EntryAssignmentRecorded,
		AssignmentID: a.ID,
		RequestID:    a.RequestID,
		ShiftID:      a.ShiftID,
		WorkerID:     a.WorkerID,
		Status:       string(a.Status),
		Score:        a.CompositeScore,
		Actor:        actor,
	}); err != nil {
		// 没有台账记录的分配不能留下，否则请求会被永久占住
		if derr := l.assignments.Delete(ctx, a.ID); derr != nil {
			l.log.Error().Err(derr).Str("assignment_id", a.ID).Msg("回滚分配失败")
		}
		l.unindex(a.RequestID, a.ID)
		return err
	}

	l.observe(a, now)
	return nil
}

func (l *Ledger) observe(a *model.ShiftAssignment, at time.Time) {
	if l.observer == nil {
		return
	}
	l.observer.Observe(predictor.Observation{
		WorkerID:       a.WorkerID,
		Zone:           a.Zone,
		Specialization: a.Specialization,
		Category:       a.Category,
		At:             at,
	})
}

// lockRow 串行化单条分配的读改写
func (l *Ledger) lockRow(assignmentID string) func() {
	mu, _ := l.rows.LoadOrStore(assignmentID, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Transition 变更分配状态。进入终态时移出索引，完成的分配追加归档记录。
func (l *Ledger) Transition(ctx context.Context, assignmentID string, to model.AssignmentStatus, actor string) (*model.ShiftAssignment, error) {
	unlock := l.lockRow(assignmentID)
	defer unlock()

	a, err := l.assignments.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == to {
		return a, nil
	}
	if !canTransition(a.Status, to) {
		return nil, apperrors.InvalidTransition("assignment", a.ID, string(a.Status), string(to))
	}

	now := l.now()
	a.Status = to
	a.UpdatedAt = now
	switch to {
	case model.AssignmentConfirmed:
		a.ConfirmedAt = &now
	case model.AssignmentCompleted:
		a.CompletedAt = &now
	}
	if err := l.assignments.Update(ctx, a); err != nil {
		return nil, err
	}
	if to.IsTerminal() {
		l.unindex(a.RequestID, a.ID)
	}

	entry := &model.LedgerEntry{
		Kind:         model.EntryAssignmentStatus,
		AssignmentID: a.ID,
		RequestID:    a.RequestID,
		ShiftID:      a.ShiftID,
		WorkerID:     a.WorkerID,
		Status:       string(to),
		Actor:        actor,
	}
	if err := l.append(ctx, entry); err != nil {
		return nil, err
	}
	if to == model.AssignmentCompleted {
		archived := *entry
		archived.Kind = model.EntryAssignmentArchived
		if err := l.append(ctx, &archived); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Reassign 班次换人后把未终结分配改记到新员工名下
func (l *Ledger) Reassign(ctx context.Context, assignmentID, workerID, actor string) (*model.ShiftAssignment, error) {
	unlock := l.lockRow(assignmentID)
	defer unlock()

	a, err := l.assignments.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, apperrors.InvalidTransition("assignment", a.ID, string(a.Status), string(a.Status))
	}
	if a.WorkerID == workerID {
		return a, nil
	}
	a.WorkerID = workerID
	a.UpdatedAt = l.now()
	if err := l.assignments.Update(ctx, a); err != nil {
		return nil, err
	}
	if err := l.append(ctx, &model.LedgerEntry{
		Kind:         model.EntryAssignmentReassigned,
		AssignmentID: a.ID,
		RequestID:    a.RequestID,
		ShiftID:      a.ShiftID,
		WorkerID:     workerID,
		Status:       string(a.Status),
		Actor:        actor,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// RecordTransfer 追加转派状态记录
func (l *Ledger) RecordTransfer(ctx context.Context, t *model.ShiftTransfer, actor string) error {
	return l.append(ctx, &model.LedgerEntry{
		Kind:         model.EntryTransferStatus,
		AssignmentID: t.AssignmentID,
		TransferID:   t.ID,
		RequestID:    t.RequestID,
		ShiftID:      t.ToShiftID,
		WorkerID:     t.ToWorkerID,
		Status:       string(t.Status),
		Score:        t.OfferedScore,
		Actor:        actor,
	})
}

// ActiveFor 返回请求当前的未终结分配
func (l *Ledger) ActiveFor(ctx context.Context, requestID string) (*model.ShiftAssignment, bool, error) {
	id, ok := l.active.Load(requestID)
	if !ok {
		return nil, false, nil
	}
	a, err := l.assignments.Get(ctx, id)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			l.unindex(requestID, id)
			return nil, false, nil
		}
		return nil, false, err
	}
	return a, true, nil
}

// Get 按ID读取分配
func (l *Ledger) Get(ctx context.Context, assignmentID string) (*model.ShiftAssignment, error) {
	return l.assignments.Get(ctx, assignmentID)
}

// ActiveByShift 返回占用某班次容量的分配
func (l *Ledger) ActiveByShift(ctx context.Context, shiftID string) ([]*model.ShiftAssignment, error) {
	return l.assignments.Query(ctx, store.NewFilter().Eq("shift_id", shiftID).Eq("terminal", "false"))
}

// ActiveByWorker 返回某员工名下的未终结分配
func (l *Ledger) ActiveByWorker(ctx context.Context, workerID string) ([]*model.ShiftAssignment, error) {
	return l.assignments.Query(ctx, store.NewFilter().Eq("worker_id", workerID).Eq("terminal", "false"))
}

// History 返回请求的台账记录，按序号升序
func (l *Ledger) History(ctx context.Context, requestID string) ([]*model.LedgerEntry, error) {
	entries, err := l.journal.Query(ctx, store.NewFilter().Eq("request_id", requestID))
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// ActiveCount 返回未终结分配数量
func (l *Ledger) ActiveCount() int {
	return l.active.Size()
}

func (l *Ledger) append(ctx context.Context, e *model.LedgerEntry) error {
	e.ID = model.NewID()
	e.Seq = l.seq.Add(1)
	e.At = l.now()
	if err := l.journal.Create(ctx, e); err != nil {
		l.log.Error().Err(err).
			Str("request_id", e.RequestID).
			Str("kind", string(e.Kind)).
			Msg("台账追加失败")
		return err
	}
	return nil
}

// unindex 仅当索引仍指向该分配时删除
func (l *Ledger) unindex(requestID, assignmentID string) {
	l.active.Compute(requestID, func(old string, loaded bool) (string, xsync.ComputeOp) {
		if loaded && old == assignmentID {
			return "", xsync.DeleteOp
		}
		return old, xsync.CancelOp
	})
}
