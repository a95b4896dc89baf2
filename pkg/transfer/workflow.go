// Package transfer 实现转派流程：已承诺的分配因员工不可用或班次取消需要换人时，
// 依次向候选发出限时邀约，拒绝或超时即换下一个候选，重试用尽后转人工处理。
//
// 状态机：requested → pending → accepted → completed；
// pending → rejected|expired → (retry_count+1) → pending … 直到 retry_count == max_retries 时 escalated。
// 没有候选时同样计一次重试，状态回到 requested，retry_delay 后再次邀约。
package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/claim"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/model"
)

// Offer 一个候选邀约
type Offer struct {
	WorkerID string
	ShiftID  string
	Score    float64
}

// Matcher 转派复用派单的评分路径
type Matcher interface {
	// Propose 为请求挑选最佳候选（排除给定班次）并预留其容量，没有候选时返回 nil
	Propose(ctx context.Context, requestID string, exclude []string) (*Offer, error)
	// Release 归还邀约预留的容量
	Release(ctx context.Context, shiftID string)
	// Commit 把请求改派到转派接受方
	Commit(ctx context.Context, t *model.ShiftTransfer) error
}

// Journal 记录转派状态
type Journal interface {
	RecordTransfer(ctx context.Context, t *model.ShiftTransfer, actor string) error
}

// Notifier 接收转派状态变化
type Notifier interface {
	TransferChanged(ctx context.Context, t *model.ShiftTransfer)
}

// Notifiers 依次通知多个接收方
type Notifiers []Notifier

// TransferChanged 实现 Notifier
func (ns Notifiers) TransferChanged(ctx context.Context, t *model.ShiftTransfer) {
	for _, n := range ns {
		n.TransferChanged(ctx, t)
	}
}

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Scheduler 定时器工厂
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option 流程选项
type Option func(*Workflow)

// WithScheduler 设置定时器工厂
func WithScheduler(s Scheduler) Option {
	return func(w *Workflow) { w.timers = s }
}

// WithJournal 设置台账
func WithJournal(j Journal) Option {
	return func(w *Workflow) { w.journal = j }
}

// WithNotifier 设置状态通知
func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// OpenInput 发起转派的参数
type OpenInput struct {
	AssignmentID string
	RequestID    string
	FromWorkerID string
	FromShiftID  string
	Urgency      model.Urgency
	Reason       string
	MaxRetries   int // 0 表示按紧急程度取默认值
}

// Workflow 转派流程
type Workflow struct {
	cfg       Config
	repo      store.Repository[model.ShiftTransfer]
	matcher   Matcher
	claims    *claim.Registry
	timers    Scheduler
	journal   Journal
	notifier  Notifier
	now       func() time.Time
	log       *logger.DispatchLogger
	locks     *xsync.Map[string, *sync.Mutex]
	pending   *xsync.Map[string, Timer]
	escalated *xsync.Map[string, *model.ShiftTransfer]
}

// NewWorkflow 创建转派流程
func NewWorkflow(cfg Config, repo store.Repository[model.ShiftTransfer], matcher Matcher, claims *claim.Registry, opts ...Option) *Workflow {
	w := &Workflow{
		cfg:       cfg,
		repo:      repo,
		matcher:   matcher,
		claims:    claims,
		timers:    realScheduler{},
		now:       time.Now,
		log:       logger.NewDispatchLogger(),
		locks:     xsync.NewMap[string, *sync.Mutex](),
		pending:   xsync.NewMap[string, Timer](),
		escalated: xsync.NewMap[string, *model.ShiftTransfer](),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) lock(id string) func() {
	mu, _ := w.locks.LoadOrStore(id, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Open 为分配发起转派并立即发出第一个邀约。
// 同一分配已有未结束的转派时直接返回该转派。
func (w *Workflow) Open(ctx context.Context, in OpenInput) (*model.ShiftTransfer, error) {
	release := w.lock("assignment:" + in.AssignmentID)
	defer release()

	existing, err := w.repo.Query(ctx, store.NewFilter().
		Eq("assignment_id", in.AssignmentID).
		Eq("terminal", "false"))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = w.cfg.MaxRetriesFor(in.Urgency)
	}
	now := w.now()
	t := &model.ShiftTransfer{
		ID:           model.NewID(),
		AssignmentID: in.AssignmentID,
		RequestID:    in.RequestID,
		FromWorkerID: in.FromWorkerID,
		FromShiftID:  in.FromShiftID,
		Status:       model.TransferRequested,
		Urgency:      in.Urgency.Normalize(),
		MaxRetries:   maxRetries,
		Reason:       in.Reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	w.changed(ctx, t, "system")

	unlock := w.lock(t.ID)
	defer unlock()
	if err := w.offerOrDefer(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// offerOrDefer 请求正被其他操作认领时不计重试，retry_delay 后再邀约
func (w *Workflow) offerOrDefer(ctx context.Context, t *model.ShiftTransfer) error {
	err := w.offerNext(ctx, t)
	if !apperrors.Is(err, apperrors.CodeStaleClaim) {
		return err
	}
	w.log.Base().Warn().Err(err).Str("transfer_id", t.ID).Msg("请求正被占用，稍后重新邀约")
	w.scheduleRetry(t.ID, t.RetryCount, w.cfg.RetryDelay)
	return nil
}

// offerNext 向下一个候选发出邀约。调用方持有转派锁。
func (w *Workflow) offerNext(ctx context.Context, t *model.ShiftTransfer) error {
	tok, err := w.claims.Acquire(ctx, claim.KindRequest, t.RequestID, "transfer:"+t.ID)
	if err != nil {
		return err
	}
	defer w.claims.Release(tok)

	exclude := append([]string{t.FromShiftID}, t.TriedShiftIDs...)
	offer, err := w.matcher.Propose(ctx, t.RequestID, exclude)
	if err != nil {
		return err
	}
	if offer == nil {
		return w.noCandidate(ctx, t)
	}

	timeout := w.cfg.OfferTimeoutFor(t.Urgency)
	expires := w.now().Add(timeout)
	t.Status = model.TransferPending
	t.ToWorkerID = offer.WorkerID
	t.ToShiftID = offer.ShiftID
	t.OfferedScore = offer.Score
	t.TriedShiftIDs = append(t.TriedShiftIDs, offer.ShiftID)
	t.OfferExpiresAt = &expires
	if err := w.save(ctx, t); err != nil {
		w.matcher.Release(ctx, offer.ShiftID)
		return err
	}
	w.scheduleExpiry(t.ID, len(t.TriedShiftIDs), timeout)
	w.changed(ctx, t, "system")
	return nil
}

// noCandidate 没有候选也计一次重试。未用尽时回到 requested 并在 retry_delay 后重新邀约。
func (w *Workflow) noCandidate(ctx context.Context, t *model.ShiftTransfer) error {
	t.Status = model.TransferRequested
	t.RetryCount++
	t.ToWorkerID = ""
	t.ToShiftID = ""
	t.OfferedScore = 0
	t.OfferExpiresAt = nil
	if err := w.save(ctx, t); err != nil {
		return err
	}
	w.changed(ctx, t, "system")
	if t.Exhausted() {
		return w.escalate(ctx, t)
	}
	w.scheduleRetry(t.ID, t.RetryCount, w.cfg.RetryDelay)
	return nil
}

// scheduleExpiry 安排邀约超时。offerNo 用于识别过时的定时器。
func (w *Workflow) scheduleExpiry(id string, offerNo int, d time.Duration) {
	w.schedule(id, d, "邀约超时处理失败", func(ctx context.Context) error {
		_, err := w.expire(ctx, id, offerNo)
		return err
	})
}

// scheduleRetry 安排无候选后的下一次邀约。attempt 用于识别过时的定时器。
func (w *Workflow) scheduleRetry(id string, attempt int, d time.Duration) {
	w.schedule(id, d, "转派重试失败", func(ctx context.Context) error {
		return w.retry(ctx, id, attempt)
	})
}

func (w *Workflow) schedule(id string, d time.Duration, failure string, fire func(ctx context.Context) error) {
	timer := w.timers.AfterFunc(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fire(ctx); err != nil {
			w.log.Base().Error().Err(err).Str("transfer_id", id).Msg(failure)
		}
	})
	if prev, loaded := w.pending.LoadAndStore(id, timer); loaded {
		prev.Stop()
	}
}

func (w *Workflow) cancelTimer(id string) {
	if timer, ok := w.pending.LoadAndDelete(id); ok {
		timer.Stop()
	}
}

func (w *Workflow) expire(ctx context.Context, id string, offerNo int) (*model.ShiftTransfer, error) {
	unlock := w.lock(id)
	defer unlock()

	t, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransferPending || len(t.TriedShiftIDs) != offerNo {
		return t, nil
	}
	w.pending.Delete(id)
	return t, w.declined(ctx, t, model.TransferExpired, "system")
}

func (w *Workflow) retry(ctx context.Context, id string, attempt int) error {
	unlock := w.lock(id)
	defer unlock()

	t, err := w.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case t.RetryCount != attempt,
		t.Status.IsTerminal(),
		t.Status == model.TransferPending,
		t.Status == model.TransferAccepted:
		return nil
	}
	w.pending.Delete(id)
	return w.offerOrDefer(ctx, t)
}

// Respond 处理候选对邀约的答复
func (w *Workflow) Respond(ctx context.Context, transferID string, accept bool, actor string) (*model.ShiftTransfer, error) {
	unlock := w.lock(transferID)
	defer unlock()

	t, err := w.repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransferPending {
		to := model.TransferRejected
		if accept {
			to = model.TransferAccepted
		}
		return nil, apperrors.InvalidTransition("transfer", t.ID, string(t.Status), string(to))
	}
	w.cancelTimer(t.ID)

	if !accept {
		return t, w.declined(ctx, t, model.TransferRejected, actor)
	}
	t.Status = model.TransferAccepted
	t.OfferExpiresAt = nil
	if err := w.save(ctx, t); err != nil {
		return nil, err
	}
	w.changed(ctx, t, actor)
	return t, nil
}

// declined 记录拒绝或超时：重试次数加一，达到上限转人工，否则邀约下一个候选
func (w *Workflow) declined(ctx context.Context, t *model.ShiftTransfer, status model.TransferStatus, actor string) error {
	w.matcher.Release(ctx, t.ToShiftID)
	t.Status = status
	t.RetryCount++
	t.OfferExpiresAt = nil
	if err := w.save(ctx, t); err != nil {
		return err
	}
	w.changed(ctx, t, actor)

	if t.Exhausted() {
		return w.escalate(ctx, t)
	}
	t.ToWorkerID = ""
	t.ToShiftID = ""
	t.OfferedScore = 0
	return w.offerOrDefer(ctx, t)
}

// Complete 完成已接受的转派，把请求改派给接受方
func (w *Workflow) Complete(ctx context.Context, transferID, actor string) (*model.ShiftTransfer, error) {
	unlock := w.lock(transferID)
	defer unlock()

	t, err := w.repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransferAccepted {
		return nil, apperrors.InvalidTransition("transfer", t.ID, string(t.Status), string(model.TransferCompleted))
	}

	tok, err := w.claims.Acquire(ctx, claim.KindRequest, t.RequestID, "transfer:"+t.ID)
	if err != nil {
		return nil, err
	}
	err = w.matcher.Commit(ctx, t)
	w.claims.Release(tok)
	if apperrors.Is(err, apperrors.CodeShiftUnavailable) {
		// 接受方班次在接受后被取消或换人，按拒绝处理并邀约下一个候选
		w.log.Base().Warn().Err(err).Str("transfer_id", t.ID).Msg("接受方班次已不可用")
		return t, w.declined(ctx, t, model.TransferRejected, "system")
	}
	if err != nil {
		return nil, err
	}
	t.Status = model.TransferCompleted
	if err := w.save(ctx, t); err != nil {
		return nil, err
	}
	w.changed(ctx, t, actor)
	w.locks.Delete(t.ID)
	return t, nil
}

// escalate 重试用尽，转人工处理
func (w *Workflow) escalate(ctx context.Context, t *model.ShiftTransfer) error {
	cause := apperrors.TransferExhausted(t.ID, t.RetryCount)
	t.Status = model.TransferEscalated
	t.EscalationCode = string(cause.Code)
	t.ToWorkerID = ""
	t.ToShiftID = ""
	t.OfferExpiresAt = nil
	if err := w.save(ctx, t); err != nil {
		return err
	}
	w.escalated.Store(t.ID, t)
	w.log.TransferEscalated(t.ID, t.RequestID, t.RetryCount, cause.Message)
	w.changed(ctx, t, "system")
	return nil
}

func (w *Workflow) save(ctx context.Context, t *model.ShiftTransfer) error {
	t.UpdatedAt = w.now()
	return w.repo.Update(ctx, t)
}

func (w *Workflow) changed(ctx context.Context, t *model.ShiftTransfer, actor string) {
	snapshot := *t
	snapshot.TriedShiftIDs = append([]string(nil), t.TriedShiftIDs...)
	if w.journal != nil {
		if err := w.journal.RecordTransfer(ctx, &snapshot, actor); err != nil {
			w.log.Base().Error().Err(err).Str("transfer_id", t.ID).Msg("转派台账记录失败")
		}
	}
	if w.notifier != nil {
		w.notifier.TransferChanged(ctx, &snapshot)
	}
}

// Get 读取转派
func (w *Workflow) Get(ctx context.Context, transferID string) (*model.ShiftTransfer, error) {
	return w.repo.Get(ctx, transferID)
}

// Escalated 返回人工处理队列，按创建时间排序
func (w *Workflow) Escalated() []*model.ShiftTransfer {
	var out []*model.ShiftTransfer
	w.escalated.Range(func(_ string, t *model.ShiftTransfer) bool {
		out = append(out, t)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Acknowledge 人工处理完成后移出人工队列
func (w *Workflow) Acknowledge(transferID string) bool {
	_, ok := w.escalated.LoadAndDelete(transferID)
	return ok
}

// Resume 重启后恢复未结束的邀约与重试定时器，并重建人工队列
func (w *Workflow) Resume(ctx context.Context) error {
	open, err := w.repo.Query(ctx, store.NewFilter().
		WithStatus(string(model.TransferRequested), string(model.TransferPending), string(model.TransferEscalated)))
	if err != nil {
		return err
	}
	now := w.now()
	for _, t := range open {
		switch t.Status {
		case model.TransferEscalated:
			w.escalated.Store(t.ID, t)
			continue
		case model.TransferRequested:
			w.scheduleRetry(t.ID, t.RetryCount, 0)
			continue
		}
		remaining := time.Duration(0)
		if t.OfferExpiresAt != nil {
			remaining = t.OfferExpiresAt.Sub(now)
		}
		if remaining < 0 {
			remaining = 0
		}
		w.scheduleExpiry(t.ID, len(t.TriedShiftIDs), remaining)
	}
	return nil
}

// Stop 取消全部未触发的定时器
func (w *Workflow) Stop() {
	w.pending.Range(func(id string, timer Timer) bool {
		timer.Stop()
		w.pending.Delete(id)
		return true
	})
}
