// Package dispatcher 提供派单引擎：把服务请求分配给班次上的员工。
//
// 单个请求走同步的贪心路径；批量请求交给后台工作池按策略优化，
// 二者都经由请求认领与班次容量计数提交，保证不重复分配、不超容量。
// 自动与手工派单共用 Assign，只在 AuthContext 上不同。
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/claim"
	"github.com/paiban/dispatch/pkg/dispatcher/scoring"
	"github.com/paiban/dispatch/pkg/dispatcher/selector"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/geo"
	"github.com/paiban/dispatch/pkg/ledger"
	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/optimizer"
	"github.com/paiban/dispatch/pkg/shift"
	"github.com/paiban/dispatch/pkg/transfer"
)

// Publisher 出站分配事件
type Publisher interface {
	AssignmentDecided(ctx context.Context, a *model.ShiftAssignment)
	RequestEscalated(ctx context.Context, requestID, reason string)
}

// Metrics 派单指标
type Metrics interface {
	AssignmentDecided(strategy, outcome string)
	BatchCompleted(duration time.Duration, iterations int, timedOut bool)
	SetUnassigned(n int)
}

type nopPublisher struct{}

func (nopPublisher) AssignmentDecided(context.Context, *model.ShiftAssignment) {}
func (nopPublisher) RequestEscalated(context.Context, string, string)          {}

type nopMetrics struct{}

func (nopMetrics) AssignmentDecided(string, string)        {}
func (nopMetrics) BatchCompleted(time.Duration, int, bool) {}
func (nopMetrics) SetUnassigned(int)                       {}

// Deps 引擎依赖的组件
type Deps struct {
	Store     *store.Store
	Shifts    *shift.Manager
	Ledger    *ledger.Ledger
	Counters  *claim.Counters
	Claims    *claim.Registry
	Scorer    *scoring.Scorer
	Optimizer optimizer.Config
	Geo       *geo.Cache
}

// Option 引擎选项
type Option func(*Engine)

// WithPublisher 设置事件发布
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics 设置指标
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRouteOptions 设置路线排序参数
func WithRouteOptions(opts geo.RouteOptions) Option {
	return func(e *Engine) { e.routeOpts = opts }
}

// WithClusterRadius 设置待分配请求聚类半径
func WithClusterRadius(km float64) Option {
	return func(e *Engine) { e.clusterKm = km }
}

// WithZoneGrid 为未标注区域的请求按网格补全区域
func WithZoneGrid(g geo.ZoneGrid) Option {
	return func(e *Engine) { e.zones = &g }
}

// Engine 派单引擎
type Engine struct {
	cfg       Config
	st        *store.Store
	shifts    *shift.Manager
	ledger    *ledger.Ledger
	counters  *claim.Counters
	claims    *claim.Registry
	selector  *selector.Selector
	scorer    *scoring.Scorer
	optCfg    optimizer.Config
	geo       *geo.Cache
	transfers *transfer.Workflow

	publisher Publisher
	metrics   Metrics
	routeOpts geo.RouteOptions
	clusterKm float64
	zones     *geo.ZoneGrid
	now       func() time.Time
	log       *logger.DispatchLogger

	queue   *xsync.Map[string, *QueuedRequest]
	batches *xsync.Map[string, *BatchJob]
	jobs    chan *BatchJob
	stop    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// New 创建派单引擎
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Shifts == nil || deps.Ledger == nil ||
		deps.Counters == nil || deps.Claims == nil || deps.Scorer == nil {
		return nil, errors.New("派单引擎缺少必要依赖")
	}
	e := &Engine{
		cfg:       cfg,
		st:        deps.Store,
		shifts:    deps.Shifts,
		ledger:    deps.Ledger,
		counters:  deps.Counters,
		claims:    deps.Claims,
		selector:  selector.New(deps.Counters),
		scorer:    deps.Scorer,
		optCfg:    deps.Optimizer,
		geo:       deps.Geo,
		publisher: nopPublisher{},
		metrics:   nopMetrics{},
		routeOpts: geo.DefaultRouteOptions(),
		clusterKm: 3,
		now:       time.Now,
		log:       logger.NewDispatchLogger(),
		queue:     xsync.NewMap[string, *QueuedRequest](),
		batches:   xsync.NewMap[string, *BatchJob](),
		jobs:      make(chan *BatchJob, cfg.QueueSize),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	deps.Shifts.AddStaffingListener(e)
	return e, nil
}

// AttachTransfers 关联转派流程。转派流程以引擎为候选来源，因此在创建后关联。
func (e *Engine) AttachTransfers(w *transfer.Workflow) {
	e.transfers = w
}

// Transfers 返回关联的转派流程
func (e *Engine) Transfers() *transfer.Workflow {
	return e.transfers
}

// Load 启动时从存储恢复台账索引、容量计数与待分配队列。
// 容量占用以台账中未终结的分配为准。
func (e *Engine) Load(ctx context.Context) error {
	if err := e.ledger.Load(ctx); err != nil {
		return err
	}
	shifts, err := e.shifts.Available(ctx)
	if err != nil {
		return err
	}
	for _, s := range shifts {
		active, err := e.ledger.ActiveByShift(ctx, s.ID)
		if err != nil {
			return err
		}
		e.counters.Track(s.ID, len(active), s.Capacity)
	}
	queued, err := e.st.Requests.Query(ctx, store.NewFilter().WithStatus(string(model.RequestQueued)))
	if err != nil {
		return err
	}
	for _, r := range queued {
		e.queue.Store(r.ID, &QueuedRequest{RequestID: r.ID, Urgency: r.Urgency, QueuedAt: r.UpdatedAt, Reason: "restored"})
	}
	e.metrics.SetUnassigned(e.queue.Size())
	e.log.Base().Info().
		Int("shifts", len(shifts)).
		Int("queued", len(queued)).
		Int("active_assignments", e.ledger.ActiveCount()).
		Msg("派单引擎状态已恢复")
	return nil
}

// AssignInput 分配参数
type AssignInput struct {
	RequestID     string
	PinnedShiftID string // 手工指派时指定的班次
	Auth          AuthContext
}

// Decision 分配决定
type Decision struct {
	RequestID    string                 `json:"request_id"`
	Assignment   *model.ShiftAssignment `json:"assignment,omitempty"`
	Alternatives []scoring.Scored       `json:"alternatives,omitempty"`
	Queued       bool                   `json:"queued"`
	Reason       string                 `json:"reason,omitempty"`
}

// Assign 为单个请求做同步分配。
// 没有候选时请求进入待分配队列，返回 Queued 的决定而不是错误。
func (e *Engine) Assign(ctx context.Context, in AssignInput) (*Decision, error) {
	if in.PinnedShiftID != "" && !in.Auth.CanPin() {
		return nil, apperrors.New(apperrors.CodeForbidden, "只有调度员可以指定班次").
			WithField("request_id", in.RequestID)
	}
	ctx = logger.ContextWithCaller(ctx, in.Auth.Actor())

	tok, err := e.claims.Acquire(ctx, claim.KindRequest, in.RequestID, in.Auth.Actor())
	if err != nil {
		return nil, err
	}
	defer e.claims.Release(tok)
	return e.assignClaimed(ctx, in)
}

// assignClaimed 调用方已持有请求认领
func (e *Engine) assignClaimed(ctx context.Context, in AssignInput) (*Decision, error) {
	req, err := e.st.Requests.Get(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if a, ok, err := e.ledger.ActiveFor(ctx, req.ID); err != nil {
		return nil, err
	} else if ok {
		return nil, apperrors.AlreadyAssigned(req.ID, a.ID)
	}
	if !req.IsOpen() {
		return nil, apperrors.InvalidTransition("request", req.ID, string(req.Status), string(model.RequestAssigned))
	}

	pool, err := e.pool(ctx)
	if err != nil {
		return nil, err
	}
	strategy := "single"
	if in.Auth.Manual() {
		strategy = "manual"
	}

	var opts selector.Options
	reason := ""
	for attempt := 0; attempt <= e.cfg.MaxCapacityRetries; attempt++ {
		ranked, why := e.rank(ctx, req, pool, opts, in.PinnedShiftID)
		if len(ranked) == 0 {
			reason = why
			break
		}
		best := ranked[0]
		a, err := e.commit(ctx, req, best, in.Auth, strategy)
		if retryable(err) {
			opts.ExcludeShifts = append(opts.ExcludeShifts, best.ShiftID)
			reason = "capacity_full"
			if apperrors.Is(err, apperrors.CodeShiftUnavailable) {
				reason = "shift_unavailable"
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Decision{
			RequestID:    req.ID,
			Assignment:   a,
			Alternatives: head(ranked[1:], e.cfg.Alternatives),
		}, nil
	}

	if in.PinnedShiftID != "" {
		return nil, apperrors.NoEligibleCandidate(req.ID, reason).WithField("shift_id", in.PinnedShiftID)
	}
	if err := e.enqueue(ctx, req, reason); err != nil {
		return nil, err
	}
	e.metrics.AssignmentDecided(strategy, "queued")
	return &Decision{RequestID: req.ID, Queued: true, Reason: reason}, nil
}

// Candidates 返回请求当前的候选评分，不做提交
func (e *Engine) Candidates(ctx context.Context, requestID string) ([]scoring.Scored, string, error) {
	req, err := e.st.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	pool, err := e.pool(ctx)
	if err != nil {
		return nil, "", err
	}
	ranked, reason := e.rank(ctx, req, pool, selector.Options{}, "")
	return ranked, reason, nil
}

// pool 读取候选池快照，并确保每个可用班次都有容量计数
func (e *Engine) pool(ctx context.Context) (selector.Pool, error) {
	workers, err := e.st.Workers.Query(ctx, store.NewFilter().Eq("active", "true"))
	if err != nil {
		return selector.Pool{}, err
	}
	shifts, err := e.shifts.Available(ctx)
	if err != nil {
		return selector.Pool{}, err
	}
	for _, s := range shifts {
		e.counters.Ensure(s.ID, s.CurrentRequestCount, s.Capacity)
	}
	return selector.Pool{Workers: workers, Shifts: shifts}, nil
}

func (e *Engine) usage(shiftID string) int {
	used, _, _ := e.counters.Used(shiftID)
	return used
}

// rank 筛选并评分，返回排序后的候选与无候选时的原因
func (e *Engine) rank(ctx context.Context, req *model.ServiceRequest, pool selector.Pool, opts selector.Options, pinned string) ([]scoring.Scored, string) {
	res := e.selector.Select(req, pool, opts)
	cands := res.Candidates
	if pinned != "" {
		cands = cands[:0:0]
		for _, c := range res.Candidates {
			if c.Shift.ID == pinned {
				cands = append(cands, c)
			}
		}
	}
	if len(cands) == 0 {
		if pinned != "" {
			return nil, "pinned_shift_unavailable"
		}
		return nil, res.Reason()
	}
	ranked := e.scorer.Rank(ctx, req, cands, e.usage)
	if len(ranked) == 0 {
		return nil, "specialization_mismatch"
	}
	return ranked, ""
}

// retryable 提交失败后可以换下一个班次重试
func retryable(err error) bool {
	return apperrors.Is(err, apperrors.CodeCapacityExceeded) || apperrors.Is(err, apperrors.CodeShiftUnavailable)
}

// holdShift 共享占住班次，并确认评分时看到的状态与员工仍然有效
func (e *Engine) holdShift(ctx context.Context, shiftID, workerID string) (*model.Shift, func(), error) {
	sh, release, err := e.shifts.Hold(ctx, shiftID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case !sh.Status.IsAvailable():
		release()
		return nil, nil, apperrors.ShiftUnavailable(shiftID, "状态为 "+string(sh.Status))
	case sh.WorkerID != workerID:
		release()
		return nil, nil, apperrors.ShiftUnavailable(shiftID, "员工已变更")
	}
	return sh, release, nil
}

// commit 占用容量并写入台账。容量已满返回 CapacityExceeded，班次已取消或换人返回
// ShiftUnavailable，由调用方换班次重试。提交期间共享占住班次，计数同步也在其中完成。
func (e *Engine) commit(ctx context.Context, req *model.ServiceRequest, sc scoring.Scored, auth AuthContext, strategy string) (*model.ShiftAssignment, error) {
	_, release, err := e.holdShift(ctx, sc.ShiftID, sc.WorkerID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.counters.Reserve(sc.ShiftID); err != nil {
		return nil, err
	}
	now := e.now()
	a := &model.ShiftAssignment{
		ID:             model.NewID(),
		RequestID:      req.ID,
		ShiftID:        sc.ShiftID,
		WorkerID:       sc.WorkerID,
		Scores:         sc.Scores,
		CompositeScore: sc.Composite,
		DistanceKm:     sc.DistanceKm,
		Status:         model.AssignmentConfirmed,
		AutoAssigned:   !auth.Manual(),
		Strategy:       strategy,
		AssignedBy:     auth.Actor(),
		ProposedAt:     now,
		ConfirmedAt:    &now,
	}
	if err := e.ledger.Record(ctx, a, req, auth.Actor()); err != nil {
		e.counters.Release(sc.ShiftID)
		return nil, err
	}
	e.afterCommit(ctx, req, a, strategy)
	return a, nil
}

// afterCommit 同步班次计数与请求状态，并发布决定
func (e *Engine) afterCommit(ctx context.Context, req *model.ServiceRequest, a *model.ShiftAssignment, strategy string) {
	if _, err := e.shifts.AdjustCount(ctx, a.ShiftID, 1); err != nil {
		e.log.Base().Error().Err(err).Str("shift_id", a.ShiftID).Msg("班次计数同步失败")
	}
	req.Status = model.RequestAssigned
	req.UpdatedAt = e.now()
	if err := e.st.Requests.Update(ctx, req); err != nil {
		e.log.Base().Error().Err(err).Str("request_id", req.ID).Msg("请求状态更新失败")
	}
	if _, ok := e.queue.LoadAndDelete(req.ID); ok {
		e.metrics.SetUnassigned(e.queue.Size())
	}
	e.log.AssignmentDecided(req.ID, a.WorkerID, a.ShiftID, a.CompositeScore, a.AutoAssigned)
	e.metrics.AssignmentDecided(strategy, "assigned")
	e.publisher.AssignmentDecided(ctx, a)
}

// releaseShift 归还分配占用的容量
func (e *Engine) releaseShift(ctx context.Context, shiftID string) {
	e.counters.Release(shiftID)
	if _, err := e.shifts.AdjustCount(ctx, shiftID, -1); err != nil && !apperrors.Is(err, apperrors.CodeNotFound) {
		e.log.Base().Error().Err(err).Str("shift_id", shiftID).Msg("班次计数同步失败")
	}
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[:n]
	}
	if len(items) == 0 {
		return nil
	}
	return append([]T(nil), items...)
}
