package dispatcher

import (
	"context"
	"sort"
	"time"

	"github.com/paiban/dispatch/pkg/claim"
	"github.com/paiban/dispatch/pkg/dispatcher/scoring"
	"github.com/paiban/dispatch/pkg/dispatcher/selector"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/optimizer"
)

// BatchStatus 批量任务状态
type BatchStatus string

const (
	BatchQueued  BatchStatus = "queued"
	BatchRunning BatchStatus = "running"
	BatchDone    BatchStatus = "done"
	BatchFailed  BatchStatus = "failed"
)

// BatchJob 批量分配任务。每次状态变化都替换为新的快照。
type BatchJob struct {
	ID          string           `json:"id"`
	RequestIDs  []string         `json:"request_ids"`
	Intent      optimizer.Intent `json:"intent"`
	Status      BatchStatus      `json:"status"`
	Result      *BatchResult     `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`

	auth AuthContext
}

// BatchResult 批量分配结果
type BatchResult struct {
	BatchID     string                   `json:"batch_id"`
	Strategy    string                   `json:"strategy"`
	Assignments []*model.ShiftAssignment `json:"assignments"`
	Queued      []string                 `json:"queued,omitempty"`
	Skipped     []string                 `json:"skipped,omitempty"`
	Score       float64                  `json:"score"`
	Iterations  int                      `json:"iterations"`
	TimedOut    bool                     `json:"timed_out"`
	Warning     *apperrors.AppError      `json:"warning,omitempty"` // 优化超时时为 OPTIMIZATION_TIMEOUT
	Duration    time.Duration            `json:"duration"`
}

// Start 启动批量工作池与待分配队列的定时重试
func (e *Engine) Start(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < e.cfg.PoolSize; i++ {
		e.wg.Add(1)
		go e.batchWorker(ctx)
	}
	e.wg.Add(1)
	go e.retryLoop(ctx)
	e.log.Base().Info().Int("pool_size", e.cfg.PoolSize).Msg("派单工作池已启动")
}

// Stop 停止工作池并等待进行中的任务结束
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	e.wg.Wait()
	e.log.Base().Info().Msg("派单工作池已停止")
}

func (e *Engine) batchWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case job := <-e.jobs:
			e.runJob(ctx, job)
		}
	}
}

func (e *Engine) retryLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if e.queue.Size() == 0 {
				continue
			}
			if _, err := e.RetryUnassigned(ctx); err != nil {
				e.log.Base().Error().Err(err).Msg("待分配队列重试失败")
			}
		}
	}
}

// SubmitBatch 提交批量分配任务，由工作池异步执行
func (e *Engine) SubmitBatch(requestIDs []string, intent optimizer.Intent, auth AuthContext) (*BatchJob, error) {
	if len(requestIDs) == 0 {
		return nil, apperrors.InvalidInput("request_ids", "不能为空")
	}
	if len(requestIDs) > e.cfg.MaxBatchSize {
		return nil, apperrors.InvalidInput("request_ids", "超过单批上限")
	}
	if intent == "" {
		intent = optimizer.IntentBatch
	}
	job := &BatchJob{
		ID:          model.NewID(),
		RequestIDs:  append([]string(nil), requestIDs...),
		Intent:      intent,
		Status:      BatchQueued,
		SubmittedAt: e.now(),
		auth:        auth,
	}
	e.batches.Store(job.ID, job)
	select {
	case e.jobs <- job:
		return job, nil
	default:
		e.batches.Delete(job.ID)
		return nil, apperrors.New(apperrors.CodeRateLimited, "批量任务队列已满")
	}
}

// Batch 返回批量任务快照
func (e *Engine) Batch(id string) (*BatchJob, error) {
	job, ok := e.batches.Load(id)
	if !ok {
		return nil, apperrors.NotFound("batch", id)
	}
	return job, nil
}

func (e *Engine) runJob(ctx context.Context, job *BatchJob) {
	started := e.now()
	running := *job
	running.Status = BatchRunning
	running.StartedAt = &started
	e.batches.Store(job.ID, &running)

	res, err := e.RunBatch(ctx, job.ID, job.RequestIDs, job.Intent, job.auth)

	finished := e.now()
	done := running
	done.FinishedAt = &finished
	if err != nil {
		done.Status = BatchFailed
		done.Error = err.Error()
		e.log.Base().Error().Err(err).Str("batch_id", job.ID).Msg("批量分配失败")
	} else {
		done.Status = BatchDone
		done.Result = res
	}
	e.batches.Store(job.ID, &done)
}

// batchItem 批次中的一个请求及其候选评分
type batchItem struct {
	req    *model.ServiceRequest
	scored map[string]scoring.Scored // 班次ID → 评分
}

// RunBatch 同步执行一次批量分配。
// 认领请求与涉及的班次，按批次规模选择策略求解，再逐条提交；
// 提交时容量已被单请求路径占用的请求回退到单请求重选。
func (e *Engine) RunBatch(ctx context.Context, batchID string, requestIDs []string, intent optimizer.Intent, auth AuthContext) (*BatchResult, error) {
	if batchID == "" {
		batchID = model.NewID()
	}
	owner := "batch:" + batchID
	begin := time.Now()
	res := &BatchResult{BatchID: batchID}

	ids := append([]string(nil), requestIDs...)
	sort.Strings(ids)
	var reqTokens []*claim.Token
	defer func() { e.claims.ReleaseAll(reqTokens) }()

	var items []batchItem
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		tok, ok := e.claims.TryAcquire(claim.KindRequest, id, owner)
		if !ok {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		reqTokens = append(reqTokens, tok)

		req, err := e.st.Requests.Get(ctx, id)
		if err != nil {
			if apperrors.Is(err, apperrors.CodeNotFound) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			return nil, err
		}
		if _, active, err := e.ledger.ActiveFor(ctx, id); err != nil {
			return nil, err
		} else if active || !req.IsOpen() {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		items = append(items, batchItem{req: req})
	}
	if len(items) == 0 {
		res.Duration = time.Since(begin)
		return res, nil
	}

	pool, err := e.pool(ctx)
	if err != nil {
		return nil, err
	}
	shiftSet := make(map[string]bool)
	for i := range items {
		cands := e.selector.Select(items[i].req, pool, selector.Options{}).Candidates
		ranked := e.scorer.Rank(ctx, items[i].req, cands, e.usage)
		items[i].scored = make(map[string]scoring.Scored, len(ranked))
		for _, sc := range ranked {
			items[i].scored[sc.ShiftID] = sc
			shiftSet[sc.ShiftID] = true
		}
	}

	shiftIDs := make([]string, 0, len(shiftSet))
	for id := range shiftSet {
		shiftIDs = append(shiftIDs, id)
	}
	sort.Strings(shiftIDs)
	shiftTokens, err := e.claims.AcquireAll(ctx, claim.KindShift, shiftIDs, owner)
	if err != nil {
		return nil, err
	}
	defer e.claims.ReleaseAll(shiftTokens)

	problem := e.buildProblem(items, shiftIDs, pool)
	e.log.BatchStarted(batchID, string(optimizer.Select(optimizer.BatchMeta{Size: len(items), Intent: intent}, e.optCfg.Selection)),
		len(problem.Requests), len(problem.Slots))

	sol, err := optimizer.Run(ctx, problem, optimizer.BatchMeta{Size: len(items), Intent: intent}, e.optCfg)
	if err != nil {
		return nil, err
	}
	res.Strategy = sol.Strategy
	res.Iterations = sol.Iterations
	res.TimedOut = sol.TimedOut
	if res.Warning = sol.Warning(); res.Warning != nil {
		e.log.OptimizationTimeout(batchID, sol.Strategy, sol.Iterations, sol.Score)
	}

	// 提交不依赖批次上下文，超时后已求得的方案仍然落地
	commitCtx := context.WithoutCancel(ctx)
	for r, slot := range sol.Assign {
		it := items[r]
		if slot == optimizer.Unassigned {
			if err := e.enqueue(commitCtx, it.req, "batch_unassigned"); err != nil {
				return nil, err
			}
			res.Queued = append(res.Queued, it.req.ID)
			continue
		}
		sc := it.scored[problem.Slots[slot].ShiftID]
		a, err := e.commit(commitCtx, it.req, sc, auth, sol.Strategy)
		if retryable(err) {
			d, err := e.assignClaimed(commitCtx, AssignInput{RequestID: it.req.ID, Auth: auth})
			if err != nil {
				return nil, err
			}
			if d.Queued {
				res.Queued = append(res.Queued, it.req.ID)
				continue
			}
			a = d.Assignment
		} else if err != nil {
			return nil, err
		}
		res.Assignments = append(res.Assignments, a)
		res.Score += a.CompositeScore
	}

	res.Duration = time.Since(begin)
	e.metrics.BatchCompleted(res.Duration, res.Iterations, res.TimedOut)
	e.log.BatchCompleted(batchID, res.Duration, res.Score, len(res.Assignments), len(res.Queued))
	return res, nil
}

// buildProblem 每个涉及的班次成为一个槽位，容量为认领后的剩余容量
func (e *Engine) buildProblem(items []batchItem, shiftIDs []string, pool selector.Pool) *optimizer.Problem {
	shifts := make(map[string]*model.Shift, len(pool.Shifts))
	for _, s := range pool.Shifts {
		shifts[s.ID] = s
	}
	requests := make([]optimizer.Request, len(items))
	for i, it := range items {
		requests[i] = optimizer.Request{ID: it.req.ID, Urgency: it.req.Urgency.Normalize(), CreatedAt: it.req.CreatedAt}
	}
	slots := make([]optimizer.Slot, len(shiftIDs))
	for j, id := range shiftIDs {
		s := shifts[id]
		slots[j] = optimizer.Slot{
			ID:       id,
			ShiftID:  id,
			WorkerID: s.WorkerID,
			Capacity: e.counters.Remaining(id),
			Start:    s.Window.Start,
		}
	}
	p := optimizer.NewProblem(requests, slots)
	for i, it := range items {
		for j, id := range shiftIDs {
			if sc, ok := it.scored[id]; ok {
				p.SetScore(i, j, sc.Composite)
			}
		}
	}
	return p
}
