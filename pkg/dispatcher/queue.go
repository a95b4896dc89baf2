package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/paiban/dispatch/pkg/claim"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

// QueuedRequest 待分配队列中的请求
type QueuedRequest struct {
	RequestID string        `json:"request_id"`
	Urgency   model.Urgency `json:"urgency"`
	Reason    string        `json:"reason"`
	Attempts  int           `json:"attempts"`
	QueuedAt  time.Time     `json:"queued_at"`
	LastTried time.Time     `json:"last_tried"`
}

// enqueue 把请求放入待分配队列，重试次数超过上限时转人工
func (e *Engine) enqueue(ctx context.Context, req *model.ServiceRequest, reason string) error {
	now := e.now()
	q, _ := e.queue.Compute(req.ID, func(old *QueuedRequest, loaded bool) (*QueuedRequest, xsync.ComputeOp) {
		if !loaded {
			return &QueuedRequest{
				RequestID: req.ID,
				Urgency:   req.Urgency,
				Reason:    reason,
				QueuedAt:  now,
				LastTried: now,
			}, xsync.UpdateOp
		}
		next := *old
		next.Attempts++
		next.Reason = reason
		next.LastTried = now
		return &next, xsync.UpdateOp
	})

	if e.cfg.MaxQueueAttempts > 0 && q.Attempts >= e.cfg.MaxQueueAttempts {
		return e.escalateRequest(ctx, req, fmt.Sprintf("重试 %d 次仍无可用候选: %s", q.Attempts, reason))
	}

	if req.Status != model.RequestQueued {
		req.Status = model.RequestQueued
		req.UpdatedAt = now
		if err := e.st.Requests.Update(ctx, req); err != nil {
			return err
		}
	}
	e.metrics.SetUnassigned(e.queue.Size())
	e.log.RequestQueued(req.ID, reason)
	return nil
}

// escalateRequest 把请求移出待分配队列并转人工
func (e *Engine) escalateRequest(ctx context.Context, req *model.ServiceRequest, reason string) error {
	e.queue.Delete(req.ID)
	e.metrics.SetUnassigned(e.queue.Size())
	req.Status = model.RequestEscalated
	req.UpdatedAt = e.now()
	if err := e.st.Requests.Update(ctx, req); err != nil {
		return err
	}
	e.log.Base().Warn().Str("request_id", req.ID).Str("reason", reason).Msg("请求转人工处理")
	e.metrics.AssignmentDecided("single", "escalated")
	e.publisher.RequestEscalated(ctx, req.ID, reason)
	return nil
}

// Unassigned 返回待分配队列，紧急程度高的在前，同级按入队时间
func (e *Engine) Unassigned() []QueuedRequest {
	out := make([]QueuedRequest, 0, e.queue.Size())
	e.queue.Range(func(_ string, q *QueuedRequest) bool {
		out = append(out, *q)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// RetryResult 一轮重试的结果
type RetryResult struct {
	Assigned  int `json:"assigned"`
	Queued    int `json:"queued"`
	Skipped   int `json:"skipped"`
	Escalated int `json:"escalated"`
}

// RetryUnassigned 按优先级重试待分配队列中的请求。
// 被其他路径认领的请求跳过，留待下一轮。
func (e *Engine) RetryUnassigned(ctx context.Context) (RetryResult, error) {
	var res RetryResult
	var errs []error
	for _, q := range e.Unassigned() {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		tok, ok := e.claims.TryAcquire(claim.KindRequest, q.RequestID, "retry")
		if !ok {
			res.Skipped++
			continue
		}
		d, err := e.assignClaimed(ctx, AssignInput{RequestID: q.RequestID, Auth: SystemAuth})
		e.claims.Release(tok)

		switch {
		case err == nil && d.Queued:
			if _, still := e.queue.Load(q.RequestID); still {
				res.Queued++
			} else {
				res.Escalated++
			}
		case err == nil:
			res.Assigned++
		case apperrors.Is(err, apperrors.CodeAlreadyAssigned),
			apperrors.Is(err, apperrors.CodeNotFound),
			apperrors.Is(err, apperrors.CodeInvalidTransition):
			e.queue.Delete(q.RequestID)
		default:
			errs = append(errs, fmt.Errorf("重试请求 %s: %w", q.RequestID, err))
		}
	}
	e.metrics.SetUnassigned(e.queue.Size())
	if res.Assigned > 0 || res.Escalated > 0 {
		e.log.Base().Info().
			Int("assigned", res.Assigned).
			Int("queued", res.Queued).
			Int("escalated", res.Escalated).
			Msg("待分配队列重试完成")
	}
	return res, errors.Join(errs...)
}

// Escalate 调度员把请求直接转人工
func (e *Engine) Escalate(ctx context.Context, requestID, reason string) error {
	tok, err := e.claims.Acquire(ctx, claim.KindRequest, requestID, "escalate")
	if err != nil {
		return err
	}
	defer e.claims.Release(tok)
	req, err := e.st.Requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if !req.IsOpen() {
		return apperrors.InvalidTransition("request", req.ID, string(req.Status), string(model.RequestEscalated))
	}
	return e.escalateRequest(ctx, req, reason)
}
