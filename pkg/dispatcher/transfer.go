package dispatcher

import (
	"context"

	"github.com/paiban/dispatch/pkg/claim"
	"github.com/paiban/dispatch/pkg/dispatcher/selector"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/shift"
	"github.com/paiban/dispatch/pkg/transfer"
)

var (
	_ transfer.Matcher       = (*Engine)(nil)
	_ transfer.Notifier      = (*Engine)(nil)
	_ shift.StaffingListener = (*Engine)(nil)
)

// Propose 实现 transfer.Matcher：为转派挑选最佳候选并预留一个容量单位。
// 原员工与已尝试过的班次被排除；候选班次正被其他邀约认领时跳到下一个。
func (e *Engine) Propose(ctx context.Context, requestID string, exclude []string) (*transfer.Offer, error) {
	req, err := e.st.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	opts := selector.Options{ExcludeShifts: exclude}
	if active, ok, err := e.ledger.ActiveFor(ctx, requestID); err != nil {
		return nil, err
	} else if ok {
		opts.ExcludeWorkers = []string{active.WorkerID}
	}

	pool, err := e.pool(ctx)
	if err != nil {
		return nil, err
	}
	ranked, _ := e.rank(ctx, req, pool, opts, "")
	for _, sc := range ranked {
		tok, ok := e.claims.TryAcquire(claim.KindShift, sc.ShiftID, "offer:"+requestID)
		if !ok {
			continue
		}
		err := e.counters.Reserve(sc.ShiftID)
		e.claims.Release(tok)
		if apperrors.Is(err, apperrors.CodeCapacityExceeded) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &transfer.Offer{WorkerID: sc.WorkerID, ShiftID: sc.ShiftID, Score: sc.Composite}, nil
	}
	return nil, nil
}

// Release 实现 transfer.Matcher：归还邀约预留的容量
func (e *Engine) Release(_ context.Context, shiftID string) {
	if shiftID != "" {
		e.counters.Release(shiftID)
	}
}

// Commit 实现 transfer.Matcher：结束原分配，在接受方班次上记录新分配。
// 新班次的容量已在邀约时预留。接受方班次已取消或换人时返回 ShiftUnavailable，预留由转派流程归还。
func (e *Engine) Commit(ctx context.Context, t *model.ShiftTransfer) error {
	req, err := e.st.Requests.Get(ctx, t.RequestID)
	if err != nil {
		return err
	}
	sh, release, err := e.holdShift(ctx, t.ToShiftID, t.ToWorkerID)
	if err != nil {
		return err
	}
	defer release()

	w, err := e.st.Workers.Get(ctx, t.ToWorkerID)
	if err != nil {
		return err
	}
	actor := "transfer:" + t.ID
	if err := e.closeAssignment(ctx, t.AssignmentID, model.AssignmentRejected, actor); err != nil {
		return err
	}

	sc := e.scorer.Score(ctx, req, selector.Candidate{Worker: w, Shift: sh, Match: selector.MatchFor(req, w)}, e.usage(sh.ID))
	now := e.now()
	a := &model.ShiftAssignment{
		ID:             model.NewID(),
		RequestID:      req.ID,
		ShiftID:        sh.ID,
		WorkerID:       w.ID,
		Scores:         sc.Scores,
		CompositeScore: sc.Composite,
		DistanceKm:     sc.DistanceKm,
		Status:         model.AssignmentConfirmed,
		AutoAssigned:   true,
		Strategy:       "transfer",
		AssignedBy:     actor,
		ProposedAt:     now,
		ConfirmedAt:    &now,
	}
	if err := e.ledger.Record(ctx, a, req, actor); err != nil {
		e.counters.Release(sh.ID)
		return err
	}
	e.afterCommit(ctx, req, a, "transfer")
	return nil
}

// TransferChanged 实现 transfer.Notifier：转派转人工时结束原分配，请求进入人工队列
func (e *Engine) TransferChanged(ctx context.Context, t *model.ShiftTransfer) {
	if t.Status != model.TransferEscalated {
		return
	}
	if err := e.closeAssignment(ctx, t.AssignmentID, model.AssignmentRejected, "transfer:"+t.ID); err != nil {
		e.log.Base().Error().Err(err).Str("transfer_id", t.ID).Msg("结束原分配失败")
	}
	req, err := e.st.Requests.Get(ctx, t.RequestID)
	if err != nil {
		e.log.Base().Error().Err(err).Str("request_id", t.RequestID).Msg("读取请求失败")
		return
	}
	req.Status = model.RequestEscalated
	req.UpdatedAt = e.now()
	if err := e.st.Requests.Update(ctx, req); err != nil {
		e.log.Base().Error().Err(err).Str("request_id", req.ID).Msg("请求状态更新失败")
	}
}

// closeAssignment 把未终结的分配迁移到终态并归还容量，已终结时不做任何事
func (e *Engine) closeAssignment(ctx context.Context, assignmentID string, to model.AssignmentStatus, actor string) error {
	a, err := e.ledger.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.IsTerminal() {
		return nil
	}
	if _, err := e.ledger.Transition(ctx, a.ID, to, actor); err != nil {
		return err
	}
	e.releaseShift(ctx, a.ShiftID)
	return nil
}

// RespondTransfer 候选答复转派邀约，接受后立即完成改派
func (e *Engine) RespondTransfer(ctx context.Context, transferID string, accept bool, actor string) (*model.ShiftTransfer, error) {
	if e.transfers == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "转派流程未启用")
	}
	t, err := e.transfers.Respond(ctx, transferID, accept, actor)
	if err != nil || !accept {
		return t, err
	}
	return e.transfers.Complete(ctx, transferID, actor)
}
