package dispatcher

import (
	"context"
	"fmt"

	"github.com/paiban/dispatch/pkg/claim"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/transfer"
)

// SubmitRequest 接收新建或更新的请求并立即尝试分配。
// 已分配的请求只接受状态变化，内容更新被拒绝。
func (e *Engine) SubmitRequest(ctx context.Context, req *model.ServiceRequest, auth AuthContext) (*Decision, error) {
	if req.ID == "" {
		return nil, apperrors.InvalidInput("request_id", "不能为空")
	}
	if !req.Location.Point().Valid() {
		return nil, apperrors.InvalidInput("location", "坐标无效")
	}
	if req.Zone == "" && e.zones != nil {
		req.Zone = e.zones.ZoneOf(req.Location.Point())
	}
	now := e.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	req.Urgency = req.Urgency.Normalize()

	existing, err := e.st.Requests.Get(ctx, req.ID)
	switch {
	case apperrors.Is(err, apperrors.CodeNotFound):
		req.Status = model.RequestPending
		if err := e.st.Requests.Create(ctx, req); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !existing.IsOpen():
		return nil, apperrors.InvalidTransition("request", req.ID, string(existing.Status), string(model.RequestPending))
	default:
		req.Status = existing.Status
		req.CreatedAt = existing.CreatedAt
		if e.geo != nil && existing.Location.Point() != req.Location.Point() {
			e.geo.Invalidate("request:" + req.ID)
		}
		if err := e.st.Requests.Update(ctx, req); err != nil {
			return nil, err
		}
	}
	return e.Assign(ctx, AssignInput{RequestID: req.ID, Auth: auth})
}

// CancelRequest 取消请求，结束其未终结的分配并移出队列
func (e *Engine) CancelRequest(ctx context.Context, requestID, actor string) error {
	tok, err := e.claims.Acquire(ctx, claim.KindRequest, requestID, actor)
	if err != nil {
		return err
	}
	defer e.claims.Release(tok)

	req, err := e.st.Requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.IsTerminal() {
		return nil
	}
	if a, ok, err := e.ledger.ActiveFor(ctx, requestID); err != nil {
		return err
	} else if ok {
		if err := e.closeAssignment(ctx, a.ID, model.AssignmentRejected, actor); err != nil {
			return err
		}
	}
	if _, ok := e.queue.LoadAndDelete(requestID); ok {
		e.metrics.SetUnassigned(e.queue.Size())
	}
	req.Status = model.RequestCancelled
	req.UpdatedAt = e.now()
	return e.st.Requests.Update(ctx, req)
}

// CompleteAssignment 标记分配完成，归还容量并归档
func (e *Engine) CompleteAssignment(ctx context.Context, assignmentID, actor string) (*model.ShiftAssignment, error) {
	a, err := e.ledger.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	tok, err := e.claims.Acquire(ctx, claim.KindRequest, a.RequestID, actor)
	if err != nil {
		return nil, err
	}
	defer e.claims.Release(tok)

	done, err := e.ledger.Transition(ctx, assignmentID, model.AssignmentCompleted, actor)
	if err != nil {
		return nil, err
	}
	e.releaseShift(ctx, done.ShiftID)
	if req, err := e.st.Requests.Get(ctx, done.RequestID); err == nil {
		req.Status = model.RequestCompleted
		req.UpdatedAt = e.now()
		if err := e.st.Requests.Update(ctx, req); err != nil {
			return done, err
		}
	}
	return done, nil
}

// ShiftChange 班次状态变化的处理结果
type ShiftChange struct {
	Shift       *model.Shift           `json:"shift"`
	Assignments int                    `json:"assignments"`
	Transfers   []*model.ShiftTransfer `json:"transfers,omitempty"`
}

// ChangeShiftStatus 处理签到方上报的班次状态变化：
// 开始时分配进入服务中，结束时分配完成，取消时为每个分配发起转派。
// 整个过程独占班次，迁移后不会再有分配提交进来，快照即为全部需要处理的分配。
func (e *Engine) ChangeShiftStatus(ctx context.Context, shiftID string, to model.ShiftStatus, reason string) (*ShiftChange, error) {
	release := e.shifts.Exclusive(shiftID)
	defer release()

	sh, err := e.shifts.Transition(ctx, shiftID, to)
	if err != nil {
		return nil, err
	}
	active, err := e.ledger.ActiveByShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	change := &ShiftChange{Shift: sh, Assignments: len(active)}
	actor := "shift:" + shiftID

	switch to {
	case model.ShiftActive:
		for _, a := range active {
			if a.Status != model.AssignmentConfirmed {
				continue
			}
			if _, err := e.ledger.Transition(ctx, a.ID, model.AssignmentActive, actor); err != nil {
				return change, err
			}
			e.setRequestStatus(ctx, a.RequestID, model.RequestInProgress)
		}
	case model.ShiftCompleted:
		for _, a := range active {
			if _, err := e.CompleteAssignment(ctx, a.ID, actor); err != nil {
				return change, err
			}
		}
		e.counters.Forget(shiftID)
	case model.ShiftCancelled:
		if e.transfers == nil {
			return change, apperrors.New(apperrors.CodeInternal, "转派流程未启用")
		}
		if reason == "" {
			reason = "班次取消"
		}
		change.Transfers, err = e.openTransfers(ctx, active, reason)
		if err != nil {
			return change, err
		}
	}
	e.log.Base().Info().
		Str("shift_id", shiftID).
		Str("status", string(to)).
		Int("assignments", len(active)).
		Msg("班次状态已变更")
	return change, nil
}

// openTransfers 为一组分配发起转派，遇到错误时返回已发起的部分
func (e *Engine) openTransfers(ctx context.Context, active []*model.ShiftAssignment, reason string) ([]*model.ShiftTransfer, error) {
	var opened []*model.ShiftTransfer
	for _, a := range active {
		req, err := e.st.Requests.Get(ctx, a.RequestID)
		if err != nil {
			return opened, err
		}
		t, err := e.transfers.Open(ctx, transfer.OpenInput{
			AssignmentID: a.ID,
			RequestID:    a.RequestID,
			FromWorkerID: a.WorkerID,
			FromShiftID:  a.ShiftID,
			Urgency:      req.Urgency,
			Reason:       reason,
		})
		if t != nil {
			opened = append(opened, t)
		}
		if err != nil {
			return opened, fmt.Errorf("为分配 %s 发起转派失败: %w", a.ID, err)
		}
	}
	return opened, nil
}

// ShiftStaffed 实现 shift.StaffingListener：班次换人时把活动分配改记到新员工名下，
// 撤下员工时为活动分配发起转派。
func (e *Engine) ShiftStaffed(ctx context.Context, s *model.Shift, previousWorkerID string) {
	active, err := e.ledger.ActiveByShift(ctx, s.ID)
	if err != nil {
		e.log.Base().Error().Err(err).Str("shift_id", s.ID).Msg("读取班次分配失败")
		return
	}
	if len(active) == 0 {
		return
	}
	actor := "shift:" + s.ID
	if s.WorkerID == "" {
		if e.transfers == nil {
			e.log.Base().Error().Str("shift_id", s.ID).Msg("转派流程未启用，撤下员工后的分配无人承接")
			return
		}
		if _, err := e.openTransfers(ctx, active, "班次撤下员工"); err != nil {
			e.log.Base().Error().Err(err).Str("shift_id", s.ID).Msg("撤下员工后发起转派失败")
		}
		return
	}
	for _, a := range active {
		if _, err := e.ledger.Reassign(ctx, a.ID, s.WorkerID, actor); err != nil {
			e.log.Base().Error().Err(err).Str("assignment_id", a.ID).Msg("分配改记失败")
		}
	}
	e.log.Base().Info().
		Str("shift_id", s.ID).
		Str("from_worker", previousWorkerID).
		Str("to_worker", s.WorkerID).
		Int("assignments", len(active)).
		Msg("班次换人，活动分配已改记")
}

func (e *Engine) setRequestStatus(ctx context.Context, requestID string, status model.RequestStatus) {
	req, err := e.st.Requests.Get(ctx, requestID)
	if err != nil {
		return
	}
	req.Status = status
	req.UpdatedAt = e.now()
	if err := e.st.Requests.Update(ctx, req); err != nil {
		e.log.Base().Error().Err(err).Str("request_id", requestID).Msg("请求状态更新失败")
	}
}

// UpsertWorker 保存员工。锚点变化时使相关距离缓存失效。
func (e *Engine) UpsertWorker(ctx context.Context, w *model.Worker) error {
	if w.ID == "" {
		return apperrors.InvalidInput("id", "不能为空")
	}
	existing, err := e.st.Workers.Get(ctx, w.ID)
	switch {
	case apperrors.Is(err, apperrors.CodeNotFound):
		return e.st.Workers.Create(ctx, w)
	case err != nil:
		return err
	}
	if e.geo != nil && existing.Anchor.Point() != w.Anchor.Point() {
		e.geo.Invalidate("worker:" + w.ID)
	}
	return e.st.Workers.Update(ctx, w)
}
