package events

import (
	"context"
	"fmt"
	"time"

	"github.com/paiban/dispatch/pkg/dispatcher"
	apperrors "github.com/paiban/dispatch/pkg/errors"
)

// EngineHandler 把入站事件交给派单引擎处理
type EngineHandler struct {
	engine *dispatcher.Engine
	now    func() time.Time
}

// NewEngineHandler 创建引擎事件处理器
func NewEngineHandler(engine *dispatcher.Engine) *EngineHandler {
	return &EngineHandler{engine: engine, now: time.Now}
}

// HandleRequestEvent 新建与更新触发立即分配，取消结束请求
func (h *EngineHandler) HandleRequestEvent(ctx context.Context, ev *RequestEvent) error {
	switch ev.Type {
	case RequestCreated, RequestUpdated, "":
		_, err := h.engine.SubmitRequest(ctx, ev.Request(h.now()), dispatcher.SystemAuth)
		return err
	case RequestCancelled:
		return h.engine.CancelRequest(ctx, ev.RequestID, "event")
	default:
		return apperrors.InvalidInput("type", fmt.Sprintf("未知请求事件类型 %q", ev.Type))
	}
}

// HandleShiftEvent 班次开始、结束与取消
func (h *EngineHandler) HandleShiftEvent(ctx context.Context, ev *ShiftEvent) error {
	status, ok := ev.Status()
	if !ok {
		return apperrors.InvalidInput("type", fmt.Sprintf("未知班次事件类型 %q", ev.Type))
	}
	_, err := h.engine.ChangeShiftStatus(ctx, ev.ShiftID, status, ev.Reason)
	return err
}
