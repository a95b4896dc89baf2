package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

// ShiftStatusRequest 班次状态变化
type ShiftStatusRequest struct {
	Status model.ShiftStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// StaffRequest 班次指定员工，WorkerID 为空表示撤下
type StaffRequest struct {
	WorkerID string `json:"worker_id"`
}

// GenerateRequest 排班生成请求。未指定模板时按所有自动模板滚动生成。
type GenerateRequest struct {
	TemplateID string    `json:"template_id,omitempty"`
	From       time.Time `json:"from"`
	Days       int       `json:"days,omitempty"`
}

// CreateShift 创建班次
func (h *Handler) CreateShift(w http.ResponseWriter, r *http.Request) {
	var s model.Shift
	if err := decode(w, r, &s); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.shifts.Create(r.Context(), &s); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

// GetShift 查询班次
func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	s, err := h.shifts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// StaffShift 为班次指定员工
func (h *Handler) StaffShift(w http.ResponseWriter, r *http.Request) {
	var body StaffRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	s, err := h.shifts.Staff(r.Context(), chi.URLParam(r, "id"), body.WorkerID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// ChangeShiftStatus 处理班次开始、结束或取消
func (h *Handler) ChangeShiftStatus(w http.ResponseWriter, r *http.Request) {
	var body ShiftStatusRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if body.Status == "" {
		respondError(w, r, apperrors.InvalidInput("status", "不能为空"))
		return
	}
	change, err := h.engine.ChangeShiftStatus(r.Context(), chi.URLParam(r, "id"), body.Status, body.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, change)
}

// CreateTemplate 创建班次模板
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t model.ShiftTemplate
	if err := decode(w, r, &t); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.shifts.CreateTemplate(r.Context(), &t); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// GenerateSchedules 按模板生成排班与班次
func (h *Handler) GenerateSchedules(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if body.From.IsZero() {
		body.From = h.now()
	}
	if body.TemplateID == "" {
		res, err := h.shifts.Generate(r.Context(), body.From)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}
	if body.Days <= 0 {
		respondError(w, r, apperrors.InvalidInput("days", "指定模板时必须大于 0"))
		return
	}
	t, err := h.st.Templates.Get(r.Context(), body.TemplateID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.shifts.GenerateTemplate(r.Context(), t, body.From, body.Days)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// CreatePlan 创建季度计划
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var p model.QuarterlyPlan
	if err := decode(w, r, &p); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.shifts.CreatePlan(r.Context(), &p); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// GetPlan 查询计划
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.shifts.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// PlanMetrics 重新计算并返回计划指标
func (h *Handler) PlanMetrics(w http.ResponseWriter, r *http.Request) {
	p, err := h.shifts.RecomputeMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p.Metrics)
}

// DetectConflicts 检测计划冲突
func (h *Handler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.shifts.DetectConflicts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

// PlanConflicts 列出计划冲突，open=true 时只列未解决的
func (h *Handler) PlanConflicts(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	conflicts, err := h.shifts.Conflicts(r.Context(), chi.URLParam(r, "id"), openOnly)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

// ResolveConflict 解决冲突。请求体为空时采用第一条可自动执行的建议。
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var res *model.Resolution
	if r.ContentLength > 0 {
		res = &model.Resolution{}
		if err := decode(w, r, res); err != nil {
			respondError(w, r, err)
			return
		}
	}
	c, err := h.shifts.ResolveConflict(r.Context(), chi.URLParam(r, "id"), res)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ActivatePlan 激活计划，存在无法自动解决的冲突时拒绝
func (h *Handler) ActivatePlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.shifts.ActivatePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ArchivePlan 归档计划
func (h *Handler) ArchivePlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.shifts.ArchivePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
