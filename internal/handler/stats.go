package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paiban/dispatch/internal/store"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/predictor"
	"github.com/paiban/dispatch/pkg/stats"
)

// SelectRequest 会话角色切换
type SelectRequest struct {
	Role      string `json:"role"`
	ContextID string `json:"context_id,omitempty"`
	Version   uint64 `json:"version"`
}

func shiftFilter(r *http.Request) store.Filter {
	f := store.NewFilter()
	if plan := r.URL.Query().Get("plan_id"); plan != "" {
		f = f.Eq("plan_id", plan)
	}
	if date := r.URL.Query().Get("date"); date != "" {
		f = f.Eq("date", date)
	}
	return f
}

// WorkloadStats 员工负载公平性
func (h *Handler) WorkloadStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shifts, err := h.st.Shifts.Query(ctx, shiftFilter(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	assignments, err := h.st.Assignments.Query(ctx, store.NewFilter())
	if err != nil {
		respondError(w, r, err)
		return
	}
	workers, err := h.st.Workers.Query(ctx, store.NewFilter().Eq("active", "true"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats.NewWorkloadAnalyzer().Analyze(assignments, shifts, workers))
}

// CoverageStats 班次覆盖与未分配请求供需
func (h *Handler) CoverageStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shifts, err := h.st.Shifts.Query(ctx, shiftFilter(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	open, err := h.st.Requests.Query(ctx, store.NewFilter().
		WithStatus(string(model.RequestPending), string(model.RequestQueued)))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats.NewCoverageAnalyzer().Analyze(shifts, open))
}

// Forecast 预测某维度在时间窗口内的负载。默认窗口为当前起一小时。
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		respondError(w, r, apperrors.New(apperrors.CodeInternal, "负载预测未启用"))
		return
	}
	q := r.URL.Query()
	dim := predictor.Dimension(q.Get("dimension"))
	switch dim {
	case predictor.DimWorker, predictor.DimZone, predictor.DimSpecialization, predictor.DimPair:
	default:
		respondError(w, r, apperrors.InvalidInput("dimension", "需要 worker、zone、spec 或 pair"))
		return
	}
	key := q.Get("key")
	if key == "" {
		respondError(w, r, apperrors.InvalidInput("key", "不能为空"))
		return
	}
	start, err := queryTime(r, "start", h.now())
	if err != nil {
		respondError(w, r, err)
		return
	}
	hours := queryInt(r, "hours", 1)
	if hours <= 0 {
		respondError(w, r, apperrors.InvalidInput("hours", "必须大于 0"))
		return
	}
	window := model.TimeRange{Start: start, End: start.Add(time.Duration(hours) * time.Hour)}
	respondJSON(w, http.StatusOK, h.predictor.Forecast(dim, key, window))
}

func (h *Handler) sessionsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.sessions == nil {
		respondError(w, r, apperrors.New(apperrors.CodeInternal, "会话选择未启用"))
		return false
	}
	return true
}

// GetSession 返回会话当前选择
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	sel, ok := h.sessions.Get(id).Active()
	if !ok {
		respondError(w, r, apperrors.NotFound("session selection", id))
		return
	}
	respondJSON(w, http.StatusOK, sel)
}

// SelectSession 切换会话角色，版本号不符时返回冲突
func (h *Handler) SelectSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w, r) {
		return
	}
	var body SelectRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	sel, err := h.sessions.Get(chi.URLParam(r, "id")).Select(body.Role, body.ContextID, body.Version)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sel)
}
