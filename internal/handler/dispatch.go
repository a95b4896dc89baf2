package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paiban/dispatch/pkg/dispatcher"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/optimizer"
)

// AssignRequest 分配请求体
type AssignRequest struct {
	RequestID     string `json:"request_id"`
	PinnedShiftID string `json:"pinned_shift_id,omitempty"`
}

// BatchRequest 批量分配请求体
type BatchRequest struct {
	RequestIDs []string         `json:"request_ids"`
	Intent     optimizer.Intent `json:"intent,omitempty"`
}

// ReasonRequest 带原因的操作请求体
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RespondRequest 转派邀约答复
type RespondRequest struct {
	Accept bool `json:"accept"`
}

func decisionStatus(d *dispatcher.Decision) int {
	if d.Queued {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// SubmitRequest 接收或更新服务请求并立即尝试分配
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req model.ServiceRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	d, err := h.engine.SubmitRequest(r.Context(), &req, dispatcher.AuthFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, decisionStatus(d), d)
}

// GetRequest 查询服务请求
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.st.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// CancelRequest 取消服务请求
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.CancelRequest(r.Context(), id, dispatcher.AuthFrom(r.Context()).Actor()); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"request_id": id, "status": string(model.RequestCancelled)})
}

// Candidates 返回请求的候选评分
func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	scored, reason, err := h.engine.Candidates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"candidates": scored, "reason": reason})
}

// RequestHistory 返回请求的台账记录
func (h *Handler) RequestHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// Assign 同步分配单个请求，调度员可指定班次
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var body AssignRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if body.RequestID == "" {
		respondError(w, r, apperrors.InvalidInput("request_id", "不能为空"))
		return
	}
	d, err := h.engine.Assign(r.Context(), dispatcher.AssignInput{
		RequestID:     body.RequestID,
		PinnedShiftID: body.PinnedShiftID,
		Auth:          dispatcher.AuthFrom(r.Context()),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, decisionStatus(d), d)
}

// SubmitBatch 提交异步批量分配任务
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	job, err := h.engine.SubmitBatch(body.RequestIDs, body.Intent, dispatcher.AuthFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/batches/"+job.ID)
	respondJSON(w, http.StatusAccepted, job)
}

// GetBatch 查询批量任务
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Batch(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// GetAssignment 查询分配
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// CompleteAssignment 完成分配
func (h *Handler) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.CompleteAssignment(r.Context(), chi.URLParam(r, "id"), dispatcher.AuthFrom(r.Context()).Actor())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// Unassigned 列出待分配队列
func (h *Handler) Unassigned(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Unassigned())
}

// RetryUnassigned 立即重试一轮待分配队列
func (h *Handler) RetryUnassigned(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RetryUnassigned(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Escalate 把请求转人工
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	var body ReasonRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if body.Reason == "" {
		body.Reason = "调度员转人工"
	}
	if err := h.engine.Escalate(r.Context(), id, body.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"request_id": id, "status": string(model.RequestEscalated)})
}

func (h *Handler) transfersEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.engine.Transfers() == nil {
		respondError(w, r, apperrors.New(apperrors.CodeInternal, "转派流程未启用"))
		return false
	}
	return true
}

// GetTransfer 查询转派
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	if !h.transfersEnabled(w, r) {
		return
	}
	t, err := h.engine.Transfers().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// RespondTransfer 候选答复转派邀约
func (h *Handler) RespondTransfer(w http.ResponseWriter, r *http.Request) {
	var body RespondRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	t, err := h.engine.RespondTransfer(r.Context(), chi.URLParam(r, "id"), body.Accept, dispatcher.AuthFrom(r.Context()).Actor())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// CompleteTransfer 完成已接受的转派
func (h *Handler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	if !h.transfersEnabled(w, r) {
		return
	}
	t, err := h.engine.Transfers().Complete(r.Context(), chi.URLParam(r, "id"), dispatcher.AuthFrom(r.Context()).Actor())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// EscalatedTransfers 列出转人工的转派
func (h *Handler) EscalatedTransfers(w http.ResponseWriter, r *http.Request) {
	if !h.transfersEnabled(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Transfers().Escalated())
}

// AcknowledgeTransfer 调度员确认已处理转人工的转派
func (h *Handler) AcknowledgeTransfer(w http.ResponseWriter, r *http.Request) {
	if !h.transfersEnabled(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if !h.engine.Transfers().Acknowledge(id) {
		respondError(w, r, apperrors.NotFound("escalated transfer", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpsertWorker 新增或更新员工
func (h *Handler) UpsertWorker(w http.ResponseWriter, r *http.Request) {
	var worker model.Worker
	if err := decode(w, r, &worker); err != nil {
		respondError(w, r, err)
		return
	}
	worker.ID = chi.URLParam(r, "id")
	if err := h.engine.UpsertWorker(r.Context(), &worker); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, worker)
}

// WorkerRoute 返回员工当前分配的服务路线
func (h *Handler) WorkerRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.engine.PlanRoute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, route)
}

// Clusters 返回待分配请求的地理聚类
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.engine.ClusterPending(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, clusters)
}

// AssignClusters 按聚类逐个批量分配待分配请求
func (h *Handler) AssignClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.engine.ClusterPending(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	auth := dispatcher.AuthFrom(r.Context())
	results := make([]*dispatcher.BatchResult, 0, len(clusters))
	for _, c := range clusters {
		res, err := h.engine.AssignCluster(r.Context(), c, auth)
		if err != nil {
			respondError(w, r, err)
			return
		}
		results = append(results, res)
	}
	respondJSON(w, http.StatusOK, results)
}
