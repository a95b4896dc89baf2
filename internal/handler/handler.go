// Package handler 提供派单服务的 HTTP 接口
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/paiban/dispatch/internal/middleware"
	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/claim"
	"github.com/paiban/dispatch/pkg/dispatcher"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/ledger"
	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/predictor"
	"github.com/paiban/dispatch/pkg/shift"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// Deps 处理器依赖
type Deps struct {
	Engine    *dispatcher.Engine
	Shifts    *shift.Manager
	Ledger    *ledger.Ledger
	Store     *store.Store
	Predictor *predictor.Predictor // 可为 nil
	Sessions  *claim.Sessions      // 可为 nil
	Health    func(ctx context.Context) error
}

// RouterConfig 路由与中间件配置
type RouterConfig struct {
	Auth        middleware.AuthConfig
	Limiter     claim.Limiter // 为 nil 时不限流
	Recorder    middleware.RequestRecorder
	Metrics     http.Handler
	MetricsPath string
	CORSOrigins []string
	Timeout     time.Duration
	Version     string
}

// Handler HTTP 处理器
type Handler struct {
	engine    *dispatcher.Engine
	shifts    *shift.Manager
	ledger    *ledger.Ledger
	st        *store.Store
	predictor *predictor.Predictor
	sessions  *claim.Sessions
	health    func(ctx context.Context) error
	now       func() time.Time
}

// New 创建处理器
func New(d Deps) *Handler {
	return &Handler{
		engine:    d.Engine,
		shifts:    d.Shifts,
		ledger:    d.Ledger,
		st:        d.Store,
		predictor: d.Predictor,
		sessions:  d.Sessions,
		health:    d.Health,
		now:       time.Now,
	}
}

// Router 构建路由。/api/v1 下的接口需要认证，健康检查与指标不需要。
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Observe(cfg.Recorder), middleware.Recovery,
		middleware.SecurityHeaders, middleware.CORS(cfg.CORSOrigins))
	if cfg.Timeout > 0 {
		r.Use(chimw.Timeout(cfg.Timeout))
	}

	r.Get("/health", h.Health)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"version": cfg.Version})
	})
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Auth))
		if cfg.Limiter != nil {
			r.Use(middleware.RateLimit(cfg.Limiter))
		}

		// 请求与分配
		r.Post("/requests", h.SubmitRequest)
		r.Get("/requests/{id}", h.GetRequest)
		r.Post("/requests/{id}/cancel", h.CancelRequest)
		r.Get("/requests/{id}/candidates", h.Candidates)
		r.Get("/requests/{id}/history", h.RequestHistory)
		r.Post("/assign", h.Assign)
		r.Post("/batches", h.SubmitBatch)
		r.Get("/batches/{id}", h.GetBatch)
		r.Get("/assignments/{id}", h.GetAssignment)
		r.Post("/assignments/{id}/complete", h.CompleteAssignment)

		// 待分配队列
		r.Get("/unassigned", h.Unassigned)
		r.With(middleware.RequireRole(roleAdmin, roleDispatcher)).Post("/unassigned/retry", h.RetryUnassigned)
		r.With(middleware.RequireRole(roleAdmin, roleDispatcher)).Post("/requests/{id}/escalate", h.Escalate)

		// 转派
		r.Get("/transfers/escalated", h.EscalatedTransfers)
		r.Get("/transfers/{id}", h.GetTransfer)
		r.Post("/transfers/{id}/respond", h.RespondTransfer)
		r.Post("/transfers/{id}/complete", h.CompleteTransfer)
		r.With(middleware.RequireRole(roleAdmin, roleDispatcher)).Post("/transfers/{id}/acknowledge", h.AcknowledgeTransfer)

		// 员工与路线
		r.With(middleware.RequireRole(roleAdmin, rolePlanner)).Put("/workers/{id}", h.UpsertWorker)
		r.Get("/workers/{id}/route", h.WorkerRoute)
		r.Get("/clusters", h.Clusters)
		r.With(middleware.RequireRole(roleAdmin, roleDispatcher)).Post("/clusters/assign", h.AssignClusters)

		// 班次与计划
		r.Get("/shifts/{id}", h.GetShift)
		r.Post("/shifts/{id}/status", h.ChangeShiftStatus)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(roleAdmin, rolePlanner))
			r.Post("/shifts", h.CreateShift)
			r.Post("/shifts/{id}/staff", h.StaffShift)
			r.Post("/templates", h.CreateTemplate)
			r.Post("/templates/generate", h.GenerateSchedules)
			r.Post("/plans", h.CreatePlan)
			r.Post("/plans/{id}/detect", h.DetectConflicts)
			r.Post("/plans/{id}/activate", h.ActivatePlan)
			r.Post("/plans/{id}/archive", h.ArchivePlan)
			r.Post("/conflicts/{id}/resolve", h.ResolveConflict)
		})
		r.Get("/plans/{id}", h.GetPlan)
		r.Get("/plans/{id}/conflicts", h.PlanConflicts)
		r.Get("/plans/{id}/metrics", h.PlanMetrics)

		// 统计与预测
		r.Get("/stats/workload", h.WorkloadStats)
		r.Get("/stats/coverage", h.CoverageStats)
		r.Get("/forecasts", h.Forecast)

		// 会话角色选择
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/select", h.SelectSession)
	})
	return r
}

const (
	roleAdmin      = "admin"
	roleDispatcher = "dispatcher"
	rolePlanner    = "planner"
)

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "dispatch"})
}

// respondJSON 返回 JSON 响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn().Err(err).Msg("写入响应失败")
	}
}

// respondError 返回错误响应，非 AppError 一律按内部错误处理
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, "服务器内部错误")
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("请求处理失败")
	}
	respondJSON(w, appErr.HTTPStatus, map[string]interface{}{
		"error":   true,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
		"fields":  appErr.Fields,
	})
}

// decode 解析请求体，拒绝未知字段
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "无效的请求体")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryTime(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperrors.InvalidInput(key, "需要 RFC3339 时间")
	}
	return t, nil
}
