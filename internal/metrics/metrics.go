// Package metrics 提供Prometheus监控指标
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paiban/dispatch/pkg/model"
)

// Collector 派单与排班指标
type Collector struct {
	reg prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	assignments   *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchTimeouts prometheus.Counter
	iterations    prometheus.Counter
	unassigned    prometheus.Gauge
	transfers     *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	coverage      *prometheus.GaugeVec
}

// New 创建并注册指标。reg 为空时使用独立注册表。
func New(reg *prometheus.Registry, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "dispatch"
	}
	c := &Collector{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP请求总数",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP请求延迟",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "assignments_total",
			Help: "分配结果计数",
		}, []string{"strategy", "outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "batch_duration_seconds",
			Help:    "批量分配耗时",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		batchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "optimizer", Name: "timeouts_total",
			Help: "优化超时并返回部分结果的次数",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "optimizer", Name: "iterations_total",
			Help: "优化器迭代次数",
		}),
		unassigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "unassigned_requests",
			Help: "等待重试的未分配请求数",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "transitions_total",
			Help: "转派状态变化计数",
		}, []string{"status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plan", Name: "conflicts_total",
			Help: "新发现的排班冲突",
		}, []string{"type", "severity"}),
		coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "plan", Name: "coverage_percent",
			Help: "计划班次覆盖率",
		}, []string{"plan_id"}),
	}
	reg.MustRegister(
		c.httpRequests, c.httpDuration, c.assignments, c.batchDuration,
		c.batchTimeouts, c.iterations, c.unassigned, c.transfers, c.conflicts, c.coverage,
	)
	return c
}

// Handler 返回Prometheus格式的指标HTTP处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// RecordRequest 记录请求指标
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// AssignmentDecided 记录分配结果，outcome 取 assigned / queued / failed
func (c *Collector) AssignmentDecided(strategy, outcome string) {
	if strategy == "" {
		strategy = "single"
	}
	c.assignments.WithLabelValues(strategy, outcome).Inc()
}

// BatchCompleted 记录一次批量分配
func (c *Collector) BatchCompleted(duration time.Duration, iterations int, timedOut bool) {
	c.batchDuration.Observe(duration.Seconds())
	c.iterations.Add(float64(iterations))
	if timedOut {
		c.batchTimeouts.Inc()
	}
}

// SetUnassigned 设置未分配队列长度
func (c *Collector) SetUnassigned(n int) {
	c.unassigned.Set(float64(n))
}

// SetCoverage 设置计划覆盖率
func (c *Collector) SetCoverage(planID string, percent float64) {
	c.coverage.WithLabelValues(planID).Set(percent)
}

// TransferChanged 实现转派通知
func (c *Collector) TransferChanged(_ context.Context, t *model.ShiftTransfer) {
	c.transfers.WithLabelValues(string(t.Status)).Inc()
}

// ConflictRaised 实现冲突通知
func (c *Collector) ConflictRaised(_ context.Context, conf *model.PlanningConflict) {
	c.conflicts.WithLabelValues(string(conf.Type), string(conf.Severity)).Inc()
}
