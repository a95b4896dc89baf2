package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// DispatchLogger 派单引擎专用日志器
type DispatchLogger struct {
	base *zerolog.Logger
}

// NewDispatchLogger 创建派单引擎日志器
func NewDispatchLogger() *DispatchLogger {
	return &DispatchLogger{base: Component("dispatcher")}
}

// NewDispatchLoggerWith 使用指定日志器创建（测试用）
func NewDispatchLoggerWith(l zerolog.Logger) *DispatchLogger {
	return &DispatchLogger{base: &l}
}

// Base 返回底层日志器
func (l *DispatchLogger) Base() *zerolog.Logger {
	return l.base
}

// AssignmentDecided 记录分配决定
func (l *DispatchLogger) AssignmentDecided(requestID, workerID, shiftID string, score float64, auto bool) {
	l.base.Info().
		Str("request_id", requestID).
		Str("worker_id", workerID).
		Str("shift_id", shiftID).
		Float64("score", score).
		Bool("auto", auto).
		Msg("分配完成")
}

// RequestQueued 记录请求进入待分配队列
func (l *DispatchLogger) RequestQueued(requestID, reason string) {
	l.base.Warn().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("无可用候选，进入待分配队列")
}

// BatchStarted 记录批量优化开始
func (l *DispatchLogger) BatchStarted(batchID, strategy string, requests, slots int) {
	l.base.Info().
		Str("batch_id", batchID).
		Str("strategy", strategy).
		Int("requests", requests).
		Int("slots", slots).
		Msg("开始批量优化")
}

// BatchCompleted 记录批量优化完成
func (l *DispatchLogger) BatchCompleted(batchID string, duration time.Duration, score float64, assigned, unassigned int) {
	l.base.Info().
		Str("batch_id", batchID).
		Dur("duration", duration).
		Float64("score", score).
		Int("assigned", assigned).
		Int("unassigned", unassigned).
		Msg("批量优化完成")
}

// OptimizationTimeout 记录优化超时（返回当前最优解）
func (l *DispatchLogger) OptimizationTimeout(batchID, strategy string, iterations int, best float64) {
	l.base.Warn().
		Str("batch_id", batchID).
		Str("strategy", strategy).
		Int("iterations", iterations).
		Float64("best_score", best).
		Msg("优化超出时间预算，返回当前最优解")
}

// TransferEscalated 记录转派升级人工
func (l *DispatchLogger) TransferEscalated(transferID, requestID string, retries int, reason string) {
	l.base.Warn().
		Str("transfer_id", transferID).
		Str("request_id", requestID).
		Int("retry_count", retries).
		Str("reason", reason).
		Msg("转派重试用尽，转人工处理")
}

// PlanningLogger 排班计划专用日志器
type PlanningLogger struct {
	base *zerolog.Logger
}

// NewPlanningLogger 创建排班计划日志器
func NewPlanningLogger() *PlanningLogger {
	return &PlanningLogger{base: Component("planning")}
}

// SchedulesGenerated 记录模板生成排班
func (l *PlanningLogger) SchedulesGenerated(templateID string, schedules, shifts int) {
	l.base.Info().
		Str("template_id", templateID).
		Int("schedules", schedules).
		Int("shifts", shifts).
		Msg("模板生成排班")
}

// ConflictRaised 记录计划冲突
func (l *PlanningLogger) ConflictRaised(conflictID, kind, severity, message string) {
	l.base.Warn().
		Str("conflict_id", conflictID).
		Str("type", kind).
		Str("severity", severity).
		Str("details", message).
		Msg("排班冲突")
}

// PlanActivated 记录计划激活
func (l *PlanningLogger) PlanActivated(planID string, coverage float64) {
	l.base.Info().
		Str("plan_id", planID).
		Float64("coverage", coverage).
		Msg("季度计划已激活")
}
