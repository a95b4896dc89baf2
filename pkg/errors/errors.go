// Package errors 提供统一的错误处理框架
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

const (
	// 通用错误码
	CodeUnknown       Code = "UNKNOWN"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeTimeout       Code = "TIMEOUT"
	CodeRateLimited   Code = "RATE_LIMITED"

	// 派单相关
	CodeNoEligibleCandidate Code = "NO_ELIGIBLE_CANDIDATE"
	CodeCapacityExceeded    Code = "CAPACITY_EXCEEDED"
	CodeAlreadyAssigned     Code = "ALREADY_ASSIGNED"
	CodeOptimizationTimeout Code = "OPTIMIZATION_TIMEOUT"
	CodeStaleClaim          Code = "STALE_CLAIM"
	CodeShiftUnavailable    Code = "SHIFT_UNAVAILABLE"

	// 转派与计划相关
	CodeTransferExhausted  Code = "TRANSFER_EXHAUSTED"
	CodeConflictUnresolved Code = "CONFLICT_UNRESOLVED"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"

	// 数据相关
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeValidationFail     Code = "VALIDATION_FAILED"
)

// AppError 应用错误
type AppError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Cause      error                  `json:"-"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithField 添加字段
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// Recoverable 检查错误是否可在本地恢复（重新排队、升级或返回部分结果）。
// 存储不可用与持续的认领冲突需要上抛给调用方。
func (e *AppError) Recoverable() bool {
	switch e.Code {
	case CodeNoEligibleCandidate, CodeCapacityExceeded, CodeShiftUnavailable, CodeOptimizationTimeout,
		CodeTransferExhausted, CodeConflictUnresolved:
		return true
	default:
		return false
	}
}

// New 创建新错误
func New(code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// codeToHTTPStatus 错误码转HTTP状态码
func codeToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeValidationFail:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeAlreadyAssigned, CodeStaleClaim, CodeInvalidTransition, CodeConflictUnresolved,
		CodeShiftUnavailable:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNoEligibleCandidate, CodeCapacityExceeded, CodeTransferExhausted, CodeOptimizationTimeout:
		return http.StatusUnprocessableEntity
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is 检查错误是否为特定类型
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode 获取错误码
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetHTTPStatus 获取HTTP状态码
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsRecoverable 检查错误是否可本地恢复
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable()
	}
	return false
}

// InvalidInput 创建输入无效错误
func InvalidInput(field, reason string) *AppError {
	return New(CodeInvalidInput, fmt.Sprintf("字段 '%s' 无效: %s", field, reason)).
		WithField("field", field)
}

// NotFound 创建资源不存在错误
func NotFound(resource, id string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s '%s' 不存在", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

// NoEligibleCandidate 请求没有可用候选，进入待分配队列
func NoEligibleCandidate(requestID, reason string) *AppError {
	return New(CodeNoEligibleCandidate, fmt.Sprintf("请求 %s 无可用候选: %s", requestID, reason)).
		WithField("request_id", requestID)
}

// CapacityExceeded 提交会导致班次超出容量
func CapacityExceeded(shiftID string, capacity int) *AppError {
	return New(CodeCapacityExceeded, fmt.Sprintf("班次 %s 已达容量上限 %d", shiftID, capacity)).
		WithField("shift_id", shiftID).
		WithField("capacity", capacity)
}

// ShiftUnavailable 班次在提交前已取消或换了员工
func ShiftUnavailable(shiftID, reason string) *AppError {
	return New(CodeShiftUnavailable, fmt.Sprintf("班次 %s 不可接单: %s", shiftID, reason)).
		WithField("shift_id", shiftID)
}

// OptimizationTimeout 批量优化超出预算，结果为当前最优解
func OptimizationTimeout(strategy string, iterations int) *AppError {
	return New(CodeOptimizationTimeout, fmt.Sprintf("%s 优化在 %d 次迭代后超出预算", strategy, iterations)).
		WithField("strategy", strategy).
		WithField("iterations", iterations)
}

// AlreadyAssigned 请求已存在未结束的分配
func AlreadyAssigned(requestID, assignmentID string) *AppError {
	return New(CodeAlreadyAssigned, fmt.Sprintf("请求 %s 已有进行中的分配 %s", requestID, assignmentID)).
		WithField("request_id", requestID).
		WithField("assignment_id", assignmentID)
}

// StaleClaim 认领冲突（并发修改）
func StaleClaim(entity, id string) *AppError {
	return New(CodeStaleClaim, fmt.Sprintf("%s %s 正被其他操作占用", entity, id)).
		WithField("entity", entity).
		WithField("id", id)
}

// TransferExhausted 转派重试用尽，已升级人工
func TransferExhausted(transferID string, retries int) *AppError {
	return New(CodeTransferExhausted, fmt.Sprintf("转派 %s 已重试 %d 次，转人工处理", transferID, retries)).
		WithField("transfer_id", transferID).
		WithField("retry_count", retries)
}

// ConflictUnresolved 计划存在无法自动解决的冲突
func ConflictUnresolved(planID string, conflictIDs []string) *AppError {
	return New(CodeConflictUnresolved, fmt.Sprintf("计划 %s 存在 %d 个未解决冲突", planID, len(conflictIDs))).
		WithField("plan_id", planID).
		WithField("conflict_ids", conflictIDs)
}

// InvalidTransition 非法状态迁移
func InvalidTransition(entity, id, from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("%s %s 不能从 %s 变更为 %s", entity, id, from, to)).
		WithField("entity", entity).
		WithField("id", id)
}

// StorageUnavailable 存储不可用
func StorageUnavailable(op string, cause error) *AppError {
	return Wrap(cause, CodeStorageUnavailable, fmt.Sprintf("存储操作失败: %s", op)).
		WithField("op", op)
}

// ValidationErrors 验证错误集合
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// ValidationError 单个验证错误
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "验证失败"
	}
	return fmt.Sprintf("验证失败: %s - %s", ve.Errors[0].Field, ve.Errors[0].Message)
}

// Add 添加验证错误
func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

// HasErrors 检查是否有错误
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToAppError 转换为 AppError
func (ve *ValidationErrors) ToAppError() *AppError {
	err := New(CodeValidationFail, "验证失败")
	err.Fields = make(map[string]interface{})
	for _, e := range ve.Errors {
		err.Fields[e.Field] = e.Message
	}
	return err
}
