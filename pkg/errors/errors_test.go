package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppError_CodesAndStatus(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		code        Code
		status      int
		recoverable bool
	}{
		{"无候选", NoEligibleCandidate("r1", "无匹配"), CodeNoEligibleCandidate, http.StatusUnprocessableEntity, true},
		{"容量", CapacityExceeded("s1", 5), CodeCapacityExceeded, http.StatusUnprocessableEntity, true},
		{"认领冲突", StaleClaim("request", "r1"), CodeStaleClaim, http.StatusConflict, false},
		{"转派用尽", TransferExhausted("t1", 3), CodeTransferExhausted, http.StatusUnprocessableEntity, true},
		{"班次不可用", ShiftUnavailable("s1", "已取消"), CodeShiftUnavailable, http.StatusConflict, true},
		{"优化超时", OptimizationTimeout("annealing", 40), CodeOptimizationTimeout, http.StatusUnprocessableEntity, true},
		{"计划冲突", ConflictUnresolved("p1", []string{"c1"}), CodeConflictUnresolved, http.StatusConflict, true},
		{"存储", StorageUnavailable("get", fmt.Errorf("boom")), CodeStorageUnavailable, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			require.True(t, Is(wrapped, tt.code))
			require.Equal(t, tt.code, GetCode(wrapped))
			require.Equal(t, tt.status, GetHTTPStatus(wrapped))
			require.Equal(t, tt.recoverable, IsRecoverable(wrapped))
		})
	}
}

func TestAppError_Fields(t *testing.T) {
	err := CapacityExceeded("shift-9", 3)
	require.Equal(t, "shift-9", err.Fields["shift_id"])
	require.Contains(t, err.Error(), "CAPACITY_EXCEEDED")

	cause := fmt.Errorf("connection refused")
	st := StorageUnavailable("query", cause)
	require.ErrorIs(t, st, cause)
	require.Equal(t, CodeUnknown, GetCode(cause))
}

func TestValidationErrors(t *testing.T) {
	var ve ValidationErrors
	require.False(t, ve.HasErrors())
	ve.Add("capacity", "必须大于0")
	require.True(t, ve.HasErrors())
	app := ve.ToAppError()
	require.Equal(t, CodeValidationFail, app.Code)
	require.Equal(t, "必须大于0", app.Fields["capacity"])
}
