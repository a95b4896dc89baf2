package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/internal/config"
	"github.com/paiban/dispatch/internal/security"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/shift"
)

const planYAML = `
plan:
  id: p-2026q1
  name: 一季度
  year: 2026
  quarter: 1
workers:
  - id: w1
    name: 张三
    specializations: [plumbing]
    active: true
  - id: w2
    name: 李四
    specializations: [plumbing]
    active: true
shifts:
  - id: s1
    worker_id: w1
    start: 2026-01-05T09:00:00Z
    end: 2026-01-05T17:00:00Z
    capacity: 4
  - id: s2
    worker_id: w1
    start: 2026-01-05T13:00:00Z
    end: 2026-01-05T21:00:00Z
    capacity: 4
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCheckPlanDetectsDoubleBooking(t *testing.T) {
	fx, err := LoadPlanFixture(writeFixture(t, planYAML))
	require.NoError(t, err)
	require.Len(t, fx.Shifts, 2)

	res, err := CheckPlan(context.Background(), fx, shift.DefaultConfig(), CheckOptions{})
	require.NoError(t, err)
	require.Len(t, res.Detected, 1)
	c := res.Detected[0]
	require.Equal(t, model.ConflictDoubleBooking, c.Type)
	require.Equal(t, model.SeverityHigh, c.Severity)
	require.Equal(t, 1, res.Blocking(model.SeverityHigh))
	require.Equal(t, 0, res.Blocking(model.SeverityCritical))
	require.Equal(t, 2, res.Plan.Metrics.PlannedShifts)

	var out bytes.Buffer
	PrintCheck(&out, res)
	require.Contains(t, out.String(), "double_booking")
	require.Contains(t, out.String(), "w2")
}

func TestCheckPlanResolve(t *testing.T) {
	fx, err := LoadPlanFixture(writeFixture(t, planYAML))
	require.NoError(t, err)

	res, err := CheckPlan(context.Background(), fx, shift.DefaultConfig(), CheckOptions{Resolve: true})
	require.NoError(t, err)
	require.Len(t, res.Resolved, 1)
	require.Equal(t, "w2", res.Resolved[0].Applied.WorkerID)
	require.Empty(t, res.Remaining)
	require.Zero(t, res.Blocking(model.SeverityLow))
}

func TestLoadPlanFixtureErrors(t *testing.T) {
	_, err := LoadPlanFixture(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadPlanFixture(writeFixture(t, "plan: ["))
	require.Error(t, err)
}

func TestPlanCheckCmdFailOn(t *testing.T) {
	path := writeFixture(t, planYAML)
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"高严重度冲突返回错误", []string{path}, true},
		{"阈值为严重时通过", []string{path, "--fail-on", "critical"}, false},
		{"自动解决后通过", []string{path, "--resolve"}, false},
		{"未知严重程度", []string{path, "--fail-on", "urgent"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := PlanCheckCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)
			err := cmd.ExecuteContext(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseStop(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"正常", "a=31.2,121.5", false},
		{"带空格", "b= 31.2 , 121.5", false},
		{"缺少编号", "=31.2,121.5", true},
		{"缺少等号", "31.2,121.5", true},
		{"纬度越界", "c=91,0", true},
		{"非数字", "d=x,y", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStop(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRouteCmd(t *testing.T) {
	cmd := RouteCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--from", "0,0", "far=0,0.3", "near=0,0.1", "mid=0,0.2"})
	require.NoError(t, cmd.Execute())

	s := out.String()
	near := bytes.Index([]byte(s), []byte("near"))
	mid := bytes.Index([]byte(s), []byte("mid"))
	far := bytes.Index([]byte(s), []byte("far"))
	require.True(t, near < mid && mid < far, s)
}

func TestTokenCmdRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	cmd := TokenCmd()
	cmd.SetArgs([]string{"--subject", "ops"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	require.Error(t, cmd.Execute())
}

func TestTokenCmdIssues(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	cmd := TokenCmd()
	cmd.SetArgs([]string{"--subject", "alice", "--kind", "manual", "--role", "dispatcher"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	tokens, err := security.NewTokens("test-secret", "dispatch")
	require.NoError(t, err)
	claims, err := tokens.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.Equal(t, []string{"dispatcher"}, claims.Roles)
}

func TestNewAppMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	app, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, app.DB)
	require.Nil(t, app.Bus)
	require.Nil(t, app.Tokens)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.Start(ctx))

	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	for _, path := range []string{"/health", "/metrics", "/api/v1/unassigned"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	cancel()
	app.Close()
}
