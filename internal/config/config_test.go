package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.InDelta(t, 1.0, cfg.Scoring.Weights.Sum(), 1e-9)
	require.Equal(t, 14, cfg.Shift.HorizonDays)
	require.True(t, cfg.Database.IsMemory())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  port: 8080
database:
  driver: sqlite3
  path: /tmp/dispatch.db
scoring:
  weights:
    specialization: 0.5
    geographic: 0.2
    workload: 0.2
    confidence: 0.1
optimizer:
  budget: 500ms
`), 0o600))

	t.Setenv("APP_PORT", "9090")
	t.Setenv("TRANSFER_MAX_RETRIES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.App.Port)
	require.Equal(t, "sqlite3", cfg.Database.Driver)
	require.Contains(t, cfg.Database.DSN(), "/tmp/dispatch.db")
	require.Equal(t, 0.5, cfg.Scoring.Weights.Specialization)
	require.Equal(t, 500*time.Millisecond, cfg.Optimizer.Budget)
	require.Equal(t, 5, cfg.Transfer.MaxRetries)
	// 文件中未出现的字段保留默认值
	require.Equal(t, 0.5, cfg.Scoring.UniversalScore)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"未知驱动", func(c *Config) { c.Database.Driver = "mysql" }},
		{"负权重", func(c *Config) { c.Scoring.Weights.Geographic = -1 }},
		{"认证缺少密钥", func(c *Config) { c.Auth.Enabled = true }},
		{"端口越界", func(c *Config) { c.App.Port = 70000 }},
		{"排班窗口为零", func(c *Config) { c.Shift.HorizonDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}
