// Package logger 提供派单服务的结构化日志
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	root   = zerolog.New(os.Stdout).With().Timestamp().Logger()
	closer io.Closer
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	callerKey
)

// Config 日志配置
type Config struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"` // json 或 console
	Output   string `yaml:"output" json:"output"` // stdout、stderr 或 file
	FilePath string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
}

// Init 按配置替换全局日志器，可重复调用
func Init(cfg Config) {
	var out io.Writer = os.Stdout
	var file *os.File
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	case "file":
		if f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out, file = f, f
		}
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	l := zerolog.New(out).With().Timestamp().Logger()

	mu.Lock()
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
	if file != nil {
		closer = file
	}
	root = l
	mu.Unlock()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "off", "disabled":
		return zerolog.Disabled
	case "warning":
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Get 返回全局日志器
func Get() *zerolog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	return &l
}

// ContextWithRequestID 在上下文中记录请求ID
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithCaller 在上下文中记录调用方
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// WithContext 返回带请求ID与调用方字段的日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	c := Get().With()
	if id, _ := ctx.Value(requestIDKey).(string); id != "" {
		c = c.Str("request_id", id)
	}
	if caller, _ := ctx.Value(callerKey).(string); caller != "" {
		c = c.Str("caller", caller)
	}
	l := c.Logger()
	return &l
}

// Component 返回带组件名的日志器
func Component(name string) *zerolog.Logger {
	l := Get().With().Str("component", name).Logger()
	return &l
}

func Debug() *zerolog.Event { return Get().Debug() }
func Info() *zerolog.Event  { return Get().Info() }
func Warn() *zerolog.Event  { return Get().Warn() }
func Error() *zerolog.Event { return Get().Error() }
