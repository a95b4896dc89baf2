package dispatcher

import "context"

// CallerKind 调用方类型
type CallerKind string

const (
	CallerAuto   CallerKind = "auto"   // 系统自动派单（事件、重试、批量）
	CallerManual CallerKind = "manual" // 调度员手工指派
)

// AuthContext 调用方授权上下文。自动与手工派单共用同一条分配路径，只在此处不同。
type AuthContext struct {
	Kind    CallerKind `json:"kind"`
	Subject string     `json:"subject,omitempty"`
	Roles   []string   `json:"roles,omitempty"`
}

// SystemAuth 系统调用方
var SystemAuth = AuthContext{Kind: CallerAuto, Subject: "system"}

// Manual 是否为手工指派
func (a AuthContext) Manual() bool {
	return a.Kind == CallerManual
}

// CanPin 是否允许指定班次
func (a AuthContext) CanPin() bool {
	if !a.Manual() {
		return false
	}
	for _, r := range a.Roles {
		if r == "dispatcher" || r == "admin" {
			return true
		}
	}
	return false
}

// Actor 台账中记录的操作者
func (a AuthContext) Actor() string {
	if a.Subject == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.Subject
}

type authKey struct{}

// WithAuth 把授权上下文放入 context
func WithAuth(ctx context.Context, a AuthContext) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

// AuthFrom 读取授权上下文，缺省为系统调用方
func AuthFrom(ctx context.Context) AuthContext {
	if a, ok := ctx.Value(authKey{}).(AuthContext); ok {
		return a
	}
	return SystemAuth
}
