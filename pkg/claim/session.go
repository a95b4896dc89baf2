package claim

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	apperrors "github.com/paiban/dispatch/pkg/errors"
)

// Limiter 频率限制
type Limiter interface {
	Allow(key string) bool
}

// Selection 会话当前选中的角色与上下文
type Selection struct {
	Role       string    `json:"role"`
	ContextID  string    `json:"context_id,omitempty"`
	Version    uint64    `json:"version"`
	SelectedAt time.Time `json:"selected_at"`
}

// Session 单个会话的显式状态。切换通过版本号 CAS 完成，不依赖全局变量。
type Session struct {
	ID      string
	current atomic.Pointer[Selection]
	limiter Limiter
}

// Active 返回当前选择
func (s *Session) Active() (Selection, bool) {
	cur := s.current.Load()
	if cur == nil {
		return Selection{}, false
	}
	return *cur, true
}

// Select 切换当前选择。expected 为调用方看到的版本号，
// 期间若有其他切换发生则返回 StaleClaim，调用方应重新读取后再试。
func (s *Session) Select(role, contextID string, expected uint64) (Selection, error) {
	if role == "" {
		return Selection{}, apperrors.InvalidInput("role", "不能为空")
	}
	if s.limiter != nil && !s.limiter.Allow("session:"+s.ID) {
		return Selection{}, apperrors.New(apperrors.CodeRateLimited, "会话切换过于频繁").WithField("session_id", s.ID)
	}

	cur := s.current.Load()
	var version uint64
	if cur != nil {
		version = cur.Version
	}
	if version != expected {
		return Selection{}, apperrors.StaleClaim("session", s.ID)
	}
	next := &Selection{Role: role, ContextID: contextID, Version: version + 1, SelectedAt: time.Now()}
	if !s.current.CompareAndSwap(cur, next) {
		return Selection{}, apperrors.StaleClaim("session", s.ID)
	}
	return *next, nil
}

// Sessions 会话表
type Sessions struct {
	m       *xsync.Map[string, *Session]
	limiter Limiter
}

// NewSessions 创建会话表，limiter 可为 nil
func NewSessions(limiter Limiter) *Sessions {
	return &Sessions{m: xsync.NewMap[string, *Session](), limiter: limiter}
}

// Get 获取或创建会话
func (ss *Sessions) Get(id string) *Session {
	s, _ := ss.m.LoadOrStore(id, &Session{ID: id, limiter: ss.limiter})
	return s
}

// Drop 删除会话
func (ss *Sessions) Drop(id string) {
	ss.m.Delete(id)
}
