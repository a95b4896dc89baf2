// Package claim 提供按实体的独占认领与班次容量计数。
//
// 请求、班次在 评分→选择→提交 期间必须先被认领，
// 这是保证同一请求不会被重复分配的唯一锁范围。评分本身不加锁。
package claim

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	apperrors "github.com/paiban/dispatch/pkg/errors"
)

// Kind 认领的实体类型
type Kind string

const (
	KindRequest Kind = "request"
	KindShift   Kind = "shift"
)

// Token 认领凭证，释放时必须原样交回
type Token struct {
	Kind    Kind
	ID      string
	Owner   string
	expires time.Time
}

type slot struct {
	holder atomic.Pointer[Token]
}

// Registry 认领登记表
type Registry struct {
	slots      *xsync.Map[string, *slot]
	ttl        time.Duration
	retryDelay time.Duration
	now        func() time.Time
}

// NewRegistry 创建认领登记表。ttl 为认领的最长持有时间，过期的认领可被抢占。
func NewRegistry(ttl, retryDelay time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Millisecond
	}
	return &Registry{
		slots:      xsync.NewMap[string, *slot](),
		ttl:        ttl,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

func key(kind Kind, id string) string {
	return string(kind) + "/" + id
}

// TryAcquire 尝试认领，不等待
func (r *Registry) TryAcquire(kind Kind, id, owner string) (*Token, bool) {
	s, _ := r.slots.LoadOrStore(key(kind, id), &slot{})
	now := r.now()
	tok := &Token{Kind: kind, ID: id, Owner: owner, expires: now.Add(r.ttl)}
	cur := s.holder.Load()
	if cur != nil && now.Before(cur.expires) {
		return nil, false
	}
	if !s.holder.CompareAndSwap(cur, tok) {
		return nil, false
	}
	return tok, true
}

// Acquire 认领实体。首次失败后等待一次并重试，仍被占用时返回 StaleClaim。
func (r *Registry) Acquire(ctx context.Context, kind Kind, id, owner string) (*Token, error) {
	if tok, ok := r.TryAcquire(kind, id, owner); ok {
		return tok, nil
	}
	timer := time.NewTimer(r.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	if tok, ok := r.TryAcquire(kind, id, owner); ok {
		return tok, nil
	}
	return nil, apperrors.StaleClaim(string(kind), id)
}

// AcquireAll 按ID顺序认领一组实体，任一失败时释放已获得的认领
func (r *Registry) AcquireAll(ctx context.Context, kind Kind, ids []string, owner string) ([]*Token, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	tokens := make([]*Token, 0, len(sorted))
	var prev string
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		tok, err := r.Acquire(ctx, kind, id, owner)
		if err != nil {
			r.ReleaseAll(tokens)
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// Release 释放认领。凭证已过期并被他人抢占时不做任何事。
func (r *Registry) Release(tok *Token) {
	if tok == nil {
		return
	}
	if s, ok := r.slots.Load(key(tok.Kind, tok.ID)); ok {
		s.holder.CompareAndSwap(tok, nil)
	}
}

// ReleaseAll 释放一组认领
func (r *Registry) ReleaseAll(tokens []*Token) {
	for _, t := range tokens {
		r.Release(t)
	}
}

// Held 检查实体当前是否被认领
func (r *Registry) Held(kind Kind, id string) bool {
	s, ok := r.slots.Load(key(kind, id))
	if !ok {
		return false
	}
	cur := s.holder.Load()
	return cur != nil && r.now().Before(cur.expires)
}
