// Package security 提供调用方令牌与请求频率限制
package security

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken      = errors.New("令牌未提供")
	ErrInvalidToken      = errors.New("无效的令牌")
	ErrEmptySecret       = errors.New("令牌密钥为空")
	ErrRateLimitExceeded = errors.New("请求频率超限")
)

// Claims 调用方令牌声明。Kind 区分自动接入方与调度员。
type Claims struct {
	jwt.RegisteredClaims
	Kind  string   `json:"kind"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole 检查是否具备某角色
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role || r == "*" {
			return true
		}
	}
	return false
}

// Tokens 签发与校验 HS256 令牌
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokens 创建令牌管理器
func NewTokens(secret, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue 签发令牌
func (t *Tokens) Issue(subject, kind string, roles []string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind:  kind,
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify 校验签名、有效期与签发方
func (t *Tokens) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearer 从 Authorization 头读取 Bearer 令牌
func ExtractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RateLimiter 滑动窗口频率限制器
type RateLimiter struct {
	requests map[string][]time.Time // key -> 窗口内的请求时间
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewRateLimiter 创建频率限制器，limit 为窗口内最大请求数
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow 检查是否允许请求，允许时记入窗口
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := prune(rl.requests[key], now.Add(-rl.window))
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// Run 定期清理过期记录，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	start := rl.now().Add(-rl.window)
	for key, reqs := range rl.requests {
		if valid := prune(reqs, start); len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

// prune 丢弃窗口开始之前的时间点，reqs 按时间升序
func prune(reqs []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(start) {
		i++
	}
	return reqs[i:]
}
