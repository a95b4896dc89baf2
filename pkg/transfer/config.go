package transfer

import (
	"fmt"
	"time"

	"github.com/paiban/dispatch/pkg/model"
)

// Config 转派流程配置
type Config struct {
	OfferTimeout time.Duration `yaml:"offer_timeout" json:"offer_timeout"` // 普通紧急程度的邀约等待时间
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`     // 普通紧急程度的重试上限
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retry_delay"`     // 没有候选时下一次邀约前的等待
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OfferTimeout: 15 * time.Minute,
		MaxRetries:   3,
		RetryDelay:   time.Minute,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.OfferTimeout <= 0 {
		return fmt.Errorf("offer_timeout 必须为正数")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries 至少为 1，当前 %d", c.MaxRetries)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay 必须为正数")
	}
	return nil
}

// OfferTimeoutFor 按紧急程度缩放邀约等待时间，越紧急等待越短
func (c Config) OfferTimeoutFor(u model.Urgency) time.Duration {
	switch u.Normalize() {
	case model.UrgencyCritical:
		return c.OfferTimeout / 4
	case model.UrgencyHigh:
		return c.OfferTimeout / 2
	case model.UrgencyLow:
		return c.OfferTimeout * 2
	default:
		return c.OfferTimeout
	}
}

// MaxRetriesFor 按紧急程度调整重试上限，越紧急越早转人工
func (c Config) MaxRetriesFor(u model.Urgency) int {
	n := c.MaxRetries
	switch u.Normalize() {
	case model.UrgencyCritical:
		n -= 2
	case model.UrgencyHigh:
		n--
	case model.UrgencyLow:
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}
