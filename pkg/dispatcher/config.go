package dispatcher

import (
	"fmt"
	"time"
)

// Config 派单引擎配置
type Config struct {
	PoolSize           int           `yaml:"pool_size" json:"pool_size"`                       // 批量任务并发数
	QueueSize          int           `yaml:"queue_size" json:"queue_size"`                     // 批量任务排队上限
	MaxBatchSize       int           `yaml:"max_batch_size" json:"max_batch_size"`             // 单批请求上限
	RetryInterval      time.Duration `yaml:"retry_interval" json:"retry_interval"`             // 待分配队列重试间隔
	MaxQueueAttempts   int           `yaml:"max_queue_attempts" json:"max_queue_attempts"`     // 重试多少次后转人工，0 表示不转
	MaxCapacityRetries int           `yaml:"max_capacity_retries" json:"max_capacity_retries"` // 容量冲突后重选次数
	ClaimTTL           time.Duration `yaml:"claim_ttl" json:"claim_ttl"`
	ClaimRetryDelay    time.Duration `yaml:"claim_retry_delay" json:"claim_retry_delay"`
	Alternatives       int           `yaml:"alternatives" json:"alternatives"` // 决定中附带的备选数
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PoolSize:           4,
		QueueSize:          64,
		MaxBatchSize:       1000,
		RetryInterval:      30 * time.Second,
		MaxQueueAttempts:   20,
		MaxCapacityRetries: 3,
		ClaimTTL:           30 * time.Second,
		ClaimRetryDelay:    50 * time.Millisecond,
		Alternatives:       3,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size 至少为 1，当前 %d", c.PoolSize)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size 至少为 1，当前 %d", c.QueueSize)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size 至少为 1，当前 %d", c.MaxBatchSize)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval 必须为正数")
	}
	if c.MaxQueueAttempts < 0 || c.MaxCapacityRetries < 0 || c.Alternatives < 0 {
		return fmt.Errorf("重试次数与备选数不能为负")
	}
	if c.ClaimTTL <= 0 || c.ClaimRetryDelay <= 0 {
		return fmt.Errorf("claim_ttl 与 claim_retry_delay 必须为正数")
	}
	return nil
}
