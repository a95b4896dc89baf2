package shift

import (
	"fmt"
	"time"
)

// Config 班次生命周期配置
type Config struct {
	HorizonDays int    `yaml:"horizon_days" json:"horizon_days"` // 滚动生成的天数
	Timezone    string `yaml:"timezone" json:"timezone"`         // 模板开始时间所在时区
	AutoStaff   bool   `yaml:"auto_staff" json:"auto_staff"`     // 生成后自动指派员工
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HorizonDays: 14,
		Timezone:    "UTC",
		AutoStaff:   true,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.HorizonDays < 1 || c.HorizonDays > 92 {
		return fmt.Errorf("horizon_days 必须位于 [1,92] 区间，当前 %d", c.HorizonDays)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("时区无效 %q: %w", c.Timezone, err)
	}
	return loc, nil
}
