// Package config 提供配置管理
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paiban/dispatch/pkg/dispatcher"
	"github.com/paiban/dispatch/pkg/dispatcher/scoring"
	"github.com/paiban/dispatch/pkg/optimizer"
	"github.com/paiban/dispatch/pkg/predictor"
	"github.com/paiban/dispatch/pkg/shift"
	"github.com/paiban/dispatch/pkg/transfer"
)

// Config 应用配置
type Config struct {
	App        AppConfig         `yaml:"app"`
	Database   DatabaseConfig    `yaml:"database"`
	NATS       NATSConfig        `yaml:"nats"`
	API        APIConfig         `yaml:"api"`
	Auth       AuthConfig        `yaml:"auth"`
	Dispatcher dispatcher.Config `yaml:"dispatcher"`
	Scoring    scoring.Config    `yaml:"scoring"`
	Optimizer  optimizer.Config  `yaml:"optimizer"`
	Predictor  predictor.Config  `yaml:"predictor"`
	Geo        GeoConfig         `yaml:"geo"`
	Shift      shift.Config      `yaml:"shift"`
	Transfer   transfer.Config   `yaml:"transfer"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name      string `yaml:"name"`
	Env       string `yaml:"env"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json 或 console
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver             string        `yaml:"driver"` // postgres、sqlite3 或 memory
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Name               string        `yaml:"name"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	SSLMode            string        `yaml:"ssl_mode"`
	Path               string        `yaml:"path"` // sqlite3 文件路径
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "sqlite3":
		if c.Path == "" {
			return ":memory:"
		}
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", c.Path)
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
		)
	}
}

// IsMemory 检查是否使用内存存储
func (c *DatabaseConfig) IsMemory() bool {
	return c.Driver == "" || c.Driver == "memory"
}

// NATSConfig 事件总线配置
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Consumer      string `yaml:"consumer"` // 入站事件的持久消费者名
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `yaml:"rate_limit"` // 每客户端每分钟请求数
	Timeout   time.Duration `yaml:"timeout"`
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// AuthConfig 调用方认证配置
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// GeoConfig 地理模块配置
type GeoConfig struct {
	CacheSize      int     `yaml:"cache_size"`
	ZoneCellKm     float64 `yaml:"zone_cell_km"`
	MaxTwoOptStops int     `yaml:"max_two_opt_stops"`
	MaxPasses      int     `yaml:"max_passes"`
	ClusterKm      float64 `yaml:"cluster_km"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "dispatch",
			Env:       "development",
			Port:      7012,
			LogLevel:  "info",
			LogFormat: "json",
		},
		Database: DatabaseConfig{
			Driver:             "memory",
			Host:               "localhost",
			Port:               5432,
			Name:               "dispatch",
			User:               "dispatch",
			SSLMode:            "disable",
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetime:    5 * time.Minute,
			SlowQueryThreshold: 100 * time.Millisecond,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Stream:        "DISPATCH",
			SubjectPrefix: "dispatch",
			Consumer:      "dispatchd",
		},
		API: APIConfig{
			RateLimit: 100,
			Timeout:   30 * time.Second,
			CORS: CORSConfig{
				Enabled: true,
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			Issuer: "dispatch",
		},
		Dispatcher: dispatcher.DefaultConfig(),
		Scoring:    scoring.DefaultConfig(),
		Optimizer:  optimizer.DefaultConfig(),
		Predictor:  predictor.DefaultConfig(),
		Geo: GeoConfig{
			CacheSize:      100000,
			ZoneCellKm:     2,
			MaxTwoOptStops: 30,
			MaxPasses:      50,
			ClusterKm:      3,
		},
		Shift:    shift.DefaultConfig(),
		Transfer: transfer.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "dispatch",
		},
	}
}

// Load 加载配置：默认值，然后是可选的 YAML 文件，最后是环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 用 YAML 文件覆盖当前配置，文件中未出现的字段保持原值
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Port = getEnvInt("APP_PORT", c.App.Port)
	c.App.LogLevel = getEnv("APP_LOG_LEVEL", c.App.LogLevel)
	c.App.LogFormat = getEnv("APP_LOG_FORMAT", c.App.LogFormat)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.SlowQueryThreshold = getEnvDuration("DB_SLOW_QUERY", c.Database.SlowQueryThreshold)

	c.NATS.Enabled = getEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	c.API.RateLimit = getEnvInt("API_RATE_LIMIT", c.API.RateLimit)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.API.CORS.Enabled = getEnvBool("API_CORS_ENABLED", c.API.CORS.Enabled)
	if origins := getEnv("API_CORS_ORIGINS", ""); origins != "" {
		c.API.CORS.Origins = strings.Split(origins, ",")
	}

	c.Auth.Enabled = getEnvBool("AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("AUTH_ISSUER", c.Auth.Issuer)

	c.Dispatcher.PoolSize = getEnvInt("DISPATCHER_POOL_SIZE", c.Dispatcher.PoolSize)
	c.Dispatcher.RetryInterval = getEnvDuration("DISPATCHER_RETRY_INTERVAL", c.Dispatcher.RetryInterval)
	c.Scoring.MaxServiceRadiusKm = getEnvFloat("DISPATCHER_MAX_DISTANCE", c.Scoring.MaxServiceRadiusKm)
	c.Optimizer.Budget = getEnvDuration("OPTIMIZER_BUDGET", c.Optimizer.Budget)
	c.Optimizer.Seed = int64(getEnvInt("OPTIMIZER_SEED", int(c.Optimizer.Seed)))

	c.Shift.HorizonDays = getEnvInt("SHIFT_HORIZON_DAYS", c.Shift.HorizonDays)
	c.Transfer.OfferTimeout = getEnvDuration("TRANSFER_OFFER_TIMEOUT", c.Transfer.OfferTimeout)
	c.Transfer.MaxRetries = getEnvInt("TRANSFER_MAX_RETRIES", c.Transfer.MaxRetries)
	c.Transfer.RetryDelay = getEnvDuration("TRANSFER_RETRY_DELAY", c.Transfer.RetryDelay)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("METRICS_PATH", c.Metrics.Path)
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "", "memory", "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("端口无效: %d", c.App.Port))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("启用认证时必须配置 jwt_secret"))
	}
	if c.Geo.ZoneCellKm <= 0 {
		errs = append(errs, errors.New("zone_cell_km 必须为正数"))
	}
	for name, v := range map[string]interface{ Validate() error }{
		"dispatcher": c.Dispatcher,
		"scoring":    c.Scoring,
		"optimizer":  c.Optimizer,
		"predictor":  c.Predictor,
		"shift":      c.Shift,
		"transfer":   c.Transfer,
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
