// Package predictor 提供短期工作负载预测。
//
// 历史数据来自分配台账：每条分配按员工、区域、专业以及员工与类别组合
// 计入按小时分桶的环形计数器。预测使用 Holt 线性趋势平滑日总量，
// 再乘以按小时的季节指数得到目标窗口内的期望负载。
// 没有历史时返回中性、置信度为 0 的预测。
package predictor

import (
	"fmt"
	"math"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/paiban/dispatch/pkg/model"
)

// Dimension 统计维度
type Dimension string

const (
	DimWorker         Dimension = "worker"
	DimZone           Dimension = "zone"
	DimSpecialization Dimension = "spec"
	DimPair           Dimension = "pair" // 员工 + 请求类别
)

// Config 预测器配置
type Config struct {
	HistoryHours    int           `yaml:"history_hours" json:"history_hours"`       // 环形窗口长度（小时）
	ConfidenceK     float64       `yaml:"confidence_k" json:"confidence_k"`         // 置信度达到 63% 所需样本数
	Alpha           float64       `yaml:"alpha" json:"alpha"`                       // 水平平滑系数
	Beta            float64       `yaml:"beta" json:"beta"`                         // 趋势平滑系数
	CacheTTL        time.Duration `yaml:"cache_ttl" json:"cache_ttl"`               // 预测缓存时间
	NeutralPressure float64       `yaml:"neutral_pressure" json:"neutral_pressure"` // 冷启动时的中性负载压力
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HistoryHours:    24 * 28,
		ConfidenceK:     20,
		Alpha:           0.5,
		Beta:            0.3,
		CacheTTL:        30 * time.Second,
		NeutralPressure: 0.5,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.HistoryHours < 24 {
		return fmt.Errorf("history_hours 至少为 24，当前 %d", c.HistoryHours)
	}
	if c.ConfidenceK <= 0 {
		return fmt.Errorf("confidence_k 必须为正数")
	}
	if c.Alpha <= 0 || c.Alpha > 1 || c.Beta < 0 || c.Beta > 1 {
		return fmt.Errorf("平滑系数必须位于 (0,1] 区间")
	}
	return nil
}

// Observation 一次分配观测
type Observation struct {
	WorkerID       string
	Zone           string
	Specialization string
	Category       string
	At             time.Time
}

// Forecast 预测结果
type Forecast struct {
	Dimension    Dimension       `json:"dimension"`
	Key          string          `json:"key"`
	Window       model.TimeRange `json:"window"`
	ExpectedLoad float64         `json:"expected_load"`
	Trend        float64         `json:"trend"`
	Confidence   float64         `json:"confidence"`
	Samples      int64           `json:"samples"`
	Neutral      bool            `json:"neutral"`
}

type cachedForecast struct {
	forecast Forecast
	expires  time.Time
}

// Option 预测器选项
type Option func(*Predictor)

// WithClock 指定时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) { p.now = now }
}

// Predictor 工作负载预测器。写入不阻塞读取。
type Predictor struct {
	cfg    Config
	series *xsync.Map[string, *series]
	cache  *xsync.Map[string, cachedForecast]
	now    func() time.Time
}

// New 创建预测器
func New(cfg Config, opts ...Option) *Predictor {
	if cfg.HistoryHours < 24 {
		cfg.HistoryHours = DefaultConfig().HistoryHours
	}
	if cfg.ConfidenceK <= 0 {
		cfg.ConfidenceK = DefaultConfig().ConfidenceK
	}
	p := &Predictor{
		cfg:    cfg,
		series: xsync.NewMap[string, *series](),
		cache:  xsync.NewMap[string, cachedForecast](),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func seriesKey(dim Dimension, key string) string {
	return string(dim) + ":" + key
}

// PairKey 组合员工与请求类别
func PairKey(workerID, category string) string {
	return workerID + "|" + category
}

func (p *Predictor) seriesFor(dim Dimension, key string) *series {
	k := seriesKey(dim, key)
	if s, ok := p.series.Load(k); ok {
		return s
	}
	s, _ := p.series.LoadOrStore(k, newSeries(p.cfg.HistoryHours))
	return s
}

// Observe 记录一次分配
func (p *Predictor) Observe(obs Observation) {
	at := obs.At
	if at.IsZero() {
		at = p.now()
	}
	if obs.WorkerID != "" {
		p.seriesFor(DimWorker, obs.WorkerID).add(at, 1)
		if obs.Category != "" {
			p.seriesFor(DimPair, PairKey(obs.WorkerID, obs.Category)).add(at, 1)
		}
	}
	if obs.Zone != "" {
		p.seriesFor(DimZone, obs.Zone).add(at, 1)
	}
	if obs.Specialization != "" {
		p.seriesFor(DimSpecialization, obs.Specialization).add(at, 1)
	}
}

// Samples 返回某维度的历史样本数
func (p *Predictor) Samples(dim Dimension, key string) int64 {
	s, ok := p.series.Load(seriesKey(dim, key))
	if !ok {
		return 0
	}
	return s.samples.Load()
}

// Confidence 将样本数映射到 [0,1) 的置信度
func (p *Predictor) Confidence(samples int64) float64 {
	if samples <= 0 {
		return 0
	}
	return 1 - math.Exp(-float64(samples)/p.cfg.ConfidenceK)
}

// PairConfidence 返回员工处理某类别请求的历史置信度
func (p *Predictor) PairConfidence(workerID, category string) float64 {
	return p.Confidence(p.Samples(DimPair, PairKey(workerID, category)))
}

// Forecast 预测某维度在窗口内的期望负载
func (p *Predictor) Forecast(dim Dimension, key string, window model.TimeRange) Forecast {
	now := p.now()
	cacheKey := fmt.Sprintf("%s|%d|%d", seriesKey(dim, key), hourOf(window.Start), hourOf(window.End))
	if c, ok := p.cache.Load(cacheKey); ok && now.Before(c.expires) {
		return c.forecast
	}

	f := p.compute(dim, key, window, now)
	if p.cfg.CacheTTL > 0 {
		p.cache.Store(cacheKey, cachedForecast{forecast: f, expires: now.Add(p.cfg.CacheTTL)})
	}
	return f
}

func (p *Predictor) compute(dim Dimension, key string, window model.TimeRange, now time.Time) Forecast {
	f := Forecast{Dimension: dim, Key: key, Window: window}
	s, ok := p.series.Load(seriesKey(dim, key))
	if !ok || s.samples.Load() == 0 {
		f.Neutral = true
		return f
	}
	f.Samples = s.samples.Load()
	f.Confidence = p.Confidence(f.Samples)

	hours := p.cfg.HistoryHours - p.cfg.HistoryHours%24
	end := hourOf(now) + 1
	counts := s.window(end, hours)
	days := hours / 24

	daily := make([]float64, days)
	var seasonal [24]float64
	var total float64
	for i, c := range counts {
		h := end - int64(hours-i)
		daily[i/24] += float64(c)
		seasonal[hourOfDay(h)] += float64(c)
		total += float64(c)
	}
	if total == 0 {
		// 有样本但都已滑出窗口
		f.Neutral = true
		f.Confidence = 0
		return f
	}
	// 季节指数：该小时平均计数相对整体小时均值的比例
	mean := total / float64(hours)
	for h := range seasonal {
		seasonal[h] = (seasonal[h] / float64(days)) / mean
	}

	level, trend := holt(daily, p.cfg.Alpha, p.cfg.Beta)
	f.Trend = trend

	var expected float64
	for t := window.Start.Truncate(time.Hour); t.Before(window.End); t = t.Add(time.Hour) {
		ahead := t.Sub(now).Hours() / 24
		if ahead < 0 {
			ahead = 0
		}
		dayForecast := level + trend*ahead
		if dayForecast < 0 {
			dayForecast = 0
		}
		expected += dayForecast / 24 * seasonal[hourOfDay(hourOf(t))]
	}
	f.ExpectedLoad = expected
	return f
}

// holt 对序列做 Holt 线性趋势平滑，返回最终的水平与趋势
func holt(ys []float64, alpha, beta float64) (level, trend float64) {
	if len(ys) == 0 {
		return 0, 0
	}
	level = ys[0]
	for _, y := range ys[1:] {
		prev := level
		level = alpha*y + (1-alpha)*(level+trend)
		trend = beta*(level-prev) + (1-beta)*trend
	}
	return level, trend
}

func hourOfDay(h int64) int {
	return time.Unix(h*3600, 0).UTC().Hour()
}

// WorkloadPressure 返回员工在窗口内的预测负载压力（期望负载/容量），
// 以及该预测的置信度。冷启动时返回中性压力与 0 置信度。
func (p *Predictor) WorkloadPressure(workerID string, window model.TimeRange, capacity int) (pressure, confidence float64) {
	f := p.Forecast(DimWorker, workerID, window)
	if f.Neutral || capacity <= 0 {
		return p.cfg.NeutralPressure, 0
	}
	pressure = f.ExpectedLoad / float64(capacity)
	if pressure > 1 {
		pressure = 1
	}
	return pressure, f.Confidence
}

// SizeTemplate 根据专业维度的预测为模板建议最少/最多执行人数。
// 冷启动时保持模板现有配置。
func (p *Predictor) SizeTemplate(t *model.ShiftTemplate, date time.Time) (minExec, maxExec int) {
	minExec, maxExec = t.MinExecutors, t.MaxExecutors
	if minExec < 1 {
		minExec = 1
	}
	if maxExec < minExec {
		maxExec = minExec
	}
	window, err := t.WindowOn(date)
	if err != nil || t.ShiftCapacity <= 0 {
		return minExec, maxExec
	}

	dim, key := DimZone, t.CoverageArea.Zone
	if len(t.Specializations) > 0 {
		dim, key = DimSpecialization, t.Specializations[0]
	}
	f := p.Forecast(dim, key, window)
	if f.Neutral {
		return minExec, maxExec
	}

	capacity := float64(t.ShiftCapacity)
	suggestedMin := int(math.Ceil(f.ExpectedLoad / capacity))
	// 置信度越低预留越多
	suggestedMax := int(math.Ceil(f.ExpectedLoad * (2 - f.Confidence) / capacity))
	if suggestedMin < 1 {
		suggestedMin = 1
	}
	if suggestedMax < suggestedMin {
		suggestedMax = suggestedMin
	}
	return suggestedMin, suggestedMax
}

// Invalidate 清空预测缓存
func (p *Predictor) Invalidate() {
	p.cache.Clear()
}
