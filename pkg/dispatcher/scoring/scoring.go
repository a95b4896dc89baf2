// Package scoring 计算（请求, 候选）的综合评分。
//
// 四个分项：专业匹配、地理距离、工作负载、历史置信度，
// 综合分为可配置的加权和。评分是纯函数，可对不同请求并发调用。
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/paiban/dispatch/pkg/dispatcher/selector"
	"github.com/paiban/dispatch/pkg/geo"
	"github.com/paiban/dispatch/pkg/model"
)

// Weights 分项权重
type Weights struct {
	Specialization float64 `yaml:"specialization" json:"specialization"`
	Geographic     float64 `yaml:"geographic" json:"geographic"`
	Workload       float64 `yaml:"workload" json:"workload"`
	Confidence     float64 `yaml:"confidence" json:"confidence"`
}

// Sum 返回权重之和
func (w Weights) Sum() float64 {
	return w.Specialization + w.Geographic + w.Workload + w.Confidence
}

// Config 评分配置
type Config struct {
	Weights            Weights `yaml:"weights" json:"weights"`
	UniversalScore     float64 `yaml:"universal_score" json:"universal_score"`             // 通用兜底员工的专业分
	MaxServiceRadiusKm float64 `yaml:"max_service_radius_km" json:"max_service_radius_km"` // 地理分归一化半径
	WorkloadBiasWeight float64 `yaml:"workload_bias_weight" json:"workload_bias_weight"`   // 预测负载对工作负载分的最大影响
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Specialization: 0.4,
			Geographic:     0.3,
			Workload:       0.2,
			Confidence:     0.1,
		},
		UniversalScore:     0.5,
		MaxServiceRadiusKm: 25,
		WorkloadBiasWeight: 0.3,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	w := c.Weights
	if w.Specialization < 0 || w.Geographic < 0 || w.Workload < 0 || w.Confidence < 0 {
		return fmt.Errorf("评分权重不能为负数")
	}
	if w.Sum() <= 0 {
		return fmt.Errorf("评分权重之和必须为正数")
	}
	if c.UniversalScore < 0 || c.UniversalScore >= 1 {
		return fmt.Errorf("universal_score 必须位于 [0,1) 区间，当前 %.2f", c.UniversalScore)
	}
	if c.MaxServiceRadiusKm <= 0 {
		return fmt.Errorf("max_service_radius_km 必须为正数")
	}
	if c.WorkloadBiasWeight < 0 || c.WorkloadBiasWeight > 1 {
		return fmt.Errorf("workload_bias_weight 必须位于 [0,1] 区间")
	}
	return nil
}

// Distancer 距离查询，geo.Cache 实现了该接口
type Distancer interface {
	Distance(ctx context.Context, a, b geo.Located) (float64, error)
}

// LoadModel 负载预测，predictor.Predictor 实现了该接口
type LoadModel interface {
	PairConfidence(workerID, category string) float64
	WorkloadPressure(workerID string, window model.TimeRange, capacity int) (pressure, confidence float64)
}

// UsageFunc 返回班次当前占用数
type UsageFunc func(shiftID string) int

// Scored 评分后的候选
type Scored struct {
	Candidate  selector.Candidate `json:"-"`
	WorkerID   string             `json:"worker_id"`
	ShiftID    string             `json:"shift_id"`
	Scores     model.SubScores    `json:"sub_scores"`
	Composite  float64            `json:"composite_score"`
	DistanceKm float64            `json:"distance_km"`
}

// Scorer 评分引擎
type Scorer struct {
	cfg     Config
	weights Weights
	dist    Distancer
	load    LoadModel
}

// New 创建评分引擎。权重会被归一化，综合分落在 [0,1]。
// dist 为 nil 时使用大圆距离，load 为 nil 时不使用预测。
func New(cfg Config, dist Distancer, load LoadModel) *Scorer {
	if cfg.MaxServiceRadiusKm <= 0 {
		cfg.MaxServiceRadiusKm = DefaultConfig().MaxServiceRadiusKm
	}
	w := cfg.Weights
	if sum := w.Sum(); sum > 0 {
		w = Weights{
			Specialization: w.Specialization / sum,
			Geographic:     w.Geographic / sum,
			Workload:       w.Workload / sum,
			Confidence:     w.Confidence / sum,
		}
	} else {
		w = DefaultConfig().Weights
	}
	return &Scorer{cfg: cfg, weights: w, dist: dist, load: load}
}

// Config 返回配置
func (s *Scorer) Config() Config {
	return s.cfg
}

// SpecializationScore 专业匹配分
func (s *Scorer) SpecializationScore(m selector.Match) float64 {
	switch m {
	case selector.MatchExact:
		return 1
	case selector.MatchUniversal:
		return s.cfg.UniversalScore
	default:
		return 0
	}
}

// GeographicScore 地理分：随距离单调递减，超过最大服务半径为 0
func (s *Scorer) GeographicScore(distanceKm float64) float64 {
	return clamp01(1 - distanceKm/s.cfg.MaxServiceRadiusKm)
}

// WorkloadScore 工作负载分：随 used/capacity 单调递减，再按预测压力和置信度做偏置
func (s *Scorer) WorkloadScore(used, capacity int, pressure, confidence float64) float64 {
	if capacity <= 0 {
		return 0
	}
	base := clamp01(1 - float64(used)/float64(capacity))
	bias := s.cfg.WorkloadBiasWeight * clamp01(confidence)
	return clamp01((1-bias)*base + bias*(1-clamp01(pressure)))
}

// Composite 加权综合分
func (s *Scorer) Composite(sub model.SubScores) float64 {
	return s.weights.Specialization*sub.Specialization +
		s.weights.Geographic*sub.Geographic +
		s.weights.Workload*sub.Workload +
		s.weights.Confidence*sub.Confidence
}

// anchor 班次设置了覆盖中心时以其为准，否则使用员工驻点
func anchor(c selector.Candidate) geo.Located {
	if p := c.Shift.CoverageArea.Center.Point(); !p.IsZero() {
		return geo.Located{ID: "shift:" + c.Shift.ID, Point: p}
	}
	return geo.Located{ID: "worker:" + c.Worker.ID, Point: c.Worker.Anchor.Point()}
}

func (s *Scorer) distance(ctx context.Context, req *model.ServiceRequest, c selector.Candidate) float64 {
	to := anchor(c)
	from := geo.Located{ID: "request:" + req.ID, Point: req.Location.Point()}
	if s.dist != nil {
		if d, err := s.dist.Distance(ctx, from, to); err == nil {
			return d
		}
	}
	return geo.Distance(from.Point, to.Point)
}

// Score 计算单个候选的评分
func (s *Scorer) Score(ctx context.Context, req *model.ServiceRequest, c selector.Candidate, used int) Scored {
	d := s.distance(ctx, req, c)
	sub := model.SubScores{
		Specialization: s.SpecializationScore(c.Match),
		Geographic:     s.GeographicScore(d),
	}

	pressure, pressureConf := 0.0, 0.0
	if s.load != nil {
		pressure, pressureConf = s.load.WorkloadPressure(c.Worker.ID, c.Shift.Window, c.Shift.Capacity)
		sub.Confidence = clamp01(s.load.PairConfidence(c.Worker.ID, req.Category))
	}
	sub.Workload = s.WorkloadScore(used, c.Shift.Capacity, pressure, pressureConf)

	return Scored{
		Candidate:  c,
		WorkerID:   c.Worker.ID,
		ShiftID:    c.Shift.ID,
		Scores:     sub,
		Composite:  round(s.Composite(sub)),
		DistanceKm: d,
	}
}

// Rank 为所有候选评分并排序。专业分为 0 的候选被剔除。
// usage 为 nil 时使用班次上的 CurrentRequestCount。
func (s *Scorer) Rank(ctx context.Context, req *model.ServiceRequest, cands []selector.Candidate, usage UsageFunc) []Scored {
	out := make([]Scored, 0, len(cands))
	for _, c := range cands {
		used := c.Shift.CurrentRequestCount
		if usage != nil {
			used = usage(c.Shift.ID)
		}
		sc := s.Score(ctx, req, c, used)
		if sc.Scores.Specialization <= 0 {
			continue
		}
		out = append(out, sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return Better(out[i], out[j]) })
	return out
}

// Better 排序规则：综合分降序，其次班次开始时间升序，最后候选ID升序
func Better(a, b Scored) bool {
	if a.Composite != b.Composite {
		return a.Composite > b.Composite
	}
	as, bs := a.Candidate.Shift.Window.Start, b.Candidate.Shift.Window.Start
	if !as.Equal(bs) {
		return as.Before(bs)
	}
	return a.Candidate.ID() < b.Candidate.ID()
}

// round 保留 9 位小数，避免浮点误差影响平分判定
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
