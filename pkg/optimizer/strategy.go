package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Strategy 优化策略
type Strategy interface {
	Name() string
	Propose(ctx context.Context, p *Problem) (*Solution, error)
}

// Kind 策略类型
type Kind string

const (
	KindGreedy    Kind = "greedy"
	KindGenetic   Kind = "genetic"
	KindAnnealing Kind = "annealing"
	KindHybrid    Kind = "hybrid"
)

// Intent 调用方意图
type Intent string

const (
	IntentInteractive Intent = "interactive" // 单个请求的即时分配
	IntentBatch       Intent = "batch"       // 常规批量
	IntentReplan      Intent = "replan"      // 季度重排，质量优先
)

// BatchMeta 批次元数据
type BatchMeta struct {
	Size   int
	Intent Intent
}

// SelectionConfig 策略选择阈值
type SelectionConfig struct {
	GreedyMaxBatch    int `yaml:"greedy_max_batch" json:"greedy_max_batch"`
	AnnealingMaxBatch int `yaml:"annealing_max_batch" json:"annealing_max_batch"`
}

// AnnealingConfig 模拟退火配置
type AnnealingConfig struct {
	InitialTemp      float64 `yaml:"initial_temp" json:"initial_temp"`
	CoolingRate      float64 `yaml:"cooling_rate" json:"cooling_rate"`
	MinTemp          float64 `yaml:"min_temp" json:"min_temp"`
	MaxIterations    int     `yaml:"max_iterations" json:"max_iterations"`
	TabuSize         int     `yaml:"tabu_size" json:"tabu_size"`
	PlateauThreshold int     `yaml:"plateau_threshold" json:"plateau_threshold"` // 无改进迭代次数
}

// GeneticConfig 遗传算法配置
type GeneticConfig struct {
	Population             int     `yaml:"population" json:"population"`
	Generations            int     `yaml:"generations" json:"generations"`
	CrossoverRate          float64 `yaml:"crossover_rate" json:"crossover_rate"`
	MutationRate           float64 `yaml:"mutation_rate" json:"mutation_rate"`
	Elite                  int     `yaml:"elite" json:"elite"`
	TournamentSize         int     `yaml:"tournament_size" json:"tournament_size"`
	ConvergenceGenerations int     `yaml:"convergence_generations" json:"convergence_generations"`
	Penalty                float64 `yaml:"penalty" json:"penalty"`
	ReplanPopulation       int     `yaml:"replan_population" json:"replan_population"`
	ReplanGenerations      int     `yaml:"replan_generations" json:"replan_generations"`
}

// HybridConfig 混合策略配置
type HybridConfig struct {
	LargeBatch       int `yaml:"large_batch" json:"large_batch"`             // 超过该规模改用短程遗传
	ShortGenerations int `yaml:"short_generations" json:"short_generations"` // 短程遗传代数
}

// Config 优化器配置
type Config struct {
	Selection SelectionConfig `yaml:"selection" json:"selection"`
	Budget    time.Duration   `yaml:"budget" json:"budget"` // 批量优化的时间预算
	Seed      int64           `yaml:"seed" json:"seed"`     // 0 表示按时间取种子
	Workers   int             `yaml:"workers" json:"workers"`
	Annealing AnnealingConfig `yaml:"annealing" json:"annealing"`
	Genetic   GeneticConfig   `yaml:"genetic" json:"genetic"`
	Hybrid    HybridConfig    `yaml:"hybrid" json:"hybrid"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Selection: SelectionConfig{GreedyMaxBatch: 5, AnnealingMaxBatch: 20},
		Budget:    2 * time.Second,
		Workers:   4,
		Annealing: AnnealingConfig{
			InitialTemp:      0.5,
			CoolingRate:      0.995,
			MinTemp:          1e-4,
			MaxIterations:    20000,
			TabuSize:         64,
			PlateauThreshold: 3000,
		},
		Genetic: GeneticConfig{
			Population:             40,
			Generations:            150,
			CrossoverRate:          0.85,
			MutationRate:           0.05,
			Elite:                  2,
			TournamentSize:         3,
			ConvergenceGenerations: 30,
			Penalty:                10,
			ReplanPopulation:       120,
			ReplanGenerations:      400,
		},
		Hybrid: HybridConfig{LargeBatch: 200, ShortGenerations: 40},
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Selection.GreedyMaxBatch < 1 || c.Selection.AnnealingMaxBatch < c.Selection.GreedyMaxBatch {
		return fmt.Errorf("策略阈值无效: greedy_max_batch=%d annealing_max_batch=%d",
			c.Selection.GreedyMaxBatch, c.Selection.AnnealingMaxBatch)
	}
	if c.Annealing.CoolingRate <= 0 || c.Annealing.CoolingRate >= 1 {
		return fmt.Errorf("cooling_rate 必须位于 (0,1) 区间")
	}
	if c.Genetic.Population < 2 {
		return fmt.Errorf("遗传种群至少为 2")
	}
	if c.Genetic.MutationRate < 0 || c.Genetic.MutationRate > 1 ||
		c.Genetic.CrossoverRate < 0 || c.Genetic.CrossoverRate > 1 {
		return fmt.Errorf("交叉率与变异率必须位于 [0,1] 区间")
	}
	return nil
}

// Select 根据批次规模与调用方意图选择策略，纯函数
func Select(meta BatchMeta, cfg SelectionConfig) Kind {
	switch {
	case meta.Intent == IntentInteractive || meta.Size <= 1:
		return KindGreedy
	case meta.Size <= cfg.GreedyMaxBatch:
		return KindGreedy
	case meta.Intent == IntentReplan:
		return KindGenetic
	case meta.Size <= cfg.AnnealingMaxBatch:
		return KindAnnealing
	default:
		return KindHybrid
	}
}

// New 按类型创建策略
func New(kind Kind, cfg Config, intent Intent) Strategy {
	switch kind {
	case KindGenetic:
		gc := cfg.Genetic
		if intent == IntentReplan {
			gc.Population = max(gc.Population, gc.ReplanPopulation)
			gc.Generations = max(gc.Generations, gc.ReplanGenerations)
		}
		return NewGenetic(gc, cfg.Workers, cfg.Seed)
	case KindAnnealing:
		return NewAnnealing(cfg.Annealing, cfg.Seed)
	case KindHybrid:
		return NewHybrid(cfg)
	default:
		return Greedy{}
	}
}

// Run 选择策略并在时间预算内求解。超出预算或被取消时返回当前最优方案，
// 并将 TimedOut 置位，由调用方记录。返回的方案不低于贪心基线。
func Run(ctx context.Context, p *Problem, meta BatchMeta, cfg Config) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	kind := Select(meta, cfg.Selection)
	strategy := New(kind, cfg, meta.Intent)

	if kind != KindGreedy && cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Budget)
		defer cancel()
	}

	return strategy.Propose(ctx, p)
}

// atLeastGreedy 返回候选方案与贪心基线中得分更高者
func atLeastGreedy(p *Problem, sol *Solution, baseline *Solution) *Solution {
	if sol == nil || !p.Evaluate(sol.Assign).Feasible() || sol.Score < baseline.Score {
		out := baseline.Clone()
		if sol != nil {
			out.Strategy = sol.Strategy
			out.Iterations = sol.Iterations
			out.TimedOut = sol.TimedOut
		}
		return out
	}
	return sol
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// expired 检查上下文是否已结束
func expired(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
