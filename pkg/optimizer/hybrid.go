package optimizer

import "context"

// Hybrid 混合策略：以贪心解为种子，常规批次用模拟退火细化，
// 超大批次改用短程遗传，二者都在时间预算内运行
type Hybrid struct {
	cfg Config
}

// NewHybrid 创建混合策略
func NewHybrid(cfg Config) *Hybrid {
	if cfg.Hybrid.LargeBatch <= 0 {
		cfg.Hybrid.LargeBatch = DefaultConfig().Hybrid.LargeBatch
	}
	if cfg.Hybrid.ShortGenerations <= 0 {
		cfg.Hybrid.ShortGenerations = DefaultConfig().Hybrid.ShortGenerations
	}
	return &Hybrid{cfg: cfg}
}

// Name 策略名
func (h *Hybrid) Name() string { return string(KindHybrid) }

// Propose 求解
func (h *Hybrid) Propose(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	baseline := p.greedy()

	var refined *Solution
	if len(p.Requests) > h.cfg.Hybrid.LargeBatch {
		refined = NewGenetic(h.cfg.Genetic, h.cfg.Workers, h.cfg.Seed).
			Evolve(ctx, p, baseline, h.cfg.Hybrid.ShortGenerations)
	} else {
		refined = NewAnnealing(h.cfg.Annealing, h.cfg.Seed).Refine(ctx, p, baseline)
	}
	refined.Strategy = h.Name()
	out := atLeastGreedy(p, refined, baseline)
	out.Strategy = h.Name()
	return out, nil
}
