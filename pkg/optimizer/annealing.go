package optimizer

import (
	"context"
	"math"
	"sync"
)

// Annealing 模拟退火策略：从贪心解出发，在可行邻域内随机移动，
// 以随温度下降的概率接受更差的解
type Annealing struct {
	cfg  AnnealingConfig
	seed int64
}

// NewAnnealing 创建模拟退火策略
func NewAnnealing(cfg AnnealingConfig, seed int64) *Annealing {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().Annealing.MaxIterations
	}
	if cfg.CoolingRate <= 0 || cfg.CoolingRate >= 1 {
		cfg.CoolingRate = DefaultConfig().Annealing.CoolingRate
	}
	return &Annealing{cfg: cfg, seed: seed}
}

// Name 策略名
func (a *Annealing) Name() string { return string(KindAnnealing) }

// Propose 求解
func (a *Annealing) Propose(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	baseline := p.greedy()
	return atLeastGreedy(p, a.Refine(ctx, p, baseline), baseline), nil
}

// Refine 从给定可行解出发进行退火，返回过程中的最优解
func (a *Annealing) Refine(ctx context.Context, p *Problem, seed *Solution) *Solution {
	rng := newRand(a.seed)
	gen := NewNeighborhoodGenerator(rng)
	tabu := NewTabuList(a.cfg.TabuSize)

	cur := newState(p, seed.Assign)
	best := p.newSolution(append([]int(nil), cur.assign...), a.Name())
	temperature := a.cfg.InitialTemp
	noImprovement := 0

	iter := 0
	for ; iter < a.cfg.MaxIterations; iter++ {
		if iter%64 == 0 && expired(ctx) {
			best.TimedOut = true
			break
		}

		move, ok := gen.Generate(cur)
		if !ok {
			noImprovement++
			continue
		}

		key := move.key()
		accept := false
		switch {
		case move.Delta > 0:
			accept = true
		case !tabu.Contains(key):
			accept = rng.Float64() < boltzmannProbability(-move.Delta, temperature)
		}

		if accept {
			cur.apply(move)
			tabu.Add(key)
			if cur.score > best.Score+1e-12 {
				best = p.newSolution(append([]int(nil), cur.assign...), a.Name())
				noImprovement = 0
			} else {
				noImprovement++
			}
		} else {
			noImprovement++
		}

		if a.cfg.PlateauThreshold > 0 && noImprovement >= a.cfg.PlateauThreshold {
			break
		}
		temperature *= a.cfg.CoolingRate
		if temperature < a.cfg.MinTemp {
			temperature = a.cfg.MinTemp
		}
	}
	best.Iterations = iter
	return best
}

// boltzmannProbability 计算接受较差解的概率
// delta: 能量差 (new - old)，越小越好
func boltzmannProbability(delta, temperature float64) float64 {
	if delta <= 0 {
		return 1.0
	}
	if temperature <= 0 {
		return 0.0
	}
	return math.Exp(-delta / temperature)
}

// TabuList 禁忌表，键为移动的哈希
type TabuList struct {
	items   map[uint64]struct{}
	order   []uint64
	maxSize int
	mu      sync.RWMutex
}

// NewTabuList 创建禁忌表
func NewTabuList(size int) *TabuList {
	if size <= 0 {
		size = 1
	}
	return &TabuList{
		items:   make(map[uint64]struct{}),
		order:   make([]uint64, 0, size),
		maxSize: size,
	}
}

// Add 添加到禁忌表，超出容量时移除最旧的
func (t *TabuList) Add(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[key]; exists {
		return
	}
	if len(t.order) >= t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.items, oldest)
	}
	t.items[key] = struct{}{}
	t.order = append(t.order, key)
}

// Contains 检查是否在禁忌表中
func (t *TabuList) Contains(key uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.items[key]
	return exists
}

// Len 返回禁忌表长度
func (t *TabuList) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
