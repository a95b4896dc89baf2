package optimizer

import (
	"context"
	"math/rand"
	"sort"
)

// Genetic 遗传算法策略。个体为请求到槽位的映射，
// 适应度为综合分之和减去超容量惩罚。
type Genetic struct {
	cfg       GeneticConfig
	seed      int64
	evaluator *ParallelEvaluator
}

// NewGenetic 创建遗传算法策略
func NewGenetic(cfg GeneticConfig, workers int, seed int64) *Genetic {
	def := DefaultConfig().Genetic
	if cfg.Population < 2 {
		cfg.Population = def.Population
	}
	if cfg.Generations <= 0 {
		cfg.Generations = def.Generations
	}
	if cfg.TournamentSize < 1 {
		cfg.TournamentSize = def.TournamentSize
	}
	if cfg.Penalty <= 0 {
		cfg.Penalty = def.Penalty
	}
	if cfg.Elite >= cfg.Population {
		cfg.Elite = cfg.Population - 1
	}
	return &Genetic{cfg: cfg, seed: seed, evaluator: NewParallelEvaluator(workers, cfg.Penalty)}
}

// Name 策略名
func (g *Genetic) Name() string { return string(KindGenetic) }

// Propose 求解
func (g *Genetic) Propose(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	baseline := p.greedy()
	return atLeastGreedy(p, g.Evolve(ctx, p, baseline, g.cfg.Generations), baseline), nil
}

type individual struct {
	genes   []int
	fitness float64
}

// Evolve 以给定可行解为种子进化 generations 代，返回找到的最优可行解
func (g *Genetic) Evolve(ctx context.Context, p *Problem, seed *Solution, generations int) *Solution {
	rng := newRand(g.seed)
	best := seed.Clone()
	best.Strategy = g.Name()
	best.Iterations = 0
	if len(p.Requests) == 0 {
		return best
	}

	pop := g.initialPopulation(rng, p, seed.Assign)
	bestFitness := g.evaluate(ctx, p, pop, best)
	stale := 0

	gen := 0
	for ; gen < generations; gen++ {
		if expired(ctx) {
			best.TimedOut = true
			break
		}

		sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })
		next := make([]*individual, 0, len(pop))
		for i := 0; i < g.cfg.Elite && i < len(pop); i++ {
			next = append(next, &individual{genes: append([]int(nil), pop[i].genes...), fitness: pop[i].fitness})
		}
		for len(next) < len(pop) {
			a := g.tournament(rng, pop)
			b := g.tournament(rng, pop)
			var child []int
			if rng.Float64() < g.cfg.CrossoverRate {
				child = crossover(rng, a.genes, b.genes)
			} else {
				child = append([]int(nil), a.genes...)
			}
			g.mutate(rng, p, child)
			next = append(next, &individual{genes: child})
		}
		pop = next

		top := g.evaluate(ctx, p, pop, best)
		if top > bestFitness+1e-12 {
			bestFitness = top
			stale = 0
		} else {
			stale++
		}
		if g.cfg.ConvergenceGenerations > 0 && stale >= g.cfg.ConvergenceGenerations {
			gen++
			break
		}
	}
	if expired(ctx) {
		best.TimedOut = true
	}
	best.Iterations = gen
	return best
}

// evaluate 并行计算适应度，更新最优可行解，返回本代最高适应度。
// 适应度最高的个体若不可行，修复后的副本也参与最优解比较。
func (g *Genetic) evaluate(ctx context.Context, p *Problem, pop []*individual, best *Solution) float64 {
	batch := make([][]int, len(pop))
	for i, ind := range pop {
		batch[i] = ind.genes
	}
	results := g.evaluator.EvaluateBatch(ctx, p, batch)

	top := -1.0
	for i, res := range results {
		if !res.Done {
			pop[i].fitness = -g.cfg.Penalty * float64(len(p.Requests)+1)
			continue
		}
		pop[i].fitness = res.Fitness
		if res.Eval.Feasible() && res.Eval.Score > best.Score {
			best.Assign = append(best.Assign[:0], pop[i].genes...)
			best.Score = res.Eval.Score
			best.Assigned = res.Eval.Assigned
		}
	}
	if r := g.evaluator.FindBest(results); r != nil {
		top = r.Fitness
		if !r.Eval.Feasible() {
			fixed := append([]int(nil), pop[r.Index].genes...)
			p.repair(fixed)
			if ev := p.Evaluate(fixed); ev.Feasible() && ev.Score > best.Score {
				best.Assign = fixed
				best.Score = ev.Score
				best.Assigned = ev.Assigned
			}
		}
	}
	return top
}

// initialPopulation 种子解 + 种子变异体 + 随机化贪心构造
func (g *Genetic) initialPopulation(rng *rand.Rand, p *Problem, seed []int) []*individual {
	pop := make([]*individual, 0, g.cfg.Population)
	pop = append(pop, &individual{genes: append([]int(nil), seed...)})
	for len(pop) < g.cfg.Population {
		var genes []int
		if len(pop)%2 == 1 {
			genes = append([]int(nil), seed...)
			for r := range genes {
				if rng.Float64() < 0.2 {
					genes[r] = randomGene(rng, p, r)
				}
			}
		} else {
			genes = randomizedGreedy(rng, p)
		}
		pop = append(pop, &individual{genes: genes})
	}
	return pop
}

func (g *Genetic) tournament(rng *rand.Rand, pop []*individual) *individual {
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < g.cfg.TournamentSize; i++ {
		c := pop[rng.Intn(len(pop))]
		if c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

func (g *Genetic) mutate(rng *rand.Rand, p *Problem, genes []int) {
	for r := range genes {
		if rng.Float64() < g.cfg.MutationRate {
			genes[r] = randomGene(rng, p, r)
		}
	}
}

// crossover 均匀交叉
func crossover(rng *rand.Rand, a, b []int) []int {
	child := make([]int, len(a))
	for i := range a {
		if rng.Intn(2) == 0 {
			child[i] = a[i]
		} else {
			child[i] = b[i]
		}
	}
	return child
}

// randomGene 从请求的合格槽位中随机取一个，或不分配
func randomGene(rng *rand.Rand, p *Problem, r int) int {
	choices := p.Choices(r)
	i := rng.Intn(len(choices) + 1)
	if i == len(choices) {
		return Unassigned
	}
	return choices[i]
}

// randomizedGreedy 随机顺序处理请求，在前三个仍有容量的槽位中随机选择
func randomizedGreedy(rng *rand.Rand, p *Problem) []int {
	assign := make([]int, len(p.Requests))
	remaining := make([]int, len(p.Slots))
	for i, s := range p.Slots {
		remaining[i] = s.Capacity
	}
	for _, r := range rng.Perm(len(p.Requests)) {
		assign[r] = Unassigned
		var open []int
		for _, s := range p.Choices(r) {
			if remaining[s] > 0 {
				open = append(open, s)
				if len(open) == 3 {
					break
				}
			}
		}
		if len(open) > 0 {
			s := open[rng.Intn(len(open))]
			assign[r] = s
			remaining[s]--
		}
	}
	return assign
}
