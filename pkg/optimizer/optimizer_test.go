package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

var t0 = time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Budget = 5 * time.Second
	return cfg
}

// batchProblem 构造 n 个请求、m 个槽位（每个容量 capacity）的随机问题，约 80% 的组合合格
func batchProblem(n, m, capacity int, seed int64) *Problem {
	rng := rand.New(rand.NewSource(seed))
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{
			ID:        fmt.Sprintf("r%02d", i),
			Urgency:   model.Urgency(1 + rng.Intn(4)),
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}
	}
	slots := make([]Slot, m)
	for j := range slots {
		slots[j] = Slot{ID: fmt.Sprintf("w%02d/s%02d", j, j), Capacity: capacity, Start: t0.Add(time.Duration(j%3) * time.Hour)}
	}
	p := NewProblem(reqs, slots)
	for i := range reqs {
		for j := range slots {
			if rng.Float64() < 0.8 {
				p.SetScore(i, j, rng.Float64())
			}
		}
	}
	return p
}

func requireFeasible(t *testing.T, p *Problem, sol *Solution) {
	t.Helper()
	require.Len(t, sol.Assign, len(p.Requests))
	load := p.Load(sol.Assign)
	for s, n := range load {
		require.LessOrEqual(t, n, p.Slots[s].Capacity, "槽位 %s 超出容量", p.Slots[s].ID)
	}
	for r, s := range sol.Assign {
		if s != Unassigned {
			require.True(t, p.Eligible(r, s))
		}
	}
	ev := p.Evaluate(sol.Assign)
	require.True(t, ev.Feasible())
	require.InDelta(t, ev.Score, sol.Score, 1e-9)
}

func TestSelect(t *testing.T) {
	cfg := DefaultConfig().Selection
	tests := []struct {
		name string
		meta BatchMeta
		want Kind
	}{
		{"单个请求", BatchMeta{Size: 1, Intent: IntentBatch}, KindGreedy},
		{"交互式大批次", BatchMeta{Size: 50, Intent: IntentInteractive}, KindGreedy},
		{"小批次", BatchMeta{Size: 5, Intent: IntentBatch}, KindGreedy},
		{"中等批次", BatchMeta{Size: 12, Intent: IntentBatch}, KindAnnealing},
		{"常规生产批次", BatchMeta{Size: 50, Intent: IntentBatch}, KindHybrid},
		{"季度重排", BatchMeta{Size: 50, Intent: IntentReplan}, KindGenetic},
		{"季度重排小批次", BatchMeta{Size: 3, Intent: IntentReplan}, KindGreedy},
		{"未指定意图", BatchMeta{Size: 50}, KindHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Select(tt.meta, cfg))
		})
	}
}

func TestGreedyDeterministicAndUrgencyFirst(t *testing.T) {
	reqs := []Request{
		{ID: "low", Urgency: model.UrgencyLow, CreatedAt: t0},
		{ID: "critical", Urgency: model.UrgencyCritical, CreatedAt: t0.Add(time.Minute)},
	}
	slots := []Slot{
		{ID: "b", Capacity: 1, Start: t0.Add(time.Hour)},
		{ID: "a", Capacity: 1, Start: t0.Add(time.Hour)},
		{ID: "c", Capacity: 1, Start: t0},
	}
	p := NewProblem(reqs, slots)
	for r := range reqs {
		for s := range slots {
			p.SetScore(r, s, 0.7)
		}
	}

	first, err := Greedy{}.Propose(context.Background(), p)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Greedy{}.Propose(context.Background(), p)
		require.NoError(t, err)
		require.Equal(t, first.Assign, again.Assign)
	}
	// 紧急请求先选，同分取最早开始的班次，其次按ID
	require.Equal(t, 2, first.Assign[1])
	require.Equal(t, 1, first.Assign[0])
}

func TestGreedyLeavesUnassignedWhenFull(t *testing.T) {
	p := NewProblem(
		[]Request{{ID: "r1", Urgency: model.UrgencyHigh}, {ID: "r2", Urgency: model.UrgencyNormal}},
		[]Slot{{ID: "s1", Capacity: 1}},
	)
	p.SetScore(0, 0, 0.5)
	p.SetScore(1, 0, 0.9)

	sol, err := Greedy{}.Propose(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, []int{0, Unassigned}, sol.Assign)
	require.Equal(t, []int{1}, sol.UnassignedRequests())
}

func TestBatchOfFiftyAcrossTenWorkers(t *testing.T) {
	p := batchProblem(50, 10, 5, 7)
	meta := BatchMeta{Size: 50, Intent: IntentBatch}
	require.Equal(t, KindHybrid, Select(meta, DefaultConfig().Selection))

	sol, err := Run(context.Background(), p, meta, testConfig())
	require.NoError(t, err)
	require.Equal(t, string(KindHybrid), sol.Strategy)
	requireFeasible(t, p, sol)
	require.LessOrEqual(t, sol.Assigned, 50)
	require.GreaterOrEqual(t, sol.Score, p.greedy().Score)
}

func TestStrategiesNeverBelowGreedy(t *testing.T) {
	cfg := testConfig()
	strategies := []Strategy{
		Greedy{},
		NewAnnealing(cfg.Annealing, cfg.Seed),
		NewGenetic(cfg.Genetic, cfg.Workers, cfg.Seed),
		NewHybrid(cfg),
	}
	for seed := int64(1); seed <= 3; seed++ {
		p := batchProblem(30, 8, 3, seed)
		baseline := p.greedy().Score
		for _, s := range strategies {
			t.Run(fmt.Sprintf("%s/%d", s.Name(), seed), func(t *testing.T) {
				sol, err := s.Propose(context.Background(), p)
				require.NoError(t, err)
				requireFeasible(t, p, sol)
				require.GreaterOrEqual(t, sol.Score, baseline)
			})
		}
	}
}

func TestSearchImprovesOnGreedyTrap(t *testing.T) {
	// 贪心让紧急请求占用了另一请求唯一可用的槽位
	p := NewProblem(
		[]Request{{ID: "urgent", Urgency: model.UrgencyCritical}, {ID: "normal", Urgency: model.UrgencyNormal}},
		[]Slot{{ID: "s1", Capacity: 1}, {ID: "s2", Capacity: 1}},
	)
	p.SetScore(0, 0, 0.9)
	p.SetScore(0, 1, 0.85)
	p.SetScore(1, 0, 0.8)

	greedy := p.greedy()
	require.InDelta(t, 0.9, greedy.Score, 1e-9)

	cfg := testConfig()
	for _, s := range []Strategy{NewAnnealing(cfg.Annealing, cfg.Seed), NewGenetic(cfg.Genetic, 2, cfg.Seed), NewHybrid(cfg)} {
		sol, err := s.Propose(context.Background(), p)
		require.NoError(t, err)
		require.InDelta(t, 1.65, sol.Score, 1e-9, s.Name())
		require.Equal(t, []int{1, 0}, sol.Assign)
	}
}

func TestCancelledRunReturnsBestSoFar(t *testing.T) {
	p := batchProblem(60, 10, 5, 11)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	for _, s := range []Strategy{NewAnnealing(cfg.Annealing, cfg.Seed), NewGenetic(cfg.Genetic, cfg.Workers, cfg.Seed), NewHybrid(cfg)} {
		sol, err := s.Propose(ctx, p)
		require.NoError(t, err)
		require.True(t, sol.TimedOut, s.Name())
		require.Equal(t, apperrors.CodeOptimizationTimeout, sol.Warning().Code, s.Name())
		requireFeasible(t, p, sol)
		require.GreaterOrEqual(t, sol.Score, p.greedy().Score)
	}
}

func TestWarningOnlyWhenTimedOut(t *testing.T) {
	sol := &Solution{Strategy: "annealing", Iterations: 12}
	require.Nil(t, sol.Warning())

	sol.TimedOut = true
	warn := sol.Warning()
	require.Equal(t, apperrors.CodeOptimizationTimeout, warn.Code)
	require.Equal(t, "annealing", warn.Fields["strategy"])
	require.True(t, apperrors.IsRecoverable(warn))
}

func TestBudgetIsHonoured(t *testing.T) {
	p := batchProblem(300, 40, 5, 3)
	cfg := testConfig()
	cfg.Budget = 50 * time.Millisecond
	cfg.Annealing.MaxIterations = 1 << 30
	cfg.Annealing.PlateauThreshold = 0

	start := time.Now()
	sol, err := Run(context.Background(), p, BatchMeta{Size: 150, Intent: IntentBatch}, cfg)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	requireFeasible(t, p, sol)
}

func TestRepair(t *testing.T) {
	p := NewProblem(
		[]Request{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		[]Slot{{ID: "s1", Capacity: 1}, {ID: "s2", Capacity: 1}},
	)
	p.SetScore(0, 0, 0.9)
	p.SetScore(1, 0, 0.5)
	p.SetScore(1, 1, 0.4)
	p.SetScore(2, 0, 0.3)

	assign := []int{0, 0, 1}
	require.False(t, p.Evaluate(assign).Feasible())
	p.repair(assign)
	require.True(t, p.Evaluate(assign).Feasible())
	require.Equal(t, []int{0, 1, Unassigned}, assign)
}

func TestParallelEvaluator(t *testing.T) {
	p := batchProblem(10, 3, 2, 5)
	batch := [][]int{p.greedy().Assign, make([]int, 10)}
	ev := NewParallelEvaluator(3, 10)
	results := ev.EvaluateBatch(context.Background(), p, batch)
	require.Len(t, results, 2)
	for i, r := range results {
		require.True(t, r.Done)
		require.Equal(t, i, r.Index)
	}
	// 全部分配到槽位 0 必然超容量
	require.Greater(t, results[1].Eval.Overflow+results[1].Eval.Ineligible, 0)
	require.Equal(t, 0, ev.FindBest(results).Index)
}

func TestTabuListAndBoltzmann(t *testing.T) {
	tl := NewTabuList(2)
	tl.Add(1)
	tl.Add(2)
	tl.Add(2)
	tl.Add(3)
	require.Equal(t, 2, tl.Len())
	require.False(t, tl.Contains(1))
	require.True(t, tl.Contains(3))

	require.Equal(t, 1.0, boltzmannProbability(-1, 1))
	require.Zero(t, boltzmannProbability(1, 0))
	require.Greater(t, boltzmannProbability(0.1, 1), boltzmannProbability(0.1, 0.1))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	p := NewProblem([]Request{{ID: "r"}}, []Slot{{ID: "s", Capacity: 1}})
	p.Scores = p.Scores[:0]
	_, err := Greedy{}.Propose(context.Background(), p)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Selection.AnnealingMaxBatch = 1
	require.Error(t, cfg.Validate())
}
