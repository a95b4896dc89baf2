package optimizer

import (
	"context"
	"sync"
)

// ParallelEvaluator 并行评估器，固定数量的工作协程评估一批个体
type ParallelEvaluator struct {
	workers int
	penalty float64
}

// NewParallelEvaluator 创建并行评估器
func NewParallelEvaluator(workers int, penalty float64) *ParallelEvaluator {
	if workers <= 0 {
		workers = 4
	}
	return &ParallelEvaluator{workers: workers, penalty: penalty}
}

// EvaluationResult 评估结果
type EvaluationResult struct {
	Index   int
	Eval    Eval
	Fitness float64
	Done    bool
}

type evalJob struct {
	index  int
	assign []int
}

// EvaluateBatch 并行评估一批分配向量。上下文取消后未评估的个体 Done 为 false。
func (e *ParallelEvaluator) EvaluateBatch(ctx context.Context, p *Problem, batch [][]int) []EvaluationResult {
	results := make([]EvaluationResult, len(batch))
	if len(batch) == 0 {
		return results
	}

	jobs := make(chan evalJob, len(batch))
	for i, a := range batch {
		jobs <- evalJob{index: i, assign: a}
	}
	close(jobs)

	workers := min(e.workers, len(batch))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if expired(ctx) {
					return
				}
				ev := p.Evaluate(job.assign)
				// 每个下标只由一个协程写入
				results[job.index] = EvaluationResult{
					Index:   job.index,
					Eval:    ev,
					Fitness: ev.Fitness(e.penalty),
					Done:    true,
				}
			}
		}()
	}
	wg.Wait()
	return results
}

// FindBest 返回适应度最高的已评估结果
func (e *ParallelEvaluator) FindBest(results []EvaluationResult) *EvaluationResult {
	var best *EvaluationResult
	for i := range results {
		if !results[i].Done {
			continue
		}
		if best == nil || results[i].Fitness > best.Fitness {
			best = &results[i]
		}
	}
	return best
}
