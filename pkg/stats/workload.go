// Package stats 提供派单负载与班次覆盖统计
package stats

import (
	"math"
	"sort"

	"github.com/paiban/dispatch/pkg/model"
)

// WorkloadMetrics 负载公平性指标
type WorkloadMetrics struct {
	LoadGini        float64        `json:"load_gini"` // 0=完全均衡, 1=完全集中
	LoadVariance    float64        `json:"load_variance"`
	LoadStdDev      float64        `json:"load_std_dev"`
	AvgLoad         float64        `json:"avg_load"`
	MaxLoad         float64        `json:"max_load"`
	MinLoad         float64        `json:"min_load"`
	LoadRange       float64        `json:"load_range"`
	UtilizationGini float64        `json:"utilization_gini"`
	AutoAssignRatio float64        `json:"auto_assign_ratio"`
	StrategyCounts  map[string]int `json:"strategy_counts"`
	Workers         []WorkerLoad   `json:"workers"`
	OverallFairness float64        `json:"overall_fairness_score"` // 0-100
}

// WorkerLoad 单个员工的负载
type WorkerLoad struct {
	WorkerID    string  `json:"worker_id"`
	Name        string  `json:"name,omitempty"`
	Active      int     `json:"active"`
	Completed   int     `json:"completed"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"` // 活跃分配/容量 (%)
	AvgScore    float64 `json:"avg_score"`
	Deviation   float64 `json:"deviation"` // 与平均负载的偏差 (%)
}

// WorkloadAnalyzer 负载公平性分析器
type WorkloadAnalyzer struct {
	loadWeight        float64
	utilizationWeight float64
	cvWeight          float64
}

// NewWorkloadAnalyzer 创建负载分析器
func NewWorkloadAnalyzer() *WorkloadAnalyzer {
	return &WorkloadAnalyzer{loadWeight: 0.5, utilizationWeight: 0.3, cvWeight: 0.2}
}

// Analyze 统计员工负载分布。workers 中未出现分配的在岗员工按零负载计入。
func (a *WorkloadAnalyzer) Analyze(assignments []*model.ShiftAssignment, shifts []*model.Shift, workers []*model.Worker) *WorkloadMetrics {
	m := &WorkloadMetrics{StrategyCounts: make(map[string]int)}

	loads := make(map[string]*WorkerLoad)
	scoreSums := make(map[string]float64)
	get := func(id string) *WorkerLoad {
		wl, ok := loads[id]
		if !ok {
			wl = &WorkerLoad{WorkerID: id}
			loads[id] = wl
		}
		return wl
	}
	for _, w := range workers {
		if w.Active {
			get(w.ID).Name = w.Name
		}
	}
	for _, s := range shifts {
		if s.IsStaffed() && s.Status != model.ShiftCancelled {
			get(s.WorkerID).Capacity += s.Capacity
		}
	}

	auto, counted := 0, 0
	for _, as := range assignments {
		if as.Status == model.AssignmentRejected || as.WorkerID == "" {
			continue
		}
		wl := get(as.WorkerID)
		if as.Status == model.AssignmentCompleted {
			wl.Completed++
		} else {
			wl.Active++
		}
		scoreSums[as.WorkerID] += as.CompositeScore
		counted++
		if as.AutoAssigned {
			auto++
		}
		if as.Strategy != "" {
			m.StrategyCounts[as.Strategy]++
		}
	}
	if counted > 0 {
		m.AutoAssignRatio = float64(auto) / float64(counted)
	}
	if len(loads) == 0 {
		m.OverallFairness = 100
		return m
	}

	ids := make([]string, 0, len(loads))
	for id := range loads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([]float64, 0, len(ids))
	utils := make([]float64, 0, len(ids))
	for _, id := range ids {
		wl := loads[id]
		total := wl.Active + wl.Completed
		if total > 0 {
			wl.AvgScore = scoreSums[id] / float64(total)
		}
		if wl.Capacity > 0 {
			wl.Utilization = float64(wl.Active) / float64(wl.Capacity) * 100
			utils = append(utils, wl.Utilization)
		}
		values = append(values, float64(total))
	}

	m.AvgLoad = mean(values)
	m.LoadVariance = variance(values, m.AvgLoad)
	m.LoadStdDev = math.Sqrt(m.LoadVariance)
	m.MaxLoad, m.MinLoad = valueRange(values)
	m.LoadRange = m.MaxLoad - m.MinLoad
	m.LoadGini = gini(values)
	m.UtilizationGini = gini(utils)

	m.Workers = make([]WorkerLoad, 0, len(ids))
	for i, id := range ids {
		wl := loads[id]
		if m.AvgLoad > 0 {
			wl.Deviation = (values[i] - m.AvgLoad) / m.AvgLoad * 100
		}
		m.Workers = append(m.Workers, *wl)
	}
	m.OverallFairness = a.overallScore(m)
	return m
}

// Compare 比较两组分配的公平性差异，正值表示 after 更集中
func (a *WorkloadAnalyzer) Compare(before, after *WorkloadMetrics) map[string]float64 {
	return map[string]float64{
		"load_gini_diff":        after.LoadGini - before.LoadGini,
		"utilization_gini_diff": after.UtilizationGini - before.UtilizationGini,
		"overall_score_diff":    after.OverallFairness - before.OverallFairness,
		"before_overall_score":  before.OverallFairness,
		"after_overall_score":   after.OverallFairness,
	}
}

func (a *WorkloadAnalyzer) overallScore(m *WorkloadMetrics) float64 {
	cvScore := 100.0
	if m.AvgLoad > 0 {
		cvScore = math.Max(0, 100-m.LoadStdDev/m.AvgLoad*200)
	}
	score := a.loadWeight*(1-m.LoadGini)*100 +
		a.utilizationWeight*(1-m.UtilizationGini)*100 +
		a.cvWeight*cvScore
	return math.Max(0, math.Min(100, score))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

func valueRange(values []float64) (max, min float64) {
	if len(values) == 0 {
		return 0, 0
	}
	max, min = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return max, min
}

// gini 基尼系数，输入为非负值
func gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}
	g := 0.0
	for i, v := range sorted {
		g += (2*float64(i+1) - float64(n) - 1) * v
	}
	g /= float64(n) * sum
	return math.Max(0, math.Min(1, g))
}
