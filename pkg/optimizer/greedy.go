package optimizer

import "context"

// Greedy 贪心策略：按紧急程度降序处理请求，每个请求取评分最高且仍有容量的槽位
type Greedy struct{}

// Name 策略名
func (Greedy) Name() string { return string(KindGreedy) }

// Propose 求解。结果是确定性的：同分时按班次开始时间、槽位ID取舍。
func (g Greedy) Propose(_ context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p.greedy(), nil
}

// greedy 计算贪心基线
func (p *Problem) greedy() *Solution {
	assign := make([]int, len(p.Requests))
	for i := range assign {
		assign[i] = Unassigned
	}
	remaining := make([]int, len(p.Slots))
	for i, s := range p.Slots {
		remaining[i] = s.Capacity
	}

	for _, r := range p.UrgencyOrder() {
		for _, s := range p.Choices(r) {
			if remaining[s] > 0 {
				assign[r] = s
				remaining[s]--
				break
			}
		}
	}
	return p.newSolution(assign, string(KindGreedy))
}
