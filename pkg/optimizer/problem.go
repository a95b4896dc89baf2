// Package optimizer 求解批量分配问题：在班次容量与专业资格两项硬约束下，
// 将一批请求分配到（员工, 班次）槽位，使综合分之和最大。
//
// 提供贪心、遗传、模拟退火与混合四种策略，均实现 Strategy 接口。
// 任何策略返回的方案都满足约束，且不低于同一批次的贪心基线。
package optimizer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

// Unassigned 表示请求未分配
const Unassigned = -1

// Request 批次中的请求
type Request struct {
	ID        string
	Urgency   model.Urgency
	CreatedAt time.Time
}

// Slot 可分配的槽位（一个班次的剩余容量）
type Slot struct {
	ID       string
	ShiftID  string
	WorkerID string
	Capacity int // 剩余容量
	Start    time.Time
}

// Problem 批量分配问题。Scores[r][s] < 0 表示请求 r 无资格分配到槽位 s。
type Problem struct {
	Requests []Request
	Slots    []Slot
	Scores   [][]float64

	once    sync.Once
	choices [][]int // 每个请求的合格槽位，按评分降序
}

// NewProblem 创建问题，所有组合初始为不合格
func NewProblem(requests []Request, slots []Slot) *Problem {
	scores := make([][]float64, len(requests))
	for i := range scores {
		row := make([]float64, len(slots))
		for j := range row {
			row[j] = -1
		}
		scores[i] = row
	}
	return &Problem{Requests: requests, Slots: slots, Scores: scores}
}

// SetScore 设置请求与槽位的综合分
func (p *Problem) SetScore(r, s int, score float64) {
	p.Scores[r][s] = score
}

// Validate 检查问题维度
func (p *Problem) Validate() error {
	if len(p.Scores) != len(p.Requests) {
		return fmt.Errorf("评分矩阵行数 %d 与请求数 %d 不一致", len(p.Scores), len(p.Requests))
	}
	for i, row := range p.Scores {
		if len(row) != len(p.Slots) {
			return fmt.Errorf("请求 %d 的评分列数 %d 与槽位数 %d 不一致", i, len(row), len(p.Slots))
		}
	}
	for _, s := range p.Slots {
		if s.Capacity < 0 {
			return fmt.Errorf("槽位 %s 容量为负", s.ID)
		}
	}
	return nil
}

// Eligible 检查请求是否可分配到槽位
func (p *Problem) Eligible(r, s int) bool {
	return s >= 0 && s < len(p.Slots) && p.Scores[r][s] >= 0
}

// slotLess 同分时按班次开始时间、槽位ID排序
func (p *Problem) slotLess(r, a, b int) bool {
	sa, sb := p.Scores[r][a], p.Scores[r][b]
	if sa != sb {
		return sa > sb
	}
	ta, tb := p.Slots[a].Start, p.Slots[b].Start
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return p.Slots[a].ID < p.Slots[b].ID
}

// Choices 返回请求的合格槽位（按优先级排序），结果只读
func (p *Problem) Choices(r int) []int {
	p.once.Do(func() {
		p.choices = make([][]int, len(p.Requests))
		for i := range p.Requests {
			var cs []int
			for j := range p.Slots {
				if p.Scores[i][j] >= 0 {
					cs = append(cs, j)
				}
			}
			ri := i
			sort.SliceStable(cs, func(a, b int) bool { return p.slotLess(ri, cs[a], cs[b]) })
			p.choices[i] = cs
		}
	})
	return p.choices[r]
}

// UrgencyOrder 按紧急程度降序、创建时间升序、ID升序返回请求下标
func (p *Problem) UrgencyOrder() []int {
	order := make([]int, len(p.Requests))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := p.Requests[order[a]], p.Requests[order[b]]
		if ra.Urgency != rb.Urgency {
			return ra.Urgency > rb.Urgency
		}
		if !ra.CreatedAt.Equal(rb.CreatedAt) {
			return ra.CreatedAt.Before(rb.CreatedAt)
		}
		return ra.ID < rb.ID
	})
	return order
}

// Eval 方案评估结果
type Eval struct {
	Score      float64
	Assigned   int
	Overflow   int // 超出容量的分配数
	Ineligible int // 不合格的分配数
}

// Feasible 检查是否满足全部硬约束
func (e Eval) Feasible() bool {
	return e.Overflow == 0 && e.Ineligible == 0
}

// Fitness 带惩罚的适应度
func (e Eval) Fitness(penalty float64) float64 {
	return e.Score - penalty*float64(e.Overflow+e.Ineligible)
}

// Evaluate 评估分配向量
func (p *Problem) Evaluate(assign []int) Eval {
	var ev Eval
	load := make([]int, len(p.Slots))
	for r, s := range assign {
		if s == Unassigned {
			continue
		}
		if !p.Eligible(r, s) {
			ev.Ineligible++
			continue
		}
		load[s]++
		ev.Assigned++
		ev.Score += p.Scores[r][s]
	}
	for s, n := range load {
		if over := n - p.Slots[s].Capacity; over > 0 {
			ev.Overflow += over
		}
	}
	return ev
}

// Load 计算每个槽位的占用
func (p *Problem) Load(assign []int) []int {
	load := make([]int, len(p.Slots))
	for _, s := range assign {
		if s >= 0 && s < len(load) {
			load[s]++
		}
	}
	return load
}

// Solution 方案
type Solution struct {
	Assign     []int   `json:"assign"`
	Score      float64 `json:"score"`
	Assigned   int     `json:"assigned"`
	Strategy   string  `json:"strategy"`
	Iterations int     `json:"iterations"`
	TimedOut   bool    `json:"timed_out"`
}

// Warning 超出预算时返回 OptimizationTimeout，此时方案是当前最优解而非收敛解
func (s *Solution) Warning() *apperrors.AppError {
	if !s.TimedOut {
		return nil
	}
	return apperrors.OptimizationTimeout(s.Strategy, s.Iterations)
}

// Clone 深拷贝
func (s *Solution) Clone() *Solution {
	c := *s
	c.Assign = append([]int(nil), s.Assign...)
	return &c
}

// newSolution 由可行的分配向量构造方案
func (p *Problem) newSolution(assign []int, strategy string) *Solution {
	ev := p.Evaluate(assign)
	return &Solution{Assign: assign, Score: ev.Score, Assigned: ev.Assigned, Strategy: strategy}
}

// Unassigned 返回未分配的请求下标
func (s *Solution) UnassignedRequests() []int {
	var out []int
	for r, slot := range s.Assign {
		if slot == Unassigned {
			out = append(out, r)
		}
	}
	return out
}

// repair 修复分配向量：撤销不合格与超容量的分配（保留评分高者），再贪心补齐空位
func (p *Problem) repair(assign []int) {
	load := make([]int, len(p.Slots))
	order := p.UrgencyOrder()

	// 按槽位内评分降序保留
	bySlot := make(map[int][]int)
	for r, s := range assign {
		if s == Unassigned {
			continue
		}
		if !p.Eligible(r, s) {
			assign[r] = Unassigned
			continue
		}
		bySlot[s] = append(bySlot[s], r)
	}
	for s, rs := range bySlot {
		sort.SliceStable(rs, func(a, b int) bool {
			if p.Scores[rs[a]][s] != p.Scores[rs[b]][s] {
				return p.Scores[rs[a]][s] > p.Scores[rs[b]][s]
			}
			return rs[a] < rs[b]
		})
		for i, r := range rs {
			if i < p.Slots[s].Capacity {
				load[s]++
			} else {
				assign[r] = Unassigned
			}
		}
	}

	for _, r := range order {
		if assign[r] != Unassigned {
			continue
		}
		for _, s := range p.Choices(r) {
			if load[s] < p.Slots[s].Capacity {
				assign[r] = s
				load[s]++
				break
			}
		}
	}
}
