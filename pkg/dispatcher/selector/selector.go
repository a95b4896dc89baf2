// Package selector 为服务请求筛选可用的（员工, 班次）候选。
//
// 专业完全匹配的员工优先于通用兜底员工；没有候选不是错误，
// 调用方据此将请求放入待分配队列。
package selector

import (
	"sort"

	"github.com/paiban/dispatch/pkg/model"
)

// Match 专业匹配程度
type Match int

const (
	MatchNone      Match = iota
	MatchUniversal       // 通用兜底
	MatchExact           // 具备全部所需专业
)

// String 返回匹配程度名称
func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchUniversal:
		return "universal"
	default:
		return "none"
	}
}

// MatchFor 计算员工对请求的专业匹配程度
func MatchFor(req *model.ServiceRequest, w *model.Worker) Match {
	if w.CoversAll(req.RequiredSpecializations) {
		return MatchExact
	}
	if w.IsUniversal() {
		return MatchUniversal
	}
	return MatchNone
}

// Candidate 候选（员工, 班次）
type Candidate struct {
	Worker *model.Worker
	Shift  *model.Shift
	Match  Match
}

// ID 候选标识，用于确定性排序
func (c Candidate) ID() string {
	return c.Worker.ID + "/" + c.Shift.ID
}

// Pool 候选池快照。实体之间只通过ID关联。
type Pool struct {
	Workers []*model.Worker
	Shifts  []*model.Shift
}

// Options 筛选选项
type Options struct {
	ExcludeShifts  []string // 排除的班次（容量冲突后重选、转派跳过已尝试班次）
	ExcludeWorkers []string // 排除的员工（转派时排除原员工）
	ExactOnly      bool     // 不接受通用兜底
}

// Result 筛选结果
type Result struct {
	Candidates []Candidate
	Rejections map[string]int // 约束名 → 被淘汰的组合数
}

// Empty 检查是否没有候选
func (r Result) Empty() bool {
	return len(r.Candidates) == 0
}

// Reason 返回淘汰最多的原因，用于记录待分配原因
func (r Result) Reason() string {
	best, n := "no_staffed_shift", 0
	for name, c := range r.Rejections {
		if c > n || (c == n && name < best) {
			best, n = name, c
		}
	}
	return best
}

// Selector 候选筛选器，只读，可并发调用
type Selector struct {
	filters []Filter
}

// New 创建筛选器
func New(capacity CapacitySource) *Selector {
	return &Selector{filters: DefaultFilters(capacity)}
}

// NewWithFilters 使用自定义约束创建筛选器
func NewWithFilters(filters []Filter) *Selector {
	return &Selector{filters: filters}
}

// Select 筛选候选，结果按员工ID、班次ID排序
func (s *Selector) Select(req *model.ServiceRequest, pool Pool, opts Options) Result {
	res := Result{Rejections: make(map[string]int)}
	if req == nil {
		return res
	}

	workers := make(map[string]*model.Worker, len(pool.Workers))
	for _, w := range pool.Workers {
		workers[w.ID] = w
	}

	for _, sh := range pool.Shifts {
		if !sh.IsStaffed() || model.ContainsString(opts.ExcludeShifts, sh.ID) {
			continue
		}
		w, ok := workers[sh.WorkerID]
		if !ok || model.ContainsString(opts.ExcludeWorkers, w.ID) {
			continue
		}

		match := MatchFor(req, w)
		if match == MatchNone || (opts.ExactOnly && match != MatchExact) {
			res.Rejections["specialization_mismatch"]++
			continue
		}

		passed := true
		for _, f := range s.filters {
			if !f.Check(req, w, sh) {
				res.Rejections[f.Name()]++
				passed = false
				break
			}
		}
		if passed {
			res.Candidates = append(res.Candidates, Candidate{Worker: w, Shift: sh, Match: match})
		}
	}

	sort.Slice(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.Worker.ID != b.Worker.ID {
			return a.Worker.ID < b.Worker.ID
		}
		return a.Shift.ID < b.Shift.ID
	})
	return res
}
