package optimizer

import (
	"encoding/binary"
	"math/rand"

	"github.com/zeebo/xxh3"
)

// MoveType 邻域移动类型
type MoveType int

const (
	MoveRelocate MoveType = iota // 将一个请求改派到另一个槽位或撤销
	MoveSwap                     // 交换两个请求的槽位
	MoveBump                     // 未分配请求挤占满槽位，原占用者改派
)

// Move 邻域移动
type Move struct {
	Type     MoveType
	R1, R2   int
	To1, To2 int
	Delta    float64 // 目标函数变化（越大越好）
}

// key 移动的哈希，用于禁忌表
func (m Move) key() uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(m.R1))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(m.To1)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(m.Type))
	return xxh3.Hash(buf[:])
}

// state 局部搜索的当前可行解
type state struct {
	p      *Problem
	assign []int
	load   []int
	score  float64
}

func newState(p *Problem, assign []int) *state {
	a := append([]int(nil), assign...)
	return &state{p: p, assign: a, load: p.Load(a), score: p.Evaluate(a).Score}
}

func (s *state) value(r, slot int) float64 {
	if slot == Unassigned {
		return 0
	}
	return s.p.Scores[r][slot]
}

func (s *state) hasRoom(slot int) bool {
	return slot == Unassigned || s.load[slot] < s.p.Slots[slot].Capacity
}

// moveWeights 各移动类型的选取概率
var moveWeights = [...]float64{
	MoveRelocate: 0.45,
	MoveSwap:     0.35,
	MoveBump:     0.20,
}

// NeighborhoodGenerator 邻域生成器
type NeighborhoodGenerator struct {
	rng *rand.Rand
}

// NewNeighborhoodGenerator 创建邻域生成器
func NewNeighborhoodGenerator(rng *rand.Rand) *NeighborhoodGenerator {
	return &NeighborhoodGenerator{rng: rng}
}

func (n *NeighborhoodGenerator) selectMoveType() MoveType {
	x := n.rng.Float64()
	acc := 0.0
	for t, w := range moveWeights {
		acc += w
		if x < acc {
			return MoveType(t)
		}
	}
	return MoveRelocate
}

// Generate 生成一个保持可行性的移动，找不到时返回 false
func (n *NeighborhoodGenerator) Generate(s *state) (Move, bool) {
	if len(s.assign) == 0 {
		return Move{}, false
	}
	switch n.selectMoveType() {
	case MoveSwap:
		return n.swap(s)
	case MoveBump:
		return n.bump(s)
	default:
		return n.relocate(s)
	}
}

func (n *NeighborhoodGenerator) relocate(s *state) (Move, bool) {
	r := n.rng.Intn(len(s.assign))
	choices := s.p.Choices(r)
	if len(choices) == 0 {
		return Move{}, false
	}
	// 额外一个位置代表撤销分配
	i := n.rng.Intn(len(choices) + 1)
	to := Unassigned
	if i < len(choices) {
		to = choices[i]
	}
	from := s.assign[r]
	if to == from || !s.hasRoom(to) {
		return Move{}, false
	}
	return Move{Type: MoveRelocate, R1: r, To1: to, R2: -1, Delta: s.value(r, to) - s.value(r, from)}, true
}

func (n *NeighborhoodGenerator) swap(s *state) (Move, bool) {
	r1 := n.rng.Intn(len(s.assign))
	r2 := n.rng.Intn(len(s.assign))
	a, b := s.assign[r1], s.assign[r2]
	if r1 == r2 || a == b || a == Unassigned || b == Unassigned {
		return Move{}, false
	}
	if !s.p.Eligible(r1, b) || !s.p.Eligible(r2, a) {
		return Move{}, false
	}
	delta := s.value(r1, b) + s.value(r2, a) - s.value(r1, a) - s.value(r2, b)
	return Move{Type: MoveSwap, R1: r1, To1: b, R2: r2, To2: a, Delta: delta}, true
}

func (n *NeighborhoodGenerator) bump(s *state) (Move, bool) {
	r := n.rng.Intn(len(s.assign))
	if s.assign[r] != Unassigned {
		return Move{}, false
	}
	choices := s.p.Choices(r)
	if len(choices) == 0 {
		return Move{}, false
	}
	target := choices[n.rng.Intn(len(choices))]
	if s.hasRoom(target) {
		return Move{Type: MoveRelocate, R1: r, To1: target, R2: -1, Delta: s.value(r, target)}, true
	}

	var occupants []int
	for i, slot := range s.assign {
		if slot == target {
			occupants = append(occupants, i)
		}
	}
	if len(occupants) == 0 {
		return Move{}, false
	}
	r2 := occupants[n.rng.Intn(len(occupants))]
	to2 := Unassigned
	for _, c := range s.p.Choices(r2) {
		if c != target && s.hasRoom(c) {
			to2 = c
			break
		}
	}
	delta := s.value(r, target) + s.value(r2, to2) - s.value(r2, target)
	return Move{Type: MoveBump, R1: r, To1: target, R2: r2, To2: to2, Delta: delta}, true
}

// apply 执行移动
func (s *state) apply(m Move) {
	s.reassign(m.R1, m.To1)
	if m.R2 >= 0 {
		s.reassign(m.R2, m.To2)
	}
	s.score += m.Delta
}

func (s *state) reassign(r, to int) {
	if from := s.assign[r]; from != Unassigned {
		s.load[from]--
	}
	if to != Unassigned {
		s.load[to]++
	}
	s.assign[r] = to
}
