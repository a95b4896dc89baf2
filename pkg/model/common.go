// Package model 定义派单与排班引擎的核心数据模型。
// 实体之间只通过字符串ID相互引用，关联关系由存储层的索引解析。
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/paiban/dispatch/pkg/geo"
)

// NewID 生成新的实体ID
func NewID() string {
	return uuid.NewString()
}

// Urgency 紧急程度
type Urgency int

const (
	UrgencyLow      Urgency = 1 // 低
	UrgencyNormal   Urgency = 2 // 普通
	UrgencyHigh     Urgency = 3 // 高
	UrgencyCritical Urgency = 4 // 紧急
)

// String 返回紧急程度名称
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Normalize 将未设置或越界的紧急程度归一到合法区间
func (u Urgency) Normalize() Urgency {
	if u < UrgencyLow {
		return UrgencyNormal
	}
	if u > UrgencyCritical {
		return UrgencyCritical
	}
	return u
}

// ParseUrgency 解析紧急程度名称
func ParseUrgency(s string) Urgency {
	switch s {
	case "low":
		return UrgencyLow
	case "high":
		return UrgencyHigh
	case "critical", "urgent":
		return UrgencyCritical
	default:
		return UrgencyNormal
	}
}

// SpecializationUniversal 通用能力标记，表示可承接任何专业的兜底员工
const SpecializationUniversal = "universal"

// Location 地理位置
type Location struct {
	Address   string  `json:"address,omitempty" yaml:"address,omitempty"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	District  string  `json:"district,omitempty" yaml:"district,omitempty"`
}

// Point 转换为地理坐标
func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Latitude, Lon: l.Longitude}
}

// Distance 计算两个位置之间的距离（公里）
func (l Location) Distance(other Location) float64 {
	return geo.Distance(l.Point(), other.Point())
}

// TimeRange 时间范围，左闭右开
type TimeRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// IsZero 检查时间范围是否未设置
func (tr TimeRange) IsZero() bool {
	return tr.Start.IsZero() && tr.End.IsZero()
}

// Duration 返回时间范围的持续时间
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Overlaps 检查两个时间范围是否重叠
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Start.Before(other.End) && other.Start.Before(tr.End)
}

// Contains 检查时间范围是否包含某个时间点
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Covers 检查时间范围是否完整覆盖另一个范围
func (tr TimeRange) Covers(other TimeRange) bool {
	return !other.Start.Before(tr.Start) && !other.End.After(tr.End)
}

// Intersect 返回两个范围的交集，无交集时返回零值
func (tr TimeRange) Intersect(other TimeRange) TimeRange {
	if !tr.Overlaps(other) {
		return TimeRange{}
	}
	start := tr.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := tr.End
	if other.End.Before(end) {
		end = other.End
	}
	return TimeRange{Start: start, End: end}
}

// ContainsString 检查字符串切片是否包含某值
func ContainsString(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// Intersects 检查两个字符串集合是否有交集
func Intersects(a, b []string) bool {
	for _, x := range a {
		if ContainsString(b, x) {
			return true
		}
	}
	return false
}
