package geo

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
)

// RoutingProvider 距离提供者。默认实现为大圆距离，可替换为路网距离服务。
type RoutingProvider interface {
	// DistanceKm 返回两点间的行驶距离（公里）
	DistanceKm(ctx context.Context, from, to Point) (float64, error)
	// Name 返回提供者名称
	Name() string
}

// GreatCircle 大圆距离提供者
type GreatCircle struct{}

// DistanceKm 实现 RoutingProvider
func (GreatCircle) DistanceKm(_ context.Context, from, to Point) (float64, error) {
	return Distance(from, to), nil
}

// Name 实现 RoutingProvider
func (GreatCircle) Name() string {
	return "great_circle"
}

// Located 可定位实体（请求、员工、班次）
type Located struct {
	ID    string
	Point Point
}

// Cache 距离缓存。
// 缓存键由两端实体ID、实体代数与坐标共同构成，Invalidate 递增实体代数使旧条目失效；
// 坐标变化也会产生新键，因此读取永远不会拿到过期距离。
type Cache struct {
	provider    RoutingProvider
	entries     *xsync.Map[uint64, float64]
	generations *xsync.Map[string, *atomic.Uint64]
	maxEntries  int
	hits        atomic.Int64
	misses      atomic.Int64
}

// NewCache 创建距离缓存
func NewCache(provider RoutingProvider, maxEntries int) *Cache {
	if provider == nil {
		provider = GreatCircle{}
	}
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	return &Cache{
		provider:    provider,
		entries:     xsync.NewMap[uint64, float64](),
		generations: xsync.NewMap[string, *atomic.Uint64](),
		maxEntries:  maxEntries,
	}
}

// Provider 返回底层距离提供者
func (c *Cache) Provider() RoutingProvider {
	return c.provider
}

// Distance 返回两个实体之间的距离（公里），优先读取缓存
func (c *Cache) Distance(ctx context.Context, a, b Located) (float64, error) {
	key := c.key(a, b)
	if d, ok := c.entries.Load(key); ok {
		c.hits.Add(1)
		return d, nil
	}
	c.misses.Add(1)

	d, err := c.provider.DistanceKm(ctx, a.Point, b.Point)
	if err != nil {
		return 0, fmt.Errorf("计算距离失败 %s -> %s: %w", a.ID, b.ID, err)
	}

	if c.entries.Size() >= c.maxEntries {
		c.entries.Clear()
	}
	c.entries.Store(key, d)
	return d, nil
}

// Invalidate 使某实体相关的全部缓存失效（位置变化时调用）
func (c *Cache) Invalidate(entityID string) {
	gen, _ := c.generations.LoadOrStore(entityID, &atomic.Uint64{})
	gen.Add(1)
}

// Stats 返回命中与未命中次数
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// key 计算对称的缓存键
func (c *Cache) key(a, b Located) uint64 {
	ka := c.entityKey(a)
	kb := c.entityKey(b)
	if kb < ka {
		ka, kb = kb, ka
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], ka)
	binary.LittleEndian.PutUint64(buf[8:], kb)
	return xxh3.Hash(buf[:])
}

func (c *Cache) entityKey(e Located) uint64 {
	var gen uint64
	if g, ok := c.generations.Load(e.ID); ok {
		gen = g.Load()
	}
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[:8], gen)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(e.Point.Lat))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(e.Point.Lon))
	return xxh3.HashSeed(buf[:], xxh3.HashString(e.ID))
}

// ZoneGrid 将坐标映射到固定边长的网格区域
type ZoneGrid struct {
	CellKm float64
}

// NewZoneGrid 创建网格区域划分
func NewZoneGrid(cellKm float64) ZoneGrid {
	if cellKm <= 0 {
		cellKm = 5
	}
	return ZoneGrid{CellKm: cellKm}
}

// ZoneOf 返回坐标所在区域的标识
func (g ZoneGrid) ZoneOf(p Point) string {
	latStep := g.CellKm / 111.0
	row := int(math.Floor(p.Lat / latStep))
	lonStep := latStep / math.Max(math.Cos(p.Lat*math.Pi/180), 0.01)
	col := int(math.Floor(p.Lon / lonStep))
	return fmt.Sprintf("z%d_%d", row, col)
}
