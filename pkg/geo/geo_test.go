package geo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	tiananmen  = Point{Lat: 39.9087, Lon: 116.3975}
	wangfujing = Point{Lat: 39.9146, Lon: 116.4109}
	shanghai   = Point{Lat: 31.2304, Lon: 121.4737}
)

func TestDistance_Symmetric(t *testing.T) {
	points := []Point{tiananmen, wangfujing, shanghai, {Lat: -33.86, Lon: 151.2}, {Lat: 0, Lon: 179.9}, {Lat: 0, Lon: -179.9}}
	for _, a := range points {
		for _, b := range points {
			require.Equal(t, Distance(a, b), Distance(b, a), "distance(%v,%v)", a, b)
		}
		require.Zero(t, Distance(a, a))
	}
}

func TestDistance_KnownValues(t *testing.T) {
	// 北京到上海约 1067 公里
	require.InDelta(t, 1067, Distance(tiananmen, shanghai), 15)
	require.InDelta(t, 1.3, Distance(tiananmen, wangfujing), 0.2)
	// 跨越日期变更线
	require.InDelta(t, 22.2, Distance(Point{Lat: 0, Lon: 179.9}, Point{Lat: 0, Lon: -179.9}), 0.5)
}

func TestOrderRoute_NearestNeighborAndTwoOpt(t *testing.T) {
	start := Point{Lat: 0, Lon: 0}
	// 一条直线上的点，乱序输入
	stops := []Stop{
		{ID: "c", Point: Point{Lat: 0, Lon: 0.03}},
		{ID: "a", Point: Point{Lat: 0, Lon: 0.01}},
		{ID: "d", Point: Point{Lat: 0, Lon: 0.04}},
		{ID: "b", Point: Point{Lat: 0, Lon: 0.02}},
	}

	route := OrderRoute(start, stops, DefaultRouteOptions())

	ids := make([]string, 0, len(route.Stops))
	for _, s := range route.Stops {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, ids)
	require.True(t, route.TwoOptApplied)
	require.InDelta(t, Distance(start, Point{Lat: 0, Lon: 0.04}), route.TotalKm, 1e-6)
}

func TestOrderRoute_TwoOptNeverWorse(t *testing.T) {
	start := Point{Lat: 39.9, Lon: 116.4}
	var stops []Stop
	for i := 0; i < 12; i++ {
		stops = append(stops, Stop{
			ID:    fmt.Sprintf("s%02d", i),
			Point: Point{Lat: 39.9 + float64((i*7)%5)*0.01, Lon: 116.4 + float64((i*3)%7)*0.01},
		})
	}

	nn := nearestNeighbor(start, stops)
	route := OrderRoute(start, stops, DefaultRouteOptions())

	require.Len(t, route.Stops, len(stops))
	require.LessOrEqual(t, route.TotalKm, PathLength(start, nn)+1e-9)
}

func TestOrderRoute_BoundedStops(t *testing.T) {
	var stops []Stop
	for i := 0; i < 10; i++ {
		stops = append(stops, Stop{ID: fmt.Sprintf("s%d", i), Point: Point{Lat: float64(i) * 0.01, Lon: 0}})
	}
	route := OrderRoute(Point{}, stops, RouteOptions{MaxTwoOptStops: 5, MaxPasses: 10})
	require.False(t, route.TwoOptApplied)
	require.Len(t, route.Stops, 10)

	empty := OrderRoute(Point{}, nil, DefaultRouteOptions())
	require.Empty(t, empty.Stops)
}

func TestClusterPoints(t *testing.T) {
	items := []Located{
		{ID: "r1", Point: tiananmen},
		{ID: "r2", Point: wangfujing},
		{ID: "r3", Point: shanghai},
		{ID: "r4", Point: Point{Lat: 39.91, Lon: 116.40}},
	}

	clusters := ClusterPoints(items, 3)
	require.Len(t, clusters, 2)
	require.ElementsMatch(t, []string{"r1", "r2", "r4"}, clusters[0].Members)
	require.Equal(t, []string{"r3"}, clusters[1].Members)

	require.Nil(t, ClusterPoints(nil, 3))
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) DistanceKm(_ context.Context, from, to Point) (float64, error) {
	p.calls++
	return Distance(from, to), nil
}

func (p *countingProvider) Name() string { return "counting" }

func TestCache_HitsAndInvalidation(t *testing.T) {
	provider := &countingProvider{}
	cache := NewCache(provider, 10)
	ctx := context.Background()

	req := Located{ID: "req-1", Point: tiananmen}
	worker := Located{ID: "worker-1", Point: wangfujing}

	d1, err := cache.Distance(ctx, req, worker)
	require.NoError(t, err)
	d2, err := cache.Distance(ctx, worker, req)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
	require.Equal(t, 1, provider.calls)

	cache.Invalidate("worker-1")
	_, err = cache.Distance(ctx, req, worker)
	require.NoError(t, err)
	require.Equal(t, 2, provider.calls)

	// 位置变化产生新键
	moved := Located{ID: "worker-1", Point: shanghai}
	d3, err := cache.Distance(ctx, req, moved)
	require.NoError(t, err)
	require.Equal(t, 3, provider.calls)
	require.Greater(t, d3, d1)

	hits, misses := cache.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(3), misses)
}

func TestZoneGrid(t *testing.T) {
	grid := NewZoneGrid(5)
	require.Equal(t, grid.ZoneOf(tiananmen), grid.ZoneOf(Point{Lat: 39.9088, Lon: 116.3976}))
	require.NotEqual(t, grid.ZoneOf(tiananmen), grid.ZoneOf(shanghai))
}
