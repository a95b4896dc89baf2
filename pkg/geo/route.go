package geo

// Stop 路线上的一个停靠点
type Stop struct {
	ID    string `json:"id"`
	Point Point  `json:"point"`
}

// Route 排序后的路线
type Route struct {
	Stops         []Stop  `json:"stops"`
	TotalKm       float64 `json:"total_km"`
	Improved      bool    `json:"improved"`        // 2-opt 是否改进了初始路线
	TwoOptApplied bool    `json:"two_opt_applied"` // 停靠点数量是否在 2-opt 上限内
}

// RouteOptions 路线排序选项
type RouteOptions struct {
	MaxTwoOptStops int // 超过该数量只做最近邻构造
	MaxPasses      int // 2-opt 最大轮数
}

// DefaultRouteOptions 返回默认选项
func DefaultRouteOptions() RouteOptions {
	return RouteOptions{
		MaxTwoOptStops: 30,
		MaxPasses:      50,
	}
}

// OrderRoute 计算从起点出发访问全部停靠点的近似最短开放路线。
// 先用最近邻构造，再在停靠点数量不超过上限时做有限轮 2-opt 改进。
// 结果不保证最优。
func OrderRoute(start Point, stops []Stop, opts RouteOptions) Route {
	if opts.MaxTwoOptStops <= 0 || opts.MaxPasses <= 0 {
		def := DefaultRouteOptions()
		if opts.MaxTwoOptStops <= 0 {
			opts.MaxTwoOptStops = def.MaxTwoOptStops
		}
		if opts.MaxPasses <= 0 {
			opts.MaxPasses = def.MaxPasses
		}
	}

	if len(stops) == 0 {
		return Route{Stops: []Stop{}}
	}

	ordered := nearestNeighbor(start, stops)
	route := Route{Stops: ordered}

	if len(ordered) >= 3 && len(ordered) <= opts.MaxTwoOptStops {
		route.TwoOptApplied = true
		route.Improved = twoOpt(start, ordered, opts.MaxPasses)
	}

	route.TotalKm = PathLength(start, route.Stops)
	return route
}

// PathLength 计算从起点依次经过各停靠点的总距离
func PathLength(start Point, stops []Stop) float64 {
	total := 0.0
	prev := start
	for _, s := range stops {
		total += Distance(prev, s.Point)
		prev = s.Point
	}
	return total
}

// nearestNeighbor 最近邻构造，距离相同时按ID保证确定性
func nearestNeighbor(start Point, stops []Stop) []Stop {
	remaining := make([]Stop, len(stops))
	copy(remaining, stops)
	result := make([]Stop, 0, len(stops))

	current := start
	for len(remaining) > 0 {
		bestIdx := 0
		bestDist := Distance(current, remaining[0].Point)
		for i := 1; i < len(remaining); i++ {
			d := Distance(current, remaining[i].Point)
			if d < bestDist || (d == bestDist && remaining[i].ID < remaining[bestIdx].ID) {
				bestDist = d
				bestIdx = i
			}
		}
		result = append(result, remaining[bestIdx])
		current = remaining[bestIdx].Point
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return result
}

// twoOpt 对开放路线做 2-opt 改进，原地修改，返回是否有改进
func twoOpt(start Point, stops []Stop, maxPasses int) bool {
	const eps = 1e-9
	improvedAny := false
	n := len(stops)

	at := func(i int) Point {
		if i < 0 {
			return start
		}
		return stops[i].Point
	}

	for pass := 0; pass < maxPasses; pass++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				// 反转 stops[i..j]：边 (i-1,i) 与 (j,j+1) 替换为 (i-1,j) 与 (i,j+1)
				before := Distance(at(i-1), at(i))
				after := Distance(at(i-1), at(j))
				if j+1 < n {
					before += Distance(at(j), at(j+1))
					after += Distance(at(i), at(j+1))
				}
				if after+eps < before {
					reverse(stops, i, j)
					improved = true
				}
			}
		}
		if !improved {
			break
		}
		improvedAny = true
	}

	return improvedAny
}

func reverse(stops []Stop, i, j int) {
	for ; i < j; i, j = i+1, j-1 {
		stops[i], stops[j] = stops[j], stops[i]
	}
}
