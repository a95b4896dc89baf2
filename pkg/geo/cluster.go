package geo

import "sort"

// Cluster 一组地理上相近的点
type Cluster struct {
	Center  Point    `json:"center"`
	Members []string `json:"members"`
	points  []Point
}

// ClusterPoints 将点按半径做领导者聚类：
// 按ID排序后依次处理，点加入中心距离不超过 radiusKm 的第一个簇，否则新建簇。
// 每加入一个点，簇中心重新计算。结果对相同输入是确定的。
func ClusterPoints(items []Located, radiusKm float64) []Cluster {
	if len(items) == 0 {
		return nil
	}
	if radiusKm <= 0 {
		radiusKm = 1
	}

	sorted := make([]Located, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	var clusters []Cluster
	for _, it := range sorted {
		placed := false
		for i := range clusters {
			if Distance(clusters[i].Center, it.Point) <= radiusKm {
				clusters[i].Members = append(clusters[i].Members, it.ID)
				clusters[i].points = append(clusters[i].points, it.Point)
				clusters[i].Center = Centroid(clusters[i].points)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, Cluster{
				Center:  it.Point,
				Members: []string{it.ID},
				points:  []Point{it.Point},
			})
		}
	}

	// 大簇在前，便于单个员工批量承接
	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].Members) > len(clusters[j].Members)
	})

	return clusters
}
