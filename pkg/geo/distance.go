// Package geo 提供地理距离、路线排序与聚类计算
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm 地球平均半径（公里）
const EarthRadiusKm = 6371.0

// Point 经纬度坐标
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// IsZero 检查坐标是否未设置
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Valid 检查坐标是否在合法范围内
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// String 返回坐标文本
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// less 坐标的全序，用于保证距离计算的对称性
func (p Point) less(o Point) bool {
	if p.Lat != o.Lat {
		return p.Lat < o.Lat
	}
	return p.Lon < o.Lon
}

// Distance 计算两点间的大圆距离（公里），使用 Haversine 公式。
// 参数按固定顺序参与运算，因此 Distance(a, b) 与 Distance(b, a) 逐位相等。
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	if b.less(a) {
		a, b = b, a
	}

	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// Centroid 计算一组点的几何中心（小范围内按经纬度平均近似）
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: lat / n, Lon: lon / n}
}

// EstimateTravelMinutes 按平均速度估算行程时间（分钟）
func EstimateTravelMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = 30
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}
