package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paiban/dispatch/pkg/geo"
)

// ParsePoint 解析 "lat,lon" 坐标
func ParsePoint(s string) (geo.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("坐标格式应为 lat,lon: %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("纬度无效 %q: %w", parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("经度无效 %q: %w", parts[1], err)
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("坐标超出范围: %s", p)
	}
	return p, nil
}

// ParseStop 解析 "id=lat,lon" 停靠点
func ParseStop(s string) (geo.Stop, error) {
	id, coords, ok := strings.Cut(s, "=")
	if !ok || id == "" {
		return geo.Stop{}, fmt.Errorf("停靠点格式应为 id=lat,lon: %q", s)
	}
	p, err := ParsePoint(coords)
	if err != nil {
		return geo.Stop{}, err
	}
	return geo.Stop{ID: id, Point: p}, nil
}

// PrintRoute 输出排序后的路线
func PrintRoute(w io.Writer, start geo.Point, r geo.Route) {
	dim := color.New(color.FgHiBlack)
	fmt.Fprintf(w, "%s %s\n", color.New(color.FgCyan).Sprint("起点"), start)
	prev := start
	for i, s := range r.Stops {
		leg := geo.Distance(prev, s.Point)
		fmt.Fprintf(w, "  %2d. %-12s %s %s\n", i+1, s.ID, s.Point, dim.Sprintf("+%.2fkm", leg))
		prev = s.Point
	}
	mode := "最近邻"
	if r.TwoOptApplied {
		mode = "最近邻 + 2-opt"
		if r.Improved {
			mode += color.New(color.FgGreen).Sprint(" (已改进)")
		}
	}
	fmt.Fprintf(w, "总里程 %.2fkm  %s\n", r.TotalKm, mode)
}

// RouteCmd 计算停靠点的访问顺序
func RouteCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "route --from lat,lon <id=lat,lon>...",
		Short: "按最近邻与 2-opt 排序停靠点",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			start, err := ParsePoint(from)
			if err != nil {
				return err
			}
			stops := make([]geo.Stop, 0, len(args))
			for _, a := range args {
				s, err := ParseStop(a)
				if err != nil {
					return err
				}
				stops = append(stops, s)
			}
			route := geo.OrderRoute(start, stops, geo.RouteOptions{
				MaxTwoOptStops: cfg.Geo.MaxTwoOptStops,
				MaxPasses:      cfg.Geo.MaxPasses,
			})
			PrintRoute(cmd.OutOrStdout(), start, route)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "起点坐标 lat,lon")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
