package dispatcher

import (
	"context"
	"sort"

	"github.com/paiban/dispatch/pkg/geo"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/optimizer"
)

// PlanRoute 为员工当前未终结的分配排出访问顺序，从员工驻点出发
func (e *Engine) PlanRoute(ctx context.Context, workerID string) (*geo.Route, error) {
	w, err := e.st.Workers.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	active, err := e.ledger.ActiveByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	stops := make([]geo.Stop, 0, len(active))
	for _, a := range active {
		req, err := e.st.Requests.Get(ctx, a.RequestID)
		if err != nil {
			return nil, err
		}
		stops = append(stops, geo.Stop{ID: req.ID, Point: req.Location.Point()})
	}
	sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })
	route := geo.OrderRoute(w.Anchor.Point(), stops, e.routeOpts)
	return &route, nil
}

// PendingCluster 一组相近的待分配请求
type PendingCluster struct {
	Center   geo.Point `json:"center"`
	Zone     string    `json:"zone,omitempty"`
	Requests []string  `json:"requests"`
}

// ClusterPending 把待分配队列中的请求按地理位置聚类，便于整批交给同一员工
func (e *Engine) ClusterPending(ctx context.Context) ([]PendingCluster, error) {
	queued := e.Unassigned()
	items := make([]geo.Located, 0, len(queued))
	for _, q := range queued {
		req, err := e.st.Requests.Get(ctx, q.RequestID)
		if err != nil {
			continue
		}
		items = append(items, geo.Located{ID: req.ID, Point: req.Location.Point()})
	}
	clusters := geo.ClusterPoints(items, e.clusterKm)
	out := make([]PendingCluster, 0, len(clusters))
	for _, c := range clusters {
		pc := PendingCluster{Center: c.Center, Requests: c.Members}
		if e.zones != nil {
			pc.Zone = e.zones.ZoneOf(c.Center)
		}
		out = append(out, pc)
	}
	return out, nil
}

// AssignCluster 把一组请求作为批次分配，结果倾向于同一员工的相近班次
func (e *Engine) AssignCluster(ctx context.Context, c PendingCluster, auth AuthContext) (*BatchResult, error) {
	return e.RunBatch(ctx, "", c.Requests, optimizer.IntentBatch, auth)
}

// RequestPoint 返回请求坐标，供路线接口使用
func RequestPoint(r *model.ServiceRequest) geo.Point {
	return r.Location.Point()
}
