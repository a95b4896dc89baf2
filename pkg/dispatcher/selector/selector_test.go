package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/pkg/model"
)

var day = time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

func request(specs ...string) *model.ServiceRequest {
	return &model.ServiceRequest{
		ID:                      "r1",
		Category:                "repair",
		Urgency:                 model.UrgencyHigh,
		Location:                model.Location{Latitude: 31.23, Longitude: 121.47},
		RequiredSpecializations: specs,
		Status:                  model.RequestPending,
		Window:                  model.TimeRange{Start: at(10), End: at(11)},
	}
}

func worker(id string, specs ...string) *model.Worker {
	return &model.Worker{ID: id, Specializations: specs, Active: true}
}

func shift(id, workerID string) *model.Shift {
	return &model.Shift{
		ID:       id,
		WorkerID: workerID,
		Window:   model.TimeRange{Start: at(8), End: at(16)},
		Status:   model.ShiftPlanned,
		Capacity: 3,
	}
}

type fixedCapacity map[string]int

func (f fixedCapacity) Remaining(id string) int { return f[id] }

func TestSelectFiltersAndOrders(t *testing.T) {
	full := shift("s-full", "w1")
	full.CurrentRequestCount = 3
	cancelled := shift("s-cancelled", "w2")
	cancelled.Status = model.ShiftCancelled
	late := shift("s-late", "w2")
	late.Window = model.TimeRange{Start: at(12), End: at(20)}
	unstaffed := shift("s-open", "")

	pool := Pool{
		Workers: []*model.Worker{
			worker("w3", "electric"),
			worker("w1", "electric", "plumbing"),
			worker("w2", "electric"),
			worker("w4", "gardening"),
			worker("w5", model.SpecializationUniversal),
		},
		Shifts: []*model.Shift{
			shift("s3", "w3"),
			shift("s1b", "w1"),
			shift("s1a", "w1"),
			full, cancelled, late, unstaffed,
			shift("s4", "w4"),
			shift("s5", "w5"),
		},
	}

	res := New(nil).Select(request("electric"), pool, Options{})
	var ids []string
	for _, c := range res.Candidates {
		ids = append(ids, c.ID())
	}
	require.Equal(t, []string{"w1/s1a", "w1/s1b", "w3/s3", "w5/s5"}, ids)
	require.Equal(t, MatchUniversal, res.Candidates[3].Match)
	require.Equal(t, MatchExact, res.Candidates[0].Match)

	require.Equal(t, 1, res.Rejections["capacity_full"])
	require.Equal(t, 1, res.Rejections["shift_unavailable"])
	require.Equal(t, 1, res.Rejections["window_not_covered"])
	require.Equal(t, 1, res.Rejections["specialization_mismatch"])
}

func TestSelectOptions(t *testing.T) {
	pool := Pool{
		Workers: []*model.Worker{worker("w1", "electric"), worker("w2", model.SpecializationUniversal)},
		Shifts:  []*model.Shift{shift("s1", "w1"), shift("s2", "w2")},
	}
	sel := New(nil)

	res := sel.Select(request("electric"), pool, Options{ExactOnly: true})
	require.Len(t, res.Candidates, 1)

	res = sel.Select(request("electric"), pool, Options{ExcludeShifts: []string{"s1"}})
	require.Len(t, res.Candidates, 1)
	require.Equal(t, "w2", res.Candidates[0].Worker.ID)

	res = sel.Select(request("electric"), pool, Options{ExcludeWorkers: []string{"w1", "w2"}})
	require.True(t, res.Empty())
}

func TestSelectUsesLiveCapacity(t *testing.T) {
	pool := Pool{
		Workers: []*model.Worker{worker("w1", "electric")},
		Shifts:  []*model.Shift{shift("s1", "w1")},
	}
	res := New(fixedCapacity{"s1": 0}).Select(request("electric"), pool, Options{})
	require.True(t, res.Empty())
	require.Equal(t, "capacity_full", res.Reason())
}

func TestSelectFocusAndCoverage(t *testing.T) {
	focused := shift("s1", "w1")
	focused.SpecializationFocus = []string{"plumbing"}
	far := shift("s2", "w1")
	far.CoverageArea = model.CoverageArea{
		Center:   model.Location{Latitude: 39.90, Longitude: 116.40},
		RadiusKm: 20,
	}
	near := shift("s3", "w1")
	near.CoverageArea = model.CoverageArea{
		Center:   model.Location{Latitude: 31.22, Longitude: 121.46},
		RadiusKm: 20,
	}
	pool := Pool{
		Workers: []*model.Worker{worker("w1", "electric", "plumbing")},
		Shifts:  []*model.Shift{focused, far, near},
	}
	res := New(nil).Select(request("electric"), pool, Options{})
	require.Len(t, res.Candidates, 1)
	require.Equal(t, "s3", res.Candidates[0].Shift.ID)
	require.Equal(t, 1, res.Rejections["focus_mismatch"])
	require.Equal(t, 1, res.Rejections["outside_coverage"])
}

func TestSelectEmptyPool(t *testing.T) {
	res := New(nil).Select(request("electric"), Pool{}, Options{})
	require.True(t, res.Empty())
	require.Equal(t, "no_staffed_shift", res.Reason())
}
