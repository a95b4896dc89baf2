package store

import (
	"fmt"

	"github.com/paiban/dispatch/pkg/model"
)

// 各实体类型的索引字段
var (
	RequestKind = Kind[model.ServiceRequest]{
		Name: "request",
		ID:   func(r *model.ServiceRequest) string { return r.ID },
		Index: func(r *model.ServiceRequest) map[string]string {
			return map[string]string{"status": string(r.Status), "zone": r.Zone, "category": r.Category}
		},
	}
	WorkerKind = Kind[model.Worker]{
		Name: "worker",
		ID:   func(w *model.Worker) string { return w.ID },
		Index: func(w *model.Worker) map[string]string {
			return map[string]string{"active": fmt.Sprint(w.Active)}
		},
	}
	ShiftKind = Kind[model.Shift]{
		Name: "shift",
		ID:   func(s *model.Shift) string { return s.ID },
		Index: func(s *model.Shift) map[string]string {
			return map[string]string{
				"status":      string(s.Status),
				"worker_id":   s.WorkerID,
				"plan_id":     s.PlanID,
				"template_id": s.TemplateID,
				"schedule_id": s.ScheduleID,
				"date":        s.Window.Start.Format("2006-01-02"),
			}
		},
	}
	TemplateKind = Kind[model.ShiftTemplate]{
		Name: "template",
		ID:   func(t *model.ShiftTemplate) string { return t.ID },
		Index: func(t *model.ShiftTemplate) map[string]string {
			return map[string]string{"plan_id": t.PlanID, "active": fmt.Sprint(t.Active), "auto_create": fmt.Sprint(t.AutoCreate)}
		},
	}
	ScheduleKind = Kind[model.ShiftSchedule]{
		Name: "schedule",
		ID:   func(s *model.ShiftSchedule) string { return s.ID },
		Index: func(s *model.ShiftSchedule) map[string]string {
			return map[string]string{"template_id": s.TemplateID, "plan_id": s.PlanID, "date": s.Date}
		},
	}
	PlanKind = Kind[model.QuarterlyPlan]{
		Name: "plan",
		ID:   func(p *model.QuarterlyPlan) string { return p.ID },
		Index: func(p *model.QuarterlyPlan) map[string]string {
			return map[string]string{"status": string(p.Status), "period": fmt.Sprintf("%d-Q%d", p.Year, p.Quarter)}
		},
	}
	ConflictKind = Kind[model.PlanningConflict]{
		Name: "conflict",
		ID:   func(c *model.PlanningConflict) string { return c.ID },
		Index: func(c *model.PlanningConflict) map[string]string {
			return map[string]string{"status": string(c.Status), "plan_id": c.PlanID, "type": string(c.Type)}
		},
	}
	AssignmentKind = Kind[model.ShiftAssignment]{
		Name: "assignment",
		ID:   func(a *model.ShiftAssignment) string { return a.ID },
		Index: func(a *model.ShiftAssignment) map[string]string {
			return map[string]string{
				"status":     string(a.Status),
				"request_id": a.RequestID,
				"shift_id":   a.ShiftID,
				"worker_id":  a.WorkerID,
				"terminal":   fmt.Sprint(a.IsTerminal()),
			}
		},
	}
	TransferKind = Kind[model.ShiftTransfer]{
		Name: "transfer",
		ID:   func(t *model.ShiftTransfer) string { return t.ID },
		Index: func(t *model.ShiftTransfer) map[string]string {
			return map[string]string{
				"status":        string(t.Status),
				"request_id":    t.RequestID,
				"assignment_id": t.AssignmentID,
				"terminal":      fmt.Sprint(t.Status.IsTerminal()),
			}
		},
	}
	JournalKind = Kind[model.LedgerEntry]{
		Name: "journal",
		ID:   func(e *model.LedgerEntry) string { return e.ID },
		Index: func(e *model.LedgerEntry) map[string]string {
			return map[string]string{"kind": string(e.Kind), "request_id": e.RequestID}
		},
	}
)
