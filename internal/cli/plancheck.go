package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/model"
	"github.com/paiban/dispatch/pkg/shift"
)

// PlanFixture 离线检查用的计划数据
type PlanFixture struct {
	Plan      model.QuarterlyPlan    `yaml:"plan"`
	Workers   []*model.Worker        `yaml:"workers"`
	Templates []*model.ShiftTemplate `yaml:"templates"`
	Shifts    []FixtureShift         `yaml:"shifts"`
}

// FixtureShift 外部导入的班次
type FixtureShift struct {
	ID                  string    `yaml:"id"`
	WorkerID            string    `yaml:"worker_id"`
	Start               time.Time `yaml:"start"`
	End                 time.Time `yaml:"end"`
	Capacity            int       `yaml:"capacity"`
	SpecializationFocus []string  `yaml:"specialization_focus"`
	Zone                string    `yaml:"zone"`
}

func (f FixtureShift) shift(planID string) *model.Shift {
	capacity := f.Capacity
	if capacity < 1 {
		capacity = 1
	}
	return &model.Shift{
		ID:                  f.ID,
		PlanID:              planID,
		WorkerID:            f.WorkerID,
		Window:              model.TimeRange{Start: f.Start, End: f.End},
		Status:              model.ShiftPlanned,
		SpecializationFocus: f.SpecializationFocus,
		CoverageArea:        model.CoverageArea{Zone: f.Zone},
		Capacity:            capacity,
	}
}

// LoadPlanFixture 读取 YAML 计划数据
func LoadPlanFixture(path string) (*PlanFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取计划文件失败: %w", err)
	}
	var fx PlanFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("解析计划文件 %s 失败: %w", path, err)
	}
	return &fx, nil
}

// CheckOptions 检查参数
type CheckOptions struct {
	GenerateDays int  // 模板生成天数，0 表示不生成
	Resolve      bool // 采用可自动执行的建议后再检测一次
}

// CheckResult 检查结果
type CheckResult struct {
	Plan      *model.QuarterlyPlan
	Detected  []*model.PlanningConflict
	Resolved  []*model.PlanningConflict
	Remaining []*model.PlanningConflict
	Unstaffed []string
}

// CheckPlan 在内存存储中载入计划并检测冲突
func CheckPlan(ctx context.Context, fx *PlanFixture, cfg shift.Config, opts CheckOptions) (*CheckResult, error) {
	st := store.NewMemory()
	m, err := shift.NewManager(cfg, st)
	if err != nil {
		return nil, err
	}
	for _, w := range fx.Workers {
		if err := st.Workers.Create(ctx, w); err != nil {
			return nil, fmt.Errorf("导入员工 %s 失败: %w", w.ID, err)
		}
	}
	plan := fx.Plan
	if err := m.CreatePlan(ctx, &plan); err != nil {
		return nil, err
	}
	res := &CheckResult{}

	for _, fs := range fx.Shifts {
		if err := st.Shifts.Create(ctx, fs.shift(plan.ID)); err != nil {
			return nil, fmt.Errorf("导入班次 %s 失败: %w", fs.ID, err)
		}
	}
	if opts.GenerateDays > 0 {
		from := plan.Period(time.UTC).Start
		for _, t := range fx.Templates {
			t.PlanID = plan.ID
			if err := m.CreateTemplate(ctx, t); err != nil {
				return nil, err
			}
			gen, err := m.GenerateTemplate(ctx, t, from, opts.GenerateDays)
			if err != nil {
				return nil, err
			}
			res.Unstaffed = append(res.Unstaffed, gen.Unstaffed...)
		}
	}

	if res.Detected, err = m.DetectConflicts(ctx, plan.ID); err != nil {
		return nil, err
	}
	res.Remaining = res.Detected
	if opts.Resolve {
		for _, c := range res.Detected {
			if !c.AutoResolvable() {
				continue
			}
			done, err := m.ResolveConflict(ctx, c.ID, nil)
			if err != nil {
				return nil, err
			}
			res.Resolved = append(res.Resolved, done)
		}
		if res.Remaining, err = m.DetectConflicts(ctx, plan.ID); err != nil {
			return nil, err
		}
	}
	if res.Plan, err = m.RecomputeMetrics(ctx, plan.ID); err != nil {
		return nil, err
	}
	return res, nil
}

var severityRank = map[model.Severity]int{
	model.SeverityLow:      1,
	model.SeverityMedium:   2,
	model.SeverityHigh:     3,
	model.SeverityCritical: 4,
}

// Blocking 返回严重程度不低于阈值的冲突数
func (r *CheckResult) Blocking(threshold model.Severity) int {
	n := 0
	for _, c := range r.Remaining {
		if severityRank[c.Severity] >= severityRank[threshold] {
			n++
		}
	}
	return n
}

func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case model.SeverityHigh:
		return color.New(color.FgRed)
	case model.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// PrintCheck 输出检查结果
func PrintCheck(w io.Writer, r *CheckResult) {
	fmt.Fprintf(w, "计划 %s (%d-Q%d)\n", r.Plan.ID, r.Plan.Year, r.Plan.Quarter)
	mt := r.Plan.Metrics
	fmt.Fprintf(w, "  班次: %d  已排员工: %d  覆盖率: %.1f%%\n", mt.PlannedShifts, mt.StaffedShifts, mt.CoveragePercentage)
	if len(r.Unstaffed) > 0 {
		fmt.Fprintf(w, "  %s %s\n", color.New(color.FgYellow).Sprint("未排员工:"), strings.Join(r.Unstaffed, ", "))
	}
	fmt.Fprintln(w)

	for _, c := range r.Resolved {
		desc := c.Message
		if c.Applied != nil {
			desc = c.Applied.Description
		}
		fmt.Fprintf(w, "  %s %s %s\n", color.New(color.FgGreen).Sprint("✓ 已解决"), c.Type, desc)
	}
	remaining := append([]*model.PlanningConflict(nil), r.Remaining...)
	sort.SliceStable(remaining, func(i, j int) bool {
		return severityRank[remaining[i].Severity] > severityRank[remaining[j].Severity]
	})
	for _, c := range remaining {
		fmt.Fprintf(w, "  %s %-15s %s %s\n",
			severityColor(c.Severity).Sprintf("%-8s", strings.ToUpper(string(c.Severity))),
			c.Type, c.Date, c.Message)
		for _, s := range c.Suggestions {
			fmt.Fprintf(w, "           → %s\n", s.Description)
		}
	}
	if len(remaining) == 0 {
		fmt.Fprintln(w, color.New(color.FgGreen).Sprint("  未发现冲突"))
	}
}

// PlanCheckCmd 离线检查计划冲突
func PlanCheckCmd() *cobra.Command {
	var (
		days    int
		resolve bool
		failOn  string
	)
	cmd := &cobra.Command{
		Use:   "plan-check <plan.yaml>",
		Short: "载入 YAML 计划并检测排班冲突",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			threshold := model.Severity(failOn)
			if _, ok := severityRank[threshold]; !ok {
				return fmt.Errorf("未知的严重程度: %s", failOn)
			}
			fx, err := LoadPlanFixture(args[0])
			if err != nil {
				return err
			}
			res, err := CheckPlan(cmd.Context(), fx, cfg.Shift, CheckOptions{GenerateDays: days, Resolve: resolve})
			if err != nil {
				return err
			}
			PrintCheck(cmd.OutOrStdout(), res)
			if n := res.Blocking(threshold); n > 0 {
				cmd.SilenceUsage = true
				return fmt.Errorf("%d 个冲突达到 %s 及以上", n, threshold)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "generate-days", 0, "按模板从季度首日起生成的天数")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "采用可自动执行的建议后重新检测")
	cmd.Flags().StringVar(&failOn, "fail-on", string(model.SeverityHigh), "达到该严重程度时返回非零")
	return cmd
}
