package model

// Worker 服务人员（执行者）
type Worker struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Specializations []string `json:"specializations" yaml:"specializations"`
	Anchor          Location `json:"anchor" yaml:"anchor"`
	CurrentShiftID  string   `json:"current_shift_id,omitempty" yaml:"current_shift_id,omitempty"`
	Active          bool     `json:"active" yaml:"active"`
}

// HasSpecialization 检查是否具备某专业
func (w *Worker) HasSpecialization(spec string) bool {
	return ContainsString(w.Specializations, spec)
}

// IsUniversal 检查是否为通用兜底员工
func (w *Worker) IsUniversal() bool {
	return w.HasSpecialization(SpecializationUniversal)
}

// CoversAll 检查是否具备全部所需专业
func (w *Worker) CoversAll(required []string) bool {
	for _, s := range required {
		if !w.HasSpecialization(s) {
			return false
		}
	}
	return true
}
