package workflow

import (
	"time"

	"github.com/upkab/approval-api/internal/enum"
)

// Snapshot is the read-only view of an entity needed to project progress.
type Snapshot struct {
	Status      enum.Status
	SubmittedAt *time.Time
	Context     Context
}

// StepView is one entry of a progress display.
type StepView struct {
	Label  string      `json:"label"`
	Status enum.Status `json:"status"`
	Role   string      `json:"role"`
}

// Projection is the progress of one entity along its path.
type Projection struct {
	DraftLabel   string     `json:"draft_label"`
	Variant      string     `json:"variant"`
	Steps        []StepView `json:"steps"`
	CurrentIndex int        `json:"current_index"`
	IsFinished   bool       `json:"is_finished"`
}

// Project derives the step list and current position of snap.
//
// An unset status on an entity that was already submitted is shown at the
// first pending step. Rejected shows as -1 even if the entity had progressed
// further before the rejection.
func (d *Definition) Project(snap Snapshot) Projection {
	steps := d.Steps(snap.Context)
	views := make([]StepView, len(steps))
	for i, st := range steps {
		views[i] = StepView{Label: st.Label, Status: st.Status, Role: st.Role}
	}

	p := Projection{
		DraftLabel:   d.DraftLabel,
		Variant:      d.Path(snap.Context),
		Steps:        views,
		CurrentIndex: d.StepIndex(snap.Status, snap.Context),
		IsFinished:   snap.Status == enum.StatusApproved,
	}
	if snap.Status == "" && snap.SubmittedAt != nil && len(steps) > 0 {
		p.CurrentIndex = 0
	}
	return p
}
