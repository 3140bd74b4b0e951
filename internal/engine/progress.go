package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/resolvehq/caseflow/model"
)

// ProgressReport summarizes how far along a workflow instance is and
// whether it is on track against its declared time budgets.
type ProgressReport struct {
	// ProgressPercentage is stage-count progress: (index+1)/total, rounded.
	ProgressPercentage int `json:"progress_percentage"`

	// TimeProgress is the raw elapsed-over-budget ratio for the current
	// stage, as a percentage. Values above 100 indicate an SLA breach and
	// are preserved for threshold checks; displays clamp separately.
	TimeProgress float64 `json:"time_progress"`

	// Delayed is set when the instance is escalated or past its expected
	// completion date.
	Delayed bool `json:"delayed"`

	// StageElapsed is how long the instance has sat in the current stage,
	// formatted for display.
	StageElapsed string `json:"stage_elapsed"`
}

// ProgressPercentage computes stage-count progress: the 1-based position of
// the current stage over the total, as a rounded percentage. Returns 0 when
// the current stage is not in the list.
func ProgressPercentage(currentStageID string, stages []model.Stage) int {
	if len(stages) == 0 {
		return 0
	}
	for i := range stages {
		if stages[i].ID == currentStageID {
			return int(math.Round(float64(i+1) / float64(len(stages)) * 100))
		}
	}
	return 0
}

// TimeProgressPercentage computes elapsed time against a stage's declared
// duration budget, as a percentage. Returns 0 when either input is absent.
// The value is NOT clamped: >100 means the budget is blown, and callers
// banding thresholds (e.g. warn above 90) need the raw number.
func TimeProgressPercentage(enteredAt time.Time, durationHours float64, now time.Time) float64 {
	if enteredAt.IsZero() || durationHours <= 0 {
		return 0
	}
	elapsed := now.Sub(enteredAt)
	return elapsed.Hours() / durationHours * 100
}

// ClampPercent clamps a raw percentage into [0, 100] for display.
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Delayed classifies an instance as delayed when it is escalated or its
// expected completion date has passed. This is a computed classification,
// never an enforced deadline.
func Delayed(inst *model.WorkflowInstance, expectedCompletion *time.Time, now time.Time) bool {
	if inst.Status == model.InstanceEscalated {
		return true
	}
	return expectedCompletion != nil && now.After(*expectedCompletion)
}

// VisitElapsed returns how long a history entry lasted: exit minus entry for
// closed visits, now minus entry for the open one.
func VisitElapsed(visit model.StageVisit, now time.Time) time.Duration {
	if visit.ExitedAt != nil {
		return visit.ExitedAt.Sub(visit.EnteredAt)
	}
	return now.Sub(visit.EnteredAt)
}

// FormatElapsed renders a duration with the largest nonzero unit leading:
// days only when the duration reaches a day, else hours when it reaches an
// hour, else minutes.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days >= 1:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours >= 1:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// Progress builds the full progress report for an instance against its
// definition's ordered stages.
func Progress(def *model.WorkflowDefinition, inst *model.WorkflowInstance, expectedCompletion *time.Time, now time.Time) ProgressReport {
	enteredAt := inst.StageEnteredAt()

	var budget float64
	if stage := def.StageByID(inst.CurrentStageID); stage != nil {
		budget = stage.DurationHours
	}

	return ProgressReport{
		ProgressPercentage: ProgressPercentage(inst.CurrentStageID, def.Stages),
		TimeProgress:       TimeProgressPercentage(enteredAt, budget, now),
		Delayed:            Delayed(inst, expectedCompletion, now),
		StageElapsed:       FormatElapsed(now.Sub(enteredAt)),
	}
}
