package model

import "time"

// Workflow instance status constants.
const (
	InstanceActive    = "ACTIVE"
	InstanceEscalated = "ESCALATED"
	InstanceCompleted = "COMPLETED"
)

// WorkflowInstance is the per-complaint runtime pointer into a workflow
// definition's stage graph, plus its visit history.
type WorkflowInstance struct {
	ID             string       `json:"id"`
	WorkflowID     string       `json:"workflow_id"`
	ComplaintID    string       `json:"complaint_id"`
	CurrentStageID string       `json:"current_stage_id"`
	Status         string       `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	History        []StageVisit `json:"history"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Version        int          `json:"version"`
}

// StageVisit is one append-only history entry. Exactly one visit has a nil
// ExitedAt at any time: the current stage.
type StageVisit struct {
	StageID   string     `json:"stage_id"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}

// OpenVisit returns the current (unclosed) history entry, or nil if the
// history is empty or fully closed.
func (i *WorkflowInstance) OpenVisit() *StageVisit {
	for idx := len(i.History) - 1; idx >= 0; idx-- {
		if i.History[idx].ExitedAt == nil {
			return &i.History[idx]
		}
	}
	return nil
}

// StageEnteredAt returns when the current stage was entered, falling back to
// StartedAt when the history carries no open visit.
func (i *WorkflowInstance) StageEnteredAt() time.Time {
	if v := i.OpenVisit(); v != nil {
		return v.EnteredAt
	}
	return i.StartedAt
}
