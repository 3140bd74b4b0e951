package model

import (
	"testing"
	"time"
)

func TestWorkflowInstance_OpenVisit(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exit := start.Add(2 * time.Hour)

	inst := WorkflowInstance{
		StartedAt: start,
		History: []StageVisit{
			{StageID: "intake", EnteredAt: start, ExitedAt: &exit},
			{StageID: "triage", EnteredAt: exit},
		},
	}

	visit := inst.OpenVisit()
	if visit == nil {
		t.Fatal("expected an open visit")
	}
	if visit.StageID != "triage" {
		t.Errorf("open visit stage = %q, want triage", visit.StageID)
	}
	if got := inst.StageEnteredAt(); !got.Equal(exit) {
		t.Errorf("StageEnteredAt = %v, want %v", got, exit)
	}
}

func TestWorkflowInstance_OpenVisit_noneOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exit := start.Add(time.Hour)

	inst := WorkflowInstance{
		StartedAt: start,
		History: []StageVisit{
			{StageID: "intake", EnteredAt: start, ExitedAt: &exit},
		},
	}

	if inst.OpenVisit() != nil {
		t.Error("expected no open visit")
	}
	// Falls back to the instance start time.
	if got := inst.StageEnteredAt(); !got.Equal(start) {
		t.Errorf("StageEnteredAt = %v, want %v", got, start)
	}
}
