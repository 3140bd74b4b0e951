package integration

import (
	"context"
	"testing"
	"time"

	"github.com/resolvehq/caseflow/model"
)

const waitTimeout = 2 * time.Second

func TestFullGrievanceLifecycle(t *testing.T) {
	h := NewHarness(t)
	ctx := context.Background()

	// 1. Start: the instance lands in intake and its entry actions run.
	inst, err := h.Engine.Start(ctx, "cmp-100", "grievance")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if inst.CurrentStageID != "intake" || inst.Status != model.InstanceActive {
		t.Fatalf("started at %q status %q", inst.CurrentStageID, inst.Status)
	}

	cmds := h.Executors.WaitFor(t, 3, waitTimeout)
	if cmds[0].Kind != model.CommandNotify || cmds[0].Audience != model.AudienceComplainant {
		t.Errorf("cmds[0] = %+v, want complainant notify", cmds[0])
	}
	if cmds[1].Kind != model.CommandNotify || cmds[1].Audience != model.AudienceDepartment {
		t.Errorf("cmds[1] = %+v, want department notify", cmds[1])
	}
	if cmds[2].Kind != model.CommandAssignAuto || cmds[2].DepartmentID != "dept-ops" {
		t.Errorf("cmds[2] = %+v, want auto assignment for dept-ops", cmds[2])
	}

	// 2. Resolve: without the urgent predicate registered, only the triage
	// edge is offered (CUSTOM fails closed).
	transitions, err := h.Engine.Resolve(ctx, inst.ID, nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(transitions) != 1 || transitions[0].TargetStageID != "triage" {
		t.Fatalf("available = %v, want only triage", transitions)
	}

	// 3. Apply intake -> triage: status update action runs.
	inst, err = h.Engine.Apply(ctx, inst.ID, "triage", &model.ActorContext{ActorID: "u-1", Role: "clerk"}, nil)
	if err != nil {
		t.Fatalf("Apply(triage) error = %v", err)
	}
	if inst.Version != 2 {
		t.Errorf("version = %d, want 2", inst.Version)
	}

	cmds = h.Executors.WaitFor(t, 4, waitTimeout)
	if cmds[3].Kind != model.CommandUpdateStatus || cmds[3].Status != model.StatusInProgress {
		t.Errorf("cmds[3] = %+v, want In Progress update", cmds[3])
	}

	// 4. The resolved edge is role-gated: a clerk cannot take it.
	_, err = h.Engine.Apply(ctx, inst.ID, "resolved", &model.ActorContext{Role: "clerk"}, nil)
	if model.CodeOf(err) != model.ErrInvalidTransition {
		t.Fatalf("clerk apply error code = %v, want ErrInvalidTransition", model.CodeOf(err))
	}

	// 5. A supervisor completes the workflow; the implied Closed update runs.
	inst, err = h.Engine.Apply(ctx, inst.ID, "resolved", &model.ActorContext{ActorID: "u-2", Role: "supervisor"}, nil)
	if err != nil {
		t.Fatalf("Apply(resolved) error = %v", err)
	}
	if inst.Status != model.InstanceCompleted {
		t.Errorf("status = %q, want COMPLETED", inst.Status)
	}
	if inst.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	cmds = h.Executors.WaitFor(t, 5, waitTimeout)
	if cmds[4].Kind != model.CommandUpdateStatus || cmds[4].Status != model.StatusClosed {
		t.Errorf("cmds[4] = %+v, want Closed update", cmds[4])
	}
	if cmds[4].Reason != "workflow completed" {
		t.Errorf("reason = %q", cmds[4].Reason)
	}

	// 6. History: three closed visits plus the open resolved visit.
	stored, err := h.Store.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(stored.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(stored.History))
	}
	wantStages := []string{"intake", "triage", "resolved"}
	for i, want := range wantStages {
		if stored.History[i].StageID != want {
			t.Errorf("history[%d] = %q, want %q", i, stored.History[i].StageID, want)
		}
	}
	for i := 0; i < 2; i++ {
		if stored.History[i].ExitedAt == nil {
			t.Errorf("history[%d] should be closed", i)
		}
	}
	if stored.History[2].ExitedAt != nil {
		t.Error("terminal visit should remain open")
	}

	// 7. A completed instance rejects further transitions.
	_, err = h.Engine.Apply(ctx, inst.ID, "intake", nil, nil)
	if model.CodeOf(err) != model.ErrInstanceNotActive {
		t.Errorf("apply after completion code = %v, want ErrInstanceNotActive", model.CodeOf(err))
	}
}

func TestScriptPredicateUnlocksEscalationPath(t *testing.T) {
	h := NewHarness(t, WithPredicates(map[string]string{
		"urgent": `payload.priority === "Urgent"`,
	}))
	ctx := context.Background()

	inst, err := h.Engine.Start(ctx, "cmp-200", "grievance")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.Executors.WaitFor(t, 3, waitTimeout)

	// Non-urgent payload: the CUSTOM edge stays closed.
	transitions, err := h.Engine.Resolve(ctx, inst.ID, nil, map[string]any{"priority": "Low"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("low priority offers %d transitions, want 1", len(transitions))
	}

	// Urgent payload: escalation-review opens up.
	transitions, err = h.Engine.Resolve(ctx, inst.ID, nil, map[string]any{"priority": "Urgent"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(transitions) != 2 || transitions[1].TargetStageID != "escalation-review" {
		t.Fatalf("urgent priority offers %v, want triage and escalation-review", transitions)
	}

	// Taking it escalates the instance and runs the escalation action.
	inst, err = h.Engine.Apply(ctx, inst.ID, "escalation-review", nil, map[string]any{"priority": "Urgent"})
	if err != nil {
		t.Fatalf("Apply(escalation-review) error = %v", err)
	}
	if inst.Status != model.InstanceEscalated {
		t.Errorf("status = %q, want ESCALATED", inst.Status)
	}

	cmds := h.Executors.WaitFor(t, 4, waitTimeout)
	esc := cmds[3]
	if esc.Kind != model.CommandEscalate {
		t.Fatalf("cmds[3] = %+v, want escalate", esc)
	}
	if esc.Reason != "flagged urgent at intake" || !esc.IncreasePriority {
		t.Errorf("escalate = %+v", esc)
	}

	// De-escalating back to triage returns the instance to ACTIVE.
	inst, err = h.Engine.Apply(ctx, inst.ID, "triage", nil, nil)
	if err != nil {
		t.Fatalf("Apply(triage) error = %v", err)
	}
	if inst.Status != model.InstanceActive {
		t.Errorf("status after de-escalation = %q, want ACTIVE", inst.Status)
	}
}

func TestDispatchDeduplication(t *testing.T) {
	h := NewHarness(t)
	ctx := context.Background()

	inst, err := h.Engine.Start(ctx, "cmp-300", "grievance")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.Executors.WaitFor(t, 3, waitTimeout)

	// Replaying the same batch (same instance, same version) is suppressed
	// by the dedup store, so the executed count stays put.
	h.Dispatcher.Dispatch(ctx, inst.ID, inst.Version, []model.ActionCommand{{
		Kind:        model.CommandNotify,
		ComplaintID: inst.ComplaintID,
		Audience:    model.AudienceComplainant,
	}})
	time.Sleep(50 * time.Millisecond)

	if got := len(h.Executors.Commands()); got != 3 {
		t.Errorf("executed %d commands after replay, want 3", got)
	}
}

func TestProgressThroughLifecycle(t *testing.T) {
	h := NewHarness(t)
	ctx := context.Background()

	inst, err := h.Engine.Start(ctx, "cmp-400", "grievance")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	report, err := h.Engine.Progress(ctx, inst.ID, nil)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	// First of four stages.
	if report.ProgressPercentage != 25 {
		t.Errorf("ProgressPercentage = %d, want 25", report.ProgressPercentage)
	}
	if report.Delayed {
		t.Error("fresh instance should not be delayed")
	}

	inst, err = h.Engine.Apply(ctx, inst.ID, "triage", nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	report, err = h.Engine.Progress(ctx, inst.ID, nil)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if report.ProgressPercentage != 50 {
		t.Errorf("ProgressPercentage = %d, want 50", report.ProgressPercentage)
	}
}
