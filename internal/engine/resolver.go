package engine

import (
	"fmt"

	"github.com/resolvehq/caseflow/model"
)

// ResolvedTransition is one legal next hop for a workflow instance.
type ResolvedTransition struct {
	TargetStageID string       `json:"target_stage_id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	TargetStage   *model.Stage `json:"target_stage,omitempty"`

	// Fallback marks transitions synthesized for a stage with no declared
	// outgoing edges.
	Fallback bool `json:"fallback,omitempty"`
}

// StatusChange describes the complaint status side effect a transition
// would trigger.
type StatusChange struct {
	ToStatus  model.ComplaintStatus `json:"to_status"`
	Automatic bool                  `json:"automatic"`
	Reason    string                `json:"reason"`
}

// Default reasons for engine-synthesized status changes.
const (
	reasonWorkflowCompleted = "workflow completed"
	reasonStatusUpdated     = "status updated by workflow"
)

// Resolver computes the set of legal next stages for an instance. It only
// reads the definition and instance passed in; definitions must be treated
// as immutable for the duration of a call.
type Resolver struct {
	eval *Evaluator
}

// NewResolver creates a Resolver backed by the given condition evaluator.
func NewResolver(eval *Evaluator) *Resolver {
	return &Resolver{eval: eval}
}

// Evaluator exposes the resolver's condition evaluator so callers can
// register CUSTOM predicates.
func (r *Resolver) Evaluator() *Evaluator {
	return r.eval
}

// AvailableTransitions returns the ordered set of transitions whose guards
// currently hold.
//
// When the current stage declares transitions, each is kept only if its
// condition is satisfied; output order is declaration order. A dangling
// target is still included, with a nil TargetStage, so read paths survive
// partially invalid historical data.
//
// When the current stage declares no transitions, every other stage in the
// definition becomes an unconditional candidate, in stage order. This keeps
// minimally configured workflows navigable and is deliberate permissiveness.
//
// An instance whose current stage is not in the definition gets an empty
// result and an INVALID_INSTANCE_STATE error; detection and repair are the
// caller's responsibility.
func (r *Resolver) AvailableTransitions(
	def *model.WorkflowDefinition,
	inst *model.WorkflowInstance,
	ectx EvalContext,
) ([]ResolvedTransition, error) {
	current := def.StageByID(inst.CurrentStageID)
	if current == nil {
		return nil, model.NewInvalidInstanceStateError(
			fmt.Sprintf("stage %q not found in workflow %q", inst.CurrentStageID, def.ID),
		)
	}

	// Guards on TIME_BASED conditions measure from the current stage's
	// entry, not from whatever the caller happened to set.
	ectx.StageEnteredAt = inst.StageEnteredAt()

	if len(current.Transitions) == 0 {
		return r.fallbackTransitions(def, current), nil
	}

	var out []ResolvedTransition
	for _, tr := range current.Transitions {
		if !r.eval.IsSatisfied(tr.Condition, ectx) {
			continue
		}
		target := def.StageByID(tr.TargetStageID)
		out = append(out, ResolvedTransition{
			TargetStageID: tr.TargetStageID,
			Name:          transitionName(tr, target),
			Description:   tr.Description,
			TargetStage:   target,
		})
	}
	return out, nil
}

// fallbackTransitions offers every other stage as an unconditional
// candidate, preserving stage order.
func (r *Resolver) fallbackTransitions(def *model.WorkflowDefinition, current *model.Stage) []ResolvedTransition {
	var out []ResolvedTransition
	for i := range def.Stages {
		s := &def.Stages[i]
		if s.ID == current.ID {
			continue
		}
		out = append(out, ResolvedTransition{
			TargetStageID: s.ID,
			Name:          s.Name,
			Description:   s.Description,
			TargetStage:   s,
			Fallback:      true,
		})
	}
	return out
}

// transitionName resolves the display name: the explicit transition name
// wins, then the target stage's name, then the raw target id.
func transitionName(tr model.Transition, target *model.Stage) string {
	if tr.Name != "" {
		return tr.Name
	}
	if target != nil && target.Name != "" {
		return target.Name
	}
	return tr.TargetStageID
}

// StatusChangeForTransition reports the complaint status change entering
// targetStageID would trigger, if any.
//
// An explicit STATUS_UPDATE action on the target stage wins; only the first
// such action is consulted (multiple STATUS_UPDATE actions on one stage is a
// configuration smell the engine does not reconcile). Independently of that,
// a terminal target (last in stage order with no outgoing transitions)
// implies Closed. Both checks always run; the action check simply has
// priority.
func StatusChangeForTransition(def *model.WorkflowDefinition, currentStageID, targetStageID string) (StatusChange, bool) {
	target := def.StageByID(targetStageID)
	if target == nil {
		return StatusChange{}, false
	}

	for _, a := range target.Actions {
		if a.Type != model.ActionStatusUpdate || a.StatusUpdate == nil {
			continue
		}
		reason := a.StatusUpdate.UpdateReason
		if reason == "" {
			reason = reasonStatusUpdated
		}
		return StatusChange{
			ToStatus:  a.StatusUpdate.Status,
			Automatic: true,
			Reason:    reason,
		}, true
	}

	if isTerminalStage(def, target) {
		return StatusChange{
			ToStatus:  model.StatusClosed,
			Automatic: true,
			Reason:    reasonWorkflowCompleted,
		}, true
	}

	return StatusChange{}, false
}

// isTerminalStage reports whether a stage is last in order and has no
// outgoing transitions.
func isTerminalStage(def *model.WorkflowDefinition, stage *model.Stage) bool {
	if len(stage.Transitions) != 0 {
		return false
	}
	for i := range def.Stages {
		if def.Stages[i].Order > stage.Order {
			return false
		}
	}
	return true
}
