package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/internal/definition"
	"github.com/resolvehq/caseflow/internal/observability"
	"github.com/resolvehq/caseflow/internal/store"
	"github.com/resolvehq/caseflow/model"
)

// ActionSink receives the planned side effects of a stage entry after the
// transition has been durably applied. Implementations execute the batch
// asynchronously but must preserve its order; delivery failures never roll
// back the transition.
type ActionSink interface {
	Dispatch(ctx context.Context, instanceID string, version int, cmds []model.ActionCommand)
}

// Engine manages the lifecycle of workflow instances. Resolution is pure
// and may run concurrently over the same definitions; Apply relies on the
// store's optimistic locking for the at-most-one-writer guarantee.
type Engine struct {
	registry *definition.Registry
	store    store.InstanceStore
	resolver *Resolver
	sink     ActionSink
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewEngine creates a new workflow engine. sink and metrics may be nil.
func NewEngine(
	registry *definition.Registry,
	st store.InstanceStore,
	resolver *Resolver,
	sink ActionSink,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		store:    st,
		resolver: resolver,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start creates a workflow instance for a complaint, entering the first
// stage of the active definition bound to the complaint type.
func (e *Engine) Start(ctx context.Context, complaintID, complaintTypeID string) (model.WorkflowInstance, error) {
	ctx, span := observability.StartSpan(ctx, "engine.start",
		observability.AttrComplaintID.String(complaintID),
	)
	inst, err := e.start(ctx, complaintID, complaintTypeID)
	if err == nil {
		span.SetAttributes(observability.AttrWorkflowID.String(inst.WorkflowID))
	}
	observability.EndSpanWithError(span, err)
	return inst, err
}

func (e *Engine) start(ctx context.Context, complaintID, complaintTypeID string) (model.WorkflowInstance, error) {
	def, ok := e.registry.GetForComplaintType(complaintTypeID)
	if !ok {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("no active workflow for complaint type %q", complaintTypeID),
		)
	}
	if len(def.Stages) == 0 {
		return model.WorkflowInstance{}, model.NewConfigurationError(
			fmt.Sprintf("workflow %q has no stages", def.ID), nil,
		)
	}

	now := time.Now().UTC()
	first := &def.Stages[0]

	inst := model.WorkflowInstance{
		ID:             uuid.New().String(),
		WorkflowID:     def.ID,
		ComplaintID:    complaintID,
		CurrentStageID: first.ID,
		Status:         model.InstanceActive,
		StartedAt:      now,
		History: []model.StageVisit{
			{StageID: first.ID, EnteredAt: now},
		},
		UpdatedAt: now,
		Version:   1,
	}
	if StageDeclaresEscalation(first) {
		inst.Status = model.InstanceEscalated
	}

	if err := e.store.Create(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}

	e.logger.Info("workflow instance started",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_id", def.ID),
		zap.String("complaint_id", complaintID),
		zap.String("stage_id", first.ID),
	)
	if e.metrics != nil {
		e.metrics.RecordWorkflowStart(def.ID)
	}

	e.dispatchEntry(ctx, &def, first, inst)
	return inst, nil
}

// Resolve computes the legal next stages for an instance given the acting
// user. It is a read-only query and never mutates state; an instance in an
// invalid state yields an empty result and an error, not a panic.
func (e *Engine) Resolve(ctx context.Context, instanceID string, actor *model.ActorContext, payload map[string]any) ([]ResolvedTransition, error) {
	attrs := []attribute.KeyValue{observability.AttrInstanceID.String(instanceID)}
	if actor != nil {
		attrs = append(attrs, observability.AttrActorRole.String(actor.Role))
		ctx = model.WithActorContext(ctx, actor)
	}
	ctx, span := observability.StartSpan(ctx, "engine.resolve", attrs...)
	out, err := e.resolve(ctx, instanceID, actor, payload)
	observability.EndSpanWithError(span, err)
	return out, err
}

func (e *Engine) resolve(ctx context.Context, instanceID string, actor *model.ActorContext, payload map[string]any) ([]ResolvedTransition, error) {
	inst, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, ok := e.registry.Get(inst.WorkflowID)
	if !ok {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", inst.WorkflowID),
		)
	}

	ectx := EvalContext{Now: time.Now().UTC(), Payload: payload}
	if actor != nil {
		ectx.ActorRole = actor.Role
	}
	return e.resolver.AvailableTransitions(&def, &inst, ectx)
}

// Apply moves an instance to the chosen target stage. The target must be
// among the currently available transitions; the transition is persisted
// with an optimistic version check before any action is dispatched, so a
// CONFLICT means nothing happened and the caller must recompute.
func (e *Engine) Apply(ctx context.Context, instanceID, targetStageID string, actor *model.ActorContext, payload map[string]any) (model.WorkflowInstance, error) {
	attrs := []attribute.KeyValue{
		observability.AttrInstanceID.String(instanceID),
		observability.AttrStageID.String(targetStageID),
	}
	if actor != nil {
		attrs = append(attrs, observability.AttrActorRole.String(actor.Role))
		ctx = model.WithActorContext(ctx, actor)
	}
	ctx, span := observability.StartSpan(ctx, "engine.apply", attrs...)
	inst, err := e.apply(ctx, instanceID, targetStageID, actor, payload)
	observability.EndSpanWithError(span, err)
	return inst, err
}

func (e *Engine) apply(ctx context.Context, instanceID, targetStageID string, actor *model.ActorContext, payload map[string]any) (model.WorkflowInstance, error) {
	log := observability.ActorLogger(ctx, e.logger)
	if len(payload) > 0 {
		log.Debug("transition payload received",
			zap.String("instance_id", instanceID),
			zap.Any("payload", observability.RedactBody(payload, nil)),
		)
	}

	inst, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if inst.Status == model.InstanceCompleted {
		return model.WorkflowInstance{}, model.NewInstanceNotActiveError(
			fmt.Sprintf("workflow instance %q is completed", instanceID),
		)
	}

	def, ok := e.registry.Get(inst.WorkflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", inst.WorkflowID),
		)
	}

	ectx := EvalContext{Now: time.Now().UTC(), Payload: payload}
	if actor != nil {
		ectx.ActorRole = actor.Role
	}
	available, err := e.resolver.AvailableTransitions(&def, &inst, ectx)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	allowed := false
	for _, tr := range available {
		if tr.TargetStageID == targetStageID {
			allowed = true
			break
		}
	}
	if !allowed {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("no available transition from %q to %q", inst.CurrentStageID, targetStageID),
		)
	}

	// A dangling target can be offered read-only but never entered.
	target := def.StageByID(targetStageID)
	if target == nil {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("target stage %q not found in workflow %q", targetStageID, def.ID),
		)
	}

	fromStageID := inst.CurrentStageID
	now := time.Now().UTC()

	if open := inst.OpenVisit(); open != nil {
		open.ExitedAt = &now
	}
	inst.History = append(inst.History, model.StageVisit{StageID: target.ID, EnteredAt: now})
	inst.CurrentStageID = target.ID

	// A terminal target completes the instance regardless of the detected
	// complaint-status change: an explicit STATUS_UPDATE on the terminal
	// stage still wins for the complaint status, but the instance lifecycle
	// ends either way.
	change, hasChange := StatusChangeForTransition(&def, fromStageID, target.ID)
	switch {
	case isTerminalStage(&def, target) || (hasChange && change.ToStatus == model.StatusClosed):
		inst.Status = model.InstanceCompleted
		inst.CompletedAt = &now
	case StageDeclaresEscalation(target):
		inst.Status = model.InstanceEscalated
	default:
		// Moving to a stage without escalation semantics un-escalates;
		// only the status/priority side effects are one-directional.
		inst.Status = model.InstanceActive
	}

	if err := e.store.Update(ctx, inst); err != nil {
		if model.CodeOf(err) == model.ErrConflict {
			log.Warn("concurrent transition detected, discarding resolution",
				zap.String("instance_id", inst.ID),
				zap.String("workflow_id", def.ID),
			)
			if e.metrics != nil {
				e.metrics.RecordTransitionConflict(def.ID)
			}
		}
		return model.WorkflowInstance{}, err
	}
	inst.Version++
	inst.UpdatedAt = now

	log.Info("transition applied",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_id", def.ID),
		zap.String("from_stage", fromStageID),
		zap.String("to_stage", target.ID),
		zap.String("status", inst.Status),
	)
	if e.metrics != nil {
		e.metrics.RecordTransitionApplied(def.ID, target.ID)
		if inst.Status == model.InstanceCompleted {
			e.metrics.RecordWorkflowCompletion(def.ID)
		}
	}

	e.dispatchEntry(ctx, &def, target, inst)
	return inst, nil
}

// Escalate marks an instance escalated outside of any stage's ESCALATION
// action. The engine is the single authority over instance status; external
// callers escalate through here rather than writing the field directly.
func (e *Engine) Escalate(ctx context.Context, instanceID, reason string) (model.WorkflowInstance, error) {
	ctx, span := observability.StartSpan(ctx, "engine.escalate",
		observability.AttrInstanceID.String(instanceID),
	)
	inst, err := e.escalate(ctx, instanceID, reason)
	observability.EndSpanWithError(span, err)
	return inst, err
}

func (e *Engine) escalate(ctx context.Context, instanceID, reason string) (model.WorkflowInstance, error) {
	inst, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Status == model.InstanceCompleted {
		return model.WorkflowInstance{}, model.NewInstanceNotActiveError(
			fmt.Sprintf("workflow instance %q is completed", instanceID),
		)
	}
	if inst.Status == model.InstanceEscalated {
		return inst, nil
	}

	inst.Status = model.InstanceEscalated
	if err := e.store.Update(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	e.logger.Info("workflow instance escalated",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_id", inst.WorkflowID),
		zap.String("reason", reason),
	)
	if e.metrics != nil {
		e.metrics.RecordEscalation(inst.WorkflowID)
	}

	if e.sink != nil {
		e.sink.Dispatch(ctx, inst.ID, inst.Version, []model.ActionCommand{{
			Kind:        model.CommandEscalate,
			ComplaintID: inst.ComplaintID,
			Reason:      reason,
		}})
	}
	return inst, nil
}

// Progress reports stage-count and time-budget progress for an instance.
func (e *Engine) Progress(ctx context.Context, instanceID string, expectedCompletion *time.Time) (ProgressReport, error) {
	inst, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return ProgressReport{}, err
	}
	def, ok := e.registry.Get(inst.WorkflowID)
	if !ok {
		return ProgressReport{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", inst.WorkflowID),
		)
	}
	return Progress(&def, &inst, expectedCompletion, time.Now().UTC()), nil
}

// dispatchEntry hands a freshly entered stage's planned actions to the
// sink. A terminal close without an explicit STATUS_UPDATE action still
// emits the implied Closed update so the external complaint record follows.
func (e *Engine) dispatchEntry(ctx context.Context, def *model.WorkflowDefinition, stage *model.Stage, inst model.WorkflowInstance) {
	if e.sink == nil {
		return
	}

	cmds := PlanStageEntry(def, stage, inst.ComplaintID)
	if inst.Status == model.InstanceCompleted && !stageDeclaresStatusUpdate(stage) {
		cmds = append(cmds, model.ActionCommand{
			Kind:        model.CommandUpdateStatus,
			ComplaintID: inst.ComplaintID,
			Status:      model.StatusClosed,
			Reason:      reasonWorkflowCompleted,
		})
	}
	if len(cmds) == 0 {
		return
	}
	e.sink.Dispatch(ctx, inst.ID, inst.Version, cmds)
}
