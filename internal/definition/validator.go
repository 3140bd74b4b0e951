package definition

import (
	"fmt"

	"github.com/resolvehq/caseflow/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks workflow definitions structurally and referentially.
// Findings accumulate; nothing is silently repaired.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions, including cross-definition id uniqueness.
func (v *Validator) Validate(defs []model.WorkflowDefinition) []VError {
	var errs []VError

	seen := make(map[string]string, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.ID != "" {
			if prior, dup := seen[def.ID]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("definition id %q already declared by %s", def.ID, prior),
				})
			} else {
				seen[def.ID] = prefix
			}
		}
		errs = append(errs, v.validateDefinition(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateDefinition(prefix string, def model.WorkflowDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(def.Stages) == 0 {
		errs = append(errs, VError{Path: prefix + ".stages", Code: "REQUIRED", Message: "at least one stage is required"})
	}

	stageIDs := make(map[string]bool, len(def.Stages))
	for i, s := range def.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "stage id is required"})
			continue
		}
		if stageIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("stage id %q is not unique", s.ID)})
		}
		stageIDs[s.ID] = true
		if s.DurationHours < 0 {
			errs = append(errs, VError{Path: sp + ".duration_hours", Code: "RANGE", Message: "duration_hours must not be negative"})
		}
	}

	for i, s := range def.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		for j, a := range s.Actions {
			ap := fmt.Sprintf("%s.actions[%d]", sp, j)
			errs = append(errs, v.validateAction(ap, a)...)
		}
		for j, tr := range s.Transitions {
			tp := fmt.Sprintf("%s.transitions[%d]", sp, j)
			if tr.TargetStageID == "" {
				errs = append(errs, VError{Path: tp + ".target_stage_id", Code: "REQUIRED", Message: "target_stage_id is required"})
			} else if !stageIDs[tr.TargetStageID] {
				errs = append(errs, VError{
					Path:    tp + ".target_stage_id",
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("stage %q not found in definition", tr.TargetStageID),
				})
			}
			errs = append(errs, v.validateCondition(tp+".condition", tr.Condition)...)
		}
	}

	return errs
}

var validConditionTypes = map[model.ConditionType]bool{
	model.ConditionAlways:    true,
	model.ConditionTimeBased: true,
	model.ConditionUserRole:  true,
	model.ConditionCustom:    true,
}

func (v *Validator) validateCondition(prefix string, c model.Condition) []VError {
	var errs []VError

	if c.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "condition type is required"})
		return errs
	}
	if !validConditionTypes[c.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid condition type %q", c.Type)})
		return errs
	}

	switch c.Type {
	case model.ConditionTimeBased:
		if c.Hours <= 0 {
			errs = append(errs, VError{Path: prefix + ".hours", Code: "RANGE", Message: "hours must be positive for TIME_BASED"})
		}
	case model.ConditionUserRole:
		if c.Role == "" {
			errs = append(errs, VError{Path: prefix + ".role", Code: "REQUIRED", Message: "role is required for USER_ROLE"})
		}
	case model.ConditionCustom:
		if c.Predicate == "" {
			errs = append(errs, VError{Path: prefix + ".predicate", Code: "REQUIRED", Message: "predicate name is required for CUSTOM"})
		}
	}

	return errs
}

var validActionTypes = map[model.ActionType]bool{
	model.ActionNotification: true,
	model.ActionStatusUpdate: true,
	model.ActionAssignment:   true,
	model.ActionEscalation:   true,
}

func (v *Validator) validateAction(prefix string, a model.Action) []VError {
	var errs []VError

	if a.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "action type is required"})
		return errs
	}
	if !validActionTypes[a.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid action type %q", a.Type)})
		return errs
	}

	switch a.Type {
	case model.ActionNotification:
		if a.Notification == nil {
			errs = append(errs, VError{Path: prefix + ".notification", Code: "REQUIRED", Message: "notification payload is required"})
		}
	case model.ActionStatusUpdate:
		if a.StatusUpdate == nil {
			errs = append(errs, VError{Path: prefix + ".status_update", Code: "REQUIRED", Message: "status_update payload is required"})
		} else if !a.StatusUpdate.Status.Valid() {
			errs = append(errs, VError{Path: prefix + ".status_update.status", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid complaint status %q", a.StatusUpdate.Status)})
		}
	case model.ActionAssignment:
		if a.Assignment == nil {
			errs = append(errs, VError{Path: prefix + ".assignment", Code: "REQUIRED", Message: "assignment payload is required"})
			break
		}
		switch a.Assignment.AssignmentType {
		case model.AssignmentAuto:
		case model.AssignmentSpecific:
			if a.Assignment.UserID == "" {
				errs = append(errs, VError{Path: prefix + ".assignment.user_id", Code: "REQUIRED", Message: "user_id is required for SPECIFIC assignment"})
			}
		default:
			errs = append(errs, VError{Path: prefix + ".assignment.assignment_type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid assignment type %q", a.Assignment.AssignmentType)})
		}
	case model.ActionEscalation:
		if a.Escalation == nil {
			errs = append(errs, VError{Path: prefix + ".escalation", Code: "REQUIRED", Message: "escalation payload is required"})
		} else if a.Escalation.Reason == "" {
			errs = append(errs, VError{Path: prefix + ".escalation.reason", Code: "REQUIRED", Message: "escalation reason is required"})
		}
	}

	return errs
}

// AsConfigurationError converts validation findings into a single
// CONFIGURATION_ERROR envelope, or nil when there are none.
func AsConfigurationError(errs []VError) *model.ErrorEnvelope {
	if len(errs) == 0 {
		return nil
	}
	details := make([]model.FieldError, 0, len(errs))
	for _, e := range errs {
		details = append(details, model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message})
	}
	return model.NewConfigurationError("workflow definitions failed validation", details)
}
