package model

// ConditionType discriminates transition guard variants.
type ConditionType string

// Transition guard condition types.
const (
	ConditionAlways    ConditionType = "ALWAYS"
	ConditionTimeBased ConditionType = "TIME_BASED"
	ConditionUserRole  ConditionType = "USER_ROLE"
	ConditionCustom    ConditionType = "CUSTOM"
)

// ActionType discriminates stage-entry action variants.
type ActionType string

// Stage-entry action types.
const (
	ActionNotification ActionType = "NOTIFICATION"
	ActionStatusUpdate ActionType = "STATUS_UPDATE"
	ActionAssignment   ActionType = "ASSIGNMENT"
	ActionEscalation   ActionType = "ESCALATION"
)

// AssignmentType selects how an ASSIGNMENT action picks its target.
type AssignmentType string

// Assignment strategies.
const (
	AssignmentAuto     AssignmentType = "AUTO"
	AssignmentSpecific AssignmentType = "SPECIFIC"
)

// WorkflowDefinition is the configurable stage graph driving a complaint's
// lifecycle. Definitions are immutable once loaded; the registry hands out
// the same value to every resolution call.
type WorkflowDefinition struct {
	ID              string  `yaml:"id"                json:"id"`
	Name            string  `yaml:"name"              json:"name"`
	Description     string  `yaml:"description"       json:"description,omitempty"`
	ComplaintTypeID string  `yaml:"complaint_type_id" json:"complaint_type_id,omitempty"`
	DepartmentID    string  `yaml:"department_id"     json:"department_id,omitempty"`
	IsActive        bool    `yaml:"is_active"         json:"is_active"`
	Stages          []Stage `yaml:"stages"            json:"stages"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// StageByID returns the stage with the given id, or nil. Lookups tolerate
// dangling references; callers must handle the nil case.
func (d *WorkflowDefinition) StageByID(id string) *Stage {
	for i := range d.Stages {
		if d.Stages[i].ID == id {
			return &d.Stages[i]
		}
	}
	return nil
}

// StageIndex returns the position of the stage with the given id in the
// ordered stage list, or -1 if absent.
func (d *WorkflowDefinition) StageIndex(id string) int {
	for i := range d.Stages {
		if d.Stages[i].ID == id {
			return i
		}
	}
	return -1
}

// Stage is one node in the workflow graph. Actions run, in declared order,
// when a complaint enters the stage. Transitions are candidate outgoing
// edges; the first one is the default suggestion.
type Stage struct {
	ID            string  `yaml:"id"             json:"id"`
	Name          string  `yaml:"name"           json:"name"`
	Description   string  `yaml:"description"    json:"description,omitempty"`
	DurationHours float64 `yaml:"duration_hours" json:"duration_hours,omitempty"`

	// Order is a display/iteration rank. The YAML value is only consulted
	// once, to sort stages at load time; afterwards the slice position is
	// the source of truth and Order is recomputed densely.
	Order int `yaml:"order" json:"order"`

	Actions     []Action     `yaml:"actions"     json:"actions,omitempty"`
	Transitions []Transition `yaml:"transitions" json:"transitions,omitempty"`
}

// Transition is a candidate directed edge to another stage, gated by a
// condition. Name and description are display-only.
type Transition struct {
	TargetStageID string    `yaml:"target_stage_id" json:"target_stage_id"`
	Name          string    `yaml:"name"            json:"name,omitempty"`
	Description   string    `yaml:"description"     json:"description,omitempty"`
	Condition     Condition `yaml:"condition"       json:"condition"`
}

// Condition is a tagged union over guard variants. Exactly the fields for
// the declared Type are meaningful; the validator rejects definitions whose
// payload does not match the type.
type Condition struct {
	Type ConditionType `yaml:"type" json:"type"`

	// TIME_BASED: hours that must have elapsed since stage entry.
	Hours float64 `yaml:"hours,omitempty" json:"hours,omitempty"`

	// USER_ROLE: exact role string the acting user must hold.
	Role string `yaml:"role,omitempty" json:"role,omitempty"`

	// CUSTOM: name of a caller-registered predicate plus an opaque payload
	// the engine never inspects beyond existence.
	Predicate string         `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty"   json:"payload,omitempty"`
}

// Action is a tagged union over stage-entry side effects. Exactly one of the
// variant payloads is set, matching Type.
type Action struct {
	Type ActionType `yaml:"type" json:"type"`

	Notification *NotificationAction `yaml:"notification,omitempty"  json:"notification,omitempty"`
	StatusUpdate *StatusUpdateAction `yaml:"status_update,omitempty" json:"status_update,omitempty"`
	Assignment   *AssignmentAction   `yaml:"assignment,omitempty"    json:"assignment,omitempty"`
	Escalation   *EscalationAction   `yaml:"escalation,omitempty"    json:"escalation,omitempty"`
}

// NotificationAction fans out one notification per enabled audience flag.
type NotificationAction struct {
	NotifyComplainant bool   `yaml:"notify_complainant" json:"notify_complainant"`
	NotifyDepartment  bool   `yaml:"notify_department"  json:"notify_department"`
	NotifyAssignee    bool   `yaml:"notify_assignee"    json:"notify_assignee"`
	CustomMessage     string `yaml:"custom_message"     json:"custom_message,omitempty"`
}

// StatusUpdateAction sets the complaint's status on stage entry.
type StatusUpdateAction struct {
	Status       ComplaintStatus `yaml:"status"        json:"status"`
	UpdateReason string          `yaml:"update_reason" json:"update_reason,omitempty"`
}

// AssignmentAction assigns the complaint on stage entry. AUTO without
// FindAvailableUser is an explicit signal to skip auto-assignment.
type AssignmentAction struct {
	AssignmentType    AssignmentType `yaml:"assignment_type"     json:"assignment_type"`
	FindAvailableUser bool           `yaml:"find_available_user" json:"find_available_user,omitempty"`
	UserID            string         `yaml:"user_id"             json:"user_id,omitempty"`
}

// EscalationAction escalates the complaint on stage entry, optionally
// bumping its priority one level (clamped at Urgent).
type EscalationAction struct {
	Reason           string `yaml:"reason"            json:"reason"`
	IncreasePriority bool   `yaml:"increase_priority" json:"increase_priority,omitempty"`
}
