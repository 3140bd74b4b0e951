package model

// ActionCommandKind discriminates planned external calls.
type ActionCommandKind string

// Planned action command kinds.
const (
	CommandNotify       ActionCommandKind = "notify"
	CommandUpdateStatus ActionCommandKind = "update_status"
	CommandAssignAuto   ActionCommandKind = "assign_auto"
	CommandAssignUser   ActionCommandKind = "assign_user"
	CommandEscalate     ActionCommandKind = "escalate"
)

// NotifyAudience identifies who a planned notification targets.
type NotifyAudience string

// Notification audiences.
const (
	AudienceComplainant NotifyAudience = "complainant"
	AudienceDepartment  NotifyAudience = "department"
	AudienceAssignee    NotifyAudience = "assignee"
)

// ActionCommand is one fully resolved external call planned for a stage
// entry. The engine decides; an external runtime executes. Declaration order
// within a batch is significant and must be preserved by executors.
type ActionCommand struct {
	Kind        ActionCommandKind `json:"kind"`
	ComplaintID string            `json:"complaint_id"`

	// notify
	Audience NotifyAudience `json:"audience,omitempty"`
	Message  string         `json:"message,omitempty"`

	// update_status
	Status ComplaintStatus `json:"status,omitempty"`
	Reason string          `json:"reason,omitempty"`

	// assign_auto / assign_user
	DepartmentID string `json:"department_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`

	// escalate
	IncreasePriority bool `json:"increase_priority,omitempty"`
}
