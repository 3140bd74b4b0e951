package engine

import "github.com/resolvehq/caseflow/model"

// PlanStageEntry translates a stage's declared actions into the ordered
// list of external calls entering it requires. The engine only decides what
// to execute; execution belongs to an external runtime, and the returned
// order must be preserved exactly (a notification declared before a status
// update observes the pre-update status).
func PlanStageEntry(def *model.WorkflowDefinition, stage *model.Stage, complaintID string) []model.ActionCommand {
	var cmds []model.ActionCommand

	for _, a := range stage.Actions {
		switch a.Type {
		case model.ActionNotification:
			if a.Notification == nil {
				continue
			}
			cmds = append(cmds, planNotifications(a.Notification, complaintID)...)

		case model.ActionStatusUpdate:
			if a.StatusUpdate == nil {
				continue
			}
			reason := a.StatusUpdate.UpdateReason
			if reason == "" {
				reason = reasonStatusUpdated
			}
			cmds = append(cmds, model.ActionCommand{
				Kind:        model.CommandUpdateStatus,
				ComplaintID: complaintID,
				Status:      a.StatusUpdate.Status,
				Reason:      reason,
			})

		case model.ActionAssignment:
			if a.Assignment == nil {
				continue
			}
			switch a.Assignment.AssignmentType {
			case model.AssignmentAuto:
				// AUTO without find_available_user is an explicit signal to
				// skip auto-assignment, not a misconfiguration.
				if !a.Assignment.FindAvailableUser {
					continue
				}
				cmds = append(cmds, model.ActionCommand{
					Kind:         model.CommandAssignAuto,
					ComplaintID:  complaintID,
					DepartmentID: def.DepartmentID,
				})
			case model.AssignmentSpecific:
				cmds = append(cmds, model.ActionCommand{
					Kind:        model.CommandAssignUser,
					ComplaintID: complaintID,
					UserID:      a.Assignment.UserID,
				})
			}

		case model.ActionEscalation:
			if a.Escalation == nil {
				continue
			}
			cmds = append(cmds, model.ActionCommand{
				Kind:             model.CommandEscalate,
				ComplaintID:      complaintID,
				Reason:           a.Escalation.Reason,
				IncreasePriority: a.Escalation.IncreasePriority,
			})
		}
	}

	return cmds
}

// planNotifications fans a NOTIFICATION action out into one command per
// enabled audience flag, complainant first.
func planNotifications(n *model.NotificationAction, complaintID string) []model.ActionCommand {
	var cmds []model.ActionCommand
	add := func(audience model.NotifyAudience) {
		cmds = append(cmds, model.ActionCommand{
			Kind:        model.CommandNotify,
			ComplaintID: complaintID,
			Audience:    audience,
			Message:     n.CustomMessage,
		})
	}
	if n.NotifyComplainant {
		add(model.AudienceComplainant)
	}
	if n.NotifyDepartment {
		add(model.AudienceDepartment)
	}
	if n.NotifyAssignee {
		add(model.AudienceAssignee)
	}
	return cmds
}

// StageDeclaresEscalation reports whether entering the stage escalates the
// instance.
func StageDeclaresEscalation(stage *model.Stage) bool {
	for _, a := range stage.Actions {
		if a.Type == model.ActionEscalation && a.Escalation != nil {
			return true
		}
	}
	return false
}

// stageDeclaresStatusUpdate reports whether the stage carries an explicit
// STATUS_UPDATE action.
func stageDeclaresStatusUpdate(stage *model.Stage) bool {
	for _, a := range stage.Actions {
		if a.Type == model.ActionStatusUpdate && a.StatusUpdate != nil {
			return true
		}
	}
	return false
}
