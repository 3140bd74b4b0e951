// Package store persists workflow instances. The engine never mutates
// shared state itself; at-most-one-writer per instance is enforced here via
// optimistic version checks.
package store

import (
	"context"

	"github.com/resolvehq/caseflow/model"
)

// InstanceStore persists workflow instances.
type InstanceStore interface {
	// Create persists a new workflow instance.
	Create(ctx context.Context, instance model.WorkflowInstance) error

	// Get retrieves a workflow instance by ID. Returns NOT_FOUND if the
	// instance doesn't exist.
	Get(ctx context.Context, instanceID string) (model.WorkflowInstance, error)

	// GetByComplaint retrieves the workflow instance bound to a complaint,
	// if any.
	GetByComplaint(ctx context.Context, complaintID string) (model.WorkflowInstance, error)

	// Update persists an updated workflow instance with optimistic locking.
	// The version must match the current stored version. Returns CONFLICT if
	// the version has changed; the caller must discard its resolved
	// transition and recompute against fresh state.
	Update(ctx context.Context, instance model.WorkflowInstance) error

	// FindActive returns non-completed workflow instances, optionally
	// filtered by workflow ID or status.
	FindActive(ctx context.Context, filters Filters) ([]model.WorkflowInstance, error)

	// Delete removes a workflow instance.
	Delete(ctx context.Context, instanceID string) error
}

// Filters are optional filters for listing workflow instances.
type Filters struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}
