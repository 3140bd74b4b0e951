package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/resolvehq/caseflow/model"
)

// MemoryInstanceStore is an in-memory InstanceStore for testing and
// single-node deployments.
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance // key: instance ID
}

// NewMemoryInstanceStore creates a new in-memory instance store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]model.WorkflowInstance),
	}
}

// Create persists a new workflow instance.
func (s *MemoryInstanceStore) Create(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}

	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Get retrieves a workflow instance by ID.
func (s *MemoryInstanceStore) Get(_ context.Context, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return cloneInstance(inst), nil
}

// GetByComplaint retrieves the instance bound to a complaint.
func (s *MemoryInstanceStore) GetByComplaint(_ context.Context, complaintID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.instances {
		if inst.ComplaintID == complaintID {
			return cloneInstance(inst), nil
		}
	}
	return model.WorkflowInstance{}, model.NewNotFoundError(
		fmt.Sprintf("no workflow instance for complaint %q", complaintID),
	)
}

// Update persists an updated instance with optimistic locking.
func (s *MemoryInstanceStore) Update(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)", inst.ID, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// FindActive returns non-completed workflow instances.
func (s *MemoryInstanceStore) FindActive(_ context.Context, filters Filters) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status == model.InstanceCompleted {
			continue
		}
		if filters.WorkflowID != "" && inst.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.Status != "" && inst.Status != filters.Status {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	// Sort by started_at descending.
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.WorkflowInstance{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// Delete removes a workflow instance.
func (s *MemoryInstanceStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[instanceID]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}

	delete(s.instances, instanceID)
	return nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryInstanceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// cloneInstance copies an instance including its history slice, so callers
// never share backing arrays with the store.
func cloneInstance(inst model.WorkflowInstance) model.WorkflowInstance {
	out := inst
	if inst.History != nil {
		out.History = make([]model.StageVisit, len(inst.History))
		copy(out.History, inst.History)
	}
	return out
}
