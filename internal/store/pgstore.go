package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resolvehq/caseflow/model"
)

// PgInstanceStore is a PostgreSQL-backed InstanceStore using pgx/v5. The
// visit history is stored as a JSONB column and round-trips losslessly.
type PgInstanceStore struct {
	pool *pgxpool.Pool
}

// NewPgInstanceStore creates a new PostgreSQL instance store.
func NewPgInstanceStore(pool *pgxpool.Pool) *PgInstanceStore {
	return &PgInstanceStore{pool: pool}
}

// HealthCheck verifies database connectivity for the readiness endpoint.
func (s *PgInstanceStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new workflow instance.
func (s *PgInstanceStore) Create(ctx context.Context, inst model.WorkflowInstance) error {
	historyJSON, err := json.Marshal(inst.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, workflow_id, complaint_id, current_stage_id, status,
			started_at, completed_at, history, version, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`,
		inst.ID, inst.WorkflowID, inst.ComplaintID, inst.CurrentStageID, inst.Status,
		inst.StartedAt, inst.CompletedAt, historyJSON, inst.Version, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// Get retrieves a workflow instance by ID.
func (s *PgInstanceStore) Get(ctx context.Context, instanceID string) (model.WorkflowInstance, error) {
	return s.queryOne(ctx, `
		SELECT id, workflow_id, complaint_id, current_stage_id, status,
		       started_at, completed_at, history, version, updated_at
		FROM workflow_instances
		WHERE id = $1`,
		fmt.Sprintf("workflow instance %q not found", instanceID),
		instanceID,
	)
}

// GetByComplaint retrieves the instance bound to a complaint.
func (s *PgInstanceStore) GetByComplaint(ctx context.Context, complaintID string) (model.WorkflowInstance, error) {
	return s.queryOne(ctx, `
		SELECT id, workflow_id, complaint_id, current_stage_id, status,
		       started_at, completed_at, history, version, updated_at
		FROM workflow_instances
		WHERE complaint_id = $1`,
		fmt.Sprintf("no workflow instance for complaint %q", complaintID),
		complaintID,
	)
}

// Update persists an updated instance with optimistic locking.
func (s *PgInstanceStore) Update(ctx context.Context, inst model.WorkflowInstance) error {
	historyJSON, err := json.Marshal(inst.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			current_stage_id = $1,
			status = $2,
			completed_at = $3,
			history = $4,
			version = $5,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		inst.CurrentStageID, inst.Status, inst.CompletedAt, historyJSON,
		inst.Version+1, time.Now().UTC(),
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means either a stale version or a row that does not
		// exist at all. Re-check existence so the two surface as distinct
		// error codes, matching the in-memory store.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id = $1)`,
			inst.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check workflow instance existence: %w", err)
		}
		if !exists {
			return model.NewNotFoundError(
				fmt.Sprintf("workflow instance %q not found", inst.ID),
			)
		}
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// FindActive returns non-completed workflow instances.
func (s *PgInstanceStore) FindActive(ctx context.Context, filters Filters) ([]model.WorkflowInstance, error) {
	query := `SELECT id, workflow_id, complaint_id, current_stage_id, status,
	                 started_at, completed_at, history, version, updated_at
	          FROM workflow_instances
	          WHERE status <> 'COMPLETED'`
	args := []any{}
	argIdx := 1

	if filters.WorkflowID != "" {
		query += fmt.Sprintf(" AND workflow_id = $%d", argIdx)
		args = append(args, filters.WorkflowID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow instances: %w", err)
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// Delete removes a workflow instance.
func (s *PgInstanceStore) Delete(ctx context.Context, instanceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_instances WHERE id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("delete workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return nil
}

func (s *PgInstanceStore) queryOne(ctx context.Context, query, notFoundMsg string, args ...any) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewNotFoundError(notFoundMsg)
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("query workflow instance: %w", err)
	}
	return inst, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var historyJSON []byte

	err := row.Scan(
		&inst.ID, &inst.WorkflowID, &inst.ComplaintID, &inst.CurrentStageID, &inst.Status,
		&inst.StartedAt, &inst.CompletedAt, &historyJSON, &inst.Version, &inst.UpdatedAt,
	)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &inst.History); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return inst, nil
}
