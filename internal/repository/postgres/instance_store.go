package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// InstanceStore persists workflow instances. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers partition eligible instances
// without blocking each other; the exclusive execution lease on top of that
// lives in pkg/distlock.
type InstanceStore struct{ db *sql.DB }

// NewInstanceStore creates a Postgres-backed instance store.
func NewInstanceStore(db *sql.DB) *InstanceStore { return &InstanceStore{db: db} }

// Create inserts a fresh instance at the start cursor.
func (s *InstanceStore) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.CurrentStepID == "" {
		inst.CurrentStepID = domain.StartCursor
	}
	if inst.Status == "" {
		inst.Status = domain.InstanceRunning
	}

	varsJSON, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	executedJSON, err := json.Marshal(inst.ExecutedSteps)
	if err != nil {
		return fmt.Errorf("marshal executed steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances
			(id, organization_id, workflow_id, contact_id, current_step_id,
			 status, resume_at, variables, executed_steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, inst.ID, inst.OrganizationID, inst.WorkflowID, inst.ContactID,
		inst.CurrentStepID, inst.Status, inst.ResumeAt, varsJSON, executedJSON)
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

// Get returns an instance by id within the tenant scope.
func (s *InstanceStore) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.WorkflowInstance, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, workflow_id, contact_id, current_step_id,
		       status, resume_at, variables, executed_steps, created_at, updated_at, completed_at
		FROM workflow_instances
		WHERE id = $1 AND organization_id = $2
	`, id, scope.OrganizationID)
	return scanInstance(row)
}

// FindRunning returns an existing non-terminal instance of the workflow for
// the contact, or ErrNotFound. The trigger dispatcher uses this to dedupe
// repeated trigger firings.
func (s *InstanceStore) FindRunning(ctx context.Context, workflowID, contactID uuid.UUID) (*domain.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, workflow_id, contact_id, current_step_id,
		       status, resume_at, variables, executed_steps, created_at, updated_at, completed_at
		FROM workflow_instances
		WHERE workflow_id = $1 AND contact_id = $2 AND status IN ('running', 'waiting')
		LIMIT 1
	`, workflowID, contactID)
	return scanInstance(row)
}

// ClaimEligible locks and returns up to limit instances that are due for
// execution: running instances, plus waiting instances whose resume_at has
// passed. SKIP LOCKED keeps concurrent workers from colliding on a batch.
// Claimed rows are stamped so a crashed worker's claim ages out visibly.
func (s *InstanceStore) ClaimEligible(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, organization_id, workflow_id, contact_id, current_step_id,
		       status, resume_at, variables, executed_steps, created_at, updated_at, completed_at
		FROM workflow_instances
		WHERE status = 'running'
		   OR (status = 'waiting' AND resume_at <= NOW())
		ORDER BY updated_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim eligible instances: %w", err)
	}

	var out []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *inst)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_instances SET updated_at = NOW() WHERE id = $1
		`, out[i].ID); err != nil {
			return nil, fmt.Errorf("stamp claimed instance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return out, nil
}

// Update persists the instance's mutable execution state: cursor, status,
// resume time, variables, and the executed set.
func (s *InstanceStore) Update(ctx context.Context, inst *domain.WorkflowInstance) error {
	varsJSON, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	executedJSON, err := json.Marshal(inst.ExecutedSteps)
	if err != nil {
		return fmt.Errorf("marshal executed steps: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances SET
			current_step_id = $1,
			status = $2,
			resume_at = $3,
			variables = $4,
			executed_steps = $5,
			completed_at = $6,
			updated_at = NOW()
		WHERE id = $7 AND organization_id = $8
	`, inst.CurrentStepID, inst.Status, inst.ResumeAt, varsJSON, executedJSON,
		inst.CompletedAt, inst.ID, inst.OrganizationID)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel marks a non-terminal instance cancelled within the tenant scope.
// A worker mid-flight on the instance finishes its current step; the
// cancellation takes effect at the next eligibility claim.
func (s *InstanceStore) Cancel(ctx context.Context, scope tenant.Scope, id uuid.UUID) error {
	if !scope.Valid() {
		return tenant.ErrIsolationViolation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status IN ('running', 'waiting')
	`, id, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("cancel instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refresh re-reads the instance's status. The executor calls this after
// acquiring the lease so a cancellation racing the claim is honored.
func (s *InstanceStore) Refresh(ctx context.Context, id uuid.UUID) (domain.InstanceStatus, error) {
	var status domain.InstanceStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM workflow_instances WHERE id = $1
	`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("refresh instance status: %w", err)
	}
	return status, nil
}

// CountByStatus returns instance counts grouped by status for the tenant.
func (s *InstanceStore) CountByStatus(ctx context.Context, scope tenant.Scope, workflowID uuid.UUID) (map[domain.InstanceStatus]int, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM workflow_instances
		WHERE workflow_id = $1 AND organization_id = $2
		GROUP BY status
	`, workflowID, scope.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("count instances: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.InstanceStatus]int)
	for rows.Next() {
		var status domain.InstanceStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan instance count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanInstance(row rowScanner) (*domain.WorkflowInstance, error) {
	inst := &domain.WorkflowInstance{}
	var varsJSON, executedJSON []byte
	var resumeAt, completedAt sql.NullTime
	err := row.Scan(&inst.ID, &inst.OrganizationID, &inst.WorkflowID, &inst.ContactID,
		&inst.CurrentStepID, &inst.Status, &resumeAt, &varsJSON, &executedJSON,
		&inst.CreatedAt, &inst.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	if resumeAt.Valid {
		t := resumeAt.Time
		inst.ResumeAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		inst.CompletedAt = &t
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &inst.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if len(executedJSON) > 0 {
		if err := json.Unmarshal(executedJSON, &inst.ExecutedSteps); err != nil {
			return nil, fmt.Errorf("unmarshal executed steps: %w", err)
		}
	}
	return inst, nil
}
