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

// WorkflowStore persists automation workflows. Triggers and step graphs are
// stored as JSONB; graph validation happens before Save is called, so a row
// in this table is always executable.
type WorkflowStore struct{ db *sql.DB }

// NewWorkflowStore creates a Postgres-backed workflow store.
func NewWorkflowStore(db *sql.DB) *WorkflowStore { return &WorkflowStore{db: db} }

// Save upserts a workflow within the tenant scope.
func (s *WorkflowStore) Save(ctx context.Context, scope tenant.Scope, w *domain.AutomationWorkflow) error {
	if err := scope.Check(w.OrganizationID); err != nil {
		return err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	triggerJSON, err := json.Marshal(w.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_workflows
			(id, organization_id, name, trigger, steps, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trigger = EXCLUDED.trigger,
			steps = EXCLUDED.steps,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		WHERE automation_workflows.organization_id = EXCLUDED.organization_id
	`, w.ID, w.OrganizationID, w.Name, triggerJSON, stepsJSON, w.IsActive)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	// Zero rows means the id already exists under another tenant: the
	// conflict guard refused the update. Report it the same way a Get of a
	// foreign id would.
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a workflow by id within the tenant scope.
func (s *WorkflowStore) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.AutomationWorkflow, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, trigger, steps, is_active, created_at, updated_at
		FROM automation_workflows
		WHERE id = $1 AND organization_id = $2
	`, id, scope.OrganizationID)
	return scanWorkflow(row)
}

// GetAny returns a workflow by id without tenant filtering. It exists for
// the executor, which loads the workflow an instance points at and then runs
// the guard against the instance's organization id.
func (s *WorkflowStore) GetAny(ctx context.Context, id uuid.UUID) (*domain.AutomationWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, trigger, steps, is_active, created_at, updated_at
		FROM automation_workflows
		WHERE id = $1
	`, id)
	return scanWorkflow(row)
}

// List returns the tenant's workflows, newest first.
func (s *WorkflowStore) List(ctx context.Context, scope tenant.Scope) ([]domain.AutomationWorkflow, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, trigger, steps, is_active, created_at, updated_at
		FROM automation_workflows
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, scope.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// SetActive toggles a workflow on or off within the tenant scope.
func (s *WorkflowStore) SetActive(ctx context.Context, scope tenant.Scope, id uuid.UUID, active bool) error {
	if !scope.Valid() {
		return tenant.ErrIsolationViolation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_workflows SET is_active = $1, updated_at = NOW()
		WHERE id = $2 AND organization_id = $3
	`, active, id, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("set workflow active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveByEvent returns active workflows (across all tenants) whose
// trigger matches the given event name. The trigger dispatcher calls this on
// every business event.
func (s *WorkflowStore) ListActiveByEvent(ctx context.Context, eventName string) ([]domain.AutomationWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, trigger, steps, is_active, created_at, updated_at
		FROM automation_workflows
		WHERE is_active = true
		  AND trigger->>'kind' = 'event'
		  AND trigger->>'event_name' = $1
	`, eventName)
	if err != nil {
		return nil, fmt.Errorf("list workflows by event: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// ListActiveScheduled returns all active schedule-triggered workflows. The
// schedule poller evaluates their cron expressions itself.
func (s *WorkflowStore) ListActiveScheduled(ctx context.Context) ([]domain.AutomationWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, trigger, steps, is_active, created_at, updated_at
		FROM automation_workflows
		WHERE is_active = true AND trigger->>'kind' = 'schedule'
	`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// ListActiveBySegment returns active workflows triggered by entry into the
// given segment.
func (s *WorkflowStore) ListActiveBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.AutomationWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, trigger, steps, is_active, created_at, updated_at
		FROM automation_workflows
		WHERE is_active = true
		  AND trigger->>'kind' = 'segment_entry'
		  AND trigger->>'segment_id' = $1
	`, segmentID.String())
	if err != nil {
		return nil, fmt.Errorf("list workflows by segment: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*domain.AutomationWorkflow, error) {
	w := &domain.AutomationWorkflow{}
	var triggerJSON, stepsJSON []byte
	err := row.Scan(&w.ID, &w.OrganizationID, &w.Name, &triggerJSON, &stepsJSON,
		&w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if err := json.Unmarshal(triggerJSON, &w.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &w.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return w, nil
}

func collectWorkflows(rows *sql.Rows) ([]domain.AutomationWorkflow, error) {
	var out []domain.AutomationWorkflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
