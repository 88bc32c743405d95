package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// CampaignStore persists campaigns and enforces the campaign status state
// machine at the write path.
type CampaignStore struct{ db *sql.DB }

// NewCampaignStore creates a Postgres-backed campaign store.
func NewCampaignStore(db *sql.DB) *CampaignStore { return &CampaignStore{db: db} }

// Create inserts a new campaign in draft status.
func (s *CampaignStore) Create(ctx context.Context, scope tenant.Scope, c *domain.Campaign) error {
	if err := scope.Check(c.OrganizationID); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, name, type, status, subject, content,
			 from_name, from_address, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, c.ID, c.OrganizationID, c.Name, c.Type, c.Status, c.Subject, c.Content,
		c.FromName, c.FromAddress, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// Get returns a campaign by id within the tenant scope.
func (s *CampaignStore) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.Campaign, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	c := &domain.Campaign{}
	var scheduledAt, startedAt, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, type, status, subject, content,
		       from_name, from_address, scheduled_at, started_at, completed_at,
		       created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND organization_id = $2
	`, id, scope.OrganizationID).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Type, &c.Status, &c.Subject, &c.Content,
		&c.FromName, &c.FromAddress, &scheduledAt, &startedAt, &completedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		c.ScheduledAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

// UpdateStatus moves a campaign to the next status, enforcing the state
// machine inside the UPDATE itself: the current status is re-checked in the
// WHERE clause so concurrent transitions cannot skip a state.
func (s *CampaignStore) UpdateStatus(ctx context.Context, scope tenant.Scope, id uuid.UUID, next domain.CampaignStatus) error {
	if !scope.Valid() {
		return tenant.ErrIsolationViolation
	}

	c, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status = $1,
			started_at = CASE WHEN $1 = 'sending' THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('sent', 'cancelled') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $2 AND organization_id = $3 AND status = $4
	`, next, id, scope.OrganizationID, c.Status)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race: someone else transitioned first
		return ErrInvalidTransition
	}
	return nil
}
