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

// ContactStore persists contacts and their segment memberships.
type ContactStore struct{ db *sql.DB }

// NewContactStore creates a Postgres-backed contact store.
func NewContactStore(db *sql.DB) *ContactStore { return &ContactStore{db: db} }

// Get returns a contact by id within the tenant scope.
func (s *ContactStore) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.Contact, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, email, COALESCE(phone,''), attributes, created_at, updated_at
		FROM contacts
		WHERE id = $1 AND organization_id = $2
	`, id, scope.OrganizationID)
	return scanContact(row)
}

// GetAny returns a contact by id without tenant filtering, for engine
// paths that guard against an owning record's organization id instead.
func (s *ContactStore) GetAny(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, email, COALESCE(phone,''), attributes, created_at, updated_at
		FROM contacts
		WHERE id = $1
	`, id)
	return scanContact(row)
}

// Upsert inserts or refreshes a contact keyed on (organization, email).
func (s *ContactStore) Upsert(ctx context.Context, scope tenant.Scope, c *domain.Contact) error {
	if err := scope.Check(c.OrganizationID); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, organization_id, email, phone, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (organization_id, email) DO UPDATE SET
			phone = EXCLUDED.phone,
			attributes = EXCLUDED.attributes,
			updated_at = NOW()
	`, c.ID, c.OrganizationID, c.Email, c.Phone, attrs)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// ListBySegment returns the contacts currently in a segment, for schedule
// and segment-entry enrollment fan-out.
func (s *ContactStore) ListBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.organization_id, c.email, COALESCE(c.phone,''), c.attributes, c.created_at, c.updated_at
		FROM contacts c
		JOIN contact_segments cs ON cs.contact_id = c.id
		WHERE cs.segment_id = $1
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list segment contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContact(row rowScanner) (*domain.Contact, error) {
	c := &domain.Contact{}
	var attrs []byte
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Email, &c.Phone, &attrs, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return c, nil
}
