package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// MessageStore persists per-recipient campaign messages. Status updates
// enforce the message state machine; the delivered-before-engagement
// ordering lives in domain.MessageStatus.
type MessageStore struct{ db *sql.DB }

// NewMessageStore creates a Postgres-backed message store.
func NewMessageStore(db *sql.DB) *MessageStore { return &MessageStore{db: db} }

// Create inserts a new message row.
func (s *MessageStore) Create(ctx context.Context, m *domain.CampaignMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = domain.MessageQueued
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_messages
			(id, organization_id, campaign_id, instance_id, contact_id, variant_id,
			 channel, recipient, subject, content, status, gateway_id, error_message, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`, m.ID, m.OrganizationID, m.CampaignID, m.InstanceID, m.ContactID, m.VariantID,
		m.Channel, m.Recipient, m.Subject, m.Content, m.Status, m.GatewayID, m.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// Get returns a message by id.
func (s *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.CampaignMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, instance_id, contact_id, variant_id,
		       channel, recipient, subject, content, status,
		       COALESCE(gateway_id,''), COALESCE(error_message,''),
		       queued_at, sent_at, delivered_at
		FROM campaign_messages
		WHERE id = $1
	`, id)
	return scanMessage(row)
}

// GetByGatewayID resolves the provider's delivery id back to our message.
// Webhook handlers use this to map delivery events onto messages.
func (s *MessageStore) GetByGatewayID(ctx context.Context, gatewayID string) (*domain.CampaignMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, instance_id, contact_id, variant_id,
		       channel, recipient, subject, content, status,
		       COALESCE(gateway_id,''), COALESCE(error_message,''),
		       queued_at, sent_at, delivered_at
		FROM campaign_messages
		WHERE gateway_id = $1
	`, gatewayID)
	return scanMessage(row)
}

// MarkSent records a successful gateway dispatch.
func (s *MessageStore) MarkSent(ctx context.Context, id uuid.UUID, gatewayID string) error {
	return s.transition(ctx, id, domain.MessageSent, `
		UPDATE campaign_messages
		SET status = 'sent', gateway_id = $2, sent_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`, id, gatewayID)
}

// MarkFailed records a permanently failed dispatch with the final error.
func (s *MessageStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.transition(ctx, id, domain.MessageFailed, `
		UPDATE campaign_messages
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status IN ('draft', 'queued', 'sent')
	`, id, errMsg)
}

// UpdateStatus applies a delivery/engagement transition, validating against
// the state machine first. Invalid transitions (opened before delivered,
// anything after a terminal state) return ErrInvalidTransition.
func (s *MessageStore) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.MessageStatus) error {
	var current domain.MessageStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM campaign_messages WHERE id = $1
	`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read message status: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	return s.transition(ctx, id, next, `
		UPDATE campaign_messages
		SET status = $2,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END
		WHERE id = $1 AND status = $3
	`, id, next, current)
}

func (s *MessageStore) transition(ctx context.Context, id uuid.UUID, next domain.MessageStatus, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition message to %s: %w", next, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func scanMessage(row rowScanner) (*domain.CampaignMessage, error) {
	m := &domain.CampaignMessage{}
	var instanceID, variantID uuid.NullUUID
	var sentAt, deliveredAt sql.NullTime
	err := row.Scan(&m.ID, &m.OrganizationID, &m.CampaignID, &instanceID, &m.ContactID, &variantID,
		&m.Channel, &m.Recipient, &m.Subject, &m.Content, &m.Status,
		&m.GatewayID, &m.ErrorMessage, &m.QueuedAt, &sentAt, &deliveredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if instanceID.Valid {
		id := instanceID.UUID
		m.InstanceID = &id
	}
	if variantID.Valid {
		id := variantID.UUID
		m.VariantID = &id
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		m.DeliveredAt = &t
	}
	return m, nil
}
