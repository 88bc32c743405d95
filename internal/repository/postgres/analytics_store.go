package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// AnalyticsStore folds delivery and engagement events into per-campaign
// counters. Idempotence comes from the processed-events ledger: the
// (message_id, event_kind) insert is the gate, and the counter increment
// only runs when the insert actually landed. Both happen in one
// transaction, so a crash between them cannot double-count.
type AnalyticsStore struct{ db *sql.DB }

// NewAnalyticsStore creates a Postgres-backed analytics store.
func NewAnalyticsStore(db *sql.DB) *AnalyticsStore { return &AnalyticsStore{db: db} }

// Fold applies one event to the campaign's counters. Returns false when the
// event was a duplicate and nothing changed.
func (s *AnalyticsStore) Fold(ctx context.Context, orgID, campaignID, messageID uuid.UUID, kind domain.EventKind, amount float64) (bool, error) {
	column, ok := counterColumn(kind)
	if !ok {
		return false, fmt.Errorf("unknown event kind %q", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin fold tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO analytics_processed_events (message_id, event_kind, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (message_id, event_kind) DO NOTHING
	`, messageID, kind)
	if err != nil {
		return false, fmt.Errorf("record processed event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already folded; at-least-once delivery makes this routine
		return false, nil
	}

	var q string
	args := []interface{}{campaignID, orgID}
	if kind == domain.EventRevenue {
		q = `
			INSERT INTO campaign_analytics (campaign_id, organization_id, revenue, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (campaign_id) DO UPDATE SET
				revenue = campaign_analytics.revenue + EXCLUDED.revenue,
				updated_at = NOW()
		`
		args = append(args, amount)
	} else {
		q = fmt.Sprintf(`
			INSERT INTO campaign_analytics (campaign_id, organization_id, %s, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (campaign_id) DO UPDATE SET
				%s = campaign_analytics.%s + 1,
				updated_at = NOW()
		`, column, column, column)
	}

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return false, fmt.Errorf("increment %s: %w", column, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit fold tx: %w", err)
	}
	return true, nil
}

// Snapshot returns the campaign's counters within the tenant scope. A
// campaign with no recorded events yet reads as all zeros, not an error.
func (s *AnalyticsStore) Snapshot(ctx context.Context, scope tenant.Scope, campaignID uuid.UUID) (*domain.CampaignAnalytics, error) {
	if !scope.Valid() {
		return nil, tenant.ErrIsolationViolation
	}
	a := &domain.CampaignAnalytics{
		CampaignID:     campaignID,
		OrganizationID: scope.OrganizationID,
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT sent, delivered, opened, clicked, bounced, unsubscribed, complaints, revenue, updated_at
		FROM campaign_analytics
		WHERE campaign_id = $1 AND organization_id = $2
	`, campaignID, scope.OrganizationID).Scan(
		&a.Sent, &a.Delivered, &a.Opened, &a.Clicked, &a.Bounced,
		&a.Unsubscribed, &a.Complaints, &a.Revenue, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot analytics: %w", err)
	}
	return a, nil
}

func counterColumn(kind domain.EventKind) (string, bool) {
	switch kind {
	case domain.EventSent:
		return "sent", true
	case domain.EventDelivered:
		return "delivered", true
	case domain.EventOpened:
		return "opened", true
	case domain.EventClicked:
		return "clicked", true
	case domain.EventBounced:
		return "bounced", true
	case domain.EventUnsubscribe:
		return "unsubscribed", true
	case domain.EventComplaint:
		return "complaints", true
	case domain.EventRevenue:
		return "revenue", true
	default:
		return "", false
	}
}
