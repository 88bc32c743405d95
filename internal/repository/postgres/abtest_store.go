package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// ABTestStore persists A/B tests, their variants, and the sticky
// contact→variant assignments. Winner declaration is set-once at the SQL
// level: the UPDATE only fires while winning_variant_id is still NULL.
type ABTestStore struct{ db *sql.DB }

// NewABTestStore creates a Postgres-backed A/B test store.
func NewABTestStore(db *sql.DB) *ABTestStore { return &ABTestStore{db: db} }

// Create inserts a test and its variants in one transaction.
func (s *ABTestStore) Create(ctx context.Context, scope tenant.Scope, test *domain.ABTest, variants []domain.ABTestVariant) error {
	if err := scope.Check(test.OrganizationID); err != nil {
		return err
	}
	if test.ID == uuid.Nil {
		test.ID = uuid.New()
	}
	if test.Status == "" {
		test.Status = domain.ABTestDraft
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create test tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ab_tests
			(id, organization_id, campaign_id, status, test_percentage,
			 test_duration_seconds, metric, default_variant_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, test.ID, test.OrganizationID, test.CampaignID, test.Status,
		test.TestPercentage, int64(test.TestDuration.Seconds()), test.Metric, test.DefaultVariantID)
	if err != nil {
		return fmt.Errorf("create ab test: %w", err)
	}

	for i := range variants {
		v := &variants[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.TestID = test.ID
		v.OrganizationID = test.OrganizationID
		if v.Weight <= 0 {
			v.Weight = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ab_test_variants
				(id, test_id, organization_id, name, subject, content, weight)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, v.ID, v.TestID, v.OrganizationID, v.Name, v.Subject, v.Content, v.Weight)
		if err != nil {
			return fmt.Errorf("create variant %s: %w", v.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create test tx: %w", err)
	}
	return nil
}

// Get returns a test with its variants, within the tenant scope.
func (s *ABTestStore) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.ABTest, []domain.ABTestVariant, error) {
	if !scope.Valid() {
		return nil, nil, tenant.ErrIsolationViolation
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, status, test_percentage,
		       test_duration_seconds, metric, winning_variant_id, default_variant_id,
		       started_at, completed_at, created_at
		FROM ab_tests
		WHERE id = $1 AND organization_id = $2
	`, id, scope.OrganizationID)
	test, err := scanABTest(row)
	if err != nil {
		return nil, nil, err
	}
	variants, err := s.variants(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return test, variants, nil
}

// GetAny returns a test and variants without tenant filtering, for the
// engine's internal paths (allocator, evaluator) which guard against the
// owning instance's organization id instead.
func (s *ABTestStore) GetAny(ctx context.Context, id uuid.UUID) (*domain.ABTest, []domain.ABTestVariant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, status, test_percentage,
		       test_duration_seconds, metric, winning_variant_id, default_variant_id,
		       started_at, completed_at, created_at
		FROM ab_tests
		WHERE id = $1
	`, id)
	test, err := scanABTest(row)
	if err != nil {
		return nil, nil, err
	}
	variants, err := s.variants(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return test, variants, nil
}

// Start moves a draft test to running and stamps the clock that the
// duration countdown runs against.
func (s *ABTestStore) Start(ctx context.Context, scope tenant.Scope, id uuid.UUID) error {
	if !scope.Valid() {
		return tenant.ErrIsolationViolation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ab_tests SET status = 'running', started_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status = 'draft'
	`, id, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("start ab test: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// GetAssignment returns the contact's sticky variant assignment, or
// uuid.Nil when the contact has not been assigned yet.
func (s *ABTestStore) GetAssignment(ctx context.Context, testID, contactID uuid.UUID) (uuid.UUID, error) {
	var variantID uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT variant_id FROM ab_test_assignments
		WHERE test_id = $1 AND contact_id = $2
	`, testID, contactID).Scan(&variantID)
	if err == sql.ErrNoRows {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get assignment: %w", err)
	}
	return variantID, nil
}

// SaveAssignment records the contact's variant. ON CONFLICT DO NOTHING plus
// a re-read makes concurrent assignment races converge on one winner, so
// the assignment stays sticky no matter who got there first.
func (s *ABTestStore) SaveAssignment(ctx context.Context, testID, contactID, variantID uuid.UUID) (uuid.UUID, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ab_test_assignments (test_id, contact_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (test_id, contact_id) DO NOTHING
	`, testID, contactID, variantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save assignment: %w", err)
	}
	return s.GetAssignment(ctx, testID, contactID)
}

// IncrementVariant bumps one engagement counter on a variant. Revenue
// events pass the monetary amount; count events pass 0.
func (s *ABTestStore) IncrementVariant(ctx context.Context, variantID uuid.UUID, kind domain.EventKind, amount float64) error {
	var column string
	switch kind {
	case domain.EventSent:
		column = "sent_count"
	case domain.EventOpened:
		column = "opened_count"
	case domain.EventClicked:
		column = "clicked_count"
	case domain.EventRevenue:
		_, err := s.db.ExecContext(ctx, `
			UPDATE ab_test_variants
			SET converted_count = converted_count + 1, revenue = revenue + $2
			WHERE id = $1
		`, variantID, amount)
		if err != nil {
			return fmt.Errorf("increment variant revenue: %w", err)
		}
		return nil
	default:
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE ab_test_variants SET %s = %s + 1 WHERE id = $1`, column, column),
		variantID)
	if err != nil {
		return fmt.Errorf("increment variant %s: %w", column, err)
	}
	return nil
}

// ListConcludable returns running tests whose duration has elapsed as of
// now. The evaluator declares winners for these.
func (s *ABTestStore) ListConcludable(ctx context.Context, now time.Time) ([]domain.ABTest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, campaign_id, status, test_percentage,
		       test_duration_seconds, metric, winning_variant_id, default_variant_id,
		       started_at, completed_at, created_at
		FROM ab_tests
		WHERE status = 'running'
		  AND started_at + make_interval(secs => test_duration_seconds) <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list concludable tests: %w", err)
	}
	defer rows.Close()

	var out []domain.ABTest
	for rows.Next() {
		test, err := scanABTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *test)
	}
	return out, rows.Err()
}

// SetWinner declares the winning variant exactly once. A second call, or a
// call racing another evaluator, returns ErrWinnerAlreadySet.
func (s *ABTestStore) SetWinner(ctx context.Context, testID, variantID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ab_tests
		SET winning_variant_id = $2, status = 'completed', completed_at = NOW()
		WHERE id = $1 AND winning_variant_id IS NULL
	`, testID, variantID)
	if err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrWinnerAlreadySet
	}
	return nil
}

// Variants returns the test's variants ordered by name, so ties between
// equal metric values break deterministically.
func (s *ABTestStore) Variants(ctx context.Context, testID uuid.UUID) ([]domain.ABTestVariant, error) {
	return s.variants(ctx, testID)
}

func (s *ABTestStore) variants(ctx context.Context, testID uuid.UUID) ([]domain.ABTestVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, organization_id, name, subject, content, weight,
		       sent_count, opened_count, clicked_count, converted_count, revenue
		FROM ab_test_variants
		WHERE test_id = $1
		ORDER BY name ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var out []domain.ABTestVariant
	for rows.Next() {
		var v domain.ABTestVariant
		if err := rows.Scan(&v.ID, &v.TestID, &v.OrganizationID, &v.Name, &v.Subject,
			&v.Content, &v.Weight, &v.SentCount, &v.OpenedCount, &v.ClickedCount,
			&v.ConvertedCount, &v.Revenue); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanABTest(row rowScanner) (*domain.ABTest, error) {
	test := &domain.ABTest{}
	var durationSeconds int64
	var winningID, defaultID uuid.NullUUID
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&test.ID, &test.OrganizationID, &test.CampaignID, &test.Status,
		&test.TestPercentage, &durationSeconds, &test.Metric, &winningID, &defaultID,
		&startedAt, &completedAt, &test.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ab test: %w", err)
	}
	test.TestDuration = time.Duration(durationSeconds) * time.Second
	if winningID.Valid {
		id := winningID.UUID
		test.WinningVariantID = &id
	}
	if defaultID.Valid {
		id := defaultID.UUID
		test.DefaultVariantID = &id
	}
	if startedAt.Valid {
		t := startedAt.Time
		test.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		test.CompletedAt = &t
	}
	return test, nil
}
