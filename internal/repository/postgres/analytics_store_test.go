package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tenant"
)

func newMockStore(t *testing.T) (*AnalyticsStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewAnalyticsStore(db), mock, func() { db.Close() }
}

func TestFold_FirstEventIncrements(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	orgID := uuid.New()
	campaignID := uuid.New()
	messageID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO analytics_processed_events").
		WithArgs(messageID, domain.EventDelivered).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO campaign_analytics").
		WithArgs(campaignID, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.Fold(context.Background(), orgID, campaignID, messageID, domain.EventDelivered, 0)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if !applied {
		t.Error("first fold should apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFold_DuplicateEventIsNoop(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	orgID := uuid.New()
	campaignID := uuid.New()
	messageID := uuid.New()

	// Conflict on the ledger insert: zero rows affected, no increment runs
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO analytics_processed_events").
		WithArgs(messageID, domain.EventDelivered).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := store.Fold(context.Background(), orgID, campaignID, messageID, domain.EventDelivered, 0)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if applied {
		t.Error("duplicate fold must not apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFold_RevenueCarriesAmount(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	orgID := uuid.New()
	campaignID := uuid.New()
	messageID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO analytics_processed_events").
		WithArgs(messageID, domain.EventRevenue).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO campaign_analytics").
		WithArgs(campaignID, orgID, 49.99).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.Fold(context.Background(), orgID, campaignID, messageID, domain.EventRevenue, 49.99)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if !applied {
		t.Error("revenue fold should apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFold_UnknownKindRejected(t *testing.T) {
	store, _, cleanup := newMockStore(t)
	defer cleanup()

	_, err := store.Fold(context.Background(), uuid.New(), uuid.New(), uuid.New(), "teleported", 0)
	if err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}

func TestSnapshot_EmptyCampaignReadsZero(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	orgID := uuid.New()
	campaignID := uuid.New()
	scope := tenant.NewScope(orgID)

	mock.ExpectQuery("SELECT sent, delivered, opened").
		WithArgs(campaignID, orgID).
		WillReturnError(sql.ErrNoRows)

	snap, err := store.Snapshot(context.Background(), scope, campaignID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Sent != 0 || snap.Delivered != 0 {
		t.Errorf("empty snapshot should be zero, got %+v", snap)
	}
	if snap.OrganizationID != orgID {
		t.Error("snapshot must carry caller's org id")
	}
}

func TestSnapshot_EmptyScopeFailsClosed(t *testing.T) {
	store, _, cleanup := newMockStore(t)
	defer cleanup()

	_, err := store.Snapshot(context.Background(), tenant.Scope{}, uuid.New())
	if err != tenant.ErrIsolationViolation {
		t.Errorf("expected isolation violation, got %v", err)
	}
}
