package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockABTestStore(t *testing.T) (*ABTestStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewABTestStore(db), mock, func() { db.Close() }
}

func TestSetWinner_SetOnce(t *testing.T) {
	store, mock, cleanup := newMockABTestStore(t)
	defer cleanup()

	testID := uuid.New()
	variantID := uuid.New()

	mock.ExpectExec("UPDATE ab_tests").
		WithArgs(testID, variantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetWinner(context.Background(), testID, variantID); err != nil {
		t.Fatalf("first SetWinner: %v", err)
	}

	// Second declaration: the NULL guard means zero rows update
	challenger := uuid.New()
	mock.ExpectExec("UPDATE ab_tests").
		WithArgs(testID, challenger).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetWinner(context.Background(), testID, challenger)
	if !errors.Is(err, ErrWinnerAlreadySet) {
		t.Errorf("second SetWinner: got %v, want ErrWinnerAlreadySet", err)
	}
}

func TestSaveAssignment_StickyOnConflict(t *testing.T) {
	store, mock, cleanup := newMockABTestStore(t)
	defer cleanup()

	testID := uuid.New()
	contactID := uuid.New()
	firstVariant := uuid.New()
	secondVariant := uuid.New()

	// A racing worker already assigned firstVariant; our insert no-ops and
	// the re-read returns the original assignment.
	mock.ExpectExec("INSERT INTO ab_test_assignments").
		WithArgs(testID, contactID, secondVariant).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT variant_id FROM ab_test_assignments").
		WithArgs(testID, contactID).
		WillReturnRows(sqlmock.NewRows([]string{"variant_id"}).AddRow(firstVariant))

	got, err := store.SaveAssignment(context.Background(), testID, contactID, secondVariant)
	if err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	if got != firstVariant {
		t.Errorf("assignment = %s, want sticky original %s", got, firstVariant)
	}
}
