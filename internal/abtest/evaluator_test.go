package abtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

type memEvaluatorStore struct {
	tests    []domain.ABTest
	variants map[uuid.UUID][]domain.ABTestVariant
	winners  map[uuid.UUID]uuid.UUID
}

func (m *memEvaluatorStore) ListConcludable(_ context.Context, now time.Time) ([]domain.ABTest, error) {
	var out []domain.ABTest
	for _, test := range m.tests {
		if test.Status != domain.ABTestRunning || test.StartedAt == nil {
			continue
		}
		if _, done := m.winners[test.ID]; done {
			continue
		}
		if test.StartedAt.Add(test.TestDuration).Before(now) || test.StartedAt.Add(test.TestDuration).Equal(now) {
			out = append(out, test)
		}
	}
	return out, nil
}

func (m *memEvaluatorStore) Variants(_ context.Context, testID uuid.UUID) ([]domain.ABTestVariant, error) {
	return m.variants[testID], nil
}

func (m *memEvaluatorStore) SetWinner(_ context.Context, testID, variantID uuid.UUID) error {
	if m.winners == nil {
		m.winners = make(map[uuid.UUID]uuid.UUID)
	}
	if _, ok := m.winners[testID]; ok {
		return postgres.ErrWinnerAlreadySet
	}
	m.winners[testID] = variantID
	return nil
}

func TestRunOnce_ConcludesElapsedTests(t *testing.T) {
	started := time.Now().Add(-25 * time.Hour)
	testID := uuid.New()
	better := domain.ABTestVariant{ID: uuid.New(), TestID: testID, Name: "b", SentCount: 100, OpenedCount: 55}
	worse := domain.ABTestVariant{ID: uuid.New(), TestID: testID, Name: "a", SentCount: 100, OpenedCount: 40}

	store := &memEvaluatorStore{
		tests: []domain.ABTest{{
			ID:           testID,
			Status:       domain.ABTestRunning,
			Metric:       domain.MetricOpenRate,
			TestDuration: 24 * time.Hour,
			StartedAt:    &started,
		}},
		variants: map[uuid.UUID][]domain.ABTestVariant{
			testID: {worse, better},
		},
	}

	ev := NewEvaluator(store, time.Minute)
	ev.RunOnce(context.Background())

	if store.winners[testID] != better.ID {
		t.Errorf("winner = %s, want the higher open rate variant", store.winners[testID])
	}

	// A second scan (another replica's view) must not disturb the winner
	ev.RunOnce(context.Background())
	if store.winners[testID] != better.ID {
		t.Error("winner changed on re-evaluation")
	}
}

func TestRunOnce_LeavesYoungTestsRunning(t *testing.T) {
	started := time.Now().Add(-1 * time.Hour)
	testID := uuid.New()
	store := &memEvaluatorStore{
		tests: []domain.ABTest{{
			ID:           testID,
			Status:       domain.ABTestRunning,
			Metric:       domain.MetricOpenRate,
			TestDuration: 24 * time.Hour,
			StartedAt:    &started,
		}},
		variants: map[uuid.UUID][]domain.ABTestVariant{
			testID: {{ID: uuid.New(), SentCount: 10, OpenedCount: 5}},
		},
	}

	ev := NewEvaluator(store, time.Minute)
	ev.RunOnce(context.Background())

	if len(store.winners) != 0 {
		t.Error("test concluded before its duration elapsed")
	}
}
