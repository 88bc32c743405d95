package abtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

// EvaluatorStore is the persistence surface for winner resolution.
type EvaluatorStore interface {
	ListConcludable(ctx context.Context, now time.Time) ([]domain.ABTest, error)
	Variants(ctx context.Context, testID uuid.UUID) ([]domain.ABTestVariant, error)
	SetWinner(ctx context.Context, testID, variantID uuid.UUID) error
}

// Evaluator concludes running tests whose duration has elapsed. It runs as
// a background worker; multiple replicas can run it safely because winner
// declaration is set-once at the store.
type Evaluator struct {
	store    EvaluatorStore
	interval time.Duration

	nowFn  func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEvaluator creates an evaluator that scans on the given interval.
func NewEvaluator(store EvaluatorStore, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Evaluator{
		store:    store,
		interval: interval,
		nowFn:    time.Now,
	}
}

// Start launches the evaluation loop.
func (e *Evaluator) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.RunOnce(ctx)
			}
		}
	}()
	logger.Info("ab test evaluator started", "interval", e.interval.String())
}

// Stop cancels the loop and waits up to 30 seconds for it to exit.
func (e *Evaluator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("ab test evaluator stop timed out")
	}
}

// RunOnce scans for concludable tests and declares their winners.
func (e *Evaluator) RunOnce(ctx context.Context) {
	tests, err := e.store.ListConcludable(ctx, e.nowFn())
	if err != nil {
		logger.Error("list concludable tests failed", "error", err.Error())
		return
	}

	for i := range tests {
		test := &tests[i]
		variants, err := e.store.Variants(ctx, test.ID)
		if err != nil {
			logger.Error("load variants failed", "test_id", test.ID.String(), "error", err.Error())
			continue
		}
		winner := PickWinner(variants, test.Metric)
		if winner == nil {
			logger.Warn("test has no variants to conclude", "test_id", test.ID.String())
			continue
		}

		err = e.store.SetWinner(ctx, test.ID, winner.ID)
		if errors.Is(err, postgres.ErrWinnerAlreadySet) {
			// Another replica concluded it first
			continue
		}
		if err != nil {
			logger.Error("set winner failed", "test_id", test.ID.String(), "error", err.Error())
			continue
		}
		logger.Info("ab test concluded",
			"test_id", test.ID.String(),
			"winner", winner.ID.String(),
			"metric", string(test.Metric))
	}
}

// PickWinner returns the variant with the highest metric value. Ties break
// on the lexicographically smaller variant id, so every evaluator replica
// picks the same winner.
func PickWinner(variants []domain.ABTestVariant, metric domain.SelectionMetric) *domain.ABTestVariant {
	var winner *domain.ABTestVariant
	for i := range variants {
		v := &variants[i]
		if winner == nil {
			winner = v
			continue
		}
		vScore, wScore := v.MetricValue(metric), winner.MetricValue(metric)
		if vScore > wScore || (vScore == wScore && v.ID.String() < winner.ID.String()) {
			winner = v
		}
	}
	return winner
}
