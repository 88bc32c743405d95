package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Scheduler polls schedule-triggered workflows and fires each cron
// occurrence exactly once across all engine replicas. The occurrence key
// (workflow id + occurrence timestamp) is claimed with a Redis SET NX, so
// two pollers seeing the same occurrence race for one claim.
type Scheduler struct {
	workflows  WorkflowFinder
	contacts   ContactSource
	dispatcher *Dispatcher
	rdb        *redis.Client
	interval   time.Duration

	nowFn  func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// occurrenceTTL keeps claim keys around long enough to outlive any clock
// skew between replicas.
const occurrenceTTL = 26 * time.Hour

// NewScheduler creates a schedule poller.
func NewScheduler(workflows WorkflowFinder, contacts ContactSource, dispatcher *Dispatcher, rdb *redis.Client, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		workflows:  workflows,
		contacts:   contacts,
		dispatcher: dispatcher,
		rdb:        rdb,
		interval:   interval,
		nowFn:      time.Now,
	}
}

// Start launches the poll loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	logger.Info("schedule poller started", "interval", s.interval.String())
}

// Stop cancels the loop and waits up to 30 seconds.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("schedule poller stop timed out")
	}
}

// RunOnce evaluates every scheduled workflow against the current window.
func (s *Scheduler) RunOnce(ctx context.Context) {
	workflows, err := s.workflows.ListActiveScheduled(ctx)
	if err != nil {
		logger.Error("list scheduled workflows failed", "error", err.Error())
		return
	}

	now := s.nowFn()
	for i := range workflows {
		wf := &workflows[i]
		if err := s.fireDue(ctx, wf, now); err != nil {
			logger.Error("schedule firing failed",
				"workflow_id", wf.ID.String(),
				"error", err.Error())
		}
	}
}

// fireDue checks whether an occurrence fell inside the last poll window
// and, if this replica claims it, fans enrollment out to the audience.
func (s *Scheduler) fireDue(ctx context.Context, wf *domain.AutomationWorkflow, now time.Time) error {
	sched, err := cron.ParseStandard(wf.Trigger.Cron)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", wf.Trigger.Cron, err)
	}

	occurrence := sched.Next(now.Add(-s.interval))
	if occurrence.After(now) {
		return nil
	}

	claimed, err := s.claimOccurrence(ctx, wf, occurrence)
	if err != nil {
		return fmt.Errorf("claim occurrence: %w", err)
	}
	if !claimed {
		return nil
	}

	if wf.Trigger.SegmentID == nil {
		logger.Warn("scheduled workflow has no audience segment", "workflow_id", wf.ID.String())
		return nil
	}
	contacts, err := s.contacts.ListBySegment(ctx, *wf.Trigger.SegmentID)
	if err != nil {
		return fmt.Errorf("load audience: %w", err)
	}

	logger.Info("schedule occurrence firing",
		"workflow_id", wf.ID.String(),
		"occurrence", occurrence.Format(time.RFC3339),
		"audience", len(contacts))

	for i := range contacts {
		if contacts[i].OrganizationID != wf.OrganizationID {
			continue
		}
		if err := s.dispatcher.Enroll(ctx, wf, contacts[i].ID, map[string]any{
			"scheduled_at": occurrence.Format(time.RFC3339),
		}); err != nil {
			logger.Error("schedule enrollment failed",
				"workflow_id", wf.ID.String(),
				"contact_id", contacts[i].ID.String(),
				"error", err.Error())
		}
	}
	return nil
}

func (s *Scheduler) claimOccurrence(ctx context.Context, wf *domain.AutomationWorkflow, occurrence time.Time) (bool, error) {
	key := fmt.Sprintf("schedule:%s:%s", wf.ID, occurrence.UTC().Format(time.RFC3339))
	return s.rdb.SetNX(ctx, key, "1", occurrenceTTL).Result()
}
