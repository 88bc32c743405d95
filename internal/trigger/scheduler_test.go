package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/domain"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func scheduledWorkflow(orgID uuid.UUID, cronExpr string, segmentID uuid.UUID) domain.AutomationWorkflow {
	return domain.AutomationWorkflow{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "daily digest",
		Trigger:        domain.Trigger{Kind: domain.TriggerSchedule, Cron: cronExpr, SegmentID: &segmentID},
		IsActive:       true,
		Steps: []domain.Step{{
			ID: "s1", Kind: domain.StepAction,
			Config: domain.StepConfig{ActionName: "add_tag", ActionParams: map[string]string{"tag": "digest"}},
		}},
	}
}

func TestRunOnce_FiresDueOccurrenceOnce(t *testing.T) {
	orgID := uuid.New()
	segmentID := uuid.New()
	wf := scheduledWorkflow(orgID, "0 9 * * *", segmentID)
	contact := testContact(orgID)

	finder := &memFinder{scheduled: []domain.AutomationWorkflow{wf}}
	contacts := &memContacts{
		byID:      map[uuid.UUID]*domain.Contact{contact.ID: contact},
		bySegment: map[uuid.UUID][]domain.Contact{segmentID: {*contact}},
	}
	instances := &memInstanceRepo{}
	dispatcher := NewDispatcher(finder, instances, contacts)
	rdb := newTestRedis(t)

	// Two replicas polling the same window
	s1 := NewScheduler(finder, contacts, dispatcher, rdb, time.Minute)
	s2 := NewScheduler(finder, contacts, dispatcher, rdb, time.Minute)
	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC) // 30s past the 09:00 firing
	s1.nowFn = func() time.Time { return at }
	s2.nowFn = func() time.Time { return at }

	s1.RunOnce(context.Background())
	s2.RunOnce(context.Background())

	if len(instances.created) != 1 {
		t.Errorf("created %d instances across two replicas, want 1", len(instances.created))
	}
	if len(instances.created) == 1 {
		if instances.created[0].Variables["scheduled_at"] != "2026-03-02T09:00:00Z" {
			t.Errorf("scheduled_at = %v", instances.created[0].Variables["scheduled_at"])
		}
	}
}

func TestRunOnce_SkipsOccurrenceOutsideWindow(t *testing.T) {
	orgID := uuid.New()
	segmentID := uuid.New()
	wf := scheduledWorkflow(orgID, "0 9 * * *", segmentID)
	contact := testContact(orgID)

	finder := &memFinder{scheduled: []domain.AutomationWorkflow{wf}}
	contacts := &memContacts{
		byID:      map[uuid.UUID]*domain.Contact{contact.ID: contact},
		bySegment: map[uuid.UUID][]domain.Contact{segmentID: {*contact}},
	}
	instances := &memInstanceRepo{}
	s := NewScheduler(finder, contacts, NewDispatcher(finder, instances, contacts), newTestRedis(t), time.Minute)
	s.nowFn = func() time.Time {
		return time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC) // hours past 09:00
	}

	s.RunOnce(context.Background())

	if len(instances.created) != 0 {
		t.Errorf("created %d instances outside the firing window, want 0", len(instances.created))
	}
}

func TestRunOnce_BadCronLeavesOtherWorkflowsRunning(t *testing.T) {
	orgID := uuid.New()
	segmentID := uuid.New()
	bad := scheduledWorkflow(orgID, "not a cron", segmentID)
	good := scheduledWorkflow(orgID, "* * * * *", segmentID)
	contact := testContact(orgID)

	finder := &memFinder{scheduled: []domain.AutomationWorkflow{bad, good}}
	contacts := &memContacts{
		byID:      map[uuid.UUID]*domain.Contact{contact.ID: contact},
		bySegment: map[uuid.UUID][]domain.Contact{segmentID: {*contact}},
	}
	instances := &memInstanceRepo{}
	s := NewScheduler(finder, contacts, NewDispatcher(finder, instances, contacts), newTestRedis(t), time.Minute)

	s.RunOnce(context.Background())

	if len(instances.created) != 1 {
		t.Errorf("created %d instances, want 1 from the valid workflow", len(instances.created))
	}
}
