package trigger

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

func segmentWorkflow(orgID, segmentID uuid.UUID) domain.AutomationWorkflow {
	return domain.AutomationWorkflow{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "segment welcome",
		Trigger:        domain.Trigger{Kind: domain.TriggerSegmentEntry, SegmentID: &segmentID},
		IsActive:       true,
		Steps: []domain.Step{{
			ID: "s1", Kind: domain.StepAction,
			Config: domain.StepConfig{ActionName: "add_tag", ActionParams: map[string]string{"tag": "welcomed"}},
		}},
	}
}

func TestSegmentWatcher_CoalescesFlaps(t *testing.T) {
	orgID := uuid.New()
	segmentID := uuid.New()
	wf := segmentWorkflow(orgID, segmentID)
	contact := testContact(orgID)

	finder := &memFinder{bySegment: map[uuid.UUID][]domain.AutomationWorkflow{segmentID: {wf}}}
	instances := &memInstanceRepo{}
	contacts := &memContacts{byID: map[uuid.UUID]*domain.Contact{contact.ID: contact}}
	w := NewSegmentWatcher(finder, NewDispatcher(finder, instances, contacts), 50*time.Millisecond)
	defer w.Stop()

	// A burst of re-notifications within the window collapses to one firing
	for i := 0; i < 5; i++ {
		w.NotifyEntry(orgID, segmentID, contact.ID)
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(instances.created) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if len(instances.created) != 1 {
		t.Errorf("created %d instances for a flapping entry, want 1", len(instances.created))
	}
}

func TestSegmentWatcher_ExitCancelsPendingEntry(t *testing.T) {
	orgID := uuid.New()
	segmentID := uuid.New()
	wf := segmentWorkflow(orgID, segmentID)
	contact := testContact(orgID)

	finder := &memFinder{bySegment: map[uuid.UUID][]domain.AutomationWorkflow{segmentID: {wf}}}
	instances := &memInstanceRepo{}
	contacts := &memContacts{byID: map[uuid.UUID]*domain.Contact{contact.ID: contact}}
	w := NewSegmentWatcher(finder, NewDispatcher(finder, instances, contacts), 100*time.Millisecond)
	defer w.Stop()

	w.NotifyEntry(orgID, segmentID, contact.ID)
	time.Sleep(20 * time.Millisecond)
	w.NotifyExit(orgID, segmentID, contact.ID)

	time.Sleep(200 * time.Millisecond)

	if len(instances.created) != 0 {
		t.Errorf("created %d instances after the contact left, want 0", len(instances.created))
	}
}

func TestSegmentWatcher_OtherTenantsNotificationDoesNotEnroll(t *testing.T) {
	ownerOrg := uuid.New()
	segmentID := uuid.New()
	wf := segmentWorkflow(ownerOrg, segmentID)
	contact := testContact(ownerOrg)

	finder := &memFinder{bySegment: map[uuid.UUID][]domain.AutomationWorkflow{segmentID: {wf}}}
	instances := &memInstanceRepo{}
	contacts := &memContacts{byID: map[uuid.UUID]*domain.Contact{contact.ID: contact}}
	w := NewSegmentWatcher(finder, NewDispatcher(finder, instances, contacts), 20*time.Millisecond)
	defer w.Stop()

	// Another tenant reports the owner's segment and contact ids; the
	// owner's workflow must not gain an instance from it.
	w.NotifyEntry(uuid.New(), segmentID, contact.ID)

	time.Sleep(200 * time.Millisecond)

	if len(instances.created) != 0 {
		t.Errorf("created %d instances from a foreign tenant's notification, want 0", len(instances.created))
	}

	// The owner reporting the same entry still enrolls.
	w.NotifyEntry(ownerOrg, segmentID, contact.ID)
	deadline := time.Now().Add(2 * time.Second)
	for len(instances.created) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(instances.created) != 1 {
		t.Errorf("created %d instances for the owning tenant, want 1", len(instances.created))
	}
}
