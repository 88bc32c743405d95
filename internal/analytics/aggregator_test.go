package analytics

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// memStore folds into memory with the same dedupe contract as the Postgres
// store: (message id, event kind) applies at most once.
type memStore struct {
	counters  map[uuid.UUID]*domain.CampaignAnalytics
	processed map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		counters:  make(map[uuid.UUID]*domain.CampaignAnalytics),
		processed: make(map[string]bool),
	}
}

func (m *memStore) Fold(_ context.Context, orgID, campaignID, messageID uuid.UUID, kind domain.EventKind, amount float64) (bool, error) {
	key := messageID.String() + "/" + string(kind)
	if m.processed[key] {
		return false, nil
	}
	m.processed[key] = true

	a, ok := m.counters[campaignID]
	if !ok {
		a = &domain.CampaignAnalytics{CampaignID: campaignID, OrganizationID: orgID}
		m.counters[campaignID] = a
	}
	switch kind {
	case domain.EventSent:
		a.Sent++
	case domain.EventDelivered:
		a.Delivered++
	case domain.EventOpened:
		a.Opened++
	case domain.EventClicked:
		a.Clicked++
	case domain.EventBounced:
		a.Bounced++
	case domain.EventRevenue:
		a.Revenue += amount
	}
	return true, nil
}

func (m *memStore) Snapshot(_ context.Context, scope tenant.Scope, campaignID uuid.UUID) (*domain.CampaignAnalytics, error) {
	a, ok := m.counters[campaignID]
	if !ok {
		return &domain.CampaignAnalytics{CampaignID: campaignID, OrganizationID: scope.OrganizationID}, nil
	}
	return a, nil
}

type memVariants struct {
	increments map[uuid.UUID]int
}

func (m *memVariants) IncrementVariant(_ context.Context, variantID uuid.UUID, _ domain.EventKind, _ float64) error {
	if m.increments == nil {
		m.increments = make(map[uuid.UUID]int)
	}
	m.increments[variantID]++
	return nil
}

func TestHandle_DuplicateDeliveredFoldsOnce(t *testing.T) {
	store := newMemStore()
	agg := NewAggregator(store, nil)

	orgID := uuid.New()
	campaignID := uuid.New()
	messageID := uuid.New()

	evt := events.MessageEvent{
		Kind:           domain.EventDelivered,
		OrganizationID: orgID,
		CampaignID:     campaignID,
		MessageID:      messageID,
	}

	// Queue redelivered the same event twice
	if err := agg.Handle(context.Background(), evt); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := agg.Handle(context.Background(), evt); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	snap, err := agg.Snapshot(context.Background(), tenant.NewScope(orgID), campaignID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", snap.Delivered)
	}
}

func TestHandle_DistinctKindsForSameMessage(t *testing.T) {
	store := newMemStore()
	agg := NewAggregator(store, nil)

	orgID := uuid.New()
	campaignID := uuid.New()
	messageID := uuid.New()

	for _, kind := range []domain.EventKind{domain.EventSent, domain.EventDelivered, domain.EventOpened} {
		evt := events.MessageEvent{
			Kind:           kind,
			OrganizationID: orgID,
			CampaignID:     campaignID,
			MessageID:      messageID,
		}
		if err := agg.Handle(context.Background(), evt); err != nil {
			t.Fatalf("Handle %s: %v", kind, err)
		}
	}

	snap, _ := agg.Snapshot(context.Background(), tenant.NewScope(orgID), campaignID)
	if snap.Sent != 1 || snap.Delivered != 1 || snap.Opened != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", snap.Sent, snap.Delivered, snap.Opened)
	}
}

func TestHandle_VariantCountersGatedByDedupe(t *testing.T) {
	store := newMemStore()
	variants := &memVariants{}
	agg := NewAggregator(store, variants)

	variantID := uuid.New()
	evt := events.MessageEvent{
		Kind:           domain.EventOpened,
		OrganizationID: uuid.New(),
		CampaignID:     uuid.New(),
		MessageID:      uuid.New(),
		VariantID:      &variantID,
	}

	agg.Handle(context.Background(), evt)
	agg.Handle(context.Background(), evt)

	if variants.increments[variantID] != 1 {
		t.Errorf("variant increments = %d, want 1", variants.increments[variantID])
	}
}

func TestSnapshot_DerivedRates(t *testing.T) {
	store := newMemStore()
	agg := NewAggregator(store, nil)

	orgID := uuid.New()
	campaignID := uuid.New()

	// 10 sent, 8 delivered, 4 opened, 2 clicked
	for i := 0; i < 10; i++ {
		msgID := uuid.New()
		fold := func(kind domain.EventKind) {
			agg.Handle(context.Background(), events.MessageEvent{
				Kind: kind, OrganizationID: orgID, CampaignID: campaignID, MessageID: msgID,
			})
		}
		fold(domain.EventSent)
		if i < 8 {
			fold(domain.EventDelivered)
		}
		if i < 4 {
			fold(domain.EventOpened)
		}
		if i < 2 {
			fold(domain.EventClicked)
		}
	}

	snap, err := agg.Snapshot(context.Background(), tenant.NewScope(orgID), campaignID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Rates.OpenRate != 0.5 {
		t.Errorf("open rate = %v, want 0.5", snap.Rates.OpenRate)
	}
	if snap.Rates.ClickRate != 0.25 {
		t.Errorf("click rate = %v, want 0.25", snap.Rates.ClickRate)
	}
	if snap.Rates.DeliveryRate != 0.8 {
		t.Errorf("delivery rate = %v, want 0.8", snap.Rates.DeliveryRate)
	}
}
