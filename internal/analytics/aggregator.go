// Package analytics folds delivery and engagement events into per-campaign
// counters and serves snapshot reads with derived rates. Counters only ever
// increase; the processed-events ledger in the store makes replayed events
// no-ops, so the at-least-once transport upstream never double-counts.
package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// CounterStore is the persistence surface the aggregator folds into.
type CounterStore interface {
	Fold(ctx context.Context, orgID, campaignID, messageID uuid.UUID, kind domain.EventKind, amount float64) (bool, error)
	Snapshot(ctx context.Context, scope tenant.Scope, campaignID uuid.UUID) (*domain.CampaignAnalytics, error)
}

// VariantCounters receives engagement increments for A/B test variants.
type VariantCounters interface {
	IncrementVariant(ctx context.Context, variantID uuid.UUID, kind domain.EventKind, amount float64) error
}

// Aggregator is the single consumer of the message event stream.
type Aggregator struct {
	store    CounterStore
	variants VariantCounters
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(store CounterStore, variants VariantCounters) *Aggregator {
	return &Aggregator{store: store, variants: variants}
}

// Handle folds one event. It is the events.Handler wired to the bus; a
// returned error leaves the event queued for redelivery.
func (a *Aggregator) Handle(ctx context.Context, evt events.MessageEvent) error {
	applied, err := a.store.Fold(ctx, evt.OrganizationID, evt.CampaignID, evt.MessageID, evt.Kind, evt.Amount)
	if err != nil {
		return fmt.Errorf("fold %s event: %w", evt.Kind, err)
	}
	if !applied {
		logger.Debug("duplicate event skipped",
			"kind", string(evt.Kind),
			"message_id", evt.MessageID.String())
		return nil
	}

	// Variant counters piggyback on the same dedupe gate: they only move
	// when the campaign fold actually applied.
	if evt.VariantID != nil && a.variants != nil {
		if err := a.variants.IncrementVariant(ctx, *evt.VariantID, evt.Kind, evt.Amount); err != nil {
			return fmt.Errorf("increment variant counters: %w", err)
		}
	}
	return nil
}

// Snapshot holds the raw counters plus rates derived at read time.
type Snapshot struct {
	domain.CampaignAnalytics
	Rates domain.Rates `json:"rates"`
}

// Snapshot reads the campaign's counters within the tenant scope.
func (a *Aggregator) Snapshot(ctx context.Context, scope tenant.Scope, campaignID uuid.UUID) (*Snapshot, error) {
	counters, err := a.store.Snapshot(ctx, scope, campaignID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		CampaignAnalytics: *counters,
		Rates:             counters.Rates(),
	}, nil
}
