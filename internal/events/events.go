// Package events carries delivery and engagement events from the webhook
// surface to the analytics aggregator. The transport is at-least-once;
// consumers rely on the aggregator's dedupe, never on the queue.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// MessageEvent is one delivery or engagement observation about a message.
type MessageEvent struct {
	Kind           domain.EventKind `json:"kind"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	CampaignID     uuid.UUID        `json:"campaign_id"`
	MessageID      uuid.UUID        `json:"message_id"`
	ContactID      uuid.UUID        `json:"contact_id"`
	VariantID      *uuid.UUID       `json:"variant_id,omitempty"`
	Amount         float64          `json:"amount,omitempty"` // kind=revenue
	Timestamp      time.Time        `json:"timestamp"`
}

// Publisher enqueues events for the aggregator.
type Publisher interface {
	Publish(ctx context.Context, evt MessageEvent) error
}

// Handler processes one event. Returning an error leaves the event on the
// queue for redelivery.
type Handler func(ctx context.Context, evt MessageEvent) error

// Consumer feeds queued events to a handler until stopped.
type Consumer interface {
	Start(ctx context.Context, h Handler)
	Stop()
}
