// Package api exposes the engine's HTTP surface: workflow and campaign
// management, instance control, the business-event ingest, analytics
// snapshots, and provider webhooks. Every tenant-facing route requires the
// X-Organization-ID header; the webhook routes resolve their tenant from
// the message the provider is reporting on.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/analytics"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/tenant"
	"github.com/ignite/campaign-engine/internal/trigger"
)

// WorkflowStore is the workflow persistence surface the API needs.
type WorkflowStore interface {
	Save(ctx context.Context, scope tenant.Scope, w *domain.AutomationWorkflow) error
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.AutomationWorkflow, error)
	List(ctx context.Context, scope tenant.Scope) ([]domain.AutomationWorkflow, error)
	SetActive(ctx context.Context, scope tenant.Scope, id uuid.UUID, active bool) error
}

// InstanceStore is the instance surface the API needs.
type InstanceStore interface {
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.WorkflowInstance, error)
	Cancel(ctx context.Context, scope tenant.Scope, id uuid.UUID) error
	CountByStatus(ctx context.Context, scope tenant.Scope, workflowID uuid.UUID) (map[domain.InstanceStatus]int, error)
}

// CampaignStore is the campaign surface the API needs.
type CampaignStore interface {
	Create(ctx context.Context, scope tenant.Scope, c *domain.Campaign) error
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, scope tenant.Scope, id uuid.UUID, next domain.CampaignStatus) error
}

// ABTestStore is the A/B test surface the API needs.
type ABTestStore interface {
	Create(ctx context.Context, scope tenant.Scope, test *domain.ABTest, variants []domain.ABTestVariant) error
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.ABTest, []domain.ABTestVariant, error)
	Start(ctx context.Context, scope tenant.Scope, id uuid.UUID) error
}

// MessageResolver maps provider callbacks onto messages.
type MessageResolver interface {
	GetByGatewayID(ctx context.Context, gatewayID string) (*domain.CampaignMessage, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, next domain.MessageStatus) error
}

// AnalyticsReader serves snapshot reads.
type AnalyticsReader interface {
	Snapshot(ctx context.Context, scope tenant.Scope, campaignID uuid.UUID) (*analytics.Snapshot, error)
}

// EventSink receives business events for trigger dispatch.
type EventSink interface {
	HandleEvent(ctx context.Context, evt trigger.BusinessEvent) error
}

// SegmentNotifier receives segment membership changes scoped to the
// notifying tenant.
type SegmentNotifier interface {
	NotifyEntry(orgID, segmentID, contactID uuid.UUID)
	NotifyExit(orgID, segmentID, contactID uuid.UUID)
}

// Handlers carries the API's dependencies.
type Handlers struct {
	Workflows WorkflowStore
	Instances InstanceStore
	Campaigns CampaignStore
	ABTests   ABTestStore
	Messages  MessageResolver
	Analytics AnalyticsReader
	Events    EventSink
	Segments  SegmentNotifier
	Publisher events.Publisher
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}
