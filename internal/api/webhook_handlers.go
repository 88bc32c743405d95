package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

// deliveryWebhook is the payload providers POST back to us. The tenant is
// never in the payload; it comes from the message the gateway_id resolves to.
type deliveryWebhook struct {
	GatewayID string    `json:"gateway_id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount,omitempty"`
}

// webhookTransitions maps provider events onto message status updates.
// Engagement-only events (revenue, unsubscribe, complaint) carry no
// transition and only feed analytics.
var webhookTransitions = map[domain.EventKind]domain.MessageStatus{
	domain.EventDelivered: domain.MessageDelivered,
	domain.EventOpened:    domain.MessageOpened,
	domain.EventClicked:   domain.MessageClicked,
	domain.EventBounced:   domain.MessageBounced,
}

// DeliveryWebhook ingests a provider delivery or engagement callback.
// Out-of-order callbacks (an open arriving after a click already moved the
// message) still publish their analytics event; only the status update is
// skipped. A failed publish returns 500 so the provider redelivers.
func (h *Handlers) DeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	var hook deliveryWebhook
	if !httputil.Decode(w, r, &hook) {
		return
	}
	if hook.GatewayID == "" {
		httputil.BadRequest(w, "gateway_id is required")
		return
	}
	kind := domain.EventKind(hook.Event)
	switch kind {
	case domain.EventDelivered, domain.EventOpened, domain.EventClicked,
		domain.EventBounced, domain.EventUnsubscribe, domain.EventComplaint,
		domain.EventRevenue:
	default:
		httputil.BadRequest(w, "unknown event: "+hook.Event)
		return
	}

	msg, err := h.Messages.GetByGatewayID(r.Context(), hook.GatewayID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			// Unknown gateway id. Acknowledge so the provider stops retrying.
			logger.Warn("webhook for unknown message", "gateway_id", hook.GatewayID, "event", hook.Event)
			httputil.OK(w, map[string]string{"status": "ignored"})
			return
		}
		httputil.InternalError(w, err)
		return
	}

	if next, ok := webhookTransitions[kind]; ok {
		if err := h.Messages.UpdateStatus(r.Context(), msg.ID, next); err != nil {
			if !errors.Is(err, postgres.ErrInvalidTransition) {
				httputil.InternalError(w, err)
				return
			}
			logger.Debug("out-of-order webhook, status unchanged",
				"message_id", msg.ID, "event", hook.Event, "status", msg.Status)
		}
	}

	ts := hook.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	evt := events.MessageEvent{
		Kind:           kind,
		OrganizationID: msg.OrganizationID,
		CampaignID:     msg.CampaignID,
		MessageID:      msg.ID,
		ContactID:      msg.ContactID,
		VariantID:      msg.VariantID,
		Amount:         hook.Amount,
		Timestamp:      ts,
	}
	if err := h.Publisher.Publish(r.Context(), evt); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "accepted"})
}
