// Package gateway defines the message dispatch boundary: the engine hands
// a message to an external provider and only ever learns "accepted for
// send" plus a delivery id. Delivery confirmation arrives later through the
// webhook/event channel.
package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// SendRequest is one dispatch attempt. MessageID doubles as the idempotency
// key at the send boundary, so a retried attempt after an ambiguous failure
// cannot double-deliver on providers that honor it.
type SendRequest struct {
	MessageID uuid.UUID           `json:"message_id"`
	Channel   domain.CampaignType `json:"channel"`
	Recipient string              `json:"recipient"`
	Subject   string              `json:"subject,omitempty"`
	Content   string              `json:"content"`
	FromName  string              `json:"from_name,omitempty"`
	From      string              `json:"from,omitempty"`
}

// SendResult is the provider's acceptance acknowledgment.
type SendResult struct {
	DeliveryID string `json:"delivery_id"`
}

// Gateway dispatches messages to an external provider. Implementations
// perform exactly one attempt per call; retry budgets live with the caller.
// Errors are classified as transient or permanent (see errors.go).
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}
