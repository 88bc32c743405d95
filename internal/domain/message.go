package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus enumerates the lifecycle of a single campaign message.
// delivered is required before opened/clicked can be recorded; bounced and
// failed are terminal.
type MessageStatus string

const (
	MessageDraft     MessageStatus = "draft"
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageOpened    MessageStatus = "opened"
	MessageClicked   MessageStatus = "clicked"
	MessageBounced   MessageStatus = "bounced"
	MessageFailed    MessageStatus = "failed"
)

var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageDraft:     {MessageQueued, MessageFailed},
	MessageQueued:    {MessageSent, MessageFailed},
	MessageSent:      {MessageDelivered, MessageBounced, MessageFailed},
	MessageDelivered: {MessageOpened, MessageClicked},
	MessageOpened:    {MessageClicked},
	MessageClicked:   {MessageOpened},
}

// CanTransition reports whether moving from s to next is allowed.
// Engagement states (opened/clicked) are only reachable after delivered.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	for _, allowed := range messageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states that accept no further transitions.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageBounced || s == MessageFailed
}

// CampaignMessage is one message sent (or attempted) to one recipient.
type CampaignMessage struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	OrganizationID uuid.UUID     `json:"organization_id" db:"organization_id"`
	CampaignID     uuid.UUID     `json:"campaign_id" db:"campaign_id"`
	InstanceID     *uuid.UUID    `json:"instance_id,omitempty" db:"instance_id"`
	ContactID      uuid.UUID     `json:"contact_id" db:"contact_id"`
	VariantID      *uuid.UUID    `json:"variant_id,omitempty" db:"variant_id"`
	Channel        CampaignType  `json:"channel" db:"channel"`
	Recipient      string        `json:"recipient" db:"recipient"`
	Subject        string        `json:"subject" db:"subject"`
	Content        string        `json:"content" db:"content"`
	Status         MessageStatus `json:"status" db:"status"`
	GatewayID      string        `json:"gateway_id" db:"gateway_id"`
	ErrorMessage   string        `json:"error_message,omitempty" db:"error_message"`
	QueuedAt       time.Time     `json:"queued_at" db:"queued_at"`
	SentAt         *time.Time    `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time    `json:"delivered_at" db:"delivered_at"`
}
