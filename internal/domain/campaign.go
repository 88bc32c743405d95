package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType enumerates the delivery channels a campaign can use.
type CampaignType string

const (
	CampaignEmail    CampaignType = "email"
	CampaignSMS      CampaignType = "sms"
	CampaignPush     CampaignType = "push"
	CampaignWhatsApp CampaignType = "whatsapp"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
// Transitions are one-directional (draft → scheduled → sending → sent)
// except cancelled, which is reachable from any non-terminal state.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignCancelled CampaignStatus = "cancelled"
)

// campaignTransitions is the closed set of allowed forward transitions.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCancelled},
	CampaignScheduled: {CampaignSending, CampaignCancelled},
	CampaignSending:   {CampaignSent, CampaignCancelled},
}

// CanTransition reports whether moving from s to next is allowed.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the campaign is in a final state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignSent || s == CampaignCancelled
}

// Campaign represents a multi-channel campaign owned by a single tenant.
type Campaign struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	Name           string         `json:"name" db:"name"`
	Type           CampaignType   `json:"type" db:"type"`
	Status         CampaignStatus `json:"status" db:"status"`
	Subject        string         `json:"subject" db:"subject"`
	Content        string         `json:"content" db:"content"`
	FromName       string         `json:"from_name" db:"from_name"`
	FromAddress    string         `json:"from_address" db:"from_address"`
	ScheduledAt    *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	StartedAt      *time.Time     `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at" db:"completed_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}
