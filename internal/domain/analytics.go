package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates delivery and engagement events consumed by the
// analytics aggregator.
type EventKind string

const (
	EventSent        EventKind = "sent"
	EventDelivered   EventKind = "delivered"
	EventOpened      EventKind = "opened"
	EventClicked     EventKind = "clicked"
	EventBounced     EventKind = "bounced"
	EventUnsubscribe EventKind = "unsubscribed"
	EventComplaint   EventKind = "complaint"
	EventRevenue     EventKind = "revenue"
)

// CampaignAnalytics holds the monotonically incrementing per-campaign
// counters. Derived rates are computed at read time, never stored.
type CampaignAnalytics struct {
	CampaignID     uuid.UUID `json:"campaign_id" db:"campaign_id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Sent           int64     `json:"sent" db:"sent"`
	Delivered      int64     `json:"delivered" db:"delivered"`
	Opened         int64     `json:"opened" db:"opened"`
	Clicked        int64     `json:"clicked" db:"clicked"`
	Bounced        int64     `json:"bounced" db:"bounced"`
	Unsubscribed   int64     `json:"unsubscribed" db:"unsubscribed"`
	Complaints     int64     `json:"complaints" db:"complaints"`
	Revenue        float64   `json:"revenue" db:"revenue"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Rates holds the derived engagement rates for a snapshot read.
type Rates struct {
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	DeliveryRate    float64 `json:"delivery_rate"`
}

// Rates computes the derived rates from the raw counters.
func (a *CampaignAnalytics) Rates() Rates {
	var r Rates
	if a.Delivered > 0 {
		r.OpenRate = float64(a.Opened) / float64(a.Delivered)
		r.ClickRate = float64(a.Clicked) / float64(a.Delivered)
	}
	if a.Opened > 0 {
		r.ClickToOpenRate = float64(a.Clicked) / float64(a.Opened)
	}
	if a.Sent > 0 {
		r.BounceRate = float64(a.Bounced) / float64(a.Sent)
		r.DeliveryRate = float64(a.Delivered) / float64(a.Sent)
	}
	return r
}
