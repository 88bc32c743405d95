package domain

import (
	"time"

	"github.com/google/uuid"
)

// ABTestStatus enumerates the lifecycle of an A/B test.
type ABTestStatus string

const (
	ABTestDraft     ABTestStatus = "draft"
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
)

// SelectionMetric determines how the winning variant is chosen.
type SelectionMetric string

const (
	MetricOpenRate       SelectionMetric = "open_rate"
	MetricClickRate      SelectionMetric = "click_rate"
	MetricConversionRate SelectionMetric = "conversion_rate"
	MetricRevenue        SelectionMetric = "revenue"
)

// ABTest is a content experiment attached to a campaign. TestPercentage of
// the audience enters the test; the remainder is held out until a winner is
// declared. WinningVariantID is set once and immutable thereafter.
type ABTest struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OrganizationID   uuid.UUID       `json:"organization_id" db:"organization_id"`
	CampaignID       uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	Status           ABTestStatus    `json:"status" db:"status"`
	TestPercentage   int             `json:"test_percentage" db:"test_percentage"`
	TestDuration     time.Duration   `json:"test_duration" db:"test_duration"`
	Metric           SelectionMetric `json:"metric" db:"metric"`
	WinningVariantID *uuid.UUID      `json:"winning_variant_id" db:"winning_variant_id"`
	DefaultVariantID *uuid.UUID      `json:"default_variant_id" db:"default_variant_id"`
	StartedAt        *time.Time      `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at" db:"completed_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// ABTestVariant is one content alternative with its engagement counters.
// Counters are updated only through the analytics aggregator's write path.
type ABTestVariant struct {
	ID             uuid.UUID `json:"id" db:"id"`
	TestID         uuid.UUID `json:"test_id" db:"test_id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Subject        string    `json:"subject" db:"subject"`
	Content        string    `json:"content" db:"content"`
	Weight         int       `json:"weight" db:"weight"`
	SentCount      int64     `json:"sent_count" db:"sent_count"`
	OpenedCount    int64     `json:"opened_count" db:"opened_count"`
	ClickedCount   int64     `json:"clicked_count" db:"clicked_count"`
	ConvertedCount int64     `json:"converted_count" db:"converted_count"`
	Revenue        float64   `json:"revenue" db:"revenue"`
}

// MetricValue computes the variant's score for the given selection metric.
// Rate metrics return 0 when nothing was sent.
func (v *ABTestVariant) MetricValue(m SelectionMetric) float64 {
	switch m {
	case MetricRevenue:
		return v.Revenue
	case MetricClickRate:
		if v.SentCount == 0 {
			return 0
		}
		return float64(v.ClickedCount) / float64(v.SentCount)
	case MetricConversionRate:
		if v.SentCount == 0 {
			return 0
		}
		return float64(v.ConvertedCount) / float64(v.SentCount)
	default: // open_rate
		if v.SentCount == 0 {
			return 0
		}
		return float64(v.OpenedCount) / float64(v.SentCount)
	}
}
