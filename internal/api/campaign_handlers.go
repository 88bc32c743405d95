package api

import (
	"net/http"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	var c domain.Campaign
	if !httputil.Decode(w, r, &c) {
		return
	}
	c.OrganizationID = scope.OrganizationID
	if c.Name == "" {
		httputil.BadRequest(w, "campaign name is required")
		return
	}
	switch c.Type {
	case domain.CampaignEmail, domain.CampaignSMS, domain.CampaignPush, domain.CampaignWhatsApp:
	default:
		httputil.BadRequest(w, "unknown campaign type: "+string(c.Type))
		return
	}
	if c.Type == domain.CampaignEmail && c.Subject == "" {
		httputil.BadRequest(w, "email campaigns require a subject")
		return
	}

	if err := h.Campaigns.Create(r.Context(), scope, &c); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.Campaigns.Get(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateCampaignStatus advances a campaign through its lifecycle. Illegal
// moves, including races with another caller, come back as 409.
func (h *Handlers) UpdateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Status domain.CampaignStatus `json:"status"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Status == "" {
		httputil.BadRequest(w, "status is required")
		return
	}
	if err := h.Campaigns.UpdateStatus(r.Context(), scopeFrom(r), id, body.Status); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(body.Status)})
}

// CampaignAnalytics returns the campaign's counters and derived rates.
// Campaigns with no recorded events get a zero-valued snapshot, not a 404.
func (h *Handlers) CampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.Analytics.Snapshot(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, snap)
}

type createABTestRequest struct {
	Test     domain.ABTest          `json:"test"`
	Variants []domain.ABTestVariant `json:"variants"`
}

// CreateABTest creates a draft A/B test with its variants.
func (h *Handlers) CreateABTest(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	var req createABTestRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.Test.OrganizationID = scope.OrganizationID
	if len(req.Variants) < 2 {
		httputil.BadRequest(w, "an A/B test needs at least two variants")
		return
	}
	if req.Test.TestPercentage < 1 || req.Test.TestPercentage > 100 {
		httputil.BadRequest(w, "test_percentage must be between 1 and 100")
		return
	}
	totalWeight := 0
	for _, v := range req.Variants {
		if v.Weight <= 0 {
			httputil.BadRequest(w, "variant weights must be positive")
			return
		}
		totalWeight += v.Weight
	}
	if totalWeight != 100 {
		httputil.BadRequest(w, "variant weights must sum to 100")
		return
	}

	if err := h.ABTests.Create(r.Context(), scope, &req.Test, req.Variants); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"test": req.Test, "variants": req.Variants})
}

// GetABTest returns a test and its variants with live counters.
func (h *Handlers) GetABTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	test, variants, err := h.ABTests.Get(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"test": test, "variants": variants})
}

// StartABTest moves a draft test to running, which starts its duration
// clock for winner evaluation.
func (h *Handlers) StartABTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.ABTests.Start(r.Context(), scopeFrom(r), id); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(domain.ABTestRunning)})
}
