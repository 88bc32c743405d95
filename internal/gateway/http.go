package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/campaign-engine/internal/domain"
)

// HTTPGateway posts messages to per-channel provider endpoints as JSON.
// It is the dispatch path for SMS, push, and WhatsApp providers (and email
// providers that expose an HTTP injection API).
type HTTPGateway struct {
	endpoints map[domain.CampaignType]string
	apiKey    string
	client    *http.Client
}

// NewHTTPGateway creates a gateway for the given channel→endpoint map.
// The per-attempt timeout is enforced by the caller's context, so the
// underlying client carries none of its own.
func NewHTTPGateway(endpoints map[domain.CampaignType]string, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		endpoints: endpoints,
		apiKey:    apiKey,
		client:    &http.Client{},
	}
}

// Send performs a single dispatch attempt against the channel's endpoint.
func (g *HTTPGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	endpoint, ok := g.endpoints[req.Channel]
	if !ok {
		return nil, Permanent(fmt.Errorf("no endpoint configured for channel %s", req.Channel))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal send request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.MessageID.String())
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// Network and timeout failures are retryable
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result SendResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, Transient(fmt.Errorf("decode provider response: %w", err))
		}
		return &result, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, Transient(fmt.Errorf("provider returned %d", resp.StatusCode))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, Permanent(fmt.Errorf("provider rejected send (%d): %s", resp.StatusCode, msg))
	}
}
