package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/telekom/integration-hub/pkg/api"
	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/orchestrator"
	"github.com/telekom/integration-hub/pkg/retry"
	"github.com/telekom/integration-hub/pkg/version"
)

// AuditQuery mirrors the GET /api/audit query parameters.
type AuditQuery struct {
	CorrelationID string
	Module        string
	ResourceID    string
	Action        string
	Status        string
	From          time.Time
	To            time.Time
	Limit         int
}

func (q AuditQuery) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("correlationId", q.CorrelationID)
	set("module", q.Module)
	set("resourceId", q.ResourceID)
	set("action", q.Action)
	set("status", q.Status)
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func (c *Client) QueryAudit(ctx context.Context, q AuditQuery) ([]audit.Record, error) {
	var resp api.AuditQueryResponse
	if err := c.do(ctx, http.MethodGet, "/api/audit", q.values(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) VerifyAudit(ctx context.Context, correlationID string) (api.VerifyResponse, error) {
	var resp api.VerifyResponse
	q := url.Values{}
	if correlationID != "" {
		q.Set("correlationId", correlationID)
	}
	err := c.do(ctx, http.MethodGet, "/api/audit/verify", q, nil, &resp)
	return resp, err
}

// DeadLetterQuery mirrors the GET /api/dead-letters query parameters.
type DeadLetterQuery struct {
	HandlerID     string
	EventType     string
	CorrelationID string
	Unreplayed    bool
	Limit         int
}

func (c *Client) ListDeadLetters(ctx context.Context, q DeadLetterQuery) ([]retry.DeadLetter, error) {
	v := url.Values{}
	if q.HandlerID != "" {
		v.Set("handlerId", q.HandlerID)
	}
	if q.EventType != "" {
		v.Set("eventType", q.EventType)
	}
	if q.CorrelationID != "" {
		v.Set("correlationId", q.CorrelationID)
	}
	if q.Unreplayed {
		v.Set("unreplayed", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out []retry.DeadLetter
	err := c.do(ctx, http.MethodGet, "/api/dead-letters", v, nil, &out)
	return out, err
}

func (c *Client) ReplayDeadLetter(ctx context.Context, id string) (api.ReplayResponse, error) {
	var resp api.ReplayResponse
	err := c.do(ctx, http.MethodPost, "/api/dead-letters/"+url.PathEscape(id)+"/replay", nil, nil, &resp)
	return resp, err
}

func (c *Client) StartOffboarding(ctx context.Context, req orchestrator.OffboardingRequest) (string, error) {
	var resp api.WorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/api/workflows/offboarding", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.CorrelationID, nil
}

func (c *Client) StartOnboarding(ctx context.Context, req orchestrator.OnboardingRequest) (string, error) {
	var resp api.WorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/api/workflows/onboarding", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.CorrelationID, nil
}

func (c *Client) Subscriptions(ctx context.Context) (api.SubscriptionsResponse, error) {
	var resp api.SubscriptionsResponse
	err := c.do(ctx, http.MethodGet, "/api/subscriptions", nil, nil, &resp)
	return resp, err
}

func (c *Client) ServerVersion(ctx context.Context) (version.BuildInfo, error) {
	var info version.BuildInfo
	err := c.do(ctx, http.MethodGet, "/api/debug/buildinfo", nil, nil, &info)
	return info, err
}
