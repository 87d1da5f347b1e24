package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coursefox/paycore/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.payment-provider.example/v1"

// Status is the normalized remote state of a payment or subscription.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
	StatusNotFound  Status = "not_found"
)

// ErrTransient marks provider failures worth retrying later: network errors,
// timeouts and 5xx responses. Callers abandon their claim instead of
// finalizing the transaction.
var ErrTransient = errors.New("provider temporarily unavailable")

// Result is one normalized provider answer plus the raw body for the audit
// trail.
type Result struct {
	Status Status
	Raw    string
}

// Client is the thin adapter over the payment provider's status API.
type Client struct {
	APIBaseURL string
	APIKey     string

	HTTPClient *http.Client
}

// NewClient creates a provider client with explicit settings.
func NewClient(apiBaseURL, apiKey string) *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(apiBaseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewClientFromEnv creates a provider client configured from environment
// variables.
func NewClientFromEnv() *Client {
	return NewClient(
		strings.TrimSpace(env.GetEnv("PROVIDER_API_BASE_URL", defaultAPIBaseURL)),
		strings.TrimSpace(env.GetEnv("PROVIDER_API_KEY", "")),
	)
}

type statusResponse struct {
	Status string `json:"status"`
}

// PaymentStatus fetches the remote state of one payment.
func (c *Client) PaymentStatus(ctx context.Context, providerTxnID string) (Result, error) {
	return c.getStatus(ctx, "/payments/"+strings.TrimSpace(providerTxnID))
}

// SubscriptionStatus fetches the remote state of one provider subscription.
func (c *Client) SubscriptionStatus(ctx context.Context, providerSubID string) (Result, error) {
	return c.getStatus(ctx, "/subscriptions/"+strings.TrimSpace(providerSubID))
}

func (c *Client) getStatus(ctx context.Context, path string) (Result, error) {
	if strings.HasSuffix(path, "/") {
		return Result{}, errors.New("provider reference is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return Result{}, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{Status: StatusNotFound, Raw: string(body)}, nil
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: provider returned %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return Result{}, fmt.Errorf("decode provider response: %w", err)
	}
	return Result{Status: NormalizeStatus(sr.Status), Raw: string(body)}, nil
}

// NormalizeStatus maps the provider's status vocabulary onto ours. Unknown
// values are treated as pending so they stay eligible for another poll.
func NormalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "paid", "captured", "completed":
		return StatusSucceeded
	case "failed", "declined", "error":
		return StatusFailed
	case "cancelled", "canceled", "voided":
		return StatusCancelled
	case "not_found":
		return StatusNotFound
	default:
		return StatusPending
	}
}
