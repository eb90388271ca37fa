package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Common errors
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription not active")
)

// Subscription statuses reported by PayPal
const (
	StatusActive   = "ACTIVE"
	StatusApproved = "APPROVED"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// Subscription represents a billing subscription from PayPal
type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	PlanID string `json:"plan_id"`
}

// Client handles communication with the PayPal REST API
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	planID       string
	httpClient   *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// BaseURLForEnv returns the API base URL for "sandbox" or "live"
func BaseURLForEnv(env string) string {
	if strings.EqualFold(env, "live") || strings.EqualFold(env, "production") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

// NewClient creates a new PayPal client. An empty planID accepts subscriptions to any plan.
func NewClient(baseURL, clientID, clientSecret, planID string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		planID:       planID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// VerifySubscription fetches a subscription and checks that it is active
func (c *Client) VerifySubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/billing/subscriptions/%s", c.baseURL, url.PathEscape(subscriptionID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("paypal returned status %d", resp.StatusCode)
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, err
	}

	if sub.Status != StatusActive && sub.Status != StatusApproved {
		return &sub, fmt.Errorf("%w: status %s", ErrSubscriptionInactive, sub.Status)
	}

	if c.planID != "" && sub.PlanID != c.planID {
		return &sub, fmt.Errorf("%w: unexpected plan %s", ErrSubscriptionInactive, sub.PlanID)
	}

	return &sub, nil
}

// accessToken returns a cached OAuth token, fetching a new one when expired
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token request failed, status: %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	c.token = body.AccessToken
	// Refresh a minute early
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)

	return c.token, nil
}
