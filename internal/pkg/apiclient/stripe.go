package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ringlinehq/ringline/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// Stable operation names for the billing client. The breaker registry keys
// on these, so every worker hitting the same Stripe operation shares state.
const (
	OpStripeCreateCheckoutSession = "stripe:create_checkout_session"
	OpStripeGetCheckoutSession    = "stripe:get_checkout_session"
	OpStripeGetSubscription       = "stripe:get_subscription"
	OpStripeCancelSubscription    = "stripe:cancel_subscription"
)

// StripeClient covers the narrow slice of the Stripe API the processors use.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
	caller     *Caller
}

type StripeCheckoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	PaymentStatus     string `json:"payment_status"`
	URL               string `json:"url"`
}

type StripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

// NewStripeClientFromEnv builds the billing client from env configuration.
func NewStripeClientFromEnv(caller *Caller) *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		caller: caller,
	}
}

// CreateCheckoutSession creates a subscription checkout session for a trial
// conversion and returns the hosted checkout URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, priceID, clientReferenceID, successURL, cancelURL string) (*StripeCheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", clientReferenceID)
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)

	var session StripeCheckoutSession
	err := c.caller.Call(OpStripeCreateCheckoutSession, func() error {
		return c.do(ctx, OpStripeCreateCheckoutSession, http.MethodPost, "/checkout/sessions", form, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCheckoutSession retrieves a checkout session by id.
func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*StripeCheckoutSession, error) {
	var session StripeCheckoutSession
	err := c.caller.Call(OpStripeGetCheckoutSession, func() error {
		return c.do(ctx, OpStripeGetCheckoutSession, http.MethodGet, "/checkout/sessions/"+url.PathEscape(sessionID), nil, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSubscription retrieves a subscription by id.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	var sub StripeSubscription
	err := c.caller.Call(OpStripeGetSubscription, func() error {
		return c.do(ctx, OpStripeGetSubscription, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription immediately.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	var sub StripeSubscription
	err := c.caller.Call(OpStripeCancelSubscription, func() error {
		return c.do(ctx, OpStripeCancelSubscription, http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *StripeClient) do(ctx context.Context, operation, method, path string, form url.Values, out interface{}) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(operation, resp, out)
}

// PeriodEndTime converts the subscription's period end to a timestamp pointer.
func (s *StripeSubscription) PeriodEndTime() *time.Time {
	if s.CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(s.CurrentPeriodEnd, 0)
	return &t
}
