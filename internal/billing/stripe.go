package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
)

var ErrStripeNotConfigured = errors.New("stripe secret key not configured")

// CheckoutSession is the slice of Stripe's checkout session object this
// service reads.
type CheckoutSession struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Created      int64             `json:"created"`
	Metadata     map[string]string `json:"metadata"`
}

// Subscription is the slice of Stripe's subscription object this service
// reads. Newer API versions moved the period end onto the items, so both
// locations are carried.
type Subscription struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Customer         string            `json:"customer"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// PeriodEnd resolves the subscription's paid-through timestamp.
func (s *Subscription) PeriodEnd() (time.Time, error) {
	ts := s.CurrentPeriodEnd
	if ts == 0 && len(s.Items.Data) > 0 {
		ts = s.Items.Data[0].CurrentPeriodEnd
	}
	if ts == 0 {
		return time.Time{}, fmt.Errorf("subscription %s has no period end", s.ID)
	}
	return time.Unix(ts, 0).UTC(), nil
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	client            *http.Client
	apiURL            string
	secretKey         string
	priceSubscription string
	priceAddon        string
}

func NewStripeClient(cfg *config.Config) *StripeClient {
	return &StripeClient{
		client:            &http.Client{Timeout: 30 * time.Second},
		apiURL:            strings.TrimRight(cfg.StripeAPIURL, "/"),
		secretKey:         cfg.StripeSecretKey,
		priceSubscription: cfg.StripePriceSubscription,
		priceAddon:        cfg.StripePriceAddon,
	}
}

// CreateSubscriptionCheckout opens a subscription checkout session for the
// account and returns the hosted payment page URL. The account id rides in
// the session and subscription metadata so webhooks can find their way back.
func (sc *StripeClient) CreateSubscriptionCheckout(ctx context.Context, acc *models.Account, successURL, cancelURL string) (string, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", sc.priceSubscription)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("metadata[account_id]", acc.ID.String())
	form.Set("subscription_data[metadata][account_id]", acc.ID.String())
	if acc.StripeCustomerID != "" {
		form.Set("customer", acc.StripeCustomerID)
	} else {
		form.Set("customer_email", acc.Email)
	}

	var session CheckoutSession
	if err := sc.do(ctx, "POST", "/v1/checkout/sessions", form, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

// CreateAddonCheckout opens a one-time payment session for an add-on credit
// pack. Only existing customers can buy add-ons, so the customer id is
// required.
func (sc *StripeClient) CreateAddonCheckout(ctx context.Context, acc *models.Account, successURL, cancelURL string) (string, error) {
	if acc.StripeCustomerID == "" {
		return "", fmt.Errorf("account %s has no stripe customer", acc.ID)
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer", acc.StripeCustomerID)
	form.Set("line_items[0][price]", sc.priceAddon)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("metadata[account_id]", acc.ID.String())
	form.Set("metadata[type]", "addon")

	var session CheckoutSession
	if err := sc.do(ctx, "POST", "/v1/checkout/sessions", form, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

// GetSubscription fetches a subscription by id.
func (sc *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := sc.do(ctx, "GET", "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListCompletedCheckouts returns recent completed checkout sessions, newest
// first. Used by operator tooling to repair missed webhooks.
func (sc *StripeClient) ListCompletedCheckouts(ctx context.Context, limit int) ([]CheckoutSession, error) {
	if limit <= 0 {
		limit = 10
	}
	var out struct {
		Data []CheckoutSession `json:"data"`
	}
	path := "/v1/checkout/sessions?status=complete&limit=" + strconv.Itoa(limit)
	if err := sc.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (sc *StripeClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if sc.secretKey == "" {
		return ErrStripeNotConfigured
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, sc.apiURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sc.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stripe returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse stripe response: %w", err)
	}
	return nil
}
