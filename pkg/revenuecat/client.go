// Package revenuecat reads subscriber state from the RevenueCat REST API.
package revenuecat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"looks-ledger/pkg/config"

	"github.com/tidwall/gjson"
	"go.uber.org/fx"
)

var Module = fx.Module("revenuecat", fx.Provide(NewClient))

var (
	ErrNotConfigured = errors.New("revenuecat api key not configured")
	ErrMalformed     = errors.New("malformed subscriber response")
)

// StatusError reports an unexpected HTTP status from the API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("revenuecat responded with status %d", e.StatusCode)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	keys       map[string]struct{}
	timeout    time.Duration
	now        func() time.Time
}

func NewClient(cfg *config.Config) *Client {
	keys := make(map[string]struct{}, len(cfg.RevenueCat.EntitlementKeys))
	for _, k := range cfg.RevenueCat.EntitlementKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}

	timeout := cfg.RevenueCat.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.RevenueCat.BaseURL, "/"),
		apiKey:     cfg.RevenueCat.APIKey,
		keys:       keys,
		timeout:    timeout,
		now:        time.Now,
	}
}

// FetchSubscriberState returns whether userID holds a recognised entitlement
// or any unexpired subscription. A 404 is an authoritative "inactive";
// every other failure is returned as an error with verified=false.
func (c *Client) FetchSubscriberState(ctx context.Context, userID string) (active, verified bool, err error) {
	if c.apiKey == "" {
		return false, false, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/subscribers/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, false, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, false, err
	}

	active, err = c.evaluate(body)
	if err != nil {
		return false, false, err
	}
	return active, true, nil
}

func (c *Client) evaluate(body []byte) (bool, error) {
	if !gjson.ValidBytes(body) {
		return false, ErrMalformed
	}

	subscriber := gjson.GetBytes(body, "subscriber")
	if !subscriber.IsObject() {
		return false, ErrMalformed
	}

	now := c.now()
	active := false

	subscriber.Get("entitlements").ForEach(func(key, value gjson.Result) bool {
		if _, ok := c.keys[key.String()]; !ok {
			return true
		}
		if unexpired(value.Get("expires_date"), now, true) {
			active = true
			return false
		}
		return true
	})
	if active {
		return true, nil
	}

	subscriber.Get("subscriptions").ForEach(func(_, value gjson.Result) bool {
		if unexpired(value.Get("expires_date"), now, false) {
			active = true
			return false
		}
		return true
	})

	return active, nil
}

// unexpired reports expires > now. A null expiry counts as active only when
// nullIsLifetime is set.
func unexpired(expires gjson.Result, now time.Time, nullIsLifetime bool) bool {
	if !expires.Exists() || expires.Type == gjson.Null {
		return nullIsLifetime
	}

	at, err := time.Parse(time.RFC3339, expires.String())
	if err != nil {
		return false
	}
	return at.After(now)
}
