// Package paypal is a minimal client for the PayPal Orders and Payments REST APIs.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	ProductionBaseURL = "https://api-m.paypal.com"
	SandboxBaseURL    = "https://api-m.sandbox.paypal.com"
)

// Status values shared by orders, captures and refunds.
const (
	StatusCompleted = "COMPLETED"
)

var ErrNoCompletedCapture = errors.New("paypal: order has no completed capture")

// BaseURLFor returns the live API host in production and the sandbox otherwise.
func BaseURLFor(production bool) string {
	if production {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Money is a PayPal amount; Value is a decimal string such as "5.00".
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

type PurchaseUnit struct {
	Amount   *Money `json:"amount,omitempty"`
	Payments struct {
		Captures []Capture `json:"captures"`
	} `json:"payments"`
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// FirstCompletedCapture returns the first COMPLETED capture across all purchase units.
func (o *Order) FirstCompletedCapture() (*Capture, error) {
	for _, pu := range o.PurchaseUnits {
		for i := range pu.Payments.Captures {
			if pu.Payments.Captures[i].Status == StatusCompleted {
				c := pu.Payments.Captures[i]
				return &c, nil
			}
		}
	}
	return nil, ErrNoCompletedCapture
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// APIError is a non-2xx answer from PayPal.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: request failed status=%d body=%s", e.StatusCode, e.Body)
}

// Client authenticates with client credentials and caches the access token until shortly before it expires.
type Client struct {
	BaseURL      string
	ClientID     string
	Secret       string
	HTTPClient   *http.Client
	mu           sync.Mutex
	token        string
	tokenExpires time.Time
	nowF         func() time.Time
}

func NewClient(baseURL, clientID, secret string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ClientID:   clientID,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		nowF:       time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a bearer token from /v1/oauth2/token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.nowF().Before(c.tokenExpires) {
		return c.token, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out tokenResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("paypal: empty access token")
	}
	c.token = out.AccessToken
	ttl := time.Duration(out.ExpiresIn)*time.Second - time.Minute
	if ttl < 0 {
		ttl = 0
	}
	c.tokenExpires = c.nowF().Add(ttl)
	return c.token, nil
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// CreateOrder creates a CAPTURE-intent order for amount USD (e.g. "5.00").
func (c *Client) CreateOrder(ctx context.Context, amountUSD string) (*Order, error) {
	body := createOrderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{Amount: &Money{CurrencyCode: "USD", Value: amountUSD}}},
	}
	var out Order
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CaptureOrder captures an approved order.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type refundRequest struct {
	Amount      Money  `json:"amount"`
	NoteToPayer string `json:"note_to_payer,omitempty"`
}

// RefundCapture refunds amountUSD of a capture.
func (c *Client) RefundCapture(ctx context.Context, captureID, amountUSD, note string) (*Refund, error) {
	body := refundRequest{Amount: Money{CurrencyCode: "USD", Value: amountUSD}, NoteToPayer: note}
	var out Refund
	if err := c.call(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paypal: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
