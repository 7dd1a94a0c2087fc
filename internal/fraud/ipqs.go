package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IPQSClient queries the IPQualityScore phone validation API.
type IPQSClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewIPQSClient returns a client for baseURL (e.g. https://ipqualityscore.com).
func NewIPQSClient(baseURL, apiKey string) *IPQSClient {
	return &IPQSClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FraudScore returns the provider's fraud_score for number. country is an ISO 3166 alpha-2 code.
func (c *IPQSClient) FraudScore(ctx context.Context, number, country string) (float64, error) {
	u := fmt.Sprintf("%s/api/json/phone/%s/%s", c.BaseURL, url.PathEscape(c.APIKey), url.PathEscape(number))
	if country != "" {
		u += "?" + url.Values{"country[]": {country}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFraudProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status=%d body=%s", ErrFraudProvider, resp.StatusCode, body)
	}
	var out struct {
		FraudScore json.RawMessage `json:"fraud_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrFraudProvider, err)
	}
	var score float64
	if len(out.FraudScore) == 0 || json.Unmarshal(out.FraudScore, &score) != nil {
		return 0, fmt.Errorf("%w: response has no numeric fraud_score", ErrFraudProvider)
	}
	return score, nil
}
