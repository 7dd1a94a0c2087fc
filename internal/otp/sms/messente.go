package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://api.messente.com"
	defaultSender  = "Holonym"
)

// MessenteClient sends SMS through the Messente omnimessage API.
// See https://messente.com/documentation/omnichannel-api.
type MessenteClient struct {
	Username   string
	Password   string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewMessenteClient returns a client with basic-auth credentials and optional base URL/sender.
func NewMessenteClient(username, password, baseURL, sender string) *MessenteClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if sender == "" {
		sender = defaultSender
	}
	return &MessenteClient{
		Username:   username,
		Password:   password,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type omnimessage struct {
	To       string    `json:"to"`
	Messages []message `json:"messages"`
}

type message struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
}

// Send delivers text to the E.164 number to over the SMS channel. Does not log the text.
func (c *MessenteClient) Send(ctx context.Context, to, text string) error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("sms: Messente credentials not configured")
	}
	raw, err := json.Marshal(omnimessage{
		To:       to,
		Messages: []message{{Channel: "sms", Sender: c.Sender, Text: text}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/omnimessage", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.Username, c.Password)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
