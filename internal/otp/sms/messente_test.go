package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMessenteClient_Defaults(t *testing.T) {
	client := NewMessenteClient("user", "pass", "", "")
	if client.BaseURL != "https://api.messente.com" {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.Sender != "Holonym" {
		t.Errorf("Sender = %q, want %q", client.Sender, "Holonym")
	}
	if client.HTTPClient == nil {
		t.Fatal("HTTPClient should be set")
	}
	if client.HTTPClient.Timeout != defaultTimeout {
		t.Errorf("HTTPClient.Timeout = %v, want %v", client.HTTPClient.Timeout, defaultTimeout)
	}
}

func TestSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want %q", r.Method, http.MethodPost)
		}
		if r.URL.Path != "/v1/omnimessage" {
			t.Errorf("path = %q, want /v1/omnimessage", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Errorf("basic auth = %q/%q (%v)", user, pass, ok)
		}
		var body omnimessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Decode body: %v", err)
		}
		if body.To != "+15555550100" {
			t.Errorf("to = %q", body.To)
		}
		if len(body.Messages) != 1 {
			t.Fatalf("messages = %d, want 1", len(body.Messages))
		}
		m := body.Messages[0]
		if m.Channel != "sms" || m.Sender != "Holonym" || m.Text != "123456 is your verification code" {
			t.Errorf("message = %+v", m)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"messages":[{"channel":"sms","message_id":"x"}]}`))
	}))
	defer server.Close()

	client := NewMessenteClient("user", "pass", server.URL+"/", "")
	if err := client.Send(context.Background(), "+15555550100", "123456 is your verification code"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"title":"Unauthorized"}]}`))
	}))
	defer server.Close()

	err := NewMessenteClient("user", "wrong", server.URL, "").Send(context.Background(), "+15555550100", "x")
	if err == nil {
		t.Fatal("Send should fail on 401")
	}
	if !strings.Contains(err.Error(), "status=401") || !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error = %q, want status and body", err.Error())
	}
}

func TestSend_MissingCredentials(t *testing.T) {
	if err := NewMessenteClient("", "", "", "").Send(context.Background(), "+15555550100", "x"); err == nil {
		t.Fatal("Send without credentials should fail")
	}
}

func TestSend_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewMessenteClient("u", "p", server.URL, "").Send(ctx, "+15555550100", "x"); err == nil {
		t.Fatal("Send should fail when the context expires")
	}
}
