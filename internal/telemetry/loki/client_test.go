package loki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestPushEvent_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	raw := []byte(`{"eventType":"otp_sent","sessionId":"abc","source":"verification","createdAt":"2024-05-01T10:00:00Z"}`)
	if err := NewClient(srv.URL+"/").PushEvent(context.Background(), raw); err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	labels := got.Streams[0].Stream
	if labels["job"] != Job || labels["event_type"] != "otp_sent" || labels["source"] != "verification" {
		t.Errorf("labels = %v", labels)
	}
	if _, ok := labels["session_id"]; ok {
		t.Error("session id must not be a label")
	}
	want := strconv.FormatInt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixNano(), 10)
	if v := got.Streams[0].Values[0]; v[0] != want || v[1] != string(raw) {
		t.Errorf("values = %v", v)
	}
}

func TestPushEvent_NotAnEvent(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c.nowF = func() time.Time { return fixed }
	if err := c.PushEvent(context.Background(), []byte("plain line")); err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(got.Streams) != 1 || len(got.Streams[0].Stream) != 1 {
		t.Fatalf("streams = %+v, want one stream with only the job label", got.Streams)
	}
	if v := got.Streams[0].Values[0]; v[0] != strconv.FormatInt(fixed.UnixNano(), 10) || v[1] != "plain line" {
		t.Errorf("values = %v", v)
	}
}

func TestPush_Errors(t *testing.T) {
	if err := NewClient("").Push(context.Background(), time.Now(), "x", nil); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("empty base URL: err = %v, want ErrNoBaseURL", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := NewClient(srv.URL).Push(context.Background(), time.Now(), "x", map[string]string{"event_type": "a b"}); err == nil {
		t.Error("non-2xx should fail")
	}
}
