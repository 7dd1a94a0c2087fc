package domain

import (
	"testing"
	"time"
)

func TestRegistration_RegisteredWithin(t *testing.T) {
	now := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	recency := 330 * day
	grace := 5 * day

	cases := []struct {
		name  string
		age   time.Duration
		grace time.Duration
		want  bool
	}{
		{"a month ago", 30 * day, grace, true},
		{"a year ago", 365 * day, grace, false},
		{"two days ago strict", 2 * day, grace, false},
		{"two days ago lenient", 2 * day, 0, true},
	}
	for _, tc := range cases {
		r := &Registration{PhoneNumber: "+15555550100", InsertedAt: now.Add(-tc.age)}
		if got := r.RegisteredWithin(now, recency, tc.grace); got != tc.want {
			t.Errorf("%s: RegisteredWithin = %v, want %v", tc.name, got, tc.want)
		}
	}
	var none *Registration
	if none.RegisteredWithin(now, recency, grace) {
		t.Error("nil registration is never registered")
	}
}
