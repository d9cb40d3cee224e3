package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) (*AuditAlerter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter := NewAuditAlerter(client, "test:alerts")
	alerter.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return alerter, mr
}

func TestAuditAlerterTriggersAtThreshold(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		result, err := alerter.Observe(ctx, EventLogin, OutcomeFail, "203.0.113.7")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Count != int64(i) {
			t.Fatalf("count = %d, want %d", result.Count, i)
		}
		if want := i >= 10; result.Triggered != want {
			t.Fatalf("attempt %d: triggered = %v, want %v", i, result.Triggered, want)
		}
	}

	// Another client has its own counter.
	result, err := alerter.Observe(ctx, EventLogin, OutcomeFail, "198.51.100.1")
	if err != nil {
		t.Fatalf("observe other ip: %v", err)
	}
	if result.Count != 1 || result.Triggered {
		t.Fatalf("unexpected result for other ip: %+v", result)
	}
}

func TestAuditAlerterWindowExpires(t *testing.T) {
	alerter, mr := newTestAlerter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := alerter.Observe(ctx, EventPasswordReset, OutcomeFail, "203.0.113.7"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	mr.FastForward(16 * time.Minute)
	result, err := alerter.Observe(ctx, EventPasswordReset, OutcomeFail, "203.0.113.7")
	if err != nil {
		t.Fatalf("observe after window: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count after expiry = %d, want 1", result.Count)
	}
}

func TestAuditAlerterIgnoresUnknownRules(t *testing.T) {
	alerter, mr := newTestAlerter(t)
	for _, tc := range []struct{ event, outcome string }{
		{"auth.custom", OutcomeFail},
		{EventLogin, "success"},
	} {
		result, err := alerter.Observe(context.Background(), tc.event, tc.outcome, "203.0.113.7")
		if err != nil {
			t.Fatalf("observe %v: %v", tc, err)
		}
		if result.Triggered || result.Count != 0 {
			t.Fatalf("unexpected result for %v: %+v", tc, result)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("unexpected keys written: %v", keys)
	}
}

func TestNilAlerterIsNoop(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without a client")
	}
	result, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "203.0.113.7")
	if err != nil || result.Triggered {
		t.Fatalf("nil alerter: %+v, %v", result, err)
	}
}

func TestSanitizeSegment(t *testing.T) {
	cases := map[string]string{
		"":            "unknown",
		"2001:db8::1": "2001_db8__1",
		" a b|c ":     "a_b_c",
		"203.0.113.7": "203.0.113.7",
	}
	for in, want := range cases {
		if got := sanitizeSegment(in); got != want {
			t.Fatalf("sanitizeSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
