package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIPHonorsForwardedHeadersOnlyFromTrustedPeers(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "untrusted peer", remote: "198.51.100.10:1234", xff: "203.0.113.5", realIP: "203.0.113.6", want: "198.51.100.10"},
		{name: "trusted peer single hop", remote: "10.0.0.20:1234", xff: "203.0.113.5", trusted: trusted, want: "203.0.113.5"},
		{name: "rightmost untrusted hop", remote: "10.0.0.20:1234", xff: "198.51.100.1, 203.0.113.5, 10.0.0.10", trusted: trusted, want: "203.0.113.5"},
		{name: "x-real-ip fallback", remote: "192.168.1.10:80", xff: "garbage", realIP: "203.0.113.7", trusted: trusted, want: "203.0.113.7"},
		{name: "every hop trusted", remote: "10.0.0.20:1234", xff: "10.0.0.5, 10.0.0.10", trusted: trusted, want: "10.0.0.5"},
		{name: "unparseable remote addr", remote: "not-an-ip", want: "not-an-ip"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/analysis", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{" ", "172.16.0.0/12", "::1"})
	if err != nil {
		t.Fatalf("valid entries rejected: %v", err)
	}
	if !proxies.Contains(netip.MustParseAddr("172.20.1.1")) {
		t.Fatalf("expected cidr member to be trusted")
	}
	if !proxies.Contains(netip.MustParseAddr("::1")) {
		t.Fatalf("expected bare ipv6 entry to be trusted")
	}
	if proxies.Contains(netip.MustParseAddr("8.8.8.8")) {
		t.Fatalf("did not expect public address to be trusted")
	}
	if empty, err := NewTrustedProxies(nil); err != nil || empty != nil {
		t.Fatalf("expected nil allowlist for empty input, got %v %v", empty, err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr/99"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
}
