package domain

import (
	"testing"
	"time"
)

func TestNewRule_RejectsNonPositiveValues(t *testing.T) {
	cases := []struct {
		name     string
		requests int
		window   int
	}{
		{"zero requests", 0, 60},
		{"negative requests", -1, 60},
		{"zero window", 10, 0},
		{"negative window", 10, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRule("ip", ScopeIP, CategoryDefault, tc.requests, tc.window)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %T", err)
			}
		})
	}
}

func TestNewRule_RejectsUnknownScopeAndCategory(t *testing.T) {
	if _, err := NewRule("x", Scope("planet"), CategoryDefault, 1, 1); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for scope, got %v", err)
	}
	if _, err := NewRule("x", ScopeIP, Category("vip"), 1, 1); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for category, got %v", err)
	}
}

func TestRule_FingerprintChangesWithLimit(t *testing.T) {
	a, _ := NewRule("ip", ScopeIP, CategoryDefault, 100, 60)
	b, _ := NewRule("ip", ScopeIP, CategoryDefault, 100, 60)
	c, _ := NewRule("ip", ScopeIP, CategoryDefault, 101, 60)

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected equal rules to share fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("expected different fingerprint when requests change")
	}
	if a.Window != 60*time.Second {
		t.Fatalf("expected window 60s, got %s", a.Window)
	}
}

func TestRequest_NormalizeMakesAnonymous(t *testing.T) {
	r := Request{Role: "admin", Path: "/search"}.Normalize()

	if r.Role != RoleAnonymous {
		t.Fatalf("expected anonymous role, got %q", r.Role)
	}
	if r.SourceIP != UnknownIP {
		t.Fatalf("expected unknown ip, got %q", r.SourceIP)
	}
	if r.EndpointID != "/search" {
		t.Fatalf("expected endpoint to fall back to path, got %q", r.EndpointID)
	}
	if got := r.Caller(); got != r.IPSubject() {
		t.Fatalf("expected ip caller, got %s", got)
	}
}

func TestRequest_AuthenticatedCallers(t *testing.T) {
	r := Request{SourceIP: "1.2.3.4", UserID: " 42 ", Role: "Premium"}.Normalize()

	if r.Role != "premium" {
		t.Fatalf("expected lower-cased role, got %q", r.Role)
	}
	if got := r.Caller().String(); got != "user:42" {
		t.Fatalf("expected user:42, got %q", got)
	}
	if got := len(r.Callers()); got != 2 {
		t.Fatalf("expected 2 callers, got %d", got)
	}
}

func TestParseSubject(t *testing.T) {
	s, ok := ParseSubject("endpoint:auth.login|ip:1.2.3.4")
	if !ok {
		t.Fatalf("expected ok")
	}
	if s.Scope != ScopeEndpoint || s.ID != "auth.login|ip:1.2.3.4" {
		t.Fatalf("unexpected subject %+v", s)
	}
	if _, ok := ParseSubject("planet:earth"); ok {
		t.Fatalf("expected unknown scope to fail")
	}
	if _, ok := ParseSubject("ip:"); ok {
		t.Fatalf("expected empty id to fail")
	}
}

func TestWindowStart_AlignsToUnixSeconds(t *testing.T) {
	now := time.Unix(1_000_007, 500)
	got := WindowStart(now, 7*time.Second)
	if got.Unix() != 1_000_006 {
		t.Fatalf("expected 1000006, got %d", got.Unix())
	}
	if got := WindowStart(now, 60*time.Second).Unix(); got != 999_960 {
		t.Fatalf("expected 999960, got %d", got)
	}
}
