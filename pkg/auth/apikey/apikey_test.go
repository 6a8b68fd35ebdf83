package apikey

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/vibe/pkg/auth"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("", []RawKeyEntry{
		{
			Key: "vk_ci_runner",
			Identity: auth.Identity{
				Subject:     "svc-ci",
				ServiceTier: "internal",
				Metadata:    map[string]string{"org_id": "org_1"},
			},
		},
		{Key: "vk_vibectl", Identity: auth.Identity{Subject: "svc-cli"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		want        auth.AuthDecision
		wantSubject string
	}{
		{"valid key", "Bearer vk_ci_runner", auth.Yes, "svc-ci"},
		{"second key", "Bearer vk_vibectl", auth.Yes, "svc-cli"},
		{"unknown prefixed key", "Bearer vk_nope", auth.No, ""},
		{"session token abstains", "Bearer eyJhbGciOiJSUzI1NiJ9.e30.sig", auth.Abstain, ""},
		{"basic auth abstains", "Basic dXNlcjpwYXNz", auth.Abstain, ""},
		{"no header abstains", "", auth.Abstain, ""},
	}
	a := newTestAuth(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/projects", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			result := a.Authenticate(context.Background(), r)
			if result.Decision != tt.want {
				t.Fatalf("Decision = %d, want %d", result.Decision, tt.want)
			}
			if tt.wantSubject != "" && result.Identity.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", result.Identity.Subject, tt.wantSubject)
			}
		})
	}
}

func TestIdentityIsCopied(t *testing.T) {
	a := newTestAuth(t)
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer vk_ci_runner")

	first := a.Authenticate(context.Background(), r)
	first.Identity.Metadata["org_id"] = "tampered"
	first.Identity.Subject = "tampered"

	second := a.Authenticate(context.Background(), r)
	if second.Identity.Subject != "svc-ci" || second.Identity.OrgID() != "org_1" {
		t.Errorf("identity shared between requests: %+v", second.Identity)
	}
}

func TestNewValidatesKeys(t *testing.T) {
	tests := []struct {
		name    string
		entries []RawKeyEntry
	}{
		{"missing prefix", []RawKeyEntry{{Key: "secret", Identity: auth.Identity{Subject: "a"}}}},
		{"prefix only", []RawKeyEntry{{Key: "vk_", Identity: auth.Identity{Subject: "a"}}}},
		{"missing subject", []RawKeyEntry{{Key: "vk_ok"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("", tt.entries); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCustomPrefix(t *testing.T) {
	a, err := New("ci-", []RawKeyEntry{{Key: "ci-123", Identity: auth.Identity{Subject: "ci"}}})
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer vk_123")
	if got := a.Authenticate(context.Background(), r).Decision; got != auth.Abstain {
		t.Errorf("Decision = %d, want Abstain", got)
	}
}
