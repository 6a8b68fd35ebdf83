package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubAuthn struct {
	result AuthResult
	calls  int
}

func (s *stubAuthn) Authenticate(_ context.Context, _ *http.Request) AuthResult {
	s.calls++
	return s.result
}

func yes(subject string) *stubAuthn {
	return &stubAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: subject}}}
}

func no() *stubAuthn { return &stubAuthn{result: AuthResult{Decision: No, Err: ErrUnauthenticated}} }

func abstain() *stubAuthn { return &stubAuthn{result: AuthResult{Decision: Abstain}} }

func TestAuthChain(t *testing.T) {
	tests := []struct {
		name        string
		authns      []*stubAuthn
		def         AuthDecision
		wantDecide  AuthDecision
		wantSubject string
		wantCalls   []int
	}{
		{"first yes wins", []*stubAuthn{yes("alice"), no()}, No, Yes, "alice", []int{1, 0}},
		{"first no wins", []*stubAuthn{no(), yes("bob")}, No, No, "", []int{1, 0}},
		{"abstain falls through", []*stubAuthn{abstain(), yes("carol")}, No, Yes, "carol", []int{1, 1}},
		{"all abstain rejects", []*stubAuthn{abstain(), abstain()}, No, No, "", []int{1, 1}},
		{"all abstain accepts anonymous", []*stubAuthn{abstain()}, Yes, Yes, AnonymousSubject, []int{1}},
		{"empty chain rejects", nil, No, No, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &AuthChain{DefaultDecision: tt.def}
			for _, a := range tt.authns {
				chain.Authenticators = append(chain.Authenticators, a)
			}

			result := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))

			if result.Decision != tt.wantDecide {
				t.Fatalf("Decision = %d, want %d", result.Decision, tt.wantDecide)
			}
			if tt.wantSubject != "" && (result.Identity == nil || result.Identity.Subject != tt.wantSubject) {
				t.Errorf("Identity = %+v, want subject %q", result.Identity, tt.wantSubject)
			}
			if result.Decision == No && result.Err == nil {
				t.Error("No decision without error")
			}
			for i, a := range tt.authns {
				if a.calls != tt.wantCalls[i] {
					t.Errorf("authenticator %d called %d times, want %d", i, a.calls, tt.wantCalls[i])
				}
			}
		})
	}
}

func TestIdentityOrgAndScopes(t *testing.T) {
	id := &Identity{
		Subject:  "user_2x",
		Scopes:   []string{"projects:write"},
		Metadata: map[string]string{"org_id": "org_9"},
	}
	if id.OrgID() != "org_9" {
		t.Errorf("OrgID = %q, want org_9", id.OrgID())
	}
	if !id.HasScope("projects:write") || id.HasScope("admin") {
		t.Errorf("HasScope mismatch for %v", id.Scopes)
	}

	var nilID *Identity
	if nilID.OrgID() != "" || nilID.HasScope("projects:write") {
		t.Error("nil identity should have no org and no scopes")
	}
	if (&Identity{Subject: "bob"}).OrgID() != "" {
		t.Error("identity without metadata should have no org")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if IdentityFromContext(ctx) != nil {
		t.Fatal("expected nil identity from empty context")
	}

	ctx = SetIdentity(ctx, &Identity{Subject: "alice"})
	if got := IdentityFromContext(ctx); got == nil || got.Subject != "alice" {
		t.Errorf("got %v, want alice", got)
	}
}
