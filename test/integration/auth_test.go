package integration

import (
	"net/http"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
)

func TestRequestsRequireAuthentication(t *testing.T) {
	env := newEnv(t, envOptions{})

	var e api.ErrorResponse
	expect(t, env.do(t, http.MethodGet, "/v1/projects", "", nil), http.StatusUnauthorized, &e)
	if e.Error == nil || e.Error.Type != api.ErrorTypeUnauthorized {
		t.Errorf("error = %+v", e.Error)
	}
	expect(t, env.do(t, http.MethodGet, "/v1/projects", "vk_unknown", nil), http.StatusUnauthorized, nil)
}

func TestHealthEndpointsSkipAuthentication(t *testing.T) {
	env := newEnv(t, envOptions{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			expect(t, env.do(t, http.MethodGet, path, "", nil), http.StatusOK, nil)
		})
	}
}

func TestProjectsAreScopedToOwner(t *testing.T) {
	env := newEnv(t, envOptions{})

	var created api.CreateProjectResponse
	expect(t, env.do(t, http.MethodPost, "/v1/projects", aliceKey,
		api.CreateProjectRequest{Value: "private page"}), http.StatusCreated, &created)
	env.waitRun(t, aliceKey, created.RunIDs[0])

	var list api.ProjectList
	expect(t, env.do(t, http.MethodGet, "/v1/projects", aliceKey, nil), http.StatusOK, &list)
	if len(list.Data) != 1 || list.Data[0].ID != created.ID {
		t.Errorf("alice sees %d projects", len(list.Data))
	}

	expect(t, env.do(t, http.MethodGet, "/v1/projects", bobKey, nil), http.StatusOK, &list)
	if len(list.Data) != 0 {
		t.Errorf("bob sees %d projects, want 0", len(list.Data))
	}

	expect(t, env.do(t, http.MethodGet, "/v1/projects/"+created.ID, bobKey, nil), http.StatusNotFound, nil)
	expect(t, env.do(t, http.MethodGet, "/v1/projects/"+created.ID+"/messages", bobKey, nil), http.StatusNotFound, nil)
	expect(t, env.do(t, http.MethodPost, "/v1/projects/"+created.ID+"/messages", bobKey,
		api.CreateMessageRequest{Value: "take over"}), http.StatusNotFound, nil)
}
