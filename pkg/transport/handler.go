package transport

import (
	"context"

	"github.com/rhuss/vibe/pkg/api"
)

// ProjectService handles project and message operations for the caller
// identified by the request context. *projects.Service implements it.
type ProjectService interface {
	CreateProject(ctx context.Context, req *api.CreateProjectRequest) (*api.CreateProjectResponse, error)
	ListProjects(ctx context.Context) ([]*api.Project, error)
	GetProject(ctx context.Context, id string) (*api.Project, error)
	CreateMessage(ctx context.Context, projectID string, req *api.CreateMessageRequest) (*api.CreateMessageResponse, error)
	ListMessages(ctx context.Context, projectID string) ([]*api.Message, error)
}

// RunRegistry looks up dispatched runs. *workflow.Client implements it.
type RunRegistry interface {
	Run(id string) (api.Run, bool)
}

// HealthChecker reports whether a dependency is ready to serve.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
