package storage

import (
	"context"

	"github.com/rhuss/vibe/pkg/api"
)

// Store persists projects and their conversations. Reads are scoped to the
// owner in the context, if any; a project owned by someone else is reported
// as ErrNotFound.
type Store interface {
	// CreateProject stores a project. The project's UserID is kept as given.
	CreateProject(ctx context.Context, p *api.Project) error

	// CreateProjectWithMessage stores a project and its first message in
	// one transaction.
	CreateProjectWithMessage(ctx context.Context, p *api.Project, m *api.Message) error

	GetProject(ctx context.Context, id string) (*api.Project, error)

	// ListProjects returns the owner's projects, newest first.
	ListProjects(ctx context.Context) ([]*api.Project, error)

	// CreateMessage stores a message and its fragment, if any, atomically.
	// It returns ErrNotFound if the project does not exist.
	CreateMessage(ctx context.Context, m *api.Message) error

	// ListMessages returns a project's messages in creation order, with
	// fragments attached.
	ListMessages(ctx context.Context, projectID string) ([]*api.Message, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
