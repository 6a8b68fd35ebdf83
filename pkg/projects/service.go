package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/codeagent"
	"github.com/rhuss/vibe/pkg/storage"
)

// Events starts workflow runs. *workflow.Client implements it.
type Events interface {
	Send(ctx context.Context, name string, data any) ([]string, error)
}

// Config holds service settings.
type Config struct {
	Validation api.ValidationConfig

	// EventName is sent for every new user prompt. Defaults to the code
	// agent's trigger.
	EventName string
}

// Service implements project and message operations on behalf of the owner
// set in the request context (storage.SetOwner).
type Service struct {
	store      storage.Store
	events     Events
	validation api.ValidationConfig
	eventName  string

	now  func() time.Time
	slug func() string
}

// New creates a Service.
func New(store storage.Store, events Events, cfg Config) *Service {
	if cfg.Validation == (api.ValidationConfig{}) {
		cfg.Validation = api.DefaultValidationConfig()
	}
	if cfg.EventName == "" {
		cfg.EventName = codeagent.EventName
	}
	return &Service{
		store:      store,
		events:     events,
		validation: cfg.Validation,
		eventName:  cfg.EventName,
		now:        func() time.Time { return time.Now().UTC() },
		slug:       Slug,
	}
}

// CreateProject creates a project named by a random slug, stores the prompt
// as its first message and starts a run for it.
func (s *Service) CreateProject(ctx context.Context, req *api.CreateProjectRequest) (*api.CreateProjectResponse, error) {
	if apiErr := api.ValidateCreateProject(req, s.validation); apiErr != nil {
		return nil, apiErr
	}
	owner, err := ownerOf(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &api.Project{
		ID:        api.NewProjectID(),
		Name:      s.slug(),
		UserID:    owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m := userMessage(p.ID, req.Value, now)

	if err := s.store.CreateProjectWithMessage(ctx, p, m); err != nil {
		return nil, storageError(err, "project")
	}
	slog.Info("project created", "project_id", p.ID, "name", p.Name, "owner", owner)

	runs, err := s.startRun(ctx, p.ID, req.Value)
	if err != nil {
		return nil, err
	}
	return &api.CreateProjectResponse{Project: p, RunIDs: runs}, nil
}

// ListProjects returns the caller's projects, newest first.
func (s *Service) ListProjects(ctx context.Context) ([]*api.Project, error) {
	if _, err := ownerOf(ctx); err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, storageError(err, "project")
	}
	return projects, nil
}

// GetProject returns one of the caller's projects.
func (s *Service) GetProject(ctx context.Context, id string) (*api.Project, error) {
	if _, err := ownerOf(ctx); err != nil {
		return nil, err
	}
	if !api.ValidateProjectID(id) {
		return nil, api.NewNotFoundError(fmt.Sprintf("project %q not found", id))
	}
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, storageError(err, fmt.Sprintf("project %q", id))
	}
	return p, nil
}

// CreateMessage appends a user prompt to one of the caller's projects and
// starts a run for it.
func (s *Service) CreateMessage(ctx context.Context, projectID string, req *api.CreateMessageRequest) (*api.CreateMessageResponse, error) {
	if apiErr := api.ValidateCreateMessage(projectID, req, s.validation); apiErr != nil {
		return nil, apiErr
	}
	// Ownership check; the store scopes by owner too.
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	m := userMessage(projectID, req.Value, s.now())
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, storageError(err, fmt.Sprintf("project %q", projectID))
	}

	runs, err := s.startRun(ctx, projectID, req.Value)
	if err != nil {
		return nil, err
	}
	return &api.CreateMessageResponse{Message: m, RunIDs: runs}, nil
}

// ListMessages returns a project's messages in creation order, fragments
// included.
func (s *Service) ListMessages(ctx context.Context, projectID string) ([]*api.Message, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, projectID)
	if err != nil {
		return nil, storageError(err, fmt.Sprintf("project %q", projectID))
	}
	return msgs, nil
}

func (s *Service) startRun(ctx context.Context, projectID, value string) ([]string, error) {
	runs, err := s.events.Send(ctx, s.eventName, api.RunInput{Value: value, ProjectID: projectID})
	if err != nil {
		slog.Error("starting run failed", "project_id", projectID, "event", s.eventName, "error", err)
		return nil, api.NewServerError("could not start the code agent, please try again")
	}
	return runs, nil
}

func userMessage(projectID, value string, now time.Time) *api.Message {
	return &api.Message{
		ID:        api.NewMessageID(),
		ProjectID: projectID,
		Content:   value,
		Role:      api.RoleUser,
		Type:      api.MessageTypeResult,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ownerOf(ctx context.Context) (string, error) {
	owner := storage.GetOwner(ctx)
	if owner == "" {
		return "", api.NewUnauthorizedError("authentication required")
	}
	return owner, nil
}

// storageError maps storage sentinels to API errors.
func storageError(err error, what string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError(what + " not found")
	case errors.Is(err, storage.ErrConflict):
		return api.NewConflictError(what + " already exists")
	}
	return fmt.Errorf("storage: %w", err)
}
