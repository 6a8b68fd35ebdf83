// Package memory provides an in-memory storage.Store for tests and
// single-process deployments. Data is lost when the process restarts.
// Projects are evicted least recently used first once the store is full,
// together with their messages.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/storage"
)

// DefaultMaxProjects is used when New is given a non-positive size.
const DefaultMaxProjects = 10000

type entry struct {
	project  *api.Project
	messages []*api.Message
}

// Store is an in-memory storage.Store.
type Store struct {
	mu       sync.RWMutex
	projects *lru.Cache[string, *entry]
	messages map[string]string // message ID -> project ID
}

var _ storage.Store = (*Store)(nil)

// New creates a store holding up to maxProjects projects.
func New(maxProjects int) *Store {
	if maxProjects <= 0 {
		maxProjects = DefaultMaxProjects
	}
	s := &Store{messages: make(map[string]string)}

	// The eviction callback runs inside Add, which is only called with s.mu
	// held for writing.
	cache, err := lru.NewWithEvict(maxProjects, func(id string, e *entry) {
		for _, m := range e.messages {
			delete(s.messages, m.ID)
		}
		debug.Log("storage", "project evicted", "project_id", id, "messages", len(e.messages))
	})
	if err != nil {
		// Only returned for a non-positive size.
		panic(fmt.Sprintf("memory store: %v", err))
	}
	s.projects = cache
	return s
}

// CreateProject stores a project.
func (s *Store) CreateProject(_ context.Context, p *api.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projects.Contains(p.ID) {
		return storage.ErrConflict
	}
	s.projects.Add(p.ID, &entry{project: cloneProject(p)})
	return nil
}

// CreateProjectWithMessage stores a project and its first message.
func (s *Store) CreateProjectWithMessage(_ context.Context, p *api.Project, m *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projects.Contains(p.ID) {
		return storage.ErrConflict
	}
	if _, ok := s.messages[m.ID]; ok {
		return storage.ErrConflict
	}
	if m.ProjectID != p.ID {
		return fmt.Errorf("message project %q does not match project %q", m.ProjectID, p.ID)
	}

	s.projects.Add(p.ID, &entry{
		project:  cloneProject(p),
		messages: []*api.Message{cloneMessage(m)},
	})
	s.messages[m.ID] = p.ID
	return nil
}

// GetProject returns a project visible to the owner in ctx.
func (s *Store) GetProject(ctx context.Context, id string) (*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return cloneProject(e.project), nil
}

// ListProjects returns the owner's projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner := storage.GetOwner(ctx)
	out := []*api.Project{}
	for _, e := range s.projects.Values() {
		if owner != "" && e.project.UserID != owner {
			continue
		}
		out = append(out, cloneProject(e.project))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// CreateMessage appends a message to its project.
func (s *Store) CreateMessage(ctx context.Context, m *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(ctx, m.ProjectID)
	if err != nil {
		return err
	}
	if _, ok := s.messages[m.ID]; ok {
		return storage.ErrConflict
	}

	e.messages = append(e.messages, cloneMessage(m))
	s.messages[m.ID] = m.ProjectID
	return nil
}

// ListMessages returns a project's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]*api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := make([]*api.Message, 0, len(e.messages))
	for _, m := range e.messages {
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored projects.
func (s *Store) Len() int {
	return s.projects.Len()
}

// lookup finds a project, applying owner scoping. Get refreshes the
// project's position in the eviction order. Callers must hold s.mu.
func (s *Store) lookup(ctx context.Context, id string) (*entry, error) {
	e, ok := s.projects.Get(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if owner := storage.GetOwner(ctx); owner != "" && e.project.UserID != owner {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func cloneProject(p *api.Project) *api.Project {
	cp := *p
	return &cp
}

func cloneMessage(m *api.Message) *api.Message {
	cp := *m
	if m.Fragment != nil {
		f := *m.Fragment
		f.Files = maps.Clone(m.Fragment.Files)
		cp.Fragment = &f
	}
	return &cp
}
