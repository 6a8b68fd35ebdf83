// Package storagetest holds behavior tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/storage"
)

// Factory returns an empty store. The store is closed by the caller.
type Factory func(t *testing.T) storage.Store

// Project builds a project owned by userID, created at the given offset from
// a fixed base time.
func Project(userID string, offset time.Duration) *api.Project {
	ts := base.Add(offset)
	return &api.Project{
		ID:        api.NewProjectID(),
		Name:      "quiet-river",
		UserID:    userID,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Message builds a USER/RESULT message for a project.
func Message(projectID, content string, offset time.Duration) *api.Message {
	ts := base.Add(offset)
	return &api.Message{
		ID:        api.NewMessageID(),
		ProjectID: projectID,
		Content:   content,
		Role:      api.RoleUser,
		Type:      api.MessageTypeResult,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// WithFragment attaches a fragment to an assistant message.
func WithFragment(m *api.Message) *api.Message {
	m.Role = api.RoleAssistant
	m.Fragment = &api.Fragment{
		ID:         api.NewFragmentID(),
		MessageID:  m.ID,
		SandboxURL: "http://3000-sbx.sandbox.test",
		Title:      "Todo App",
		Files: map[string]string{
			"app/page.tsx":        "export default function Page() {}",
			"components/todo.tsx": "export function Todo() {}",
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	return m
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the storage.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetProject", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		p := Project("user_a", 0)
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		got, err := s.GetProject(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetProject: %v", err)
		}
		if got.Name != p.Name || got.UserID != "user_a" || !got.CreatedAt.Equal(p.CreatedAt) {
			t.Errorf("project = %+v, want %+v", got, p)
		}

		if err := s.CreateProject(ctx, p); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("duplicate CreateProject = %v, want ErrConflict", err)
		}
		if _, err := s.GetProject(ctx, api.NewProjectID()); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetProject(unknown) = %v, want ErrNotFound", err)
		}
	})

	t.Run("OwnerScoping", func(t *testing.T) {
		s := open(t, newStore)
		p := Project("user_a", 0)
		if err := s.CreateProject(context.Background(), p); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}

		other := storage.SetOwner(context.Background(), "user_b")
		if _, err := s.GetProject(other, p.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetProject as other owner = %v, want ErrNotFound", err)
		}
		if _, err := s.ListMessages(other, p.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("ListMessages as other owner = %v, want ErrNotFound", err)
		}
		if err := s.CreateMessage(other, Message(p.ID, "hi", time.Second)); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("CreateMessage as other owner = %v, want ErrNotFound", err)
		}

		owner := storage.SetOwner(context.Background(), "user_a")
		if _, err := s.GetProject(owner, p.ID); err != nil {
			t.Errorf("GetProject as owner: %v", err)
		}
	})

	t.Run("ListProjectsNewestFirst", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		older := Project("user_a", 0)
		newer := Project("user_a", time.Minute)
		foreign := Project("user_b", 2*time.Minute)
		for _, p := range []*api.Project{older, newer, foreign} {
			if err := s.CreateProject(ctx, p); err != nil {
				t.Fatalf("CreateProject: %v", err)
			}
		}

		got, err := s.ListProjects(storage.SetOwner(ctx, "user_a"))
		if err != nil {
			t.Fatalf("ListProjects: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("projects = %d, want 2", len(got))
		}
		if got[0].ID != newer.ID || got[1].ID != older.ID {
			t.Errorf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, newer.ID, older.ID)
		}

		empty, err := s.ListProjects(storage.SetOwner(ctx, "user_c"))
		if err != nil {
			t.Fatalf("ListProjects: %v", err)
		}
		if empty == nil || len(empty) != 0 {
			t.Errorf("projects for unknown owner = %v, want empty slice", empty)
		}
	})

	t.Run("ProjectWithFirstMessage", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		p := Project("user_a", 0)
		m := Message(p.ID, "build a todo app", 0)
		if err := s.CreateProjectWithMessage(ctx, p, m); err != nil {
			t.Fatalf("CreateProjectWithMessage: %v", err)
		}

		msgs, err := s.ListMessages(ctx, p.ID)
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(msgs) != 1 || msgs[0].Content != "build a todo app" || msgs[0].Role != api.RoleUser {
			t.Errorf("messages = %+v", msgs)
		}

		// A clashing message ID leaves no project behind.
		p2 := Project("user_a", time.Second)
		m2 := Message(p2.ID, "again", time.Second)
		m2.ID = m.ID
		if err := s.CreateProjectWithMessage(ctx, p2, m2); !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("CreateProjectWithMessage(duplicate message) = %v, want ErrConflict", err)
		}
		if _, err := s.GetProject(ctx, p2.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetProject after failed create = %v, want ErrNotFound", err)
		}
	})

	t.Run("MessagesWithFragments", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		p := Project("user_a", 0)
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}

		user := Message(p.ID, "build a todo app", time.Second)
		result := WithFragment(Message(p.ID, "Here is your todo app.", 2*time.Second))
		failure := Message(p.ID, "Something went wrong. Please try again.", 3*time.Second)
		failure.Role = api.RoleAssistant
		failure.Type = api.MessageTypeError

		// Insert out of order; listing sorts by creation time.
		for _, m := range []*api.Message{result, user, failure} {
			if err := s.CreateMessage(ctx, m); err != nil {
				t.Fatalf("CreateMessage: %v", err)
			}
		}
		if err := s.CreateMessage(ctx, user); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("duplicate CreateMessage = %v, want ErrConflict", err)
		}

		msgs, err := s.ListMessages(ctx, p.ID)
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("messages = %d, want 3", len(msgs))
		}
		if msgs[0].ID != user.ID || msgs[1].ID != result.ID || msgs[2].ID != failure.ID {
			t.Errorf("order = [%s %s %s]", msgs[0].ID, msgs[1].ID, msgs[2].ID)
		}
		if msgs[0].Fragment != nil || msgs[2].Fragment != nil {
			t.Error("fragment on a message that has none")
		}
		if msgs[2].Type != api.MessageTypeError {
			t.Errorf("type = %q, want ERROR", msgs[2].Type)
		}

		f := msgs[1].Fragment
		if f == nil {
			t.Fatal("fragment missing")
		}
		if f.ID != result.Fragment.ID || f.MessageID != result.ID {
			t.Errorf("fragment ids = %s/%s", f.ID, f.MessageID)
		}
		if f.Title != "Todo App" || f.SandboxURL != "http://3000-sbx.sandbox.test" {
			t.Errorf("fragment = %+v", f)
		}
		if len(f.Files) != 2 || f.Files["app/page.tsx"] != "export default function Page() {}" {
			t.Errorf("files = %v", f.Files)
		}
	})

	t.Run("MessageForUnknownProject", func(t *testing.T) {
		s := open(t, newStore)
		err := s.CreateMessage(context.Background(), Message(api.NewProjectID(), "hi", 0))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("CreateMessage = %v, want ErrNotFound", err)
		}
		if _, err := s.ListMessages(context.Background(), api.NewProjectID()); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("ListMessages = %v, want ErrNotFound", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		s := open(t, newStore)
		if err := s.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}

func open(t *testing.T, newStore Factory) storage.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
