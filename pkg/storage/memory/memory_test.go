package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/storage"
	"github.com/rhuss/vibe/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New(0) })
}

func TestEvictsLeastRecentlyUsedProject(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	first := storagetest.Project("user_a", 0)
	second := storagetest.Project("user_a", time.Second)
	third := storagetest.Project("user_a", 2*time.Second)

	if err := s.CreateProjectWithMessage(ctx, first, storagetest.Message(first.ID, "one", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateProject(ctx, second); err != nil {
		t.Fatal(err)
	}

	// Touch first so second becomes the eviction candidate.
	if _, err := s.GetProject(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateProject(ctx, third); err != nil {
		t.Fatal(err)
	}

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, err := s.GetProject(ctx, second.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("evicted project still present: %v", err)
	}
	msgs, err := s.ListMessages(ctx, first.ID)
	if err != nil || len(msgs) != 1 {
		t.Errorf("messages of retained project = %v, %v", msgs, err)
	}
}

func TestEvictionReleasesMessageIDs(t *testing.T) {
	s := New(1)
	ctx := context.Background()

	p := storagetest.Project("user_a", 0)
	m := storagetest.Message(p.ID, "one", 0)
	if err := s.CreateProjectWithMessage(ctx, p, m); err != nil {
		t.Fatal(err)
	}

	next := storagetest.Project("user_a", time.Second)
	if err := s.CreateProject(ctx, next); err != nil {
		t.Fatal(err)
	}

	reused := storagetest.Message(next.ID, "two", time.Second)
	reused.ID = m.ID
	if err := s.CreateMessage(ctx, reused); err != nil {
		t.Errorf("CreateMessage with evicted message ID: %v", err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	p := storagetest.Project("user_a", 0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	m := storagetest.WithFragment(storagetest.Message(p.ID, "done", time.Second))
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	m.Fragment.Files["app/page.tsx"] = "mutated"
	got, _ := s.ListMessages(ctx, p.ID)
	got[0].Fragment.Files["components/todo.tsx"] = "mutated"

	again, _ := s.ListMessages(ctx, p.ID)
	for path, content := range again[0].Fragment.Files {
		if content == "mutated" {
			t.Errorf("stored file %s was mutated through a shared map", path)
		}
	}
}
