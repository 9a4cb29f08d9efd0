package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

func TestLoadUnknownSession(t *testing.T) {
	t.Parallel()

	s := New()
	if _, err := s.Load(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	in := store.Session{
		ID: "s1",
		Messages: []store.Message{
			{Role: store.RoleUser, Content: "hello", Timestamp: time.Now().UTC()},
		},
	}
	if err := s.Save(context.Background(), in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set on save")
	}
}

func TestSaveReplacesWholeSession(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Save(ctx, store.Session{ID: "s1", Messages: []store.Message{
		{Role: store.RoleUser, Content: "one"},
		{Role: store.RoleAssistant, Content: "two"},
	}})
	_ = s.Save(ctx, store.Session{ID: "s1", Messages: []store.Message{
		{Role: store.RoleUser, Content: "only"},
	}})

	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Errorf("expected full replacement, got %d messages", len(got.Messages))
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Save(ctx, store.Session{ID: "s1", Messages: []store.Message{{Role: store.RoleUser, Content: "orig"}}})

	got, _ := s.Load(ctx, "s1")
	got.Messages[0].Content = "mutated"

	again, _ := s.Load(ctx, "s1")
	if again.Messages[0].Content != "orig" {
		t.Error("Load returned aliased internal state")
	}
}

func TestListOrdering(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Save(ctx, store.Session{ID: "older"})
	time.Sleep(2 * time.Millisecond)
	_ = s.Save(ctx, store.Session{ID: "newer"})

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "newer" {
		t.Errorf("unexpected order: %+v", list)
	}
}
