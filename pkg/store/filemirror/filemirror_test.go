package filemirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/store"
	"github.com/hieuclc/ai-voice-agent/pkg/store/mock"
)

func TestSaveWritesMirrorFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(mock.New(), dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	session := store.Session{
		ID: "abc-123",
		Messages: []store.Message{
			{Role: store.RoleUser, Content: "xin chào", Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
			{Role: store.RoleAssistant, Content: "chào bạn", Timestamp: time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC)},
		},
	}
	if err := s.Save(context.Background(), session); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "abc-123.txt"))
	if err != nil {
		t.Fatalf("mirror file not written: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "user: xin chào") || !strings.Contains(text, "assistant: chào bạn") {
		t.Errorf("unexpected mirror content:\n%s", text)
	}
}

func TestDeleteRemovesMirrorFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(mock.New(), dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	session := store.Session{ID: "gone", Messages: []store.Message{{Role: store.RoleUser, Content: "hi"}}}
	if err := s.Save(context.Background(), session); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.txt")); !os.IsNotExist(err) {
		t.Errorf("mirror file still exists after delete")
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	if got := sanitizeName("../etc/passwd"); strings.ContainsAny(got, "/\\") {
		t.Errorf("sanitizeName left path separators: %q", got)
	}
}
