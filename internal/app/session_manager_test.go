package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hieuclc/ai-voice-agent/internal/conversation"
	"github.com/hieuclc/ai-voice-agent/internal/pipeline"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	audiomock "github.com/hieuclc/ai-voice-agent/pkg/audio/mock"
	llmmock "github.com/hieuclc/ai-voice-agent/pkg/provider/llm/mock"
	sttmock "github.com/hieuclc/ai-voice-agent/pkg/provider/stt/mock"
	ttsmock "github.com/hieuclc/ai-voice-agent/pkg/provider/tts/mock"
	vadmock "github.com/hieuclc/ai-voice-agent/pkg/provider/vad/mock"
	storemock "github.com/hieuclc/ai-voice-agent/pkg/store/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockFactory builds pipelines from mock providers over a shared store.
func mockFactory(st *storemock.Store) PipelineFactory {
	return func(ctx context.Context, sessionID string, conn audio.Conn) (*pipeline.Pipeline, error) {
		agg, err := conversation.NewAggregator(ctx, st, sessionID)
		if err != nil {
			return nil, err
		}
		return pipeline.New(pipeline.Config{
			SessionID:  sessionID,
			Conn:       conn,
			VAD:        &vadmock.Engine{},
			STT:        sttmock.New(),
			TTS:        ttsmock.New(),
			LLM:        llmmock.New(),
			Aggregator: agg,
			Logger:     discardLogger(),
		})
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSessionRejectsDuplicate(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(mockFactory(storemock.New()), discardLogger())
	conn := audiomock.NewConn(1)

	first := make(chan error, 1)
	go func() { first <- m.StartSession(context.Background(), "sess-1", conn) }()
	waitUntil(t, "first session live", func() bool { return len(m.Active()) == 1 })

	dup := audiomock.NewConn(1)
	err := m.StartSession(context.Background(), "sess-1", dup)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("duplicate StartSession = %v, want ErrSessionActive", err)
	}
	select {
	case <-dup.Done():
	default:
		t.Error("rejected connection was not closed")
	}

	conn.CloseInput()
	if err := <-first; err != nil {
		t.Fatalf("first session ended with %v", err)
	}
	if got := m.Active(); len(got) != 0 {
		t.Fatalf("active after end = %v", got)
	}

	// The ID is reusable once the first connection ended.
	again := audiomock.NewConn(1)
	done := make(chan error, 1)
	go func() { done <- m.StartSession(context.Background(), "sess-1", again) }()
	waitUntil(t, "session restarted", func() bool { return len(m.Active()) == 1 })
	again.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("restarted session ended with %v", err)
	}
}

func TestCloseJoinsLiveSessions(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(mockFactory(storemock.New()), discardLogger())
	conn := audiomock.NewConn(1)

	running := make(chan error, 1)
	go func() { running <- m.StartSession(context.Background(), "sess-1", conn) }()
	waitUntil(t, "session live", func() bool { return len(m.Active()) == 1 })

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-running:
		if err != nil {
			t.Fatalf("session ended with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close returned before the session ended")
	}

	if err := m.StartSession(context.Background(), "sess-2", audiomock.NewConn(1)); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("StartSession after Close = %v, want ErrManagerClosed", err)
	}
}

func TestStartSessionFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no providers")
	factory := func(context.Context, string, audio.Conn) (*pipeline.Pipeline, error) {
		return nil, boom
	}
	m := NewSessionManager(factory, discardLogger())

	conn := audiomock.NewConn(1)
	if err := m.StartSession(context.Background(), "sess-1", conn); !errors.Is(err, boom) {
		t.Fatalf("StartSession = %v, want factory error", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("connection not closed on factory failure")
	}
	if got := m.Active(); len(got) != 0 {
		t.Fatalf("reservation leaked: %v", got)
	}
}
