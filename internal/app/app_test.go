package app

import (
	"context"
	"testing"
	"time"

	"github.com/hieuclc/ai-voice-agent/internal/config"
	audiomock "github.com/hieuclc/ai-voice-agent/pkg/audio/mock"
	llmmock "github.com/hieuclc/ai-voice-agent/pkg/provider/llm/mock"
	sttmock "github.com/hieuclc/ai-voice-agent/pkg/provider/stt/mock"
	ttsmock "github.com/hieuclc/ai-voice-agent/pkg/provider/tts/mock"
	vadmock "github.com/hieuclc/ai-voice-agent/pkg/provider/vad/mock"
	"github.com/hieuclc/ai-voice-agent/pkg/store"
	storemock "github.com/hieuclc/ai-voice-agent/pkg/store/mock"
)

func testProviders(llmP *llmmock.Provider) *Providers {
	return &Providers{
		LLM: llmP,
		STT: sttmock.New(),
		TTS: ttsmock.New(),
		VAD: &vadmock.Engine{},
	}
}

func TestAppSessionFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	st := storemock.New()
	llmP := llmmock.New(llmmock.TextTurn("Xin chào, tôi có thể giúp gì cho bạn?"))

	a, err := New(ctx, &cfg, testProviders(llmP), WithStore(st), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conn := audiomock.NewConn(4)
	done := make(chan error, 1)
	go func() { done <- a.SessionManager().StartSession(ctx, "sess-app", conn) }()

	// The default greeting kicks off a synthetic first turn.
	waitUntil(t, "greeting persisted", func() bool {
		session, err := st.Load(ctx, "sess-app")
		return err == nil && len(session.Messages) == 1
	})

	conn.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("session ended with %v", err)
	}

	session, err := st.Load(ctx, "sess-app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.Messages[0].Role != store.RoleAssistant {
		t.Errorf("greeting role = %v", session.Messages[0].Role)
	}
	if len(conn.Sent()) == 0 {
		t.Error("no greeting audio reached the transport")
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	a, err := New(context.Background(), &cfg, testProviders(llmmock.New()),
		WithStore(storemock.New()), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestAppRejectsKBWithoutEmbeddings(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.KB.Enabled = true
	cfg.KB.PostgresDSN = "postgres://localhost/kb"

	_, err := New(context.Background(), &cfg, testProviders(llmmock.New()),
		WithStore(storemock.New()), WithLogger(discardLogger()))
	if err == nil {
		t.Fatal("New accepted kb.enabled without an embeddings provider")
	}
}
