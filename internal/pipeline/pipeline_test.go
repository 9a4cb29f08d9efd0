package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hieuclc/ai-voice-agent/internal/conversation"
	"github.com/hieuclc/ai-voice-agent/internal/tools"
	"github.com/hieuclc/ai-voice-agent/internal/transcript"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	audiomock "github.com/hieuclc/ai-voice-agent/pkg/audio/mock"
	llmpkg "github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	llmmock "github.com/hieuclc/ai-voice-agent/pkg/provider/llm/mock"
	sttmock "github.com/hieuclc/ai-voice-agent/pkg/provider/stt/mock"
	ttsmock "github.com/hieuclc/ai-voice-agent/pkg/provider/tts/mock"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
	vadmock "github.com/hieuclc/ai-voice-agent/pkg/provider/vad/mock"
	"github.com/hieuclc/ai-voice-agent/pkg/store"
	storemock "github.com/hieuclc/ai-voice-agent/pkg/store/mock"
)

// 20 ms at 16 kHz mono, 16-bit.
const testFrameBytes = 640

type harness struct {
	conn    *audiomock.Conn
	session *vadmock.Session
	store   *storemock.Store
	stt     *sttmock.Provider
	tts     *ttsmock.Provider
	llm     *llmmock.Provider
	pipe    *Pipeline
	done    chan error
}

func newHarness(t *testing.T, vadEvents []vad.Event, sttP *sttmock.Provider, ttsP *ttsmock.Provider, llmP *llmmock.Provider, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessStore(t, storemock.New(), vadEvents, sttP, ttsP, llmP, mutate)
}

func newHarnessStore(t *testing.T, st *storemock.Store, vadEvents []vad.Event, sttP *sttmock.Provider, ttsP *ttsmock.Provider, llmP *llmmock.Provider, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		conn:    audiomock.NewConn(64),
		session: &vadmock.Session{Events: vadEvents},
		store:   st,
		stt:     sttP,
		tts:     ttsP,
		llm:     llmP,
		done:    make(chan error, 1),
	}

	agg, err := conversation.NewAggregator(context.Background(), h.store, "sess-1")
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	cfg := Config{
		SessionID:  "sess-1",
		Conn:       h.conn,
		VAD:        &vadmock.Engine{Session: h.session},
		STT:        h.stt,
		TTS:        h.tts,
		LLM:        h.llm,
		Aggregator: agg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.pipe, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() { h.done <- h.pipe.Run(context.Background()) }()
	t.Cleanup(func() {
		h.pipe.Close()
		<-h.done
		h.done <- nil
	})
	return h
}

// pushFrames delivers n silent capture frames of the working format.
func (h *harness) pushFrames(n int) {
	for i := 0; i < n; i++ {
		h.conn.PushInput(audio.Frame{
			SampleRate: 16000,
			Channels:   1,
			Data:       make([]byte, testFrameBytes),
		})
	}
}

func (h *harness) waitEvent(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.pipe.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %v", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", typ)
		}
	}
}

func (h *harness) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func (h *harness) savedMessages(t *testing.T) []store.Message {
	t.Helper()
	session, err := h.store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return session.Messages
}

func waitFor(t *testing.T, what string, cond func() bool) {
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

// utteranceScript yields one utterance spanning frames long VAD frames,
// followed by silence.
func utteranceScript(frames int) []vad.Event {
	evs := []vad.Event{{Type: vad.SpeechStart}}
	for i := 0; i < frames-2; i++ {
		evs = append(evs, vad.Event{Type: vad.SpeechContinue})
	}
	return append(evs, vad.Event{Type: vad.SpeechEnd}, vad.Event{Type: vad.Silence})
}

func TestTurnRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		utteranceScript(3),
		sttmock.New("xin chào"),
		ttsmock.New(),
		llmmock.New(llmmock.TextTurn("Chào bạn!")),
		nil)

	h.pushFrames(3)

	if ev := h.waitEvent(t, EventTranscriptUpdated); ev.Role != string(store.RoleUser) || ev.Text != "xin chào" {
		t.Fatalf("user event = %q/%q, want user/\"xin chào\"", ev.Role, ev.Text)
	}
	if ev := h.waitEvent(t, EventTranscriptUpdated); ev.Role != string(store.RoleAssistant) || ev.Text != "Chào bạn!" {
		t.Fatalf("assistant event = %q/%q, want assistant/\"Chào bạn!\"", ev.Role, ev.Text)
	}

	if sent := h.conn.Sent(); len(sent) == 0 {
		t.Fatal("no synthesized frames reached the transport")
	}

	msgs := h.savedMessages(t)
	if len(msgs) != 2 {
		t.Fatalf("saved %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "xin chào" {
		t.Errorf("message 0 = %v %q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content != "Chào bạn!" {
		t.Errorf("message 1 = %v %q", msgs[1].Role, msgs[1].Content)
	}

	h.conn.CloseInput()
	h.waitEvent(t, EventClientDisconnected)
	if err := h.waitRun(t); err != nil {
		t.Fatalf("Run returned %v on clean disconnect", err)
	}
}

func TestStreamTailWithoutPunctuationIsSpoken(t *testing.T) {
	t.Parallel()

	// No sentence boundary anywhere, and longer than one synthesis chunk,
	// so the whole response is flushed from the tail in bounded segments.
	tail := strings.TrimSpace(strings.Repeat("dạ vâng em nghe rõ ", 20))
	tp := ttsmock.New()
	h := newHarness(t,
		utteranceScript(3),
		sttmock.New("alo"),
		tp,
		llmmock.New(llmmock.TextTurn(tail)),
		nil)

	h.pushFrames(3)
	h.waitEvent(t, EventTranscriptUpdated) // user
	h.waitEvent(t, EventTranscriptUpdated) // assistant

	waitFor(t, "synthesized text", func() bool { return len(tp.Texts()) > 0 })
	texts := tp.Texts()
	if len(texts) < 2 {
		t.Fatalf("tail synthesized in %d segments, want several", len(texts))
	}
	for i, s := range texts {
		if n := len([]rune(s)); n > 256 {
			t.Errorf("segment %d is %d runes, exceeds chunk bound", i, n)
		}
	}
	if got := strings.Join(texts, " "); got != tail {
		t.Errorf("synthesized %q, want full tail %q", got, tail)
	}
}

func TestGreetingOnEmptyHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		nil,
		sttmock.New(),
		ttsmock.New(),
		llmmock.New(llmmock.TextTurn("Xin chào quý khách!")),
		func(cfg *Config) { cfg.Greeting = "Chào khách hàng bằng tiếng Việt." })

	if ev := h.waitEvent(t, EventTranscriptUpdated); ev.Role != string(store.RoleAssistant) {
		t.Fatalf("first transcript event role = %q, want assistant", ev.Role)
	}

	// The greeting instruction itself must not be persisted.
	msgs := h.savedMessages(t)
	if len(msgs) != 1 || msgs[0].Role != store.RoleAssistant {
		t.Fatalf("saved messages = %+v, want one assistant message", msgs)
	}

	reqs := h.llm.Requests()
	if len(reqs) != 1 {
		t.Fatalf("llm requests = %d, want 1", len(reqs))
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Role != "user" || last.Content != "Chào khách hàng bằng tiếng Việt." {
		t.Errorf("instruction message = %q/%q", last.Role, last.Content)
	}
}

func TestGreetingSkippedWhenHistoryExists(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	err := st.Save(context.Background(), store.Session{
		ID: "sess-1",
		Messages: []store.Message{
			{Role: store.RoleUser, Content: "tôi muốn đặt lịch khám"},
			{Role: store.RoleAssistant, Content: "Bạn muốn đặt lịch vào ngày nào?"},
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	h := newHarnessStore(t, st,
		utteranceScript(2),
		sttmock.New("thứ sáu tuần này"),
		ttsmock.New(),
		llmmock.New(llmmock.TextTurn("Đã đặt lịch cho bạn.")),
		func(cfg *Config) { cfg.Greeting = "Chào khách." })

	h.pushFrames(2)
	h.waitEvent(t, EventTranscriptUpdated)
	h.waitEvent(t, EventTranscriptUpdated)

	reqs := h.llm.Requests()
	if len(reqs) != 1 {
		t.Fatalf("llm requests = %d, want 1 (no greeting turn)", len(reqs))
	}
	// Resumed history precedes the new utterance.
	got := reqs[0].Messages
	if len(got) != 3 || got[0].Content != "tôi muốn đặt lịch khám" || got[2].Content != "thứ sáu tuần này" {
		t.Fatalf("llm saw messages %+v", got)
	}
}

func TestFillerSpokenBeforeToolRuns(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		descs: map[string]tools.Descriptor{
			"kb_search": {
				Name:         "kb_search",
				SpokenFiller: true,
				Filler:       "Vui lòng chờ trong giây lát.",
			},
		},
	}
	var framesAtInvoke int
	var h *harness
	gw.invoke = func(ctx context.Context, name, args string) (*tools.Result, error) {
		framesAtInvoke = len(h.conn.Sent())
		return &tools.Result{Content: `{"answer":"phòng khám mở cửa 7h"}`}, nil
	}

	h = newHarness(t,
		utteranceScript(2),
		sttmock.New("mấy giờ mở cửa"),
		ttsmock.New(),
		llmmock.New(
			llmmock.ToolCallTurn("call-1", "kb_search", `{"query":"giờ mở cửa"}`),
			llmmock.TextTurn("Phòng khám mở cửa lúc 7 giờ sáng."),
		),
		func(cfg *Config) { cfg.Tools = gw })

	h.pushFrames(2)
	h.waitEvent(t, EventTranscriptUpdated)
	h.waitEvent(t, EventTranscriptUpdated)

	if framesAtInvoke == 0 {
		t.Fatal("tool ran before any filler audio reached the transport")
	}
	texts := h.tts.Texts()
	if len(texts) == 0 || texts[0] != "Vui lòng chờ trong giây lát." {
		t.Fatalf("synthesized texts = %v, want filler first", texts)
	}

	// The filler is spoken, never persisted.
	msgs := h.savedMessages(t)
	if len(msgs) != 2 || msgs[1].Content != "Phòng khám mở cửa lúc 7 giờ sáng." {
		t.Fatalf("saved messages = %+v", msgs)
	}

	reqs := h.llm.Requests()
	if len(reqs) != 2 {
		t.Fatalf("llm requests = %d, want 2", len(reqs))
	}
	toolMsg := reqs[1].Messages[len(reqs[1].Messages)-1]
	if toolMsg.Role != "tool" || !strings.Contains(toolMsg.Content, "7h") {
		t.Errorf("tool result message = %q/%q", toolMsg.Role, toolMsg.Content)
	}
}

func TestPendingTurnLatestWins(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	var once sync.Once
	ttsP := ttsmock.New()
	ttsP.BeforeEmit = func() {
		once.Do(func() { <-gate })
	}

	script := utteranceScript(2)
	script = append(script, utteranceScript(2)...)
	script = append(script, utteranceScript(2)...)

	h := newHarness(t,
		script,
		sttmock.New("một", "hai", "ba"),
		ttsP,
		llmmock.New(llmmock.TextTurn("vâng")),
		nil)

	// First utterance starts a turn that blocks inside synthesis.
	h.pushFrames(3)
	h.waitEvent(t, EventTranscriptUpdated)

	// Two more utterances arrive while the turn is in flight. Only the
	// latest may survive.
	h.pushFrames(6)
	waitFor(t, "all frames processed", func() bool { return len(h.session.Frames()) == 9 })
	close(gate)

	waitFor(t, "second turn transcribed", func() bool { return len(h.stt.Calls()) == 2 })
	h.waitEvent(t, EventTranscriptUpdated) // first assistant reply
	h.waitEvent(t, EventTranscriptUpdated) // queued turn user message
	h.waitEvent(t, EventTranscriptUpdated) // queued turn assistant reply

	if calls := h.stt.Calls(); len(calls) != 2 {
		t.Fatalf("stt calls = %d, want 2 (middle utterance dropped)", len(calls))
	}
	if msgs := h.savedMessages(t); len(msgs) != 4 {
		t.Fatalf("saved %d messages, want 4", len(msgs))
	}
}

func TestEmptyTranscriptIsNotATurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		utteranceScript(2),
		sttmock.New(""),
		ttsmock.New(),
		llmmock.New(),
		nil)

	h.pushFrames(2)
	waitFor(t, "transcription attempted", func() bool { return len(h.stt.Calls()) == 1 })
	waitFor(t, "turn finished", func() bool { return h.pipe.State() == StateActive })

	if reqs := h.llm.Requests(); len(reqs) != 0 {
		t.Fatalf("llm requests = %d, want 0", len(reqs))
	}
	if msgs := h.savedMessages(t); len(msgs) != 0 {
		t.Fatalf("saved %d messages, want 0", len(msgs))
	}
}

func TestVocabularyCorrectionApplied(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		utteranceScript(2),
		sttmock.New("cho tôi đến đà nẳng"),
		ttsmock.New(),
		llmmock.New(llmmock.TextTurn("Vâng ạ.")),
		func(cfg *Config) {
			cfg.Corrector = transcript.NewCorrector([]string{"Đà Nẵng"})
		})

	h.pushFrames(2)
	ev := h.waitEvent(t, EventTranscriptUpdated)
	if ev.Text != "cho tôi đến Đà Nẵng" {
		t.Fatalf("corrected transcript = %q", ev.Text)
	}
}

func TestTurnErrorKeepsPipelineAlive(t *testing.T) {
	t.Parallel()

	sttP := sttmock.New()
	sttP.Err = errors.New("asr backend down")

	h := newHarness(t,
		utteranceScript(2),
		sttP,
		ttsmock.New(),
		llmmock.New(),
		nil)

	h.pushFrames(2)
	ev := h.waitEvent(t, EventTurnError)

	var terr *TranscriptionError
	if !errors.As(ev.Err, &terr) {
		t.Fatalf("turn error = %v, want TranscriptionError", ev.Err)
	}

	// The connection survives the failed turn.
	h.conn.CloseInput()
	h.waitEvent(t, EventClientDisconnected)
	if err := h.waitRun(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestMidStreamSynthesisFailureEndsTurn(t *testing.T) {
	t.Parallel()

	// Backend emits audio, then dies. The frames already sent must not make
	// the turn look successful.
	tp := ttsmock.New()
	tp.StreamErr = errors.New("tts backend reset mid-utterance")

	h := newHarness(t,
		utteranceScript(2),
		sttmock.New("xin chào"),
		tp,
		llmmock.New(llmmock.TextTurn("Chào bạn!")),
		nil)

	h.pushFrames(2)
	ev := h.waitEvent(t, EventTurnError)

	var serr *SynthesisError
	if !errors.As(ev.Err, &serr) {
		t.Fatalf("turn error = %v, want SynthesisError", ev.Err)
	}

	// The connection survives the failed turn.
	h.conn.CloseInput()
	h.waitEvent(t, EventClientDisconnected)
	if err := h.waitRun(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestTransportErrorIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		utteranceScript(2),
		sttmock.New("xin chào"),
		ttsmock.New(),
		llmmock.New(llmmock.TextTurn("Chào bạn.")),
		nil)
	h.conn.SendErr = errors.New("socket closed")

	h.pushFrames(2)

	err := h.waitRun(t)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Run returned %v, want TransportError", err)
	}
}

func TestIdleTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		nil,
		sttmock.New(),
		ttsmock.New(),
		llmmock.New(),
		func(cfg *Config) { cfg.IdleTimeout = 30 * time.Millisecond })

	h.waitEvent(t, EventSessionTimeout)
	h.waitEvent(t, EventClientDisconnected)
	if err := h.waitRun(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestCloseAbandonsInFlightTurn(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	ttsP := ttsmock.New()
	var once sync.Once
	ttsP.BeforeEmit = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	h := newHarness(t,
		utteranceScript(2),
		sttmock.New("xin chào"),
		ttsP,
		llmmock.New(llmmock.TextTurn("Chào bạn, tôi có thể giúp gì?")),
		nil)

	h.pushFrames(2)
	<-entered

	closed := make(chan struct{})
	go func() {
		h.pipe.Close()
		close(closed)
	}()
	waitFor(t, "pipeline closing", func() bool { return h.pipe.State() >= StateClosing })
	close(release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	if err := h.waitRun(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	// The abandoned reply never reaches the transcript.
	msgs := h.savedMessages(t)
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser {
		t.Fatalf("saved messages = %+v, want only the user message", msgs)
	}
}

// fakeGateway is a minimal in-memory ToolGateway.
type fakeGateway struct {
	descs  map[string]tools.Descriptor
	invoke func(ctx context.Context, name, args string) (*tools.Result, error)
}

var _ ToolGateway = (*fakeGateway)(nil)

func (g *fakeGateway) Definitions() []llmpkg.ToolDefinition {
	out := make([]llmpkg.ToolDefinition, 0, len(g.descs))
	for _, d := range g.descs {
		out = append(out, d.Definition())
	}
	return out
}

func (g *fakeGateway) Lookup(name string) (tools.Descriptor, bool) {
	d, ok := g.descs[name]
	return d, ok
}

func (g *fakeGateway) Invoke(ctx context.Context, name, args string) (*tools.Result, error) {
	return g.invoke(ctx, name, args)
}
