package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/dispatch"
	"github.com/koscakluka/ema-dialog/core/llms"
	"github.com/koscakluka/ema-dialog/core/transcript"
	"github.com/koscakluka/ema-dialog/internal/config"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{config.EnvBackendURL, config.EnvChatModel, config.EnvSpeechEnabled} {
		t.Setenv(key, "")
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type playerStub struct {
	played  [][]byte
	cleared int
	closed  bool
}

func (p *playerStub) Play(audio []byte) error { p.played = append(p.played, audio); return nil }
func (p *playerStub) ClearBuffer()            { p.cleared++ }
func (p *playerStub) Close() error            { p.closed = true; return nil }

type backendStub struct {
	mu      sync.Mutex
	reply   string
	request map[string]any
}

func (b *backendStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/chat":
		var request map[string]any
		_ = json.NewDecoder(r.Body).Decode(&request)
		b.mu.Lock()
		b.request = request
		reply := b.reply
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	case "/api/tts":
		_ = json.NewEncoder(w).Encode(map[string]string{"audioContent": base64.StdEncoding.EncodeToString([]byte("pcm"))})
	default:
		http.NotFound(w, r)
	}
}

type testSession struct {
	*session
	clock   *manualClock
	backend *backendStub
	player  *playerStub
	states  []string
}

func newTestSession(t *testing.T, yaml string) *testSession {
	t.Helper()
	clearConfigEnv(t)

	backend := &backendStub{reply: "Greetings!"}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)
	t.Setenv(config.EnvBackendURL, server.URL)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	ts := &testSession{
		clock:   &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		backend: backend,
		player:  &playerStub{},
	}
	ts.session = newSession(cfg, sessionOptions{
		httpClient: server.Client(),
		player:     ts.player,
		queueOpts:  []dispatch.QueueOption{dispatch.WithClock(ts.clock.Now)},
		onStateChange: func(from, to orchestration.DialogState) {
			ts.states = append(ts.states, to.String())
		},
	})
	return ts
}

func (ts *testSession) advance(d time.Duration) {
	ts.clock.Advance(d)
	ts.queue.Drain()
}

func (ts *testSession) walkIn(t *testing.T) {
	t.Helper()
	if !ts.enter() {
		t.Fatalf("expected to enter the dialog")
	}
	ts.advance(time.Second)
	ts.advance(time.Second)
	if ts.dialog.State() != orchestration.DialogActive {
		t.Fatalf("expected active dialog, got %s", ts.dialog.State())
	}
}

func (ts *testSession) say(t *testing.T, text string) {
	t.Helper()
	if !ts.submit(context.Background(), text) {
		t.Fatalf("expected %q to be sent", text)
	}
	ts.conversation.AwaitCompletion()
	ts.queue.Drain()
}

func TestSessionRunsATurn(t *testing.T) {
	ts := newTestSession(t, `
persona:
  world: A walled city.
  npc: A gate guard.
dialog:
  standing_point: {x: 3, z: 1}
`)

	if ts.submit(context.Background(), "Hello") {
		t.Fatalf("expected conversation to be closed before walking in")
	}

	ts.walkIn(t)
	if ts.actor.enabled || ts.mainView.active || !ts.dialogView.active || !ts.pointer.visible {
		t.Fatalf("unexpected collaborator state after entering: actor=%t main=%t dialog=%t pointer=%t",
			ts.actor.enabled, ts.mainView.active, ts.dialogView.active, ts.pointer.visible)
	}
	if ts.actor.position != (orchestration.Placement{X: 3, Z: 1}) {
		t.Fatalf("expected actor at standing point, got %+v", ts.actor.position)
	}

	ts.say(t, "Hello")

	entries := ts.recorder.Entries()
	if len(entries) != 2 || entries[0].Role != llms.RoleUser || entries[1].Content != "Greetings!" {
		t.Fatalf("unexpected transcript %+v", entries)
	}
	if len(ts.player.played) != 1 {
		t.Fatalf("expected reply audio to be played, got %d", len(ts.player.played))
	}
	if ts.busy {
		t.Fatalf("expected session not to be busy")
	}

	ts.backend.mu.Lock()
	request := ts.backend.request
	ts.backend.mu.Unlock()
	if request["model"] != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %v", request["model"])
	}
	messages, _ := request["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", messages)
	}
}

func TestSessionClosesOnFarewell(t *testing.T) {
	ts := newTestSession(t, "dialog:\n  close_delay: 2s\n")
	ts.backend.reply = "Farewell. END_CONVO"

	ts.walkIn(t)
	ts.say(t, "Bye")

	if last := ts.recorder.Entries()[1]; last.Content != "Farewell." {
		t.Fatalf("expected marker to be stripped, got %q", last.Content)
	}

	ts.advance(2 * time.Second)

	if ts.dialog.State() != orchestration.DialogInactive {
		t.Fatalf("expected dialog to close, got %s", ts.dialog.State())
	}
	if !ts.actor.enabled || !ts.mainView.active || ts.dialogView.active || ts.pointer.visible {
		t.Fatalf("expected collaborators to be restored")
	}
	if ts.player.cleared == 0 {
		t.Fatalf("expected pending audio to be cleared when the dialog closes")
	}
	if len(ts.conversation.History()) != 1 {
		t.Fatalf("expected history to be reset, got %v", ts.conversation.History())
	}
	expectedStates := []string{"entering", "active", "recovering", "inactive"}
	if len(ts.states) != len(expectedStates) {
		t.Fatalf("expected states %v, got %v", expectedStates, ts.states)
	}
}

func TestSessionWithoutSpeech(t *testing.T) {
	ts := newTestSession(t, "speech:\n  enabled: false\n")

	ts.walkIn(t)
	ts.say(t, "Hello")

	if len(ts.player.played) != 0 {
		t.Fatalf("expected no audio, got %d clips", len(ts.player.played))
	}
	if ts.conversation.SpeechEnabled() {
		t.Fatalf("expected speech to be disabled")
	}
}

func TestSessionCloseRecoversDialog(t *testing.T) {
	ts := newTestSession(t, "")
	ts.walkIn(t)

	if err := ts.Close(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}

	if ts.dialog.State() != orchestration.DialogInactive || !ts.actor.enabled {
		t.Fatalf("expected dialog to be recovered on close")
	}
	if !ts.player.closed {
		t.Fatalf("expected player to be closed")
	}
	if ts.enter() {
		t.Fatalf("expected no new dialog after close")
	}
}

func TestSessionForwardsTranscriptToSinks(t *testing.T) {
	clearConfigEnv(t)
	backend := &backendStub{reply: "Aye."}
	server := httptest.NewServer(backend)
	defer server.Close()
	t.Setenv(config.EnvBackendURL, server.URL)
	cfg, err := config.Parse([]byte("speech:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	sink := &sinkStub{}
	s := newSession(cfg, sessionOptions{httpClient: server.Client(), sinks: []transcript.Sink{sink}})
	s.conversation.SetEnabled(true)

	s.submit(context.Background(), "Hello")
	s.conversation.AwaitCompletion()
	s.queue.Drain()

	if len(sink.entries) != 2 {
		t.Fatalf("expected both entries forwarded, got %v", sink.entries)
	}
}

type sinkStub struct {
	entries []transcript.Entry
}

func (s *sinkStub) Publish(entry transcript.Entry) { s.entries = append(s.entries, entry) }

func TestSystemPromptPrefersInstructions(t *testing.T) {
	clearConfigEnv(t)
	cfg, err := config.Parse([]byte("persona:\n  world: w\n  npc: n\n  instructions: Only say hello.\n"))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if got := systemPrompt(cfg); got != "Only say hello." {
		t.Fatalf("expected instructions to be used, got %q", got)
	}
}
