package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/koscakluka/ema-dialog/core/dispatch"
	"github.com/koscakluka/ema-dialog/core/llms"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestQueue() (*dispatch.Queue, *manualClock) {
	clock := newManualClock()
	return dispatch.NewQueue(dispatch.WithClock(clock.Now)), clock
}

// eventLog records side effects from every stub in the order they happened.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]string, len(l.events))
	copy(events, l.events)
	return events
}

type chatBackendStub struct {
	mu        sync.Mutex
	histories [][]llms.Message
	models    []string
	active    int
	maxActive int

	release chan struct{}
	reply   func(history []llms.Message) (*llms.CompletionResponse, error)
}

func replyWith(content string) func([]llms.Message) (*llms.CompletionResponse, error) {
	return func([]llms.Message) (*llms.CompletionResponse, error) {
		return &llms.CompletionResponse{Choices: []llms.Choice{{Message: llms.AssistantMessage(content)}}}, nil
	}
}

func (s *chatBackendStub) CreateCompletion(ctx context.Context, history []llms.Message, model string, temperature float64, opts ...llms.CompletionOption) (*llms.CompletionResponse, error) {
	s.mu.Lock()
	s.histories = append(s.histories, history)
	s.models = append(s.models, model)
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	release := s.release
	reply := s.reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if release != nil {
		<-release
	}
	if reply == nil {
		return replyWith("")(history)
	}
	return reply(history)
}

func (s *chatBackendStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

type speechBackendStub struct {
	mu    sync.Mutex
	texts []string
	audio []byte
	err   error
}

func (s *speechBackendStub) Synthesize(ctx context.Context, text string, voice string, languageTag string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

type transcriptEntry struct {
	role    llms.Role
	content string
}

type transcriptStub struct {
	log     *eventLog
	entries []transcriptEntry
	errors  []error
}

func (s *transcriptStub) Append(role llms.Role, content string) {
	s.entries = append(s.entries, transcriptEntry{role: role, content: content})
	s.log.add("transcript " + string(role) + ": " + content)
}

func (s *transcriptStub) Notify(err error) {
	s.errors = append(s.errors, err)
	s.log.add("notify")
}

type playerStub struct {
	log    *eventLog
	played [][]byte
}

func (s *playerStub) Play(audio []byte) error {
	s.played = append(s.played, audio)
	s.log.add("play")
	return nil
}

type recovererStub struct {
	recovered int
}

func (s *recovererStub) Recover() { s.recovered++ }

type actorStub struct {
	tag       string
	enabled   bool
	moves     []Placement
	moveErr   error
	panicMove bool
}

func newActorStub() *actorStub {
	return &actorStub{tag: DefaultActorTag, enabled: true}
}

func (a *actorStub) Tag() string             { return a.tag }
func (a *actorStub) SetEnabled(enabled bool) { a.enabled = enabled }
func (a *actorStub) MoveTo(placement Placement) error {
	if a.panicMove {
		panic("actor vanished")
	}
	a.moves = append(a.moves, placement)
	return a.moveErr
}

type viewStub struct {
	active      bool
	activations int
}

func (v *viewStub) SetActive(active bool) {
	v.active = active
	if active {
		v.activations++
	}
}

type pointerStub struct {
	visible bool
}

func (p *pointerStub) SetVisible(visible bool) { p.visible = visible }

type panickingPointer struct{}

func (panickingPointer) SetVisible(bool) { panic("pointer device lost") }

type gateStub struct {
	enabled bool
	calls   []bool
}

func (g *gateStub) SetEnabled(enabled bool) {
	g.enabled = enabled
	g.calls = append(g.calls, enabled)
}
