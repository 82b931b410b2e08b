package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-dialog/core/dispatch"
	"github.com/koscakluka/ema-dialog/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProbeText is synthesized by [Conversation.ProbeSpeech].
const ProbeText = "Test."

var errTurnPanicked = errors.New("turn panicked")

// Conversation owns a message history and runs at most one turn at a time
// against the chat backend.
//
// Its methods are meant to be called from the controlling goroutine, the one
// draining the queue. Turns run in the background and publish every result
// through the queue, so history, transcript and callbacks are only touched on
// the controlling goroutine.
type Conversation struct {
	mu           sync.Mutex
	systemPrompt string
	initialized  bool
	messages     []llms.Message
	// epoch changes on every Initialize and Reset so replies to a discarded
	// history are not recorded into the new one.
	epoch uint64

	enabled       atomic.Bool
	inFlight      atomic.Bool
	speechEnabled atomic.Bool
	turns         sync.WaitGroup

	// openings counts disabled to enabled transitions. A delayed close only
	// applies to the opening its turn was submitted in.
	openings atomic.Uint64

	queue   *dispatch.Queue
	chat    ChatBackend
	options conversationOptions
}

// ConversationSnapshot is a point-in-time view of a conversation.
type ConversationSnapshot struct {
	History       []llms.Message
	InFlight      bool
	Enabled       bool
	SpeechEnabled bool
}

// NewConversation creates an enabled, uninitialized conversation that
// publishes through queue.
func NewConversation(queue *dispatch.Queue, chat ChatBackend, opts ...ConversationOption) *Conversation {
	options := defaultConversationOptions()
	for _, opt := range opts {
		opt(&options)
	}

	c := &Conversation{
		queue:   queue,
		chat:    chat,
		options: options,
	}
	c.enabled.Store(true)
	c.speechEnabled.Store(options.speechEnabled)
	return c
}

// Initialize replaces the history with a single system message.
func (c *Conversation) Initialize(systemPrompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.systemPrompt = systemPrompt
	c.initialized = true
	c.messages = []llms.Message{llms.SystemMessage(systemPrompt)}
	c.epoch++
}

// Reset re-seeds the history from the prompt given to Initialize. A reply
// still in flight is published but not recorded.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	if !c.initialized {
		c.messages = nil
		return
	}
	c.messages = []llms.Message{llms.SystemMessage(c.systemPrompt)}
}

// SubmitTurn starts a turn for userText and reports whether it was accepted.
//
// Blank text, a disabled or uninitialized conversation, and a turn already in
// flight are logged and ignored. ctx only carries values into the turn;
// cancelling it does not abort the remote calls.
func (c *Conversation) SubmitTurn(ctx context.Context, userText string) bool {
	text := strings.TrimSpace(userText)
	if text == "" {
		logger.DebugContext(ctx, "ignoring empty turn")
		return false
	}
	if !c.enabled.Load() {
		logger.InfoContext(ctx, "conversation disabled, ignoring turn")
		return false
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		logger.InfoContext(ctx, "turn already in flight, ignoring")
		return false
	}

	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		c.inFlight.Store(false)
		logger.WarnContext(ctx, "conversation not initialized, ignoring turn")
		return false
	}
	message := llms.UserMessage(text)
	c.messages = append(c.messages, message)
	history := slices.Clone(c.messages)
	epoch := c.epoch
	c.mu.Unlock()
	opening := c.openings.Load()

	turnID := uuid.NewString()
	logger.DebugContext(ctx, "turn accepted", "turn_id", turnID)

	c.queue.Enqueue(func() error {
		c.setBusy(true)
		c.appendTranscript(message)
		return nil
	})

	c.turns.Add(1)
	go c.runTurn(context.WithoutCancel(ctx), turnID, epoch, opening, history)
	return true
}

func (c *Conversation) runTurn(ctx context.Context, turnID string, epoch uint64, opening uint64, history []llms.Message) {
	defer c.turns.Done()

	terminates := false
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", errTurnPanicked, r)
			logger.ErrorContext(ctx, "turn panicked", "turn_id", turnID, "error", err)
			c.publishError(err)
		}

		c.finishTurn()
		if terminates {
			c.scheduleEnd(opening)
		}
	}()

	terminates = c.respond(ctx, turnID, epoch, history)
}

// respond runs the remote part of a turn and reports whether the reply ended
// the conversation.
func (c *Conversation) respond(ctx context.Context, turnID string, epoch uint64, history []llms.Message) bool {
	ctx, span := tracer.Start(ctx, "submit turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.turn_id", turnID),
		attribute.Int("conversation.history_length", len(history)),
	)

	response, err := c.chat.CreateCompletion(ctx, history, c.options.model, c.options.temperature, c.options.completionOptions...)
	if err != nil {
		err = fmt.Errorf("failed to get reply: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "turn failed", "turn_id", turnID, "error", err)
		c.publishError(err)
		return false
	}

	reply, err := response.Reply()
	if err != nil {
		err = fmt.Errorf("failed to get reply: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.publishError(err)
		return false
	}

	result := InterpretReply(reply.Content, c.options.endMarker)
	span.SetAttributes(attribute.Bool("conversation.terminates", result.TerminatesConversation))

	// A reply that is only the marker is still published, as an empty message.
	message := llms.AssistantMessage(result.Content)
	c.queue.Enqueue(func() error {
		c.publishReply(epoch, message)
		return nil
	})

	c.speak(ctx, turnID, result.Content)
	return result.TerminatesConversation
}

// speak synthesizes text and queues its playback. Failures only cost the
// audio.
func (c *Conversation) speak(ctx context.Context, turnID string, text string) {
	if !c.speechEnabled.Load() || c.options.speech == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	audio, err := c.options.speech.Synthesize(ctx, text, c.options.voice, c.options.languageTag, c.options.speechOptions...)
	if err != nil {
		span.AddEvent("speech skipped", trace.WithAttributes(attribute.String("error", err.Error())))
		logger.WarnContext(ctx, "speech synthesis failed, continuing without audio", "turn_id", turnID, "error", err)
		return
	}
	span.AddEvent("speech synthesized", trace.WithAttributes(attribute.Int("speech.audio_bytes", len(audio))))
	if len(audio) == 0 || c.options.player == nil {
		return
	}

	c.queue.Enqueue(func() error {
		if err := c.options.player.Play(audio); err != nil {
			return fmt.Errorf("failed to play reply audio: %w", err)
		}
		return nil
	})
}

func (c *Conversation) publishReply(epoch uint64, message llms.Message) {
	c.mu.Lock()
	recorded := c.epoch == epoch
	if recorded {
		c.messages = append(c.messages, message)
	}
	c.mu.Unlock()

	if !recorded {
		logger.Info("history was reset while waiting for reply, not recording it")
	}
	c.appendTranscript(message)
	if c.options.onReply != nil {
		c.options.onReply(message)
	}
}

func (c *Conversation) publishError(err error) {
	c.queue.Enqueue(func() error {
		if notifier, ok := c.options.transcript.(Notifier); ok {
			notifier.Notify(err)
		}
		if c.options.onError != nil {
			c.options.onError(err)
		}
		return nil
	})
}

// finishTurn reopens the conversation once everything queued before it has
// been published, so the next user message cannot overtake this reply.
func (c *Conversation) finishTurn() {
	future := c.queue.Enqueue(func() error {
		c.inFlight.Store(false)
		c.setBusy(false)
		return nil
	})
	if errors.Is(future.Err(), dispatch.ErrQueueClosed) {
		c.inFlight.Store(false)
	}
}

// scheduleEnd closes the conversation after the close delay unless it has been
// reopened since opening.
func (c *Conversation) scheduleEnd(opening uint64) {
	c.queue.EnqueueAfter(c.options.closeDelay, func() error {
		if current := c.openings.Load(); current != opening {
			logger.Info("conversation reopened since it was ended, keeping it open", "opening", opening, "current", current)
			return nil
		}
		c.end()
		return nil
	})
}

func (c *Conversation) end() {
	if c.options.dialog != nil {
		c.options.dialog.Recover()
	}
	c.Reset()
	if c.options.onEnd != nil {
		c.options.onEnd()
	}
}

func (c *Conversation) appendTranscript(message llms.Message) {
	if c.options.transcript != nil {
		c.options.transcript.Append(message.Role, message.Content)
	}
}

func (c *Conversation) setBusy(busy bool) {
	if c.options.onBusy != nil {
		c.options.onBusy(busy)
	}
}

// ProbeSpeech synthesizes [ProbeText] and turns synthesis off for the rest of
// the session if that fails. Without a speech backend it does nothing.
func (c *Conversation) ProbeSpeech(ctx context.Context) error {
	if c.options.speech == nil || !c.speechEnabled.Load() {
		return nil
	}

	if _, err := c.options.speech.Synthesize(ctx, ProbeText, c.options.voice, c.options.languageTag, c.options.speechOptions...); err != nil {
		c.speechEnabled.Store(false)
		logger.WarnContext(ctx, "speech probe failed, disabling speech", "error", err)
		return fmt.Errorf("speech probe failed: %w", err)
	}
	return nil
}

// SetEnabled gates SubmitTurn. A turn already in flight is not affected.
func (c *Conversation) SetEnabled(enabled bool) {
	if !enabled {
		c.enabled.Store(false)
		return
	}
	if c.enabled.CompareAndSwap(false, true) {
		c.openings.Add(1)
	}
}

func (c *Conversation) Enabled() bool { return c.enabled.Load() }

func (c *Conversation) SetSpeechEnabled(enabled bool) {
	c.speechEnabled.Store(enabled && c.options.speech != nil)
}

func (c *Conversation) SpeechEnabled() bool { return c.speechEnabled.Load() }

func (c *Conversation) InFlight() bool { return c.inFlight.Load() }

// History returns a copy of the recorded messages.
func (c *Conversation) History() []llms.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := []llms.Message{}
	if err := copier.Copy(&history, c.messages); err != nil {
		logger.Error("failed to copy history", "error", err)
		return slices.Clone(c.messages)
	}
	return history
}

func (c *Conversation) Snapshot() ConversationSnapshot {
	return ConversationSnapshot{
		History:       c.History(),
		InFlight:      c.InFlight(),
		Enabled:       c.Enabled(),
		SpeechEnabled: c.SpeechEnabled(),
	}
}

// AwaitCompletion blocks until every started turn has queued its results.
// Those results still need a Drain to be published.
func (c *Conversation) AwaitCompletion() {
	c.turns.Wait()
}
