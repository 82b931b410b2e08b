package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-dialog/core/llms"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
)

// DefaultCloseDelay is how long a terminating reply stays visible before the
// dialog is recovered.
const DefaultCloseDelay = 5 * time.Second

type ChatBackend interface {
	CreateCompletion(ctx context.Context, history []llms.Message, model string, temperature float64, opts ...llms.CompletionOption) (*llms.CompletionResponse, error)
}

type SpeechBackend interface {
	Synthesize(ctx context.Context, text string, voice string, languageTag string, opts ...texttospeech.SynthesisOption) ([]byte, error)
}

// Transcript receives every published message, in publish order.
type Transcript interface {
	Append(role llms.Role, content string)
}

// Notifier is implemented by transcripts that can show failed turns.
type Notifier interface {
	Notify(err error)
}

type AudioPlayer interface {
	Play(audio []byte) error
}

// Recoverer is what a conversation closes once the model ends it.
type Recoverer interface {
	Recover()
}

type ConversationOption func(*conversationOptions)

type conversationOptions struct {
	model             string
	temperature       float64
	completionOptions []llms.CompletionOption

	speech        SpeechBackend
	speechEnabled bool
	voice         string
	languageTag   string
	speechOptions []texttospeech.SynthesisOption
	player        AudioPlayer

	transcript Transcript
	dialog     Recoverer

	endMarker  string
	closeDelay time.Duration

	onBusy  func(busy bool)
	onReply func(message llms.Message)
	onError func(err error)
	onEnd   func()
}

func defaultConversationOptions() conversationOptions {
	return conversationOptions{
		temperature: 0.7,
		voice:       texttospeech.DefaultVoice,
		languageTag: texttospeech.DefaultLanguageCode,
		endMarker:   DefaultEndMarker,
		closeDelay:  DefaultCloseDelay,
	}
}

// WithModel selects the chat model. Empty leaves the choice to the backend
// client.
func WithModel(model string) ConversationOption {
	return func(o *conversationOptions) { o.model = model }
}

func WithTemperature(temperature float64) ConversationOption {
	return func(o *conversationOptions) { o.temperature = temperature }
}

func WithCompletionOptions(opts ...llms.CompletionOption) ConversationOption {
	return func(o *conversationOptions) {
		o.completionOptions = append(o.completionOptions, opts...)
	}
}

// WithSpeech enables synthesis of every reply with voice and languageTag.
// Empty values keep [texttospeech.DefaultVoice] and
// [texttospeech.DefaultLanguageCode].
func WithSpeech(backend SpeechBackend, voice string, languageTag string, opts ...texttospeech.SynthesisOption) ConversationOption {
	return func(o *conversationOptions) {
		o.speech = backend
		o.speechEnabled = backend != nil
		if voice != "" {
			o.voice = voice
		}
		if languageTag != "" {
			o.languageTag = languageTag
		}
		o.speechOptions = append(o.speechOptions, opts...)
	}
}

// WithSpeechEnabled overrides whether a configured speech backend is used.
// It must come after [WithSpeech].
func WithSpeechEnabled(enabled bool) ConversationOption {
	return func(o *conversationOptions) { o.speechEnabled = enabled && o.speech != nil }
}

func WithAudioPlayer(player AudioPlayer) ConversationOption {
	return func(o *conversationOptions) { o.player = player }
}

func WithTranscript(transcript Transcript) ConversationOption {
	return func(o *conversationOptions) { o.transcript = transcript }
}

// WithDialog sets what is recovered once a reply ends the conversation.
func WithDialog(dialog Recoverer) ConversationOption {
	return func(o *conversationOptions) { o.dialog = dialog }
}

func WithEndMarker(marker string) ConversationOption {
	return func(o *conversationOptions) {
		if marker != "" {
			o.endMarker = marker
		}
	}
}

func WithCloseDelay(delay time.Duration) ConversationOption {
	return func(o *conversationOptions) {
		if delay >= 0 {
			o.closeDelay = delay
		}
	}
}

// WithBusyCallback is called on the controlling goroutine with true when a
// turn is accepted and with false once it has been fully published.
func WithBusyCallback(callback func(busy bool)) ConversationOption {
	return func(o *conversationOptions) { o.onBusy = callback }
}

// WithReplyCallback is called on the controlling goroutine after every
// assistant message is published.
func WithReplyCallback(callback func(message llms.Message)) ConversationOption {
	return func(o *conversationOptions) { o.onReply = callback }
}

// WithErrorCallback is called on the controlling goroutine for every failed
// turn.
func WithErrorCallback(callback func(err error)) ConversationOption {
	return func(o *conversationOptions) { o.onError = callback }
}

// WithEndCallback is called on the controlling goroutine after a terminated
// conversation has been closed and reset.
func WithEndCallback(callback func()) ConversationOption {
	return func(o *conversationOptions) { o.onEnd = callback }
}
