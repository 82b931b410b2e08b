package main

import (
	"context"
	"fmt"
	"net/http"

	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/dispatch"
	"github.com/koscakluka/ema-dialog/core/llms"
	chatbackend "github.com/koscakluka/ema-dialog/core/llms/backend"
	"github.com/koscakluka/ema-dialog/core/remote"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
	speechbackend "github.com/koscakluka/ema-dialog/core/texttospeech/backend"
	"github.com/koscakluka/ema-dialog/core/transcript"
	"github.com/koscakluka/ema-dialog/internal/config"
)

// player is what the session needs from an audio output.
type player interface {
	orchestration.AudioPlayer
	ClearBuffer()
	Close() error
}

// session wires one NPC dialog together.
type session struct {
	queue        *dispatch.Queue
	conversation *orchestration.Conversation
	dialog       *orchestration.Dialog
	recorder     *transcript.Recorder

	actor      *terminalActor
	mainView   *toggleView
	dialogView *toggleView
	pointer    *terminalPointer
	player     player

	busy bool
}

type sessionOptions struct {
	httpClient    *http.Client
	player        player
	sinks         []transcript.Sink
	queueOpts     []dispatch.QueueOption
	noSpeech      bool
	onStateChange func(from, to orchestration.DialogState)
}

func newSession(cfg *config.Config, opts sessionOptions) *session {
	httpClient := opts.httpClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(cfg.Backend.Timeout)
	}

	recorderOpts := []transcript.RecorderOption{}
	for _, sink := range opts.sinks {
		recorderOpts = append(recorderOpts, transcript.WithSink(sink))
	}

	s := &session{
		queue:      dispatch.NewQueue(opts.queueOpts...),
		recorder:   transcript.NewRecorder(recorderOpts...),
		actor:      newTerminalActor(cfg.Dialog.ActorTag),
		mainView:   &toggleView{name: "main view", active: true},
		dialogView: &toggleView{name: "dialog view"},
		pointer:    &terminalPointer{},
		player:     opts.player,
	}

	dialogOpts := []orchestration.DialogOption{
		orchestration.WithMainView(s.mainView),
		orchestration.WithDialogView(s.dialogView),
		orchestration.WithPointer(s.pointer),
		orchestration.WithActorTag(cfg.Dialog.ActorTag),
		orchestration.WithSettleDelay(*cfg.Dialog.SettleDelay),
		orchestration.WithViewSwapDelay(*cfg.Dialog.ViewSwapDelay),
		orchestration.WithStateCallback(func(from, to orchestration.DialogState) {
			if to == orchestration.DialogInactive && s.player != nil {
				s.player.ClearBuffer()
			}
			if opts.onStateChange != nil {
				opts.onStateChange(from, to)
			}
		}),
	}
	if p := cfg.Dialog.StandingPoint; p != nil {
		dialogOpts = append(dialogOpts, orchestration.WithStandingPoint(orchestration.Placement{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw}))
	}
	s.dialog = orchestration.NewDialog(s.queue, dialogOpts...)

	conversationOpts := []orchestration.ConversationOption{
		orchestration.WithModel(cfg.Chat.Model),
		orchestration.WithTemperature(*cfg.Chat.Temperature),
		orchestration.WithCompletionOptions(completionOptions(cfg.Chat)...),
		orchestration.WithTranscript(s.recorder),
		orchestration.WithDialog(s.dialog),
		orchestration.WithEndMarker(cfg.Dialog.EndMarker),
		orchestration.WithCloseDelay(*cfg.Dialog.CloseDelay),
		orchestration.WithBusyCallback(func(busy bool) { s.busy = busy }),
	}
	if cfg.SpeechEnabled() && !opts.noSpeech {
		conversationOpts = append(conversationOpts,
			orchestration.WithSpeech(
				speechbackend.NewClient(cfg.Backend.BaseURL, speechbackend.WithHTTPClient(httpClient)),
				cfg.Speech.Voice,
				cfg.Speech.LanguageCode,
				synthesisOptions(cfg.Speech)...,
			),
		)
		if s.player != nil {
			conversationOpts = append(conversationOpts, orchestration.WithAudioPlayer(s.player))
		}
	}

	s.conversation = orchestration.NewConversation(
		s.queue,
		chatbackend.NewClient(cfg.Backend.BaseURL, chatbackend.WithHTTPClient(httpClient)),
		conversationOpts...,
	)
	s.dialog.AttachConversation(s.conversation)
	s.conversation.Initialize(systemPrompt(cfg))
	return s
}

func systemPrompt(cfg *config.Config) string {
	if cfg.Persona.Instructions != "" {
		return cfg.Persona.Instructions
	}
	return orchestration.NPCSystemPrompt(cfg.Persona.World, cfg.Persona.NPC, cfg.Dialog.EndMarker)
}

func completionOptions(cfg config.ChatConfig) []llms.CompletionOption {
	opts := []llms.CompletionOption{}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.TopP != nil {
		opts = append(opts, llms.WithTopP(*cfg.TopP))
	}
	if cfg.FrequencyPenalty != nil {
		opts = append(opts, llms.WithFrequencyPenalty(*cfg.FrequencyPenalty))
	}
	if cfg.PresencePenalty != nil {
		opts = append(opts, llms.WithPresencePenalty(*cfg.PresencePenalty))
	}
	return opts
}

func synthesisOptions(cfg config.SpeechConfig) []texttospeech.SynthesisOption {
	return []texttospeech.SynthesisOption{
		texttospeech.WithAudioEncoding(cfg.AudioEncoding),
		texttospeech.WithSampleRate(cfg.SampleRateHertz),
		texttospeech.WithSpeakingRate(cfg.SpeakingRate),
		texttospeech.WithPitch(cfg.Pitch),
		texttospeech.WithSSMLGender(cfg.SSMLGender),
	}
}

// enter simulates the actor walking into the NPC's trigger volume.
func (s *session) enter() bool {
	return s.dialog.OnTriggerEnter(s.actor)
}

func (s *session) submit(ctx context.Context, text string) bool {
	return s.conversation.SubmitTurn(ctx, text)
}

// leave closes the dialog as the player walking away would.
func (s *session) leave() {
	s.dialog.Recover()
}

func (s *session) probeSpeech(ctx context.Context) error {
	return s.conversation.ProbeSpeech(ctx)
}

// Close recovers the dialog and publishes whatever is still queued.
func (s *session) Close() error {
	s.dialog.Close()
	s.queue.Drain()
	s.queue.Close()

	if s.player != nil {
		if err := s.player.Close(); err != nil {
			return fmt.Errorf("close audio player: %w", err)
		}
	}
	return nil
}
