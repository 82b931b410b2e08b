package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-dialog/core/audio/miniaudio"
	"github.com/koscakluka/ema-dialog/core/audio/portaudio"
	"github.com/koscakluka/ema-dialog/core/transcript"
	"github.com/koscakluka/ema-dialog/internal/config"
	"github.com/koscakluka/ema-dialog/internal/dotenv"
	"github.com/spf13/cobra"
)

const portaudioBufferSize = 1024

type chatOptions struct {
	configPath string
	envFile    string
	serveAddr  string
	audio      string
	noSpeech   bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a dialog with the NPC in the terminal",
		Long: "Opens a terminal stand-in for the game: ctrl+t walks into the NPC's trigger, " +
			"enter sends a line, esc walks away and ctrl+c quits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to npcdialog config file (defaults are used when empty)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the config")
	cmd.Flags().StringVar(&opts.serveAddr, "serve", "", "also stream the transcript over websocket on this address, e.g. :8090")
	cmd.Flags().StringVar(&opts.audio, "audio", "none", "audio output for synthesized replies: none, miniaudio or portaudio")
	cmd.Flags().BoolVar(&opts.noSpeech, "no-speech", false, "do not synthesize replies")
	return cmd
}

func loadConfig(opts chatOptions) (*config.Config, error) {
	if err := dotenv.LoadFile(opts.envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	if opts.configPath == "" {
		return config.Default()
	}
	return config.Load(opts.configPath)
}

func openPlayer(kind string) (player, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "miniaudio":
		p, err := miniaudio.NewPlayer()
		if err != nil {
			return nil, err
		}
		return p, nil
	case "portaudio":
		p, err := portaudio.NewPlayer(portaudioBufferSize)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown audio output %q", kind)
	}
}

func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	out, err := openPlayer(opts.audio)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}

	sessionOpts := sessionOptions{player: out, noSpeech: opts.noSpeech}

	var broadcaster *transcript.Broadcaster
	if opts.serveAddr != "" {
		broadcaster = transcript.NewBroadcaster()
		sessionOpts.sinks = append(sessionOpts.sinks, broadcaster)

		stop, err := serveTranscript(opts.serveAddr, broadcaster)
		if err != nil {
			return err
		}
		defer stop()
		fmt.Fprintf(cmd.ErrOrStderr(), "Streaming transcript on ws://%s/transcript\n", opts.serveAddr)
	}

	s := newSession(cfg, sessionOpts)
	defer func() {
		if err := s.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		if broadcaster != nil {
			broadcaster.Close()
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	program := tea.NewProgram(
		newModel(ctx, s),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run terminal: %w", err)
	}
	return nil
}

func serveTranscript(addr string, broadcaster *transcript.Broadcaster) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/transcript", broadcaster)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("transcript server stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		broadcaster.Close()
		_ = server.Shutdown(ctx)
	}, nil
}
