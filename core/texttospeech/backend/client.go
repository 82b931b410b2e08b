// Package backend is the client for the speech synthesis endpoint of the game
// backend.
package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-dialog/core/remote"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const ttsPath = "/api/tts"

var errMissingAudioContent = errors.New("response has no audioContent")

// Client turns text into audio bytes. It keeps no state between calls and
// never retries.
type Client struct {
	remote *remote.Client
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return &Client{remote: remote.NewClient(baseURL, options.httpClient)}
}

// Synthesize returns the audio for text spoken by voice in languageTag.
//
// Empty text is not an error: nothing is requested and no audio is returned,
// so callers should skip playback.
func (c *Client) Synthesize(
	ctx context.Context,
	text string,
	voice string,
	languageTag string,
	opts ...texttospeech.SynthesisOption,
) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("speech.voice", voice),
		attribute.String("speech.language", languageTag),
		attribute.Int("speech.text_length", len(text)),
	)

	audio, err := c.synthesize(ctx, text, voice, languageTag, texttospeech.NewSynthesisOptions(opts...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "speech synthesis failed", "voice", voice, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("speech.audio_bytes", len(audio)))
	return audio, nil
}

func (c *Client) synthesize(
	ctx context.Context,
	text string,
	voice string,
	languageTag string,
	options texttospeech.SynthesisOptions,
) ([]byte, error) {
	reqBody := requestBody{
		Input: requestInput{Text: text},
		Voice: requestVoice{
			LanguageCode: languageTag,
			Name:         voice,
			SSMLGender:   options.SSMLGender,
		},
		AudioConfig: requestAudioConfig{
			AudioEncoding:   options.AudioEncoding,
			SampleRateHertz: options.SampleRateHertz,
			SpeakingRate:    options.SpeakingRate,
			Pitch:           options.Pitch,
		},
	}

	var respBody responseBody
	if err := c.remote.PostJSON(ctx, "speech synthesis", ttsPath, reqBody, &respBody); err != nil {
		return nil, err
	}

	if respBody.AudioContent == "" {
		return nil, &remote.DecodeError{Op: "speech synthesis", Err: errMissingAudioContent}
	}

	audio, err := base64.StdEncoding.DecodeString(respBody.AudioContent)
	if err != nil {
		return nil, &remote.DecodeError{Op: "speech synthesis", Err: err}
	}
	return audio, nil
}

type requestBody struct {
	Input       requestInput       `json:"input"`
	Voice       requestVoice       `json:"voice"`
	AudioConfig requestAudioConfig `json:"audioConfig"`
}

type requestInput struct {
	Text string `json:"text"`
}

type requestVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
	SSMLGender   string `json:"ssmlGender,omitempty"`
}

type requestAudioConfig struct {
	AudioEncoding   string  `json:"audioEncoding"`
	SampleRateHertz int     `json:"sampleRateHertz,omitempty"`
	SpeakingRate    float64 `json:"speakingRate"`
	Pitch           float64 `json:"pitch"`
}

type responseBody struct {
	AudioContent string `json:"audioContent"`
}
