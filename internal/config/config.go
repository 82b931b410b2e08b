// Package config provides YAML-based configuration loading for npcdialog.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/llms/backend"
	"github.com/koscakluka/ema-dialog/core/remote"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
	"github.com/koscakluka/ema-dialog/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	EnvBackendURL    = "NPC_BACKEND_URL"
	EnvChatModel     = "NPC_CHAT_MODEL"
	EnvSpeechEnabled = "NPC_SPEECH_ENABLED"
)

// Config is the top-level npcdialog configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend" json:"backend"`
	Chat    ChatConfig    `yaml:"chat" json:"chat"`
	Speech  SpeechConfig  `yaml:"speech" json:"speech"`
	Dialog  DialogConfig  `yaml:"dialog" json:"dialog"`
	Persona PersonaConfig `yaml:"persona" json:"persona"`
}

// BackendConfig locates the game backend serving /api/chat and /api/tts.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url" jsonschema:"format=uri"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"type=string"`
}

type ChatConfig struct {
	Model            string   `yaml:"model" json:"model"`
	Temperature      *float64 `yaml:"temperature" json:"temperature" jsonschema:"minimum=0,maximum=2"`
	MaxTokens        int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TopP             *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty,omitempty" json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `yaml:"presence_penalty,omitempty" json:"presence_penalty,omitempty"`
}

type SpeechConfig struct {
	Enabled         *bool   `yaml:"enabled" json:"enabled"`
	Voice           string  `yaml:"voice" json:"voice"`
	LanguageCode    string  `yaml:"language_code" json:"language_code"`
	AudioEncoding   string  `yaml:"audio_encoding" json:"audio_encoding"`
	SampleRateHertz int     `yaml:"sample_rate_hertz" json:"sample_rate_hertz"`
	SpeakingRate    float64 `yaml:"speaking_rate" json:"speaking_rate"`
	Pitch           float64 `yaml:"pitch" json:"pitch"`
	SSMLGender      string  `yaml:"ssml_gender" json:"ssml_gender" jsonschema:"enum=NEUTRAL,enum=MALE,enum=FEMALE,enum=SSML_VOICE_GENDER_UNSPECIFIED"`
}

// DialogConfig holds the delays and markers of the dialog lifecycle.
type DialogConfig struct {
	SettleDelay   *time.Duration `yaml:"settle_delay" json:"settle_delay" jsonschema:"type=string"`
	ViewSwapDelay *time.Duration `yaml:"view_swap_delay" json:"view_swap_delay" jsonschema:"type=string"`
	CloseDelay    *time.Duration `yaml:"close_delay" json:"close_delay" jsonschema:"type=string"`
	EndMarker     string         `yaml:"end_marker" json:"end_marker"`
	ActorTag      string         `yaml:"actor_tag" json:"actor_tag"`
	StandingPoint *StandingPoint `yaml:"standing_point,omitempty" json:"standing_point,omitempty"`
}

type StandingPoint struct {
	X   float64 `yaml:"x" json:"x"`
	Y   float64 `yaml:"y" json:"y"`
	Z   float64 `yaml:"z" json:"z"`
	Yaw float64 `yaml:"yaw" json:"yaw"`
}

// PersonaConfig describes who the NPC is. Instructions, when set, replace the
// generated system prompt entirely.
type PersonaConfig struct {
	World        string `yaml:"world" json:"world"`
	NPC          string `yaml:"npc" json:"npc"`
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// Load reads a YAML config file from path and returns a validated Config.
// Environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse(nil)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackendURL); ok && v != "" {
		c.Backend.BaseURL = v
	}
	if v, ok := lookup(EnvChatModel); ok && v != "" {
		c.Chat.Model = v
	}
	if v, ok := lookup(EnvSpeechEnabled); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvSpeechEnabled, err)
		}
		c.Speech.Enabled = &enabled
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:3000"
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = remote.DefaultTimeout
	}

	if c.Chat.Model == "" {
		c.Chat.Model = backend.DefaultModel
	}
	if c.Chat.Temperature == nil {
		c.Chat.Temperature = utils.Ptr(backend.DefaultTemperature)
	}

	if c.Speech.Enabled == nil {
		enabled := true
		c.Speech.Enabled = &enabled
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = texttospeech.DefaultVoice
	}
	if c.Speech.LanguageCode == "" {
		c.Speech.LanguageCode = texttospeech.DefaultLanguageCode
	}
	if c.Speech.AudioEncoding == "" {
		c.Speech.AudioEncoding = texttospeech.DefaultAudioEncoding
	}
	if c.Speech.SampleRateHertz == 0 {
		c.Speech.SampleRateHertz = texttospeech.DefaultSampleRate
	}
	if c.Speech.SpeakingRate == 0 {
		c.Speech.SpeakingRate = 1
	}
	if c.Speech.SSMLGender == "" {
		c.Speech.SSMLGender = texttospeech.DefaultSSMLGender
	}

	if c.Dialog.SettleDelay == nil {
		c.Dialog.SettleDelay = utils.Ptr(orchestration.DefaultSettleDelay)
	}
	if c.Dialog.ViewSwapDelay == nil {
		c.Dialog.ViewSwapDelay = utils.Ptr(orchestration.DefaultViewSwapDelay)
	}
	if c.Dialog.CloseDelay == nil {
		c.Dialog.CloseDelay = utils.Ptr(orchestration.DefaultCloseDelay)
	}
	if c.Dialog.EndMarker == "" {
		c.Dialog.EndMarker = orchestration.DefaultEndMarker
	}
	if c.Dialog.ActorTag == "" {
		c.Dialog.ActorTag = orchestration.DefaultActorTag
	}
}

// validate checks that all values are usable.
func (c *Config) validate() error {
	var errs []string
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		errs = append(errs, "backend.base_url must be an http(s) URL")
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, "backend.timeout must not be negative")
	}
	if t := *c.Chat.Temperature; t < 0 || t > 2 {
		errs = append(errs, "chat.temperature must be between 0 and 2")
	}
	if c.Chat.MaxTokens < 0 {
		errs = append(errs, "chat.max_tokens must not be negative")
	}
	if c.Speech.SampleRateHertz < 0 {
		errs = append(errs, "speech.sample_rate_hertz must not be negative")
	}
	if c.Speech.SpeakingRate < 0.25 || c.Speech.SpeakingRate > 4 {
		errs = append(errs, "speech.speaking_rate must be between 0.25 and 4")
	}
	for name, d := range map[string]time.Duration{
		"dialog.settle_delay":    *c.Dialog.SettleDelay,
		"dialog.view_swap_delay": *c.Dialog.ViewSwapDelay,
		"dialog.close_delay":     *c.Dialog.CloseDelay,
	} {
		if d < 0 {
			errs = append(errs, name+" must not be negative")
		}
	}
	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) SpeechEnabled() bool {
	return c.Speech.Enabled != nil && *c.Speech.Enabled
}
