// Package miniaudio plays reply audio through the default output device using
// miniaudio.
package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-dialog/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-dialog/core/audio/miniaudio"

var (
	logger = otelslog.NewLogger(scopeName)

	ErrPlayerClosed = errors.New("player closed")
)

// Player queues clips on a single playback device. The device is reopened
// when a clip arrives in a different encoding.
type Player struct {
	mu sync.Mutex
	// audioContext is only kept to be uninitialized on Close.
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	encoding     audio.EncodingInfo
	closed       bool

	buffer audio.Buffer
}

func NewPlayer() (*Player, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &Player{audioContext: audioCtx}, nil
}

// Play decodes data and appends it to what is already playing.
func (p *Player) Play(data []byte) error {
	clip, err := audio.Decode(data, audio.GetDefaultEncodingInfo())
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}
	if clip.Encoding.Format != audio.EncodingLinear16 {
		return fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, clip.Encoding.Format.Name())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}

	if p.device == nil || p.encoding != clip.Encoding {
		if err := p.openLocked(clip.Encoding); err != nil {
			return err
		}
	}

	p.buffer.Write(clip.PCM)
	logger.Debug("queued reply audio", "duration", clip.Duration())
	return nil
}

func (p *Player) openLocked(encoding audio.EncodingInfo) error {
	p.closeDeviceLocked()

	channels := encoding.Channels
	if channels <= 0 {
		channels = audio.DefaultChannels
	}
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	sampleRate := uint32(encoding.SampleRate)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = sampleRate
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	config.Periods = 4

	silence := encoding.SilenceValue()
	device, err := malgo.InitDevice(
		p.audioContext.Context,
		config,
		malgo.DeviceCallbacks{
			Data: func(pOutput, _ []byte, frameCount uint32) {
				need := min(int(frameCount)*bytesPerFrame, len(pOutput))
				p.buffer.Read(pOutput[:need], silence)
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	p.device = device
	p.encoding = encoding
	return nil
}

func (p *Player) closeDeviceLocked() {
	if p.device == nil {
		return
	}
	_ = p.device.Stop()
	p.device.Uninit()
	p.device = nil
	p.buffer.Clear()
}

// ClearBuffer drops audio that has not been played yet.
func (p *Player) ClearBuffer() {
	p.buffer.Clear()
}

// Buffered reports how much audio is still waiting to be played.
func (p *Player) Buffered() int {
	return p.buffer.Len()
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.closeDeviceLocked()
	if err := p.audioContext.Uninit(); err != nil {
		p.audioContext.Free()
		return fmt.Errorf("failed to uninitialize audio context: %w", err)
	}
	p.audioContext.Free()
	return nil
}
