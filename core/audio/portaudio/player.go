// Package portaudio plays reply audio through the default output device using
// PortAudio.
package portaudio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-dialog/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-dialog/core/audio/portaudio"

var (
	logger = otelslog.NewLogger(scopeName)

	ErrPlayerClosed = errors.New("player closed")
)

// Player writes clips to a blocking output stream from its own goroutine.
type Player struct {
	mu         sync.Mutex
	bufferSize int
	stream     *portaudio.Stream
	encoding   audio.EncodingInfo
	out        []int16
	closed     bool

	buffer audio.Buffer
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPlayer initializes PortAudio. bufferSize is the number of frames written
// to the stream at once.
func NewPlayer(bufferSize int) (*Player, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", bufferSize)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p := &Player{
		bufferSize: bufferSize,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.writeLoop()
	return p, nil
}

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

	if p.stream == nil || p.encoding != clip.Encoding {
		if err := p.openLocked(clip.Encoding); err != nil {
			return err
		}
	}
	p.buffer.Write(clip.PCM)

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *Player) openLocked(encoding audio.EncodingInfo) error {
	p.closeStreamLocked()

	channels := encoding.Channels
	if channels <= 0 {
		channels = audio.DefaultChannels
	}
	out := make([]int16, p.bufferSize*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(encoding.SampleRate), p.bufferSize, out)
	if err != nil {
		return fmt.Errorf("failed to open PortAudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	p.stream = stream
	p.out = out
	p.encoding = encoding
	return nil
}

func (p *Player) closeStreamLocked() {
	if p.stream == nil {
		return
	}
	_ = p.stream.Stop()
	_ = p.stream.Close()
	p.stream = nil
	p.buffer.Clear()
}

func (p *Player) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for p.buffer.Len() > 0 {
			select {
			case <-p.done:
				return
			default:
			}
			if err := p.writeChunk(); err != nil {
				logger.Warn("failed to write audio", "error", err)
				break
			}
		}
	}
}

// writeChunk writes one stream buffer, padding the last one with silence.
func (p *Player) writeChunk() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}

	chunk := make([]byte, len(p.out)*2)
	p.buffer.Read(chunk, p.encoding.SilenceValue())
	if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, p.out); err != nil {
		return err
	}
	return p.stream.Write()
}

func (p *Player) ClearBuffer() {
	p.buffer.Clear()
}

func (p *Player) Buffered() int {
	return p.buffer.Len()
}

func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.closeStreamLocked()
	p.mu.Unlock()

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}
