package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotWAV            = errors.New("audio is not a RIFF/WAVE file")
	ErrUnsupportedFormat = errors.New("unsupported WAVE format")
)

const (
	waveFormatPCM   = 1
	waveFormatALaw  = 6
	waveFormatMulaw = 7
)

// Clip is decoded audio ready to be played.
type Clip struct {
	Encoding EncodingInfo
	PCM      []byte
}

func (c Clip) Duration() time.Duration { return c.Encoding.Duration(len(c.PCM)) }

// Decode reads a WAVE file and falls back to treating data as raw audio in
// fallback when it has no RIFF header.
func Decode(data []byte, fallback EncodingInfo) (Clip, error) {
	clip, err := DecodeWAV(data)
	if errors.Is(err, ErrNotWAV) {
		if fallback.IsZero() {
			fallback = GetDefaultEncodingInfo()
		}
		return Clip{Encoding: fallback, PCM: data}, nil
	}
	return clip, err
}

// DecodeWAV extracts the encoding and samples of a WAVE file. Chunks other
// than fmt and data are skipped.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Clip{}, ErrNotWAV
	}

	var (
		encoding EncodingInfo
		haveFmt  bool
	)
	for offset := 12; offset+8 <= len(data); {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if size < 0 || end > len(data) {
			// Streams sometimes leave the data size unset; take what is there.
			if id != "data" {
				return Clip{}, fmt.Errorf("truncated %q chunk", id)
			}
			end = len(data)
		}

		switch id {
		case "fmt ":
			var err error
			if encoding, err = parseFormatChunk(data[body:end]); err != nil {
				return Clip{}, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, errors.New("data chunk before fmt chunk")
			}
			return Clip{Encoding: encoding, PCM: data[body:end]}, nil
		}

		// Chunks are padded to an even size.
		offset = end + size%2
	}

	return Clip{}, errors.New("no data chunk")
}

func parseFormatChunk(chunk []byte) (EncodingInfo, error) {
	if len(chunk) < 16 {
		return EncodingInfo{}, fmt.Errorf("fmt chunk too short: %d bytes", len(chunk))
	}

	formatTag := binary.LittleEndian.Uint16(chunk[0:2])
	channels := int(binary.LittleEndian.Uint16(chunk[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(chunk[4:8]))
	bitsPerSample := binary.LittleEndian.Uint16(chunk[14:16])

	var format encodingFormat
	switch {
	case formatTag == waveFormatPCM && bitsPerSample == 16:
		format = EncodingLinear16
	case formatTag == waveFormatALaw && bitsPerSample == 8:
		format = EncodingALaw
	case formatTag == waveFormatMulaw && bitsPerSample == 8:
		format = EncodingMulaw
	default:
		return EncodingInfo{}, fmt.Errorf("%w: format %d with %d bits per sample", ErrUnsupportedFormat, formatTag, bitsPerSample)
	}

	return EncodingInfo{SampleRate: sampleRate, Format: format, Channels: channels}, nil
}
