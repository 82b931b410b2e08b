package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func buildWAV(formatTag uint16, channels uint16, sampleRate uint32, bitsPerSample uint16, extra []byte, pcm []byte) []byte {
	var fmtChunk bytes.Buffer
	_ = binary.Write(&fmtChunk, binary.LittleEndian, formatTag)
	_ = binary.Write(&fmtChunk, binary.LittleEndian, channels)
	_ = binary.Write(&fmtChunk, binary.LittleEndian, sampleRate)
	_ = binary.Write(&fmtChunk, binary.LittleEndian, sampleRate*uint32(channels)*uint32(bitsPerSample/8))
	_ = binary.Write(&fmtChunk, binary.LittleEndian, channels*bitsPerSample/8)
	_ = binary.Write(&fmtChunk, binary.LittleEndian, bitsPerSample)

	var body bytes.Buffer
	body.WriteString("WAVE")
	writeChunk(&body, "fmt ", fmtChunk.Bytes())
	if extra != nil {
		writeChunk(&body, "LIST", extra)
	}
	writeChunk(&body, "data", pcm)

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeChunk(b *bytes.Buffer, id string, data []byte) {
	b.WriteString(id)
	_ = binary.Write(b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	if len(data)%2 == 1 {
		b.WriteByte(0)
	}
}

func TestDecodeWAVLinear16(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	clip, err := DecodeWAV(buildWAV(1, 1, 16000, 16, []byte("odd"), pcm))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expected := EncodingInfo{SampleRate: 16000, Format: EncodingLinear16, Channels: 1}
	if clip.Encoding != expected {
		t.Fatalf("expected encoding %+v, got %+v", expected, clip.Encoding)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Fatalf("expected pcm %v, got %v", pcm, clip.PCM)
	}
}

func TestDecodeWAVMulawStereo(t *testing.T) {
	clip, err := DecodeWAV(buildWAV(7, 2, 8000, 8, nil, []byte{0xFF, 0xFF}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if clip.Encoding.Format != EncodingMulaw || clip.Encoding.Channels != 2 {
		t.Fatalf("unexpected encoding %+v", clip.Encoding)
	}
}

func TestDecodeWAVRejectsUnsupportedFormat(t *testing.T) {
	_, err := DecodeWAV(buildWAV(3, 1, 16000, 32, nil, []byte{0, 0, 0, 0}))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeWAVRejectsRawAudio(t *testing.T) {
	if _, err := DecodeWAV([]byte{0, 1, 2, 3}); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestDecodeFallsBackToRawAudio(t *testing.T) {
	raw := []byte{0, 1, 2, 3}
	clip, err := Decode(raw, EncodingInfo{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if clip.Encoding != GetDefaultEncodingInfo() {
		t.Fatalf("expected default encoding, got %+v", clip.Encoding)
	}
	if !bytes.Equal(clip.PCM, raw) {
		t.Fatalf("expected raw audio to pass through")
	}
}

func TestEncodingInfoDuration(t *testing.T) {
	info := GetDefaultEncodingInfo()
	if d := info.Duration(32000); d != time.Second {
		t.Fatalf("expected one second, got %s", d)
	}
	if d := (EncodingInfo{SampleRate: 16000, Format: "opus"}).Duration(32000); d != 0 {
		t.Fatalf("expected zero duration for unknown format, got %s", d)
	}
}
