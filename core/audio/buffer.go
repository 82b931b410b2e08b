package audio

import "sync"

// Buffer is the PCM waiting to be played. Players write into it from any
// goroutine and device callbacks read from it.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *Buffer) Write(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, pcm...)
}

// Read fills out with buffered audio and pads the rest with silence. It
// returns how many buffered bytes were used.
func (b *Buffer) Read(out []byte, silence byte) int {
	b.mu.Lock()
	n := copy(out, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}
	b.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = silence
	}
	return n
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}
