// Package transcript records what was said in a conversation and forwards it
// to anything rendering it.
package transcript

import (
	"slices"
	"sync"
	"time"

	"github.com/koscakluka/ema-dialog/core/llms"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindError   Kind = "error"
)

type Entry struct {
	Kind    Kind      `json:"kind"`
	Role    llms.Role `json:"role,omitempty"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Sink renders entries. Publish is called in record order.
type Sink interface {
	Publish(entry Entry)
}

// Recorder keeps every entry it is given and forwards it to its sinks.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	sinks   []Sink
	now     func() time.Time
}

type RecorderOption func(*Recorder)

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func WithSink(sink Sink) RecorderOption {
	return func(r *Recorder) {
		if sink != nil {
			r.sinks = append(r.sinks, sink)
		}
	}
}

func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Append(role llms.Role, content string) {
	r.record(Entry{Kind: KindMessage, Role: role, Content: content})
}

// Notify records a failed turn.
func (r *Recorder) Notify(err error) {
	if err == nil {
		return
	}
	r.record(Entry{Kind: KindError, Content: err.Error()})
}

func (r *Recorder) record(entry Entry) {
	r.mu.Lock()
	entry.At = r.now()
	r.entries = append(r.entries, entry)
	sinks := r.sinks
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Publish(entry)
	}
}

func (r *Recorder) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear forgets every entry. Sinks are not told.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
