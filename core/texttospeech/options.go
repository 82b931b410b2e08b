package texttospeech

const (
	DefaultVoice         = "en-US-Standard-A"
	DefaultLanguageCode  = "en-US"
	DefaultAudioEncoding = "LINEAR16"
	DefaultSampleRate    = 16000
	DefaultSSMLGender    = "NEUTRAL"
)

// SynthesisOptions describes how the audio for a piece of text should sound
// and be encoded.
type SynthesisOptions struct {
	AudioEncoding   string
	SampleRateHertz int
	SpeakingRate    float64
	Pitch           float64
	SSMLGender      string
}

type SynthesisOption func(*SynthesisOptions)

func DefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		AudioEncoding:   DefaultAudioEncoding,
		SampleRateHertz: DefaultSampleRate,
		SpeakingRate:    1,
		Pitch:           0,
		SSMLGender:      DefaultSSMLGender,
	}
}

// NewSynthesisOptions applies opts on top of [DefaultSynthesisOptions].
func NewSynthesisOptions(opts ...SynthesisOption) SynthesisOptions {
	options := DefaultSynthesisOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func WithAudioEncoding(encoding string) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encoding == "" {
			return
		}
		o.AudioEncoding = encoding
	}
}

func WithSampleRate(sampleRateHertz int) SynthesisOption {
	return func(o *SynthesisOptions) {
		if sampleRateHertz <= 0 {
			return
		}
		o.SampleRateHertz = sampleRateHertz
	}
}

// WithSpeakingRate sets the speed multiplier, 1 being the voice's natural rate.
func WithSpeakingRate(rate float64) SynthesisOption {
	return func(o *SynthesisOptions) {
		if rate <= 0 {
			return
		}
		o.SpeakingRate = rate
	}
}

// WithPitch sets the pitch shift in semitones.
func WithPitch(pitch float64) SynthesisOption {
	return func(o *SynthesisOptions) { o.Pitch = pitch }
}

func WithSSMLGender(gender string) SynthesisOption {
	return func(o *SynthesisOptions) {
		if gender == "" {
			return
		}
		o.SSMLGender = gender
	}
}
