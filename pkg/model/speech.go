package model

import "context"

// NewSpeechGeneratorFunc creates a text-to-speech generator.
// Text is provided at Synthesize call time.
type NewSpeechGeneratorFunc func(opts SpeechOptions) (SpeechGenerator, error)

type SpeechGenerator interface {
	Synthesize(ctx context.Context, text string) ([]byte, GenerationMetadata, error)
}

type SpeechOptions struct {
	IgnoreInvalidGeneratorOptions bool
	URL                           string
	AuthToken                     string
	Model                         string
	Voice                         string
	// Language is a BCP 47 tag such as "en-US". Providers that only
	// accept a bare language code use the primary subtag.
	Language string
	// Speed scales playback rate. Zero means provider default.
	Speed float64
	// Format selects the container returned by Synthesize, e.g. "mp3"
	// or "wav". Zero means provider default.
	Format string
}

const (
	MetadataKeyVoice       = "voice"
	MetadataKeyAudioFormat = "audio_format"
	MetadataKeyAudioBytes  = "audio_bytes"
)
