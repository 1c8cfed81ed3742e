// Package speech turns text into a playable waveform through the inference
// service's speech synthesis.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qqhmm2-web/NexusAI/pkg/audio/pcm"
	"github.com/qqhmm2-web/NexusAI/pkg/inference"
)

const (
	DefaultModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice = "Zephyr"

	// DefaultSampleRate is assumed when the payload does not declare one.
	DefaultSampleRate = 24000

	// MaxRunes is the longest text sent for synthesis; the rest is dropped.
	MaxRunes = 500

	// Prefix is prepended to the text so the model reads it verbatim.
	Prefix = "Say clearly: "
)

// ErrNoAudio is returned when the service answered without an audio
// payload.
var ErrNoAudio = errors.New("speech: no audio in response")

// Synthesizer reads text aloud with a fixed voice.
type Synthesizer struct {
	client inference.Client
	model  string
	voice  string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithVoice sets the prebuilt voice name.
func WithVoice(voice string) Option {
	return func(s *Synthesizer) {
		if voice != "" {
			s.voice = voice
		}
	}
}

func NewSynthesizer(client inference.Client, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client: client,
		model:  DefaultModel,
		voice:  DefaultVoice,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Voice returns the configured voice name.
func (s *Synthesizer) Voice() string { return s.voice }

// Synthesize requests speech for text and decodes it. Only the first
// MaxRunes characters are spoken. Nothing is written to any session.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*Waveform, error) {
	blob, err := s.client.SynthesizeSpeech(ctx, &inference.SpeechRequest{
		Model: s.model,
		Text:  Prompt(text),
		Voice: s.voice,
	})
	if err != nil {
		slog.Warn("speech: synthesis failed", "err", err)
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}
	if blob == nil || len(blob.Data) < 2 {
		slog.Warn("speech: no audio payload", "model", s.model, "voice", s.voice)
		return nil, ErrNoAudio
	}
	w := &Waveform{
		Samples:    pcm.Decode(blob.Data),
		SampleRate: blob.SampleRate(DefaultSampleRate),
	}
	slog.Debug("speech: synthesized", "samples", len(w.Samples), "rate", w.SampleRate, "duration", w.Duration())
	return w, nil
}

// Prompt returns the text actually sent for synthesis.
func Prompt(text string) string {
	r := []rune(text)
	if len(r) > MaxRunes {
		r = r[:MaxRunes]
	}
	return Prefix + string(r)
}
