package speech

import (
	"io"
	"time"

	"github.com/qqhmm2-web/NexusAI/pkg/audio/pcm"
)

// Waveform is a mono sequence of normalized samples in [-1, 1).
type Waveform struct {
	Samples    []float32
	SampleRate int
}

func (w *Waveform) Format() pcm.Format {
	return pcm.Mono(w.SampleRate)
}

// Duration returns the play time of the waveform.
func (w *Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Resample returns the waveform converted to rate. w is not modified.
func (w *Waveform) Resample(rate int) (*Waveform, error) {
	out, err := pcm.Resample(w.Samples, w.SampleRate, rate)
	if err != nil {
		return nil, err
	}
	return &Waveform{Samples: out, SampleRate: rate}, nil
}

// WriteWAV writes the waveform as a 16-bit WAV file.
func (w *Waveform) WriteWAV(dst io.Writer) error {
	return pcm.WriteWAV(dst, w.Format(), pcm.Encode(w.Samples))
}
