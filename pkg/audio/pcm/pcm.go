package pcm

import (
	"fmt"
	"time"
)

// Depth is the bit depth of every format in this package.
const Depth = 16

// Common formats.
var (
	// L16Mono16K represents audio/L16; rate=16000; channels=1
	L16Mono16K = Mono(16000)
	// L16Mono24K represents audio/L16; rate=24000; channels=1
	L16Mono24K = Mono(24000)
	// L16Mono48K represents audio/L16; rate=48000; channels=1
	L16Mono48K = Mono(48000)
)

// Format is a 16-bit signed little-endian PCM layout.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns the single-channel format at rate.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// Valid reports whether f describes a usable format.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameBytes is the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * Depth / 8
}

// Samples returns the number of frames in the given number of bytes.
func (f Format) Samples(bytes int64) int64 {
	return bytes / int64(f.FrameBytes())
}

// SamplesInDuration returns the number of frames in the given duration.
func (f Format) SamplesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f.SampleRate) * d / time.Second)
}

// BytesInDuration returns the number of bytes in the given duration.
func (f Format) BytesInDuration(d time.Duration) int64 {
	return f.SamplesInDuration(d) * int64(f.FrameBytes())
}

// Duration returns the play time of the given number of bytes.
func (f Format) Duration(bytes int64) time.Duration {
	return time.Duration(f.Samples(bytes)) * time.Second / time.Duration(f.SampleRate)
}

// BytesRate returns the byte rate of the audio data.
func (f Format) BytesRate() int {
	return f.SampleRate * f.FrameBytes()
}

// String returns the MIME form of the format.
func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}
