package pcm

import (
	"encoding/binary"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Decode converts little-endian int16 samples to floats in [-1, 1). A
// trailing odd byte is ignored.
func Decode(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Encode converts floats to little-endian int16 samples, clipping values
// outside [-1, 1].
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	switch {
	case s >= 1.0:
		return 32767
	case s < -1.0:
		return -32768
	}
	return int16(s * 32768.0)
}

// Resample converts mono samples from one rate to another. The result always
// holds ResampledLen(len(samples), from, to) samples. Equal rates return a
// copy.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("pcm: invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("pcm: create resampler: %w", err)
	}
	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}
	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("pcm: resample: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("pcm: flush resampler: %w", err)
	}
	output = append(output, tail...)

	// The flushed filter tail overshoots; short clips may still come up
	// short. Either way the result covers exactly the input's duration.
	want := ResampledLen(len(samples), from, to)
	out := make([]float32, want)
	for i := range min(want, len(output)) {
		out[i] = float32(output[i])
	}
	return out, nil
}

// ResampledLen returns the number of samples n samples at rate from span at
// rate to, rounded to the nearest sample.
func ResampledLen(n, from, to int) int {
	return int((int64(n)*int64(to) + int64(from)/2) / int64(from))
}
