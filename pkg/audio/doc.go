// Package audio groups the audio helpers used by speech synthesis.
//
//   - pcm: 16-bit PCM formats, sample conversion, resampling and WAV output
package audio
