// Package pcm converts between raw 16-bit little-endian mono PCM (the
// audio/L16 payloads returned by speech synthesis) and normalized float
// samples, resamples them, and writes WAV files.
//
// Example usage:
//
//	// 24 kHz speech payload
//	samples := pcm.Decode(payload)
//
//	// Convert for a 48 kHz playback device
//	out, err := pcm.Resample(samples, 24000, 48000)
//
//	// Save
//	err = pcm.WriteWAV(f, pcm.Mono(48000), pcm.Encode(out))
package pcm
