package pcm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteWAV writes data, raw PCM in format f, as a canonical 44-byte header
// RIFF/WAVE file.
func WriteWAV(w io.Writer, f Format, data []byte) error {
	if !f.Valid() {
		return fmt.Errorf("pcm: invalid format %+v", f)
	}
	hdr := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(data)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesRate()),
		BlockAlign:    uint16(f.FrameBytes()),
		BitsPerSample: Depth,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(data)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("pcm: write wav header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("pcm: write wav data: %w", err)
	}
	return nil
}
