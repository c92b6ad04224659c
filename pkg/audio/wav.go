package audio

import (
	"encoding/binary"
	"fmt"
	"os"
)

// wavFormat holds the fields of a RIFF fmt chunk the decoder cares about.
type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

const wavFormatPCM = 1

// DecodeWAVFile reads the WAV file at path and returns an analysis-ready
// [Clip]: mono, [AnalysisRate], at most [MaxAnalysisSeconds] of samples.
// The reported Duration covers the whole file.
//
// Only 16-bit integer PCM is accepted; compressed or float WAVs are a
// decode error, not a silent degradation.
func DecodeWAVFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: read wav %q: %w", path, err)
	}
	return DecodeWAV(data)
}

// DecodeWAV decodes an in-memory WAV payload. See [DecodeWAVFile].
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("audio: not a RIFF/WAVE payload")
	}

	var (
		format  wavFormat
		haveFmt bool
		pcm     []byte
	)

	// Walk the chunk list. Chunks are 8-byte headers (id + size) with
	// word-aligned payloads.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Clip{}, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			format = wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(data[body : body+2]),
				channels:      binary.LittleEndian.Uint16(data[body+2 : body+4]),
				sampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				bitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++ // chunk payloads are word-aligned
		}
	}

	if !haveFmt {
		return Clip{}, fmt.Errorf("audio: missing fmt chunk")
	}
	if pcm == nil {
		return Clip{}, fmt.Errorf("audio: missing data chunk")
	}
	if format.audioFormat != wavFormatPCM || format.bitsPerSample != 16 {
		return Clip{}, fmt.Errorf("audio: unsupported format (codec %d, %d-bit); want 16-bit PCM",
			format.audioFormat, format.bitsPerSample)
	}
	if format.channels != 1 && format.channels != 2 {
		return Clip{}, fmt.Errorf("audio: unsupported channel count %d", format.channels)
	}
	if format.sampleRate == 0 {
		return Clip{}, fmt.Errorf("audio: zero sample rate")
	}

	bytesPerFrame := int(format.channels) * 2
	duration := float64(len(pcm)/bytesPerFrame) / float64(format.sampleRate)

	if format.channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, int(format.sampleRate), AnalysisRate)

	maxSamples := AnalysisRate * MaxAnalysisSeconds
	if len(pcm)/2 > maxSamples {
		pcm = pcm[:maxSamples*2]
	}

	return Clip{Samples: pcmToFloat(pcm), Duration: duration}, nil
}

// EncodeWAV wraps little-endian 16-bit mono PCM in a minimal RIFF header.
// Used by tests and by diagnostics that round-trip synthesized audio.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const headerLen = 44
	out := make([]byte, headerLen+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(out[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                   // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}
