// Package speech defines the text-to-speech provider interface. The native
// subpackage wraps the persistent synthesis worker; the openai subpackage
// calls the OpenAI speech API; mock supports tests.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Request is one synthesis job.
type Request struct {
	Text string
	// Language is a lowercase ISO 639-1 code; empty means "en".
	Language string
}

// Validate rejects empty text.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("speech: empty text")
	}
	return nil
}

// Result is a synthesized clip.
type Result struct {
	// AudioBase64 is a base64-encoded PCM WAV payload.
	AudioBase64 string

	// SampleRateHz is parsed from the WAV header; zero when unknown.
	SampleRateHz int

	// Model identifies the synthesis model that produced the clip.
	Model string

	// Elapsed is the synthesis wall time as reported by the backend.
	Elapsed time.Duration
}

// Provider synthesizes speech from text.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
	Name() string
	Ready() bool
}

// WAVSampleRate extracts the sample rate from a base64 WAV payload by
// decoding just enough of the prefix to reach the fmt chunk. Returns zero
// for anything that does not look like a canonical RIFF header.
func WAVSampleRate(audioBase64 string) int {
	if len(audioBase64) < 40 {
		return 0
	}
	header, err := base64.StdEncoding.DecodeString(audioBase64[:40])
	if err != nil || len(header) < 28 {
		return 0
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" || string(header[12:16]) != "fmt " {
		return 0
	}
	return int(binary.LittleEndian.Uint32(header[24:28]))
}
