// Package openai provides a speech.Provider backed by the OpenAI speech
// API. It is the hosted alternative to the native synthesis worker.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/attunehq/attune/pkg/provider/speech"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelTTS1

// maxAudioBytes caps how much synthesized audio we accept from the API.
const maxAudioBytes = 32 << 20

// Provider implements speech.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	voice  oai.AudioSpeechNewParamsVoice
}

var _ speech.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
	voice   oai.AudioSpeechNewParamsVoice
	model   oai.SpeechModel
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice selects the synthesis voice (default alloy).
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = oai.AudioSpeechNewParamsVoice(voice) }
}

// WithModel overrides the speech model.
func WithModel(model string) Option {
	return func(c *config) { c.model = oai.SpeechModel(model) }
}

// New constructs an OpenAI speech Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai speech: apiKey must not be empty")
	}

	cfg := &config{voice: oai.AudioSpeechNewParamsVoiceAlloy, model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
	}, nil
}

// Synthesize requests WAV output and returns it base64-encoded to match the
// worker wire format. The Language hint is ignored; OpenAI voices infer the
// language from the text.
func (p *Provider) Synthesize(ctx context.Context, req speech.Request) (speech.Result, error) {
	if err := req.Validate(); err != nil {
		return speech.Result{}, err
	}

	start := time.Now()
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          req.Text,
		Voice:          p.voice,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return speech.Result{}, fmt.Errorf("openai speech: synthesize: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return speech.Result{}, fmt.Errorf("openai speech: read audio: %w", err)
	}
	if len(wav) == 0 {
		return speech.Result{}, fmt.Errorf("openai speech: empty audio")
	}

	encoded := base64.StdEncoding.EncodeToString(wav)
	return speech.Result{
		AudioBase64:  encoded,
		SampleRateHz: speech.WAVSampleRate(encoded),
		Model:        string(p.model),
		Elapsed:      time.Since(start),
	}, nil
}

// Name implements speech.Provider.
func (p *Provider) Name() string { return "openai" }

// Ready always holds; remote failures surface per call.
func (p *Provider) Ready() bool { return true }
