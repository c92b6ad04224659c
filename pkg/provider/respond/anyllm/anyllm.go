// Package anyllm implements respond.Provider against a remote LLM through
// github.com/mozilla-ai/any-llm-go, which fronts OpenAI, Anthropic, Gemini,
// Ollama, and other providers behind one interface. It is the deployment
// path for installations without a local generation worker.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/attunehq/attune/internal/quality"
	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/respond"
	"github.com/attunehq/attune/pkg/types"
)

// Generation parameters tuned for short empathetic replies.
const (
	temperature = 0.7
	maxTokens   = 120
)

// basePrompt is the fixed system prefix; framingFor appends the
// emotion-specific guidance.
const basePrompt = "You are a professional, empathetic therapist providing supportive counseling. You respond with validation, empathy, and therapeutic guidance."

// framings keys the closed emotion-framing table by fallback-library key.
var framings = map[string]string{
	"anxiety":     "The user is experiencing anxiety. Focus on validation, grounding, and coping strategies.",
	"nervousness": "The user is experiencing nervousness. Focus on validation, grounding, and coping strategies.",
	"depression":  "The user is experiencing depression. Emphasize hope, validation, and gentle exploration.",
	"anger":       "The user is experiencing anger. Validate their feelings and explore underlying emotions.",
	"sadness":     "The user is experiencing sadness. Provide comfort, validation, and emotional support.",
	"stress":      "The user is experiencing stress. Focus on practical coping and stress management.",
	"fear":        "The user is experiencing fear. Provide reassurance and safety-focused support.",
	"joy":         "The user is experiencing joy. Celebrate with them while maintaining professional boundaries.",
	"admiration":  "The user is experiencing positive feelings. Explore and validate their experience.",
	"general":     "Provide general therapeutic support with empathy and validation.",
}

func framingFor(label emotion.Label) string {
	if f, ok := framings[string(label)]; ok {
		return f
	}
	return framings[emotion.FallbackKey(label)]
}

// Provider generates replies through a remote LLM and applies the quality
// gate locally, substituting the scripted library when a generation is
// rejected.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ respond.Provider = (*Provider)(nil)

// New creates a Provider for the named any-llm backend ("openai",
// "anthropic", "gemini", "ollama"). Without an explicit key option the
// backend reads its usual environment variable (OPENAI_API_KEY and so on).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

// Respond builds the emotion-framed conversation, runs one completion, and
// gates the result. Rejected generations are replaced by the scripted
// fallback for the turn's emotion, reported with SourceFallback.
func (p *Provider) Respond(ctx context.Context, req respond.Request) (types.ResponseCandidate, error) {
	if err := req.Validate(); err != nil {
		return types.ResponseCandidate{}, err
	}

	params := p.buildParams(req)
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return types.ResponseCandidate{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.ResponseCandidate{}, fmt.Errorf("anyllm: empty choices in response")
	}

	text := ExtractReply(resp.Choices[0].Message.ContentString())
	if verdict := quality.Gate(text); !verdict.Pass {
		return types.ResponseCandidate{
			Text:    quality.FallbackFor(req.Emotion),
			Source:  types.SourceFallback,
			Quality: quality.Assess(quality.FallbackFor(req.Emotion), req.Emotion),
			ModelID: p.model,
		}, nil
	}

	return types.ResponseCandidate{
		Text:    text,
		Source:  types.SourceModel,
		Quality: quality.Assess(text, req.Emotion),
		ModelID: p.model,
	}, nil
}

func (p *Provider) buildParams(req respond.Request) anyllmlib.CompletionParams {
	messages := []anyllmlib.Message{{
		Role:    anyllmlib.RoleSystem,
		Content: basePrompt + " " + framingFor(req.Emotion),
	}}
	for _, ex := range req.History {
		messages = append(messages,
			anyllmlib.Message{Role: "user", Content: ex.User},
			anyllmlib.Message{Role: "assistant", Content: ex.Assistant},
		)
	}
	messages = append(messages, anyllmlib.Message{Role: "user", Content: req.UserInput})

	t := temperature
	mt := maxTokens
	return anyllmlib.CompletionParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: &t,
		MaxTokens:   &mt,
	}
}

// ExtractReply trims role-tag echoes and keeps only the assistant's first
// turn: split at User:/Assistant:/Therapist: tags, then truncate at the
// first blank line.
func ExtractReply(raw string) string {
	text := strings.TrimSpace(raw)
	if i := strings.LastIndex(text, "Therapist:"); i >= 0 {
		text = text[i+len("Therapist:"):]
	}
	for _, tag := range []string{"User:", "Assistant:"} {
		if i := strings.Index(text, tag); i >= 0 {
			text = text[:i]
		}
	}
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// Name implements respond.Provider.
func (p *Provider) Name() string { return "anyllm" }

// Ready always holds; remote failures surface per call.
func (p *Provider) Ready() bool { return true }
