package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/attunehq/attune/internal/observe"
	"github.com/attunehq/attune/internal/quality"
	"github.com/attunehq/attune/internal/resilience"
	"github.com/attunehq/attune/internal/worker"
	"github.com/attunehq/attune/pkg/emotion"
	classifymock "github.com/attunehq/attune/pkg/provider/classify/mock"
	"github.com/attunehq/attune/pkg/provider/respond"
	respondmock "github.com/attunehq/attune/pkg/provider/respond/mock"
	"github.com/attunehq/attune/pkg/provider/speech"
	speechmock "github.com/attunehq/attune/pkg/provider/speech/mock"
	"github.com/attunehq/attune/pkg/types"
)

// goodReply clears the quality gate: long enough, no filler opener, no
// generic agreement, and it carries empathic keywords.
const goodReply = "It sounds like a lot to carry. Please know that what you feel is valid and that someone is here to hear you."

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func respondChain(providers ...respond.Provider) *resilience.Chain[respond.Provider] {
	c := resilience.NewChain(providers[0].Name(), providers[0],
		resilience.BreakerConfig{Name: providers[0].Name()}, testLogger())
	for _, p := range providers[1:] {
		c.Append(p.Name(), p)
	}
	return c
}

func speechChain(providers ...speech.Provider) *resilience.Chain[speech.Provider] {
	c := resilience.NewChain("native", providers[0],
		resilience.BreakerConfig{Name: "native"}, testLogger())
	for i, p := range providers[1:] {
		c.Append("extra"+string(rune('0'+i)), p)
	}
	return c
}

func newTestOrchestrator(t *testing.T, text *classifymock.Provider, chain *resilience.Chain[respond.Provider], opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{
		WithMetrics(testMetrics(t)),
		WithLogger(testLogger()),
	}, opts...)
	return New(Config{}, text, chain, opts...)
}

func TestAnxiousTextTurn(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{
		Label:      emotion.Nervousness,
		Confidence: 0.82,
		AllScores:  map[emotion.Label]float64{emotion.Nervousness: 0.82},
	}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate: types.ResponseCandidate{
			Text:    goodReply,
			Source:  types.SourceModel,
			ModelID: "tiny-gpt2",
			Quality: quality.Assess(goodReply, emotion.Nervousness),
		},
	}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{
		Text: "I can't stop worrying about tomorrow's presentation",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.TurnID == "" {
		t.Error("missing turn id")
	}
	if res.Emotion.Label != emotion.Nervousness {
		t.Errorf("emotion = %s, want nervousness", res.Emotion.Label)
	}
	if res.Emotion.TextWeight != 1 {
		t.Errorf("text weight = %v, want 1 for text-only turn", res.Emotion.TextWeight)
	}
	if res.Response.Source != types.SourceModel {
		t.Errorf("source = %s, want model", res.Response.Source)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
	for _, stage := range []string{"emotion", "respond", "total"} {
		if _, ok := res.Timings[stage]; !ok {
			t.Errorf("timings missing %q: %v", stage, res.Timings)
		}
	}
}

func TestLoudVoiceOverridesWeakText(t *testing.T) {
	// Low text confidence swaps the fusion weights toward the voice path.
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Neutral, Confidence: 0.3}}
	voice := &classifymock.Provider{Score: emotion.Score{Label: emotion.Anger, Confidence: 0.7}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate: types.ResponseCandidate{
			Text: goodReply, Source: types.SourceModel, ModelID: "tiny-gpt2",
		},
	}
	o := newTestOrchestrator(t, text, respondChain(model), WithVoiceClassifier(voice))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{
		Text:      "it's fine",
		AudioPath: "/tmp/clip.wav",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Emotion.Label != emotion.Anger {
		t.Errorf("emotion = %s, want anger from the voice path", res.Emotion.Label)
	}
	if res.Emotion.VoiceWeight <= res.Emotion.TextWeight {
		t.Errorf("weights = %v/%v, want voice dominant",
			res.Emotion.TextWeight, res.Emotion.VoiceWeight)
	}
	if !hasWarning(res.Warnings, WarnLowTextConfidence) {
		t.Errorf("warnings = %v, want low_text_confidence", res.Warnings)
	}
	if len(voice.Requests()) != 1 {
		t.Error("voice classifier was not called")
	}
}

func TestEmittedConfidenceHasFloor(t *testing.T) {
	// A 28-way softmax can put its top label near 1/28 on flat input; the
	// emitted result still carries a usable confidence.
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Sadness, Confidence: 0.04}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate:    types.ResponseCandidate{Text: goodReply, Source: types.SourceModel},
	}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "not sure what I feel"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Emotion.Confidence != 0.1 {
		t.Errorf("confidence = %v, want the 0.1 floor", res.Emotion.Confidence)
	}
	if res.Emotion.Label != emotion.Sadness {
		t.Errorf("emotion = %s, the floor must not change the label", res.Emotion.Label)
	}
}

func TestRespondFailureFallsBackToLibrary(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Sadness, Confidence: 0.8}}
	model := &respondmock.Provider{ProviderName: "model", Err: worker.ErrCrashed}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "everything feels pointless"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response.Source != types.SourceFallback {
		t.Errorf("source = %s, want fallback", res.Response.Source)
	}
	if want := quality.FallbackFor(emotion.Sadness); res.Response.Text != want {
		t.Errorf("text = %q, want sadness fallback", res.Response.Text)
	}
	if !hasWarning(res.Warnings, WarnResponseTimeout) {
		t.Errorf("warnings = %v, want response_timeout", res.Warnings)
	}
}

func TestMidTurnRestartIsReported(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Sadness, Confidence: 0.8}}
	var o *Orchestrator
	model := &respondmock.Provider{
		ProviderName: "model",
		RespondFunc: func(_ context.Context, _ respond.Request) (types.ResponseCandidate, error) {
			o.NoteRespondRestart("respond-0")
			return types.ResponseCandidate{}, worker.ErrCrashed
		},
	}
	o = newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "everything feels pointless"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !hasWarning(res.Warnings, WarnResponseWorkerRestart) {
		t.Errorf("warnings = %v, want response_worker_restart", res.Warnings)
	}
}

func TestChainFallsThroughToSecondBackend(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Fear, Confidence: 0.75}}
	model := &respondmock.Provider{ProviderName: "model", Err: worker.ErrTimeout}
	pattern := &respondmock.Provider{
		ProviderName: "pattern",
		Candidate: types.ResponseCandidate{
			Text:    quality.FallbackFor(emotion.Fear),
			Source:  types.SourceFallback,
			ModelID: "pattern",
		},
	}
	o := newTestOrchestrator(t, text, respondChain(model, pattern))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "I'm scared of what comes next"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response.Source != types.SourceFallback {
		t.Errorf("source = %s, want fallback via pattern backend", res.Response.Source)
	}
	if res.Response.ModelID != "pattern" {
		t.Errorf("model id = %q, want pattern", res.Response.ModelID)
	}
	// The chain served; no chain-exhausted warning applies.
	if hasWarning(res.Warnings, WarnResponseTimeout) {
		t.Errorf("warnings = %v, chain served so no response_timeout", res.Warnings)
	}
}

func TestCrashedBackendWarnsEvenWhenChainServes(t *testing.T) {
	// The crashed worker is respawning asynchronously; the warning must not
	// depend on the respawn finishing inside the respond stage.
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Fear, Confidence: 0.75}}
	model := &respondmock.Provider{ProviderName: "model", Err: worker.ErrCrashed}
	pattern := &respondmock.Provider{
		ProviderName: "pattern",
		Candidate: types.ResponseCandidate{
			Text:    quality.FallbackFor(emotion.Fear),
			Source:  types.SourceFallback,
			ModelID: "pattern",
		},
	}
	o := newTestOrchestrator(t, text, respondChain(model, pattern))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "it all went dark for a moment"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response.Source != types.SourceFallback {
		t.Errorf("source = %s, want fallback from the second backend", res.Response.Source)
	}
	if !hasWarning(res.Warnings, WarnResponseWorkerRestart) {
		t.Errorf("warnings = %v, want response_worker_restart after a mid-turn crash", res.Warnings)
	}
	if hasWarning(res.Warnings, WarnResponseTimeout) {
		t.Errorf("warnings = %v, chain served so no response_timeout", res.Warnings)
	}
}

func TestQualityGateRejectionSubstitutes(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Anger, Confidence: 0.8}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate: types.ResponseCandidate{
			Text:    "totally agree, same here",
			Source:  types.SourceModel,
			ModelID: "tiny-gpt2",
		},
	}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "my boss humiliated me today"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response.Source != types.SourceFallback {
		t.Errorf("source = %s, want fallback after gate rejection", res.Response.Source)
	}
	if want := quality.FallbackFor(emotion.Anger); res.Response.Text != want {
		t.Errorf("text = %q, want anger fallback", res.Response.Text)
	}
	if res.Response.ModelID != "tiny-gpt2" {
		t.Errorf("model id = %q, want the attempted model", res.Response.ModelID)
	}
}

func TestSpeechFailureOmitsAudio(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Joy, Confidence: 0.9}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate:    types.ResponseCandidate{Text: goodReply, Source: types.SourceModel},
	}
	tts := &speechmock.Provider{Err: errors.New("espeak missing")}
	o := newTestOrchestrator(t, text, respondChain(model), WithSpeech(speechChain(tts)))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "I finally got the job!"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.AudioBase64 != "" {
		t.Error("audio should be omitted when synthesis fails")
	}
	if !hasWarning(res.Warnings, WarnTTSUnavailable) {
		t.Errorf("warnings = %v, want tts_unavailable", res.Warnings)
	}
	if res.Response.Text != goodReply {
		t.Error("response text must survive a speech failure")
	}
}

func TestSpeechSuccessAttachesAudio(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Joy, Confidence: 0.9}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate:    types.ResponseCandidate{Text: goodReply, Source: types.SourceModel},
	}
	tts := &speechmock.Provider{Result: speech.Result{
		AudioBase64:  "UklGRg==",
		SampleRateHz: 22050,
	}}
	o := newTestOrchestrator(t, text, respondChain(model), WithSpeech(speechChain(tts)))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "good news today"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.AudioBase64 != "UklGRg==" {
		t.Errorf("audio = %q", res.AudioBase64)
	}
	if res.SampleRateHz != 22050 {
		t.Errorf("sample rate = %d, want 22050", res.SampleRateHz)
	}
	reqs := tts.Requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0].Text, "hear") {
		t.Errorf("speech requests = %+v", reqs)
	}
}

func TestEmotionFailureSubstitutesNeutral(t *testing.T) {
	text := &classifymock.Provider{Err: worker.ErrTimeout}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate:    types.ResponseCandidate{Text: goodReply, Source: types.SourceModel},
	}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "hello there"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Emotion.Label != emotion.Neutral || res.Emotion.Confidence != 0.5 {
		t.Errorf("emotion = %s/%v, want neutral/0.5", res.Emotion.Label, res.Emotion.Confidence)
	}
	if !hasWarning(res.Warnings, WarnEmotionTimeout) {
		t.Errorf("warnings = %v, want emotion_timeout", res.Warnings)
	}
	if res.Response.Text == "" {
		t.Error("turn must still produce a response")
	}
}

func TestEmptyInputTakesGeneralFallback(t *testing.T) {
	text := &classifymock.Provider{}
	model := &respondmock.Provider{ProviderName: "model"}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Emotion.Label != emotion.Neutral {
		t.Errorf("emotion = %s, want neutral", res.Emotion.Label)
	}
	if want := quality.FallbackByKey("general"); res.Response.Text != want {
		t.Errorf("text = %q, want the general opening", res.Response.Text)
	}
	if len(text.Requests()) != 0 {
		t.Error("classifier must not run on empty input")
	}
	if len(model.Requests()) != 0 {
		t.Error("respond backends must not run on empty input")
	}
}

func TestHistoryIsBoundedBeforeRespond(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Neutral, Confidence: 0.6}}
	model := &respondmock.Provider{
		ProviderName: "model",
		Candidate:    types.ResponseCandidate{Text: goodReply, Source: types.SourceModel},
	}
	o := newTestOrchestrator(t, text, respondChain(model))

	var hist []types.Exchange
	for i := 0; i < 10; i++ {
		hist = append(hist, types.Exchange{User: "u", Assistant: "a"})
	}
	_, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "still here", History: hist})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	reqs := model.Requests()
	if len(reqs) != 1 {
		t.Fatalf("respond calls = %d, want 1", len(reqs))
	}
	if len(reqs[0].History) != 4 {
		t.Errorf("history pairs = %d, want the default bound of 4", len(reqs[0].History))
	}
	// History also feeds the classifier as conversational context.
	creqs := text.Requests()
	if len(creqs) != 1 || creqs[0].Mode != "text_with_context" {
		t.Errorf("classify mode = %v, want text_with_context", creqs)
	}
}

func TestInvalidInputIsTerminal(t *testing.T) {
	o := newTestOrchestrator(t,
		&classifymock.Provider{},
		respondChain(&respondmock.Provider{ProviderName: "model"}))

	_, err := o.RunTurn(context.Background(), types.TurnRequest{Language: "English"})
	if !errors.Is(err, types.ErrInputInvalid) {
		t.Fatalf("err = %v, want ErrInputInvalid", err)
	}
}

func TestDrainRejectsNewTurns(t *testing.T) {
	o := newTestOrchestrator(t,
		&classifymock.Provider{Score: emotion.Score{Label: emotion.Neutral, Confidence: 0.6}},
		respondChain(&respondmock.Provider{ProviderName: "model",
			Candidate: types.ResponseCandidate{Text: goodReply, Source: types.SourceModel}}))

	o.Drain()
	_, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "hi"})
	if !errors.Is(err, ErrEnqueueFailed) {
		t.Fatalf("err = %v, want ErrEnqueueFailed", err)
	}
}

func TestAdmissionBound(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	model := &respondmock.Provider{
		ProviderName: "model",
		RespondFunc: func(_ context.Context, _ respond.Request) (types.ResponseCandidate, error) {
			close(blocked)
			<-release
			return types.ResponseCandidate{Text: goodReply, Source: types.SourceModel}, nil
		},
	}
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Neutral, Confidence: 0.6}}
	o := New(Config{MaxConcurrent: 1}, text, respondChain(model),
		WithMetrics(testMetrics(t)), WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() {
		_, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "first"})
		done <- err
	}()
	<-blocked

	_, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "second"})
	if !errors.Is(err, ErrEnqueueFailed) {
		t.Fatalf("err = %v, want ErrEnqueueFailed while at capacity", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
}

func TestTurnDeadlineSkipsSpeech(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Neutral, Confidence: 0.6}}
	model := &respondmock.Provider{
		ProviderName: "model",
		RespondFunc: func(ctx context.Context, _ respond.Request) (types.ResponseCandidate, error) {
			// Outlive the turn deadline; the stage context stops the wait.
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			return types.ResponseCandidate{}, worker.ErrTimeout
		},
	}
	ttsCalled := false
	tts := &speechmock.Provider{SynthesizeFunc: func(_ context.Context, _ speech.Request) (speech.Result, error) {
		ttsCalled = true
		return speech.Result{}, nil
	}}

	o := New(Config{Deadline: 200 * time.Millisecond, RespondTimeout: 150 * time.Millisecond},
		text, respondChain(model),
		WithSpeech(speechChain(tts)),
		WithMetrics(testMetrics(t)), WithLogger(testLogger()))

	start := time.Now()
	res, err := o.RunTurn(context.Background(), types.TurnRequest{Text: "slow day"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("turn took %v, deadline not enforced", elapsed)
	}
	if res.Response.Source != types.SourceFallback {
		t.Errorf("source = %s, want fallback after respond deadline", res.Response.Source)
	}
	if ttsCalled {
		t.Error("speech must be skipped when the turn budget is spent")
	}
	if !hasWarning(res.Warnings, WarnTTSUnavailable) {
		t.Errorf("warnings = %v, want tts_unavailable for the skipped stage", res.Warnings)
	}
}

func TestVoiceOnlyTurnUsesVoicePath(t *testing.T) {
	text := &classifymock.Provider{}
	voice := &classifymock.Provider{Score: emotion.Score{Label: emotion.Sadness, Confidence: 0.65}}
	model := &respondmock.Provider{ProviderName: "model"}
	o := newTestOrchestrator(t, text, respondChain(model), WithVoiceClassifier(voice))

	res, err := o.RunTurn(context.Background(), types.TurnRequest{AudioPath: "/tmp/clip.wav"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Emotion.Label != emotion.Sadness {
		t.Errorf("emotion = %s, want sadness from the voice path", res.Emotion.Label)
	}
	if res.Emotion.VoiceWeight != 1 {
		t.Errorf("voice weight = %v, want 1", res.Emotion.VoiceWeight)
	}
	if len(text.Requests()) != 0 {
		t.Error("text classifier must not run without text")
	}
	// No user text, so the scripted general opening applies.
	if res.Response.Text != quality.FallbackByKey("general") {
		t.Errorf("text = %q, want general opening", res.Response.Text)
	}
}

func TestCancelledTurnEmitsNoResult(t *testing.T) {
	text := &classifymock.Provider{Score: emotion.Score{Label: emotion.Neutral, Confidence: 0.6}}
	ctx, cancel := context.WithCancel(context.Background())
	model := &respondmock.Provider{
		ProviderName: "model",
		RespondFunc: func(_ context.Context, _ respond.Request) (types.ResponseCandidate, error) {
			cancel()
			return types.ResponseCandidate{Text: goodReply, Source: types.SourceModel}, nil
		},
	}
	o := newTestOrchestrator(t, text, respondChain(model))

	res, err := o.RunTurn(ctx, types.TurnRequest{Text: "never mind"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Error("cancelled turn must not emit a result")
	}
}

func hasWarning(warnings []string, w string) bool {
	for _, have := range warnings {
		if have == w {
			return true
		}
	}
	return false
}
