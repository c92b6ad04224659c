// Package orchestrator runs one conversational turn end to end: emotion
// classification across both modalities, therapist response generation with
// its fallback chain, and best-effort speech synthesis.
//
// Exactly one TurnResult is produced for every admitted request. Stage
// failures never terminate a turn; they substitute a degraded result and
// append a warning. The only terminal errors a caller sees are input
// validation and queue rejection.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/attunehq/attune/internal/history"
	"github.com/attunehq/attune/internal/observe"
	"github.com/attunehq/attune/internal/quality"
	"github.com/attunehq/attune/internal/resilience"
	"github.com/attunehq/attune/internal/worker"
	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/classify"
	"github.com/attunehq/attune/pkg/provider/respond"
	"github.com/attunehq/attune/pkg/provider/speech"
	"github.com/attunehq/attune/pkg/types"
)

// ErrEnqueueFailed is returned when the turn cannot be admitted: the
// concurrency bound is reached or the orchestrator is draining. The other
// terminal error is types.ErrInputInvalid; everything else degrades in-band.
var ErrEnqueueFailed = errors.New("turn not admitted")

// Warning strings appended to TurnResult.Warnings. The vocabulary is fixed;
// front-ends key UI hints off these values.
const (
	WarnEmotionTimeout        = "emotion_timeout"
	WarnLowTextConfidence     = "low_text_confidence"
	WarnResponseTimeout       = "response_timeout"
	WarnResponseWorkerRestart = "response_worker_restart"
	WarnTTSUnavailable        = "tts_unavailable"
)

// neutralConfidence is the confidence assigned when classification fails or
// there is nothing to classify.
const neutralConfidence = 0.5

// confidenceFloor is the lowest confidence a TurnResult ever carries. The
// fusion rule can produce arbitrarily small values (a 28-way softmax puts
// its top label near 1/28 on flat input); emitted results never claim zero
// certainty.
const confidenceFloor = 0.1

var tracer = otel.Tracer("github.com/attunehq/attune/internal/orchestrator")

// Config bounds the pipeline.
type Config struct {
	// Deadline is the end-to-end turn budget.
	Deadline time.Duration

	// Per-stage budgets.
	EmotionTimeout time.Duration
	RespondTimeout time.Duration
	SpeechTimeout  time.Duration

	// History bounds applied before the respond stage.
	HistoryMaxPairs int
	HistoryMaxChars int

	// MaxConcurrent bounds turns in flight. Zero means 16.
	MaxConcurrent int
}

func (c *Config) defaults() {
	if c.Deadline <= 0 {
		c.Deadline = 20 * time.Second
	}
	if c.EmotionTimeout <= 0 {
		c.EmotionTimeout = 3 * time.Second
	}
	if c.RespondTimeout <= 0 {
		c.RespondTimeout = 10 * time.Second
	}
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = 8 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 16
	}
}

// Orchestrator coordinates the capability providers for each turn.
type Orchestrator struct {
	cfg Config

	text  classify.Provider
	voice classify.Provider

	respond *resilience.Chain[respond.Provider]
	speech  *resilience.Chain[speech.Provider]

	store   history.Store
	metrics *observe.Metrics
	log     *slog.Logger

	sem      chan struct{}
	draining atomic.Bool

	// respondRestarts counts respond-worker respawns since start. A turn
	// snapshots it around the respond stage to detect a mid-turn restart.
	respondRestarts atomic.Int64
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithVoiceClassifier sets the voice-path classifier. Without one,
// audio-bearing turns classify on text alone.
func WithVoiceClassifier(p classify.Provider) Option {
	return func(o *Orchestrator) { o.voice = p }
}

// WithSpeech sets the synthesis chain. Without one, no audio is produced.
func WithSpeech(c *resilience.Chain[speech.Provider]) Option {
	return func(o *Orchestrator) { o.speech = c }
}

// WithStore sets the transcript store. Writes are best-effort.
func WithStore(s history.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New builds an orchestrator around the text classifier and the respond
// chain; everything else is optional.
func New(cfg Config, text classify.Provider, respondChain *resilience.Chain[respond.Provider], opts ...Option) *Orchestrator {
	cfg.defaults()
	o := &Orchestrator{
		cfg:     cfg,
		text:    text,
		respond: respondChain,
		log:     slog.Default(),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Drain stops admitting new turns. In-flight turns finish normally.
func (o *Orchestrator) Drain() { o.draining.Store(true) }

// NoteRespondRestart is registered as the respond pool's restart hook so
// in-flight turns can report the respawn.
func (o *Orchestrator) NoteRespondRestart(name string) {
	o.respondRestarts.Add(1)
	o.metrics.RecordWorkerRestart(context.Background(), name)
}

// RunTurn executes one turn. It returns an error only for invalid input or
// failed admission; every other failure degrades into the TurnResult.
func (o *Orchestrator) RunTurn(ctx context.Context, req types.TurnRequest) (*types.TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if o.draining.Load() {
		o.metrics.RecordTurn(ctx, "rejected")
		return nil, errors.Join(ErrEnqueueFailed, errors.New("draining"))
	}
	select {
	case o.sem <- struct{}{}:
	default:
		o.metrics.RecordTurn(ctx, "rejected")
		return nil, errors.Join(ErrEnqueueFailed, errors.New("at capacity, retry shortly"))
	}
	defer func() { <-o.sem }()

	o.metrics.ActiveTurns.Add(ctx, 1)
	defer o.metrics.ActiveTurns.Add(ctx, -1)

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	t := &turn{
		id:      uuid.NewString(),
		req:     req,
		started: time.Now(),
		timings: make(map[string]int64, 4),
	}
	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("turn.id", t.id),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	log := o.log.With("turn", t.id)
	log.Info("turn started", "session", req.SessionID,
		"has_text", req.Text != "", "has_audio", req.AudioPath != "")

	o.classifyStage(ctx, t, log)
	o.respondStage(ctx, t, log)
	o.speechStage(ctx, t, log)

	// A caller-cancelled turn emits no result. The turn deadline alone does
	// not cancel the caller; it yields the best-effort result below.
	if err := parent.Err(); err != nil {
		log.Info("turn cancelled by caller")
		return nil, err
	}

	t.timings["total"] = time.Since(t.started).Milliseconds()
	o.metrics.RecordStage(ctx, "total", time.Since(t.started))

	if t.emotion.Confidence < confidenceFloor {
		t.emotion.Confidence = confidenceFloor
	}
	res := &types.TurnResult{
		TurnID:       t.id,
		Emotion:      t.emotion,
		Response:     t.response,
		AudioBase64:  t.audioBase64,
		SampleRateHz: t.sampleRate,
		Timings:      t.timings,
		Warnings:     t.warnings,
	}
	o.recordTurn(ctx, t, log)

	status := "ok"
	if len(t.warnings) > 0 {
		status = "degraded"
	}
	o.metrics.RecordTurn(ctx, status)
	log.Info("turn finished", "emotion", t.emotion.Label,
		"source", t.response.Source, "warnings", t.warnings,
		"total_ms", t.timings["total"])
	return res, nil
}

// turn is the mutable state threaded through the stages.
type turn struct {
	id      string
	req     types.TurnRequest
	started time.Time

	emotion     emotion.Combined
	response    types.ResponseCandidate
	audioBase64 string
	sampleRate  int

	// textScores keeps the classifier's full distribution for the
	// transcript store's emotion vector.
	textScores map[emotion.Label]float64

	timings  map[string]int64
	warnings []string
}

func (t *turn) warn(w string) {
	for _, have := range t.warnings {
		if have == w {
			return
		}
	}
	t.warnings = append(t.warnings, w)
}

// classifyStage runs the text and voice paths concurrently and fuses their
// results. Any path failure substitutes neutral; the turn always leaves this
// stage with a usable emotion.
func (o *Orchestrator) classifyStage(ctx context.Context, t *turn, log *slog.Logger) {
	start := time.Now()
	defer func() {
		t.timings["emotion"] = time.Since(start).Milliseconds()
		o.metrics.RecordStage(ctx, "emotion", time.Since(start))
	}()

	hasText := t.req.Text != ""
	hasVoice := t.req.AudioPath != "" && o.voice != nil

	if !hasText && !hasVoice {
		t.emotion = emotion.TextOnly(neutralScore())
		return
	}

	var (
		textScore, voiceScore emotion.Score
		textErr, voiceErr     error
	)
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.EmotionTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(stageCtx)
	if hasText {
		g.Go(func() error {
			textScore, textErr = o.text.Classify(gctx, o.textRequest(t.req))
			return nil
		})
	}
	if hasVoice {
		g.Go(func() error {
			voiceScore, voiceErr = o.voice.Classify(gctx, classify.Request{
				Mode:      classify.ModeVoice,
				AudioPath: t.req.AudioPath,
				Language:  t.req.Language,
			})
			return nil
		})
	}
	_ = g.Wait()

	if textErr != nil {
		log.Warn("text classification failed", "err", textErr)
		o.noteStageFailure(ctx, t, "emotion", textErr, WarnEmotionTimeout)
		textScore = emotion.Score{}
		hasText = false
	}
	if voiceErr != nil {
		log.Warn("voice classification failed", "err", voiceErr)
		o.noteStageFailure(ctx, t, "emotion", voiceErr, WarnEmotionTimeout)
		hasVoice = false
	}

	switch {
	case hasText && hasVoice:
		if textScore.Confidence < 0.4 {
			t.warn(WarnLowTextConfidence)
		}
		t.emotion = emotion.Fuse(textScore, voiceScore)
	case hasVoice:
		t.emotion = voiceOnly(voiceScore)
	case hasText:
		t.emotion = emotion.TextOnly(textScore)
	default:
		t.emotion = emotion.TextOnly(neutralScore())
	}
	// Keep the score vector for the transcript store.
	t.textScores = textScore.AllScores
}

func (o *Orchestrator) textRequest(req types.TurnRequest) classify.Request {
	r := classify.Request{
		Mode:     classify.ModeText,
		Text:     req.Text,
		Language: req.Language,
	}
	if len(req.History) > 0 {
		r.Mode = classify.ModeTextWithContext
		for _, ex := range req.History {
			r.Context = append(r.Context, ex.User)
		}
	}
	return r
}

// respondStage walks the backend chain for a reply, enforces the quality
// gate on model output, and substitutes the scripted library when the chain
// comes back empty.
func (o *Orchestrator) respondStage(ctx context.Context, t *turn, log *slog.Logger) {
	start := time.Now()
	defer func() {
		t.timings["respond"] = time.Since(start).Milliseconds()
		o.metrics.RecordStage(ctx, "respond", time.Since(start))
	}()

	if t.req.Text == "" {
		// Nothing to respond to; hand back the general scripted opening.
		t.response = scriptedCandidate(quality.FallbackByKey("general"), t.emotion.Label, "library")
		return
	}

	restartsBefore := o.respondRestarts.Load()
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.RespondTimeout)
	defer cancel()

	rreq := respond.Request{
		UserInput: t.req.Text,
		Emotion:   t.emotion.Label,
		History:   history.Truncate(t.req.History, o.cfg.HistoryMaxPairs, o.cfg.HistoryMaxChars),
	}

	candidate, served, err := resilience.Try(o.respond, func(p respond.Provider) (types.ResponseCandidate, error) {
		return p.Respond(stageCtx, rreq)
	}, func(backend string, linkErr error) {
		// A crashed backend is respawning even when a later link serves
		// the turn.
		if errors.Is(linkErr, worker.ErrCrashed) {
			t.warn(WarnResponseWorkerRestart)
		}
	})
	if o.respondRestarts.Load() > restartsBefore {
		t.warn(WarnResponseWorkerRestart)
	}

	if err != nil {
		log.Warn("respond chain exhausted", "err", err)
		o.noteStageFailure(ctx, t, "respond", err, WarnResponseTimeout)
		t.response = scriptedCandidate(quality.FallbackFor(t.emotion.Label), t.emotion.Label, "library")
		return
	}
	if verdict := quality.Gate(candidate.Text); candidate.Source == types.SourceModel && !verdict.Pass {
		log.Info("model reply rejected by quality gate",
			"backend", served, "reason", verdict.Reason)
		o.metrics.RecordSubstitution(ctx, "respond", "quality_gate")
		t.response = scriptedCandidate(quality.FallbackFor(t.emotion.Label), t.emotion.Label, candidate.ModelID)
		return
	}
	t.response = candidate
}

// speechStage synthesizes the reply. Audio is strictly best-effort: any
// failure, open breaker, or an exhausted turn budget just omits it.
func (o *Orchestrator) speechStage(ctx context.Context, t *turn, log *slog.Logger) {
	if o.speech == nil || t.response.Text == "" {
		return
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < 500*time.Millisecond {
		t.warn(WarnTTSUnavailable)
		return
	}

	start := time.Now()
	defer func() {
		t.timings["speech"] = time.Since(start).Milliseconds()
		o.metrics.RecordStage(ctx, "speech", time.Since(start))
	}()

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.SpeechTimeout)
	defer cancel()

	sreq := speech.Request{Text: t.response.Text, Language: t.req.Language}
	result, served, err := resilience.Try(o.speech, func(p speech.Provider) (speech.Result, error) {
		return p.Synthesize(stageCtx, sreq)
	})
	if err != nil || result.AudioBase64 == "" {
		log.Warn("speech synthesis unavailable", "err", err)
		o.noteStageFailure(ctx, t, "speech", err, WarnTTSUnavailable)
		return
	}

	t.audioBase64 = result.AudioBase64
	t.sampleRate = result.SampleRateHz
	if t.sampleRate == 0 {
		t.sampleRate = speech.WAVSampleRate(result.AudioBase64)
	}
	log.Debug("speech synthesized", "backend", served, "elapsed", result.Elapsed)
}

// recordTurn writes the transcript entry. The write is detached from the
// turn deadline and never fails the turn.
func (o *Orchestrator) recordTurn(ctx context.Context, t *turn, log *slog.Logger) {
	if o.store == nil || t.req.SessionID == "" {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := o.store.WriteTurn(writeCtx, history.Turn{
		SessionID: t.req.SessionID,
		TurnID:    t.id,
		UserText:  t.req.Text,
		Assistant: t.response.Text,
		Emotion: emotion.Score{
			Label:      t.emotion.Label,
			Confidence: t.emotion.Confidence,
			AllScores:  t.textScores,
		},
		Source: t.response.Source,
	})
	if err != nil {
		log.Warn("transcript write failed", "err", err)
	}
}

// noteStageFailure records the substitution metric and appends the warning.
// Context cancellation from the turn deadline counts as a timeout.
func (o *Orchestrator) noteStageFailure(ctx context.Context, t *turn, stage string, err error, warning string) {
	reason := warning
	if errors.Is(err, worker.ErrQueueFull) {
		reason = "queue_full"
	}
	o.metrics.RecordSubstitution(ctx, stage, reason)
	t.warn(warning)
}

func neutralScore() emotion.Score {
	return emotion.Score{Label: emotion.Neutral, Confidence: neutralConfidence}
}

func voiceOnly(voice emotion.Score) emotion.Combined {
	return emotion.Combined{
		Label:           voice.Label,
		Confidence:      voice.Confidence,
		VoiceLabel:      voice.Label,
		VoiceConfidence: voice.Confidence,
		VoiceWeight:     1,
	}
}

func scriptedCandidate(text string, label emotion.Label, modelID string) types.ResponseCandidate {
	return types.ResponseCandidate{
		Text:    text,
		Quality: quality.Assess(text, label),
		Source:  types.SourceFallback,
		ModelID: modelID,
	}
}
