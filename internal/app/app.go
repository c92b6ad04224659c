// Package app wires the serving core into a running process.
//
// The App struct owns the full lifecycle: New builds the worker pools, the
// capability providers, the transcript store, the orchestrator, and the
// admin endpoint from config; Run blocks serving until the context ends;
// Shutdown drains and tears everything down in order.
//
// Tests inject doubles through the functional options; anything not
// injected is built from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/attunehq/attune/internal/admin"
	"github.com/attunehq/attune/internal/config"
	"github.com/attunehq/attune/internal/health"
	"github.com/attunehq/attune/internal/history"
	historypg "github.com/attunehq/attune/internal/history/postgres"
	"github.com/attunehq/attune/internal/observe"
	"github.com/attunehq/attune/internal/orchestrator"
	"github.com/attunehq/attune/internal/resilience"
	"github.com/attunehq/attune/internal/worker"
	"github.com/attunehq/attune/pkg/provider/classify/goemotions"
	"github.com/attunehq/attune/pkg/provider/classify/spectral"
	"github.com/attunehq/attune/pkg/provider/respond"
	respondanyllm "github.com/attunehq/attune/pkg/provider/respond/anyllm"
	respondmodel "github.com/attunehq/attune/pkg/provider/respond/model"
	"github.com/attunehq/attune/pkg/provider/respond/pattern"
	"github.com/attunehq/attune/pkg/provider/speech"
	speechnative "github.com/attunehq/attune/pkg/provider/speech/native"
	speechopenai "github.com/attunehq/attune/pkg/provider/speech/openai"
)

// ErrWorkersUnavailable is returned by Run when every eagerly started worker
// parks after spending its start budget before any of them ever served.
var ErrWorkersUnavailable = errors.New("app: all workers unavailable at startup")

// startupPool is the view of a pool the startup watcher needs.
type startupPool interface {
	Ready() bool
	Unavailable() bool
}

// App owns every subsystem lifetime.
type App struct {
	cfg *config.Config

	emotionPool *worker.Pool
	respondPool *worker.Pool
	speechPool  *worker.Pool
	respondSups []*worker.Supervisor

	// eager lists the pools that spawn at Run; lazy pools spawn on first
	// call and are not part of the startup contract.
	eager       []startupPool
	startupPoll time.Duration

	store history.Store
	orch  *orchestrator.Orchestrator
	admin *admin.Server

	metrics  *observe.Metrics
	registry *prometheus.Registry

	// closers run in order during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option injects a test double instead of building from config.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the global provider's.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry injects the Prometheus registry served at /metrics. Without
// it New initialises the global telemetry providers itself.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// New wires the application. Construction is synchronous; worker processes
// spawn when Run starts the pools.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.initPools()
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	respondChain, err := a.buildRespondChain()
	if err != nil {
		return nil, fmt.Errorf("app: build respond chain: %w", err)
	}
	speechChain, err := a.buildSpeechChain()
	if err != nil {
		return nil, fmt.Errorf("app: build speech chain: %w", err)
	}

	text := goemotions.New(a.emotionPool, goemotions.WithTimeout(cfg.Turn.EmotionTimeout))

	orchOpts := []orchestrator.Option{
		orchestrator.WithVoiceClassifier(spectral.New()),
		orchestrator.WithStore(a.store),
		orchestrator.WithMetrics(a.metrics),
	}
	if speechChain != nil {
		orchOpts = append(orchOpts, orchestrator.WithSpeech(speechChain))
	}
	a.orch = orchestrator.New(orchestrator.Config{
		Deadline:        cfg.Turn.Deadline,
		EmotionTimeout:  cfg.Turn.EmotionTimeout,
		RespondTimeout:  cfg.Turn.RespondTimeout,
		SpeechTimeout:   cfg.Turn.SpeechTimeout,
		HistoryMaxPairs: cfg.Turn.HistoryMaxPairs,
		HistoryMaxChars: cfg.Turn.HistoryMaxChars,
	}, text, respondChain, orchOpts...)

	for _, sup := range a.respondSups {
		sup.OnRestart(a.orch.NoteRespondRestart)
	}

	a.admin = admin.New(cfg.Server.AdminAddr, a.buildHealth(), a.registry,
		a.pools(), admin.WithDrain(a.orch.Drain))
	return a, nil
}

// Orchestrator exposes the turn entry point to the embedding front-end.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

func (a *App) initTelemetry(ctx context.Context) error {
	if a.registry == nil {
		reg, shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: "attuned",
		})
		if err != nil {
			return err
		}
		a.registry = reg
		a.closers = append(a.closers, shutdown)
	}
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return err
		}
		a.metrics = m
	}
	return nil
}

// initPools builds one pool per configured worker capability. The respond
// and speech pools are optional; emotion is required by config validation.
func (a *App) initPools() {
	w := a.cfg.Workers
	env := workerEnv(w)

	a.emotionPool = worker.NewPool("emotion",
		a.buildSupervisors("emotion", w.Emotion, env, goemotions.ReadyProbe())...)
	if !w.Emotion.Lazy {
		a.eager = append(a.eager, a.emotionPool)
	}
	if w.Respond.Command != "" {
		a.respondSups = a.buildSupervisors("respond", w.Respond, env, respondmodel.ReadyProbe())
		a.respondPool = worker.NewPool("respond", a.respondSups...)
		if !w.Respond.Lazy {
			a.eager = append(a.eager, a.respondPool)
		}
	}
	if w.Speech.Command != "" {
		a.speechPool = worker.NewPool("speech",
			a.buildSupervisors("speech", w.Speech, env, speechnative.ReadyProbe())...)
		if !w.Speech.Lazy {
			a.eager = append(a.eager, a.speechPool)
		}
	}
}

func (a *App) buildSupervisors(name string, wc config.WorkerConfig, env []string, probe any) []*worker.Supervisor {
	path, args := config.SplitCommand(wc.Command)
	sups := make([]*worker.Supervisor, 0, wc.Replicas)
	for i := 0; i < wc.Replicas; i++ {
		sups = append(sups, worker.NewSupervisor(worker.Config{
			Name:         name + "-" + strconv.Itoa(i),
			Command:      worker.Command{Path: path, Args: args, Env: env},
			ReadyProbe:   probe,
			ReadyTimeout: a.cfg.Workers.ReadyTimeout,
			QueueDepth:   wc.QueueDepth,
			Lazy:         wc.Lazy,
		}, slog.Default()))
	}
	return sups
}

// workerEnv is the environment exported to every worker process.
func workerEnv(w config.WorkersConfig) []string {
	var env []string
	if w.ModelCacheDir != "" {
		env = append(env, "MODEL_CACHE_DIR="+w.ModelCacheDir)
	}
	if w.Device != "" {
		env = append(env, "ATTUNE_DEVICE="+string(w.Device))
	}
	return env
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		store, err := historypg.New(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		return nil
	}
	a.store = history.NewMemStore(a.cfg.Store.MemorySize)
	return nil
}

// buildRespondChain assembles the generation backends in configured order.
func (a *App) buildRespondChain() (*resilience.Chain[respond.Provider], error) {
	var chain *resilience.Chain[respond.Provider]
	add := func(name string, p respond.Provider) {
		if chain == nil {
			chain = resilience.NewChain(name, p,
				resilience.BreakerConfig{Name: name}, slog.Default())
			return
		}
		chain.Append(name, p)
	}

	for _, backend := range a.cfg.Respond.Chain {
		switch backend {
		case config.RespondModel:
			if a.respondPool == nil {
				return nil, errors.New("chain includes model but no respond worker is configured")
			}
			add("model", respondmodel.New(a.respondPool,
				respondmodel.WithTimeout(a.cfg.Turn.RespondTimeout)))
		case config.RespondRemote:
			r := a.cfg.Respond.Remote
			var opts []anyllmlib.Option
			if r.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(r.APIKey))
			}
			if r.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(r.BaseURL))
			}
			p, err := respondanyllm.New(r.Provider, r.Model, opts...)
			if err != nil {
				return nil, err
			}
			add("remote", p)
		case config.RespondPattern:
			add("pattern", pattern.New(0))
		}
	}
	if chain == nil {
		return nil, errors.New("respond chain is empty")
	}
	return chain, nil
}

// buildSpeechChain assembles synthesis backends: the native worker first,
// then the hosted fallback when a key is configured. Nil when neither
// exists; audio is then always omitted.
func (a *App) buildSpeechChain() (*resilience.Chain[speech.Provider], error) {
	var chain *resilience.Chain[speech.Provider]
	add := func(name string, p speech.Provider) {
		if chain == nil {
			chain = resilience.NewChain(name, p,
				resilience.BreakerConfig{Name: name}, slog.Default())
			return
		}
		chain.Append(name, p)
	}

	if a.speechPool != nil {
		add("native", speechnative.New(a.speechPool,
			speechnative.WithTimeout(a.cfg.Turn.SpeechTimeout)))
	}
	if key := a.cfg.Speech.OpenAI.APIKey; key != "" {
		var opts []speechopenai.Option
		if v := a.cfg.Speech.OpenAI.Voice; v != "" {
			opts = append(opts, speechopenai.WithVoice(v))
		}
		if m := a.cfg.Speech.OpenAI.Model; m != "" {
			opts = append(opts, speechopenai.WithModel(m))
		}
		p, err := speechopenai.New(key, opts...)
		if err != nil {
			return nil, err
		}
		add("openai", p)
	}
	return chain, nil
}

func (a *App) buildHealth() *health.Handler {
	checkers := []health.Checker{health.WorkerChecker(a.emotionPool)}
	if a.respondPool != nil {
		checkers = append(checkers, health.WorkerChecker(a.respondPool))
	}
	if pg, ok := a.store.(*historypg.Store); ok {
		checkers = append(checkers, health.StoreChecker(pg.Ping))
	}
	return health.New(checkers...)
}

func (a *App) pools() []*worker.Pool {
	pools := []*worker.Pool{a.emotionPool}
	if a.respondPool != nil {
		pools = append(pools, a.respondPool)
	}
	if a.speechPool != nil {
		pools = append(pools, a.speechPool)
	}
	return pools
}

// Run starts the worker pools and serves the admin endpoint until ctx ends.
// It returns ErrWorkersUnavailable when every eagerly started worker parks
// before any of them becomes ready.
func (a *App) Run(ctx context.Context) error {
	for _, p := range a.pools() {
		p.Start(ctx)
	}

	unavailable := make(chan struct{})
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watchStartup(watchCtx, unavailable)

	errCh := make(chan error, 1)
	go func() {
		if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-unavailable:
		return ErrWorkersUnavailable
	case err := <-errCh:
		return fmt.Errorf("admin endpoint: %w", err)
	}
}

// watchStartup polls the eagerly started pools until one of them serves or
// every replica is parked, then closes unavailable in the latter case. Once
// any pool has been ready the startup window is over and the watcher stops.
func (a *App) watchStartup(ctx context.Context, unavailable chan<- struct{}) {
	if len(a.eager) == 0 {
		return
	}
	poll := a.startupPoll
	if poll <= 0 {
		poll = time.Second
	}
	t := time.NewTicker(poll)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		allParked := true
		for _, p := range a.eager {
			if p.Ready() {
				return
			}
			if !p.Unavailable() {
				allParked = false
			}
		}
		if allParked {
			close(unavailable)
			return
		}
	}
}

// Shutdown drains the orchestrator and stops every subsystem in order:
// admin endpoint, worker pools, store, telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.orch.Drain()

		if err := a.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
		for _, p := range a.pools() {
			p.Stop()
		}
		for _, closer := range a.closers {
			if err := closer(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
