package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/attunehq/attune/internal/config"
	"github.com/attunehq/attune/internal/history"
	"github.com/attunehq/attune/internal/observe"
	"github.com/attunehq/attune/internal/quality"
	"github.com/attunehq/attune/pkg/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers.Emotion.Command = "cat"
	cfg.Workers.Emotion.Lazy = true
	cfg.Workers.Respond.Command = "cat"
	cfg.Workers.Respond.Lazy = true
	cfg.Respond.Chain = []config.RespondBackend{config.RespondModel, config.RespondPattern}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := New(context.Background(), cfg,
		WithStore(history.NewMemStore(8)),
		WithMetrics(metrics),
		WithRegistry(prometheus.NewRegistry()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNewWiresSubsystems(t *testing.T) {
	a := newTestApp(t, testConfig())

	if a.Orchestrator() == nil {
		t.Fatal("orchestrator not wired")
	}
	if a.emotionPool == nil || a.respondPool == nil {
		t.Fatal("worker pools not wired")
	}
	if a.speechPool != nil {
		t.Error("speech pool built without a speech command")
	}
	names := map[string]bool{}
	for _, p := range a.pools() {
		names[p.Name()] = true
	}
	if !names["emotion"] || !names["respond"] {
		t.Errorf("pools = %v", names)
	}
}

func TestEmptyTurnWorksWithoutWorkers(t *testing.T) {
	// An empty request never touches the lazy worker pools, so the whole
	// wired pipeline can serve it immediately.
	a := newTestApp(t, testConfig())

	res, err := a.Orchestrator().RunTurn(context.Background(), types.TurnRequest{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if want := quality.FallbackByKey("general"); res.Response.Text != want {
		t.Errorf("text = %q, want the general opening", res.Response.Text)
	}
}

func TestChainRequiresRespondWorkerForModel(t *testing.T) {
	cfg := testConfig()
	cfg.Workers.Respond.Command = ""

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	_, err = New(context.Background(), cfg,
		WithStore(history.NewMemStore(8)),
		WithMetrics(metrics),
		WithRegistry(prometheus.NewRegistry()),
	)
	if err == nil {
		t.Fatal("expected wiring error when the model backend has no worker")
	}
}

type stubPool struct{ ready, parked bool }

func (s stubPool) Ready() bool       { return s.ready }
func (s stubPool) Unavailable() bool { return s.parked }

func TestRunExitsWhenAllWorkersParkAtStartup(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AdminAddr = "127.0.0.1:0"
	a := newTestApp(t, cfg)
	a.eager = []startupPool{stubPool{parked: true}, stubPool{parked: true}}
	a.startupPoll = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, ErrWorkersUnavailable) {
		t.Fatalf("Run = %v, want ErrWorkersUnavailable", err)
	}
}

func TestStartupWatchStopsOnceAPoolServes(t *testing.T) {
	cfg := testConfig()
	a := newTestApp(t, cfg)
	a.eager = []startupPool{stubPool{ready: true}, stubPool{parked: true}}
	a.startupPoll = time.Millisecond

	unavailable := make(chan struct{})
	done := make(chan struct{})
	go func() {
		a.watchStartup(context.Background(), unavailable)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after a pool became ready")
	}
	select {
	case <-unavailable:
		t.Fatal("unavailable signalled despite a ready pool")
	default:
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newTestApp(t, testConfig())
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
