package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func echoSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "echo"
	}
	if cfg.Command.Path == "" {
		cfg.Command = echoCommand()
	}
	s := NewSupervisor(cfg, testLogger())
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.getState() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.getState(), want)
}

func TestSupervisorServesCalls(t *testing.T) {
	s := echoSupervisor(t, Config{ReadyProbe: map[string]string{"mode": "text"}})
	waitForState(t, s, StateReady)

	reply, err := s.Call(context.Background(), map[string]string{"text": "hi"}, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(reply) == 0 {
		t.Fatal("empty reply")
	}

	st := s.Status()
	if st.State != StateReady {
		t.Errorf("Status.State = %s, want ready", st.State)
	}
	if st.Restarts != 0 {
		t.Errorf("Status.Restarts = %d, want 0", st.Restarts)
	}
}

func TestSupervisorRestartsAfterExit(t *testing.T) {
	var restarts atomic.Int32
	s := echoSupervisor(t, Config{})
	s.OnRestart(func(string) { restarts.Add(1) })
	waitForState(t, s, StateReady)

	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	ch.Stop(false)

	// The loop notices the exit and respawns.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Ready() && s.Status().Restarts > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !s.Ready() {
		t.Fatal("supervisor not ready after respawn")
	}
	if got := s.Status().Restarts; got < 1 {
		t.Errorf("Restarts = %d, want >= 1", got)
	}
	if restarts.Load() < 1 {
		t.Error("OnRestart hook not invoked")
	}

	if _, err := s.Call(context.Background(), map[string]string{"text": "again"}, 2*time.Second); err != nil {
		t.Fatalf("Call after restart: %v", err)
	}
}

func TestSupervisorManualRestart(t *testing.T) {
	s := echoSupervisor(t, Config{})
	waitForState(t, s, StateReady)

	s.RequestRestart()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().Restarts > 0 && s.Ready() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("restart not observed: %+v", s.Status())
}

func TestSupervisorQueueFull(t *testing.T) {
	s := echoSupervisor(t, Config{
		Name:       "mute",
		Command:    shCommand("sleep 60"),
		QueueDepth: 1,
	})
	waitForState(t, s, StateReady)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Call(context.Background(), map[string]string{"n": "1"}, 2*time.Second)
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := s.Call(context.Background(), map[string]string{"n": "2"}, time.Second)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Call error = %v, want ErrQueueFull", err)
	}
	<-done
}

func TestSupervisorUnavailableAfterFailureBudget(t *testing.T) {
	s := NewSupervisor(Config{
		Name:    "broken",
		Command: Command{Path: "/nonexistent/worker-binary"},
	}, testLogger())
	s.sleep = func(context.Context, time.Duration) error { return nil }
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	waitForState(t, s, StateUnavailable)

	_, err := s.Call(context.Background(), map[string]string{"text": "hi"}, 100*time.Millisecond)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Call error = %v, want ErrUnavailable", err)
	}

	st := s.Status()
	if st.LastError == "" {
		t.Error("Status.LastError empty in unavailable state")
	}
}

func TestSupervisorLazyStartsOnFirstCall(t *testing.T) {
	s := NewSupervisor(Config{Name: "echo", Command: echoCommand(), Lazy: true}, testLogger())
	t.Cleanup(s.Stop)

	if s.Ready() {
		t.Fatal("lazy supervisor ready before first call")
	}
	if _, err := s.Call(context.Background(), map[string]string{"text": "hi"}, 2*time.Second); err != nil {
		t.Fatalf("first Call: %v", err)
	}
}

func TestPoolRoundRobin(t *testing.T) {
	a := echoSupervisor(t, Config{Name: "echo-0"})
	b := echoSupervisor(t, Config{Name: "echo-1"})
	p := NewPool("emotion", a, b)
	waitForState(t, a, StateReady)
	waitForState(t, b, StateReady)

	for i := 0; i < 4; i++ {
		if _, err := p.Call(context.Background(), map[string]string{"text": "hi"}, time.Second); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	if !p.Ready() {
		t.Error("Ready() = false")
	}
	if got := len(p.Statuses()); got != 2 {
		t.Errorf("len(Statuses) = %d, want 2", got)
	}
}
