package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-rooms/internal/workertest"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

func TestHelperProcess(t *testing.T) { workertest.Main() }

func startWorker(t *testing.T, reg *registry.Registry, mode string, extra ...string) *registry.Handle {
	t.Helper()
	cmd := exec.Command(workertest.Executable(), workertest.Args(mode, extra...)...)
	cmd.Env = append(os.Environ(), workertest.Env()...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}
	h, err := registry.Track(cmd, "https://example.daily.co/r", "openai", nil)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := reg.Insert(h); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	t.Cleanup(func() { _ = h.Terminate(time.Second) })
	return h
}

func testManager(reg *registry.Registry, cfg ManagerConfig) *Manager {
	cfg.Registry = reg
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(cfg)
}

func TestManager_ShutdownTerminatesEveryWorker(t *testing.T) {
	reg := registry.New()
	m := testManager(reg, ManagerConfig{KillTimeout: 300 * time.Millisecond})
	m.Start()

	polite := startWorker(t, reg, workertest.ModeSleep)
	stubborn := startWorker(t, reg, workertest.ModeIgnoreTerm)
	finished := startWorker(t, reg, workertest.ModeExit, "0")
	<-finished.Done()
	time.Sleep(200 * time.Millisecond)

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, h := range []*registry.Handle{polite, stubborn, finished} {
		if !h.Exited() {
			t.Fatalf("worker %d still running after shutdown", h.ID)
		}
	}
	if got := polite.Status(); got != registry.StatusTerminated {
		t.Fatalf("polite status=%q, want terminated", got)
	}
	if got := stubborn.Status(); got != registry.StatusTerminated {
		t.Fatalf("stubborn status=%q, want terminated", got)
	}
	if got := finished.Status(); got != registry.StatusFinished {
		t.Fatalf("finished status=%q, want finished", got)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry len=%d after shutdown, want 0", reg.Len())
	}
	if !m.IsDraining() {
		t.Fatalf("expected draining after shutdown")
	}
}

func TestManager_ShutdownIsIdempotent(t *testing.T) {
	reg := registry.New()
	m := testManager(reg, ManagerConfig{KillTimeout: time.Second, ReapInterval: time.Hour})
	m.Start()
	startWorker(t, reg, workertest.ModeSleep)

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestManager_ShutdownWithoutStart(t *testing.T) {
	m := testManager(registry.New(), ManagerConfig{ReapInterval: time.Minute})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	m.Start()
}

func TestManager_ReaperRemovesExitedWorkers(t *testing.T) {
	reg := registry.New()
	var reaped atomic.Int64
	m := testManager(reg, ManagerConfig{
		ReapInterval: 20 * time.Millisecond,
		ReapGrace:    0,
		OnReap:       func(n int) { reaped.Add(int64(n)) },
	})

	h := startWorker(t, reg, workertest.ModeExit, "0")
	<-h.Done()
	m.Start()
	defer m.Shutdown(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry len=%d, want 0 after reaping", reg.Len())
	}
	if reaped.Load() != 1 {
		t.Fatalf("reaped=%d, want 1", reaped.Load())
	}
}

func TestManager_ReapOnceHonorsGrace(t *testing.T) {
	reg := registry.New()
	m := testManager(reg, ManagerConfig{ReapGrace: time.Hour})
	h := startWorker(t, reg, workertest.ModeExit, "1")
	<-h.Done()

	if n := m.ReapOnce(time.Now()); n != 0 {
		t.Fatalf("reaped=%d inside grace", n)
	}
	if n := m.ReapOnce(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("reaped=%d after grace, want 1", n)
	}
}

func TestManager_ShutdownHonorsContext(t *testing.T) {
	reg := registry.New()
	m := testManager(reg, ManagerConfig{KillTimeout: 2 * time.Second})
	startWorker(t, reg, workertest.ModeIgnoreTerm)
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(ctx); err == nil {
		t.Fatalf("expected context error when sweep outlives ctx")
	}
}

func TestLifecycle_NilSafe(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() {
		t.Fatalf("nil lifecycle should never report draining")
	}
}
